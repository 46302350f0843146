package redis

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/pkg/normalizers"
	"github.com/Ramsey-B/argus/pkg/tracing"
)

// Mutex is the locking surface FolioGuard needs.
type Mutex interface {
	TryAcquire(ctx context.Context, key string, ttl, timeout time.Duration) (Releaser, error)
}

type Releaser interface {
	Release(ctx context.Context) error
}

type lockerMutex struct{ *Locker }

func (m lockerMutex) TryAcquire(ctx context.Context, key string, ttl, timeout time.Duration) (Releaser, error) {
	lock, err := m.Locker.TryAcquire(ctx, key, ttl, timeout)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// FolioGuard serializes writers that claim the same folio key so the
// existence check and the write happen under one lock.
type FolioGuard struct {
	mutex   Mutex
	ttl     time.Duration
	timeout time.Duration
	logger  ectologger.Logger
}

func NewFolioGuard(locker *Locker, ttl, timeout time.Duration, logger ectologger.Logger) *FolioGuard {
	return NewFolioGuardWithMutex(lockerMutex{locker}, ttl, timeout, logger)
}

func NewFolioGuardWithMutex(mutex Mutex, ttl, timeout time.Duration, logger ectologger.Logger) *FolioGuard {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &FolioGuard{mutex: mutex, ttl: ttl, timeout: timeout, logger: logger}
}

func (g *FolioGuard) WithFolio(ctx context.Context, entity, folio string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "redis.FolioGuard.WithFolio")
	defer span.End()

	key := normalizers.FolioKey(folio)
	if key == "" {
		return fn(ctx)
	}

	lock, err := g.mutex.TryAcquire(ctx, "folio:"+entity+":"+key, g.ttl, g.timeout)
	if errors.Is(err, ErrLockNotAcquired) {
		return httperror.NewHTTPErrorf(http.StatusConflict, "folio %s is being written by another request", folio)
	}
	if err != nil {
		g.logger.WithContext(ctx).WithError(err).WithField("folio", folio).Error("Failed to acquire folio lock")
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "folio lock unavailable")
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			g.logger.WithContext(ctx).WithError(err).WithField("folio", folio).Warn("Failed to release folio lock")
		}
	}()

	return fn(ctx)
}
