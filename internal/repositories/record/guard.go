package record

import "context"

// Guard serializes a folio check and the write that follows it. Without a
// distributed guard two processes may both pass the check.
type Guard interface {
	WithFolio(ctx context.Context, entity, key string, fn func(ctx context.Context) error) error
}

// NopGuard runs fn directly.
type NopGuard struct{}

func (NopGuard) WithFolio(ctx context.Context, _, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
