package startup

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
)

// Dependency is something the service needs running before it serves, such
// as the database or the event producer.
type Dependency interface {
	Name() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

// Startup starts dependencies in dependency order, retrying the whole pass
// with Fibonacci backoff.
type Startup struct {
	order        []string
	started      []string
	dependencies map[string]Dependency
	statuses     map[string]Status
	logger       ectologger.Logger
	maxAttempts  int
	// backoffUnit scales the Fibonacci sequence.
	backoffUnit time.Duration
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Startup{
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]Status),
		logger:       logger,
		maxAttempts:  maxAttempts,
		backoffUnit:  time.Second,
	}
}

// WithBackoffUnit overrides the one second backoff unit.
func (s *Startup) WithBackoffUnit(unit time.Duration) *Startup {
	s.backoffUnit = unit
	return s
}

func (s *Startup) Add(dependency Dependency) {
	if _, ok := s.dependencies[dependency.Name()]; !ok {
		s.order = append(s.order, dependency.Name())
	}
	s.dependencies[dependency.Name()] = dependency
}

func (s *Startup) Status(name string) Status {
	return s.statuses[name]
}

func (s *Startup) Start(ctx context.Context) error {
	var lastErr error

	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.logger.WithContext(ctx).WithField("attempt", attempt).Infof("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, name := range s.order {
			if err := s.start(ctx, name, map[string]bool{}); err != nil {
				s.logger.WithContext(ctx).WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, attempt)
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}

		wait := time.Duration(a) * s.backoffUnit
		s.logger.WithContext(ctx).Infof("Retrying in %s (attempt %d/%d)", wait, attempt, s.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return errors.Wrapf(lastErr, "startup failed after %d attempts", s.maxAttempts)
}

func (s *Startup) start(ctx context.Context, name string, visiting map[string]bool) error {
	if s.statuses[name] == StatusStarted {
		return nil
	}
	dependency, ok := s.dependencies[name]
	if !ok {
		return errors.Errorf("unknown startup dependency '%s'", name)
	}
	if visiting[name] {
		return errors.Errorf("startup dependency cycle at '%s'", name)
	}
	visiting[name] = true

	for _, upstream := range dependency.DependsOn() {
		if err := s.start(ctx, upstream, visiting); err != nil {
			return err
		}
	}

	s.logger.WithContext(ctx).WithField("dependency", name).Infof("Starting dependency '%s'", name)
	s.statuses[name] = StatusPending
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StatusFailed
		return errors.Wrapf(err, "start %s", name)
	}
	s.statuses[name] = StatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops started dependencies in reverse start order. Every dependency
// is attempted; the first error is returned.
func (s *Startup) Stop(ctx context.Context) error {
	var first error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		if s.statuses[name] != StatusStarted {
			continue
		}
		s.logger.WithContext(ctx).WithField("dependency", name).Infof("Stopping dependency '%s'", name)
		if err := s.dependencies[name].Stop(ctx); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("dependency", name).Errorf("Failed to stop dependency '%s'", name)
			if first == nil {
				first = errors.Wrapf(err, "stop %s", name)
			}
			continue
		}
		s.statuses[name] = StatusStopped
	}
	s.started = nil
	return first
}

// Func adapts plain functions into a Dependency.
type Func struct {
	ID        string
	Needs     []string
	StartFunc func(ctx context.Context) error
	StopFunc  func(ctx context.Context) error
}

func (f Func) Name() string        { return f.ID }
func (f Func) DependsOn() []string { return f.Needs }

func (f Func) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}
