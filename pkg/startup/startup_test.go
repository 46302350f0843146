package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silent() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

type journal struct {
	events []string
}

func (j *journal) dep(name string, needs ...string) Func {
	return Func{
		ID:    name,
		Needs: needs,
		StartFunc: func(context.Context) error {
			j.events = append(j.events, "start "+name)
			return nil
		},
		StopFunc: func(context.Context) error {
			j.events = append(j.events, "stop "+name)
			return nil
		},
	}
}

func TestStartOrdersByDependency(t *testing.T) {
	j := &journal{}
	s := NewStartup(silent(), 1)
	s.Add(j.dep("http", "db", "kafka"))
	s.Add(j.dep("kafka"))
	s.Add(j.dep("db"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start db", "start kafka", "start http"}, j.events)
	assert.Equal(t, StatusStarted, s.Status("http"))

	j.events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop http", "stop kafka", "stop db"}, j.events)
	assert.Equal(t, StatusStopped, s.Status("db"))
}

func TestStartRetries(t *testing.T) {
	calls := 0
	s := NewStartup(silent(), 3).WithBackoffUnit(time.Millisecond)
	s.Add(Func{ID: "db", StartFunc: func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestStartGivesUp(t *testing.T) {
	s := NewStartup(silent(), 2).WithBackoffUnit(time.Millisecond)
	s.Add(Func{ID: "db", StartFunc: func(context.Context) error { return errors.New("connection refused") }})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, StatusFailed, s.Status("db"))
}

func TestStartRejectsUnknownAndCycles(t *testing.T) {
	s := NewStartup(silent(), 1)
	s.Add(Func{ID: "http", Needs: []string{"cache"}})
	assert.ErrorContains(t, s.Start(context.Background()), "unknown startup dependency 'cache'")

	s = NewStartup(silent(), 1)
	s.Add(Func{ID: "a", Needs: []string{"b"}})
	s.Add(Func{ID: "b", Needs: []string{"a"}})
	assert.ErrorContains(t, s.Start(context.Background()), "cycle")
}

func TestStartHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStartup(silent(), 5).WithBackoffUnit(time.Hour)
	s.Add(Func{ID: "db", StartFunc: func(context.Context) error {
		cancel()
		return errors.New("down")
	}})

	assert.ErrorIs(t, s.Start(ctx), context.Canceled)
}
