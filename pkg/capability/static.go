package capability

import (
	"context"
	"sync"
	"sync/atomic"
)

// Static answers from fixed values. It is used in tests and when the schema
// is known ahead of time.
type Static struct {
	mu        sync.Mutex
	columns   map[string]bool
	columnErr error
	breaker   Breaker
	lookups   atomic.Int64
}

// NewStatic builds a Static whose present columns are given as "table.column".
func NewStatic(jsonSupported bool, columns ...string) *Static {
	s := &Static{columns: map[string]bool{}}
	for _, c := range columns {
		s.columns[c] = true
	}
	s.breaker.Resolve(jsonSupported)
	return s
}

// FailColumns makes every HasColumn call return err until cleared with nil.
func (s *Static) FailColumns(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columnErr = err
}

func (s *Static) HasColumn(_ context.Context, table, column string) (bool, error) {
	s.lookups.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.columnErr != nil {
		return false, s.columnErr
	}
	return s.columns[table+"."+column], nil
}

func (s *Static) SupportsJSONQuery(context.Context) bool {
	return s.breaker.Mode() == ModeNative
}

func (s *Static) MarkJSONUnsupported(context.Context, error) {
	s.breaker.Trip()
}

func (s *Static) Trips() int64 {
	return s.breaker.Trips()
}

func (s *Static) Lookups() int64 {
	return s.lookups.Load()
}
