// Package capability discovers which optional columns and JSON functions the
// connected database supports.
package capability

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/metrics"
)

// Capabilities is consulted by repositories before building queries.
type Capabilities interface {
	// HasColumn reports whether table has column. Successful answers are
	// cached for the life of the process; failures are not.
	HasColumn(ctx context.Context, table, column string) (bool, error)
	// SupportsJSONQuery reports whether JSON path expressions may be used.
	SupportsJSONQuery(ctx context.Context) bool
	// MarkJSONUnsupported permanently disables JSON path expressions.
	MarkJSONUnsupported(ctx context.Context, cause error)
}

type columnKey struct {
	table  string
	column string
}

type Probe struct {
	db      database.DB
	logger  ectologger.Logger
	breaker Breaker

	mu      sync.RWMutex
	columns map[columnKey]bool
	probeMu sync.Mutex
}

func NewProbe(db database.DB, logger ectologger.Logger) *Probe {
	return &Probe{
		db:      db,
		logger:  logger,
		columns: map[columnKey]bool{},
	}
}

func (p *Probe) HasColumn(ctx context.Context, table, column string) (bool, error) {
	key := columnKey{table: table, column: column}

	p.mu.RLock()
	present, ok := p.columns[key]
	p.mu.RUnlock()
	if ok {
		return present, nil
	}

	query, args := p.db.Dialect().ColumnExists(table, column)
	var count int
	if err := p.db.GetContext(ctx, &count, query, args...); err != nil {
		metrics.ColumnProbesTotal.WithLabelValues(table, column, "error").Inc()
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"table":  table,
			"column": column,
		}).Error("failed to probe column")
		return false, fmt.Errorf("failed to probe column %s.%s: %w", table, column, err)
	}

	present = count > 0
	metrics.ColumnProbesTotal.WithLabelValues(table, column, strconv.FormatBool(present)).Inc()

	p.mu.Lock()
	p.columns[key] = present
	p.mu.Unlock()

	p.logger.WithContext(ctx).Debugf("column %s.%s present=%t", table, column, present)
	return present, nil
}

func (p *Probe) SupportsJSONQuery(ctx context.Context) bool {
	switch p.breaker.Mode() {
	case ModeNative:
		return true
	case ModeDegraded:
		return false
	}

	p.probeMu.Lock()
	defer p.probeMu.Unlock()
	if mode := p.breaker.Mode(); mode != ModeUnknown {
		return mode == ModeNative
	}

	var probe sql.NullString
	err := p.db.GetContext(ctx, &probe, p.db.Dialect().JSONProbe())
	if err != nil && ctx.Err() != nil {
		// Leave the mode unresolved for the next caller.
		p.logger.WithContext(ctx).WithError(err).Debug("JSON support check interrupted")
		return false
	}
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("JSON path queries are unavailable, using degraded mode")
	}
	return p.breaker.Resolve(err == nil) == ModeNative
}

func (p *Probe) MarkJSONUnsupported(ctx context.Context, cause error) {
	if p.breaker.Trip() {
		p.logger.WithContext(ctx).WithError(cause).Warn("JSON path query failed, switching to degraded mode")
	}
}

// Mode is the current JSON breaker mode without probing.
func (p *Probe) Mode() Mode {
	return p.breaker.Mode()
}

func (p *Probe) Trips() int64 {
	return p.breaker.Trips()
}

type ColumnReport struct {
	Table   string `json:"table" yaml:"table"`
	Column  string `json:"column" yaml:"column"`
	Present bool   `json:"present" yaml:"present"`
}

type Report struct {
	JSONMode string         `json:"json_mode" yaml:"json_mode"`
	Columns  []ColumnReport `json:"columns" yaml:"columns"`
}

// Report snapshots what has been learned so far.
func (p *Probe) Report() Report {
	p.mu.RLock()
	cols := make([]ColumnReport, 0, len(p.columns))
	for key, present := range p.columns {
		cols = append(cols, ColumnReport{Table: key.table, Column: key.column, Present: present})
	}
	p.mu.RUnlock()

	sort.Slice(cols, func(i, j int) bool {
		if cols[i].Table != cols[j].Table {
			return cols[i].Table < cols[j].Table
		}
		return cols[i].Column < cols[j].Column
	})

	return Report{JSONMode: p.breaker.Mode().String(), Columns: cols}
}
