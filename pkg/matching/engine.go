// Package matching finds existing requests that share business identifiers
// with a new one.
package matching

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/pkg/capability"
	"github.com/Ramsey-B/argus/pkg/metrics"
	"github.com/Ramsey-B/argus/pkg/models"
	"github.com/Ramsey-B/argus/pkg/normalizers"
	"github.com/Ramsey-B/argus/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultLimit     = 10
	MaxLimit         = 50
	DefaultScanLimit = 200

	BackendNative   = "native"
	BackendFallback = "fallback"
)

// Query holds the identifiers to look for. Empty identifiers are ignored.
type Query struct {
	Folio      string `json:"folio,omitempty" yaml:"folio"`
	TaxID      string `json:"rfc,omitempty" yaml:"rfc"`
	NationalID string `json:"curp,omitempty" yaml:"curp"`
	Limit      int    `json:"limit,omitempty" yaml:"limit"`
}

// Normalize returns q with every identifier in its comparable form.
func (q Query) Normalize() Query {
	q.Folio = normalizers.Folio(q.Folio)
	q.TaxID = normalizers.TaxID(q.TaxID)
	q.NationalID = normalizers.NationalID(q.NationalID)
	return q
}

func (q Query) Empty() bool {
	return q.Folio == "" && q.TaxID == "" && q.NationalID == ""
}

type Candidate struct {
	ID           int64           `json:"id"`
	Folio        string          `json:"folio"`
	TaxID        string          `json:"rfc,omitempty"`
	NationalID   string          `json:"curp,omitempty"`
	Coincidences int             `json:"coincidences"`
	Record       *models.Record  `json:"-"`
	Request      *models.Request `json:"request,omitempty"`
}

// Source runs the two search backends over requests. Records carry the
// logical fields folio, rfc and curp.
type Source interface {
	// MatchNative filters, scores and excludes linked requests in one query.
	MatchNative(ctx context.Context, q Query, limit int) ([]*models.Record, error)
	// MatchCoarse over-selects by substring on the raw document.
	MatchCoarse(ctx context.Context, q Query, scanLimit int) ([]*models.Record, error)
}

// LinkChecker reports which requests already have a contract.
type LinkChecker interface {
	LinkedRequestIDs(ctx context.Context, requestIDs []int64) (map[int64]bool, error)
}

type Config struct {
	DefaultLimit int
	MaxLimit     int
	ScanLimit    int
}

type Engine struct {
	source Source
	links  LinkChecker
	caps   capability.Capabilities
	cfg    Config
	logger ectologger.Logger

	nativeAttempts atomic.Int64
	fallbackRuns   atomic.Int64
}

func NewEngine(source Source, links LinkChecker, caps capability.Capabilities, cfg Config, logger ectologger.Logger) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = MaxLimit
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = DefaultScanLimit
	}
	return &Engine{
		source: source,
		links:  links,
		caps:   caps,
		cfg:    cfg,
		logger: logger,
	}
}

type Stats struct {
	NativeAttempts int64 `json:"native_attempts"`
	FallbackRuns   int64 `json:"fallback_runs"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		NativeAttempts: e.nativeAttempts.Load(),
		FallbackRuns:   e.fallbackRuns.Load(),
	}
}

func (e *Engine) limit(requested int) int {
	if requested <= 0 {
		return e.cfg.DefaultLimit
	}
	if requested > e.cfg.MaxLimit {
		return e.cfg.MaxLimit
	}
	return requested
}

// Search never fails. Backend errors are logged and yield the best result
// available, possibly empty.
func (e *Engine) Search(ctx context.Context, q Query) []*Candidate {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.Search")
	defer span.End()

	q = q.Normalize()
	if q.Empty() {
		return []*Candidate{}
	}
	limit := e.limit(q.Limit)

	if e.caps.SupportsJSONQuery(ctx) {
		e.nativeAttempts.Add(1)
		start := time.Now()
		records, err := e.source.MatchNative(ctx, q, limit)
		metrics.SearchDuration.WithLabelValues(BackendNative).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.SearchesTotal.WithLabelValues(BackendNative, "ok").Inc()
			span.SetAttributes(attribute.String("backend", BackendNative))
			return rank(q, records, limit)
		}
		metrics.SearchesTotal.WithLabelValues(BackendNative, "error").Inc()
		if ctx.Err() != nil {
			e.logger.WithContext(ctx).WithError(err).Debug("Match search abandoned by caller")
			return []*Candidate{}
		}
		e.logger.WithContext(ctx).WithError(err).Warn("Native match query failed, switching to fallback search")
		// Only engine failures say anything about JSON support.
		if !httperror.IsHTTPError(err) {
			e.caps.MarkJSONUnsupported(ctx, err)
		}
	}

	span.SetAttributes(attribute.String("backend", BackendFallback))
	return e.fallback(ctx, q, limit)
}

func (e *Engine) fallback(ctx context.Context, q Query, limit int) []*Candidate {
	e.fallbackRuns.Add(1)
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues(BackendFallback).Observe(time.Since(start).Seconds())
	}()

	records, err := e.source.MatchCoarse(ctx, q, e.cfg.ScanLimit)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues(BackendFallback, "error").Inc()
		e.logger.WithContext(ctx).WithError(err).Error("Fallback match query failed")
		return []*Candidate{}
	}

	candidates := rank(q, records, 0)
	if len(candidates) == 0 {
		metrics.SearchesTotal.WithLabelValues(BackendFallback, "ok").Inc()
		return candidates
	}

	linked, err := e.links.LinkedRequestIDs(ctx, ectolinq.Map(candidates, func(c *Candidate) int64 { return c.ID }))
	if err != nil {
		metrics.SearchesTotal.WithLabelValues(BackendFallback, "error").Inc()
		e.logger.WithContext(ctx).WithError(err).Error("Failed to check contract links for match candidates")
		return []*Candidate{}
	}
	candidates = ectolinq.Filter(candidates, func(c *Candidate) bool { return !linked[c.ID] })
	if candidates == nil {
		candidates = []*Candidate{}
	}

	metrics.SearchesTotal.WithLabelValues(BackendFallback, "ok").Inc()
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// Score counts the supplied identifiers that equal the candidate's.
func Score(q Query, folio, taxID, nationalID string) int {
	n := 0
	if q.Folio != "" && normalizers.Folio(folio) == q.Folio {
		n++
	}
	if q.TaxID != "" && normalizers.TaxID(taxID) == q.TaxID {
		n++
	}
	if q.NationalID != "" && normalizers.NationalID(nationalID) == q.NationalID {
		n++
	}
	return n
}

// rank scores records against q, drops zero scores and orders by score then
// newest id. limit <= 0 keeps every candidate.
func rank(q Query, records []*models.Record, limit int) []*Candidate {
	candidates := make([]*Candidate, 0, len(records))
	for _, r := range records {
		c := &Candidate{
			ID:         r.ID,
			Folio:      r.String("folio"),
			TaxID:      r.String("rfc"),
			NationalID: r.String("curp"),
			Record:     r,
		}
		c.Coincidences = Score(q, c.Folio, c.TaxID, c.NationalID)
		if c.Coincidences == 0 {
			continue
		}
		c.Request = models.RequestFromRecord(r)
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Coincidences != candidates[j].Coincidences {
			return candidates[i].Coincidences > candidates[j].Coincidences
		}
		return candidates[i].ID > candidates[j].ID
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
