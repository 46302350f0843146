package record

import (
	"context"
	"net/http"
	"sort"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/document"
	"github.com/Ramsey-B/argus/pkg/metrics"
	"github.com/Ramsey-B/argus/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// StatusChange sets a status on a batch of records in one unit of work.
type StatusChange struct {
	IDs   []int64
	Field string
	Value any
	// Columns are extra columns written alongside the status when present.
	Columns map[string]any
	// Patch applies the change to a decoded document. Returning false skips
	// the row.
	Patch func(doc map[string]any) bool
	// AlwaysPatch patches documents even when Field is a native column.
	AlwaysPatch bool
}

// ApplyStatus writes the status natively when the column exists and through
// a document patch loop otherwise. Every write happens in one transaction
// joined from ctx when one is open. It fails unless at least one row changed.
func (s *Store) ApplyStatus(ctx context.Context, ch StatusChange) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Store.ApplyStatus")
	defer span.End()
	span.SetAttributes(attribute.String("entity", s.entity.Name), attribute.Int("ids", len(ch.IDs)))

	ids := uniqueIDs(ch.IDs)
	if len(ids) == 0 {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, "at least one id is required")
	}

	plan, err := s.Plan(ctx)
	if err != nil {
		return 0, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"entity": s.entity.Name,
		"ids":    ids,
		"field":  ch.Field,
		"value":  ch.Value,
		"native": plan.HasColumn(ch.Field),
	}).Debug("Applying status change")

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return 0, s.storeError(ctx, "update status of", err)
	}
	defer tx.Rollback(ctx)

	extra := map[string]any{}
	for k, v := range ch.Columns {
		if plan.HasColumn(k) {
			extra[k] = v
		}
	}

	var affected int64
	native := plan.HasColumn(ch.Field)
	if native {
		ub := database.NewUpdateBuilder(plan.Dialect())
		ub.Update(s.entity.Table)
		assignments := []string{ub.Assign(ch.Field, ch.Value)}
		for _, col := range sortedKeys(extra) {
			assignments = append(assignments, ub.Assign(col, extra[col]))
		}
		ub.Set(assignments...)
		ub.Where(database.InInt64(ub, s.entity.Key, ids))
		query, args := ub.Build()

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			tracing.RecordError(span, err)
			return 0, s.statusError(ctx, ch, err)
		}
		affected, _ = res.RowsAffected()
	}

	if !native || ch.AlwaysPatch {
		var docExtra map[string]any
		if !native {
			docExtra = extra
		}
		patched, err := s.patchDocuments(ctx, tx, plan, ids, ch.Patch, docExtra)
		if err != nil {
			tracing.RecordError(span, err)
			return 0, s.statusError(ctx, ch, err)
		}
		if !native {
			affected = patched
		}
	}

	if affected == 0 {
		metrics.StatusChangesTotal.WithLabelValues(s.entity.Name, statusLabel(ch.Value), "noop").Inc()
		return 0, httperror.NewHTTPErrorf(http.StatusNotFound, "no %s records were updated", s.entity.Name)
	}

	if err := tx.Commit(ctx); err != nil {
		tracing.RecordError(span, err)
		return 0, s.statusError(ctx, ch, err)
	}

	metrics.StatusChangesTotal.WithLabelValues(s.entity.Name, statusLabel(ch.Value), "ok").Inc()
	return affected, nil
}

type storedDocument struct {
	id  int64
	raw any
}

// patchDocuments decodes, patches and rewrites each document. Rows whose
// document is not an object are skipped. Any write failure aborts the batch.
func (s *Store) patchDocuments(ctx context.Context, tx database.Tx, plan *Plan, ids []int64, patch func(map[string]any) bool, extra map[string]any) (int64, error) {
	sb := database.NewSelectBuilder(plan.Dialect())
	sb.Select(s.entity.Key, s.entity.Document).From(s.entity.Table)
	sb.Where(database.InInt64(sb, s.entity.Key, ids))
	sb.OrderBy(s.entity.Key)
	query, args := sb.Build()

	rows, err := tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	var stored []storedDocument
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			rows.Close()
			return 0, err
		}
		id, _ := document.Column(row[s.entity.Key]).Int()
		stored = append(stored, storedDocument{id: id, raw: row[s.entity.Document]})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var patched int64
	for _, sd := range stored {
		doc := document.DecodeRaw(sd.raw)
		if doc == nil {
			metrics.MalformedDocumentsTotal.WithLabelValues(s.entity.Name).Inc()
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"entity": s.entity.Name,
				"id":     sd.id,
			}).Warn("Skipping record with undecodable document")
			continue
		}
		if patch != nil && !patch(doc) {
			continue
		}
		text, err := s.encode(ctx, doc)
		if err != nil {
			return 0, err
		}

		ub := database.NewUpdateBuilder(plan.Dialect())
		ub.Update(s.entity.Table)
		assignments := []string{ub.Assign(s.entity.Document, text)}
		for _, col := range sortedKeys(extra) {
			assignments = append(assignments, ub.Assign(col, extra[col]))
		}
		ub.Set(assignments...)
		ub.Where(ub.Equal(s.entity.Key, sd.id))
		query, args := ub.Build()

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			patched += n
		}
	}
	return patched, nil
}

func (s *Store) statusError(ctx context.Context, ch StatusChange, err error) error {
	metrics.StatusChangesTotal.WithLabelValues(s.entity.Name, statusLabel(ch.Value), "error").Inc()
	return s.storeError(ctx, "update status of", err)
}

func statusLabel(v any) string {
	return document.Dynamic(v).String()
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
