package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/pkg/capability"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/document"
	"github.com/Ramsey-B/argus/pkg/metrics"
	"github.com/Ramsey-B/argus/pkg/models"
	"github.com/Ramsey-B/argus/pkg/normalizers"
	"github.com/Ramsey-B/argus/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// Store reads and writes one entity, choosing column or document locations
// from the capabilities of the connected database.
type Store struct {
	db     database.DB
	caps   capability.Capabilities
	entity Entity
	logger ectologger.Logger

	mu    sync.Mutex
	plans map[bool]*Plan
}

func NewStore(db database.DB, caps capability.Capabilities, entity Entity, logger ectologger.Logger) *Store {
	return &Store{
		db:     db,
		caps:   caps,
		entity: entity,
		logger: logger,
		plans:  map[bool]*Plan{},
	}
}

func (s *Store) Entity() Entity { return s.entity }

func (s *Store) DB() database.DB { return s.db }

// Plan resolves field locations for the current capabilities. Probe failures
// are returned and nothing is cached.
func (s *Store) Plan(ctx context.Context) (*Plan, error) {
	jsonOK := s.caps.SupportsJSONQuery(ctx)

	s.mu.Lock()
	plan, ok := s.plans[jsonOK]
	s.mu.Unlock()
	if ok {
		return plan, nil
	}

	columns := map[string]bool{}
	for _, f := range s.entity.Fields {
		if !f.Column {
			continue
		}
		present, err := s.caps.HasColumn(ctx, s.entity.Table, f.Name)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"table":  s.entity.Table,
				"column": f.Name,
			}).Error("Failed to resolve schema capabilities")
			return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to inspect %s schema", s.entity.Name)
		}
		columns[f.Name] = present
	}

	plan = newPlan(s.entity, s.db.Dialect(), columns, jsonOK)

	s.mu.Lock()
	s.plans[jsonOK] = plan
	s.mu.Unlock()

	return plan, nil
}

// Run executes fn with the current plan. If a plan using JSON path
// expressions fails, the breaker is tripped and fn runs once more on the
// degraded plan.
func (s *Store) Run(ctx context.Context, op string, fn func(*Plan) error) error {
	plan, err := s.Plan(ctx)
	if err != nil {
		return err
	}

	err = fn(plan)
	if err == nil || !plan.UsesJSON() || httperror.IsHTTPError(err) || ctx.Err() != nil {
		return err
	}

	s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
		"entity":    s.entity.Name,
		"operation": op,
	}).Warn("JSON path query failed, retrying with in-app extraction")
	s.caps.MarkJSONUnsupported(ctx, err)
	metrics.QueryRetriesTotal.WithLabelValues(s.entity.Name, op).Inc()

	return fn(plan.Degraded())
}

// Fetch runs a select built from plan and decodes every row.
func (s *Store) Fetch(ctx context.Context, plan *Plan, sb *database.SelectBuilder) ([]*models.Record, error) {
	query, args := sb.Build()
	rows, err := database.Conn(ctx, s.db).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, s.toRecord(ctx, plan, row))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) toRecord(ctx context.Context, plan *Plan, row map[string]any) *models.Record {
	id, _ := document.Column(row[s.entity.Key]).Int()

	raw := row[s.entity.Document]
	delete(row, s.entity.Document)
	doc := document.DecodeRaw(raw)
	if doc == nil && !emptyDocument(raw) {
		metrics.MalformedDocumentsTotal.WithLabelValues(s.entity.Name).Inc()
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"entity": s.entity.Name,
			"id":     id,
		}).Debug("Record document could not be decoded")
	}

	fields := make(map[string]document.Value, len(row)+len(s.entity.Fields))
	for k, v := range row {
		fields[k] = document.Column(v)
	}
	plan.extract(fields, doc)

	return models.NewRecord(id, document.Merge(fields, doc), doc)
}

func emptyDocument(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return v == "" || v == "{}"
	case []byte:
		return len(v) == 0 || string(v) == "{}"
	}
	return false
}

func (s *Store) selectRecords(plan *Plan) *database.SelectBuilder {
	sb := database.NewSelectBuilder(plan.Dialect())
	sb.Select(plan.SelectColumns("")...).From(s.entity.Table)
	return sb
}

func (s *Store) storeError(ctx context.Context, op string, err error) error {
	if httperror.IsHTTPError(err) {
		return err
	}
	s.logger.WithContext(ctx).WithError(err).WithField("entity", s.entity.Name).Errorf("Failed to %s", op)
	return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to %s %s", op, s.entity.Name)
}

// Get returns the record or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Store.Get")
	defer span.End()
	span.SetAttributes(attribute.String("entity", s.entity.Name), attribute.Int64("id", id))

	var found *models.Record
	err := s.Run(ctx, "get", func(plan *Plan) error {
		sb := s.selectRecords(plan)
		sb.Where(sb.Equal(s.entity.Key, id))
		records, err := s.Fetch(ctx, plan, sb)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			found = records[0]
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, s.storeError(ctx, "read", err)
	}
	return found, nil
}

// Load reads records by id without JSON functions. It joins the unit of
// work carried by ctx, if any.
func (s *Store) Load(ctx context.Context, ids []int64) ([]*models.Record, error) {
	plan, err := s.Plan(ctx)
	if err != nil {
		return nil, err
	}
	plan = plan.Degraded()

	sb := s.selectRecords(plan)
	sb.Where(database.InInt64(sb, s.entity.Key, ids))
	sb.OrderBy(s.entity.Key)
	records, err := s.Fetch(ctx, plan, sb)
	if err != nil {
		return nil, s.storeError(ctx, "read", err)
	}
	return records, nil
}

func (s *Store) List(ctx context.Context, q Query) ([]*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Store.List")
	defer span.End()
	span.SetAttributes(attribute.String("entity", s.entity.Name))

	var records []*models.Record
	err := s.Run(ctx, "list", func(plan *Plan) error {
		var err error
		records, err = s.list(ctx, plan, q)
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, s.storeError(ctx, "list", err)
	}
	return records, nil
}

func (s *Store) list(ctx context.Context, plan *Plan, q Query) ([]*models.Record, error) {
	sb := s.selectRecords(plan)

	var deferred []Predicate
	for _, pred := range q.Where {
		if cond, ok := plan.condition(sb, pred, ""); ok {
			sb.Where(cond)
		} else {
			deferred = append(deferred, pred)
		}
	}

	first := ""
	inApp := len(deferred) > 0
	if q.First != nil {
		cond, ok := plan.condition(sb, *q.First, "")
		if ok {
			first = cond
		} else {
			inApp = true
		}
	}

	if inApp {
		sb.OrderBy(s.entity.Key).Desc()
		records, err := s.Fetch(ctx, plan, sb)
		if err != nil {
			return nil, err
		}
		return arrange(records, deferred, q), nil
	}

	if first != "" {
		sb.OrderBy(fmt.Sprintf("CASE WHEN %s THEN 0 ELSE 1 END", first), s.entity.Key+" DESC")
	} else {
		sb.OrderBy(s.entity.Key).Desc()
	}
	if q.Limit > 0 {
		sb.Limit(q.Limit)
		if q.Offset > 0 {
			sb.Offset(q.Offset)
		}
	}

	records, err := s.Fetch(ctx, plan, sb)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*models.Record{}
	}
	return records, nil
}

// Group is one row of a grouped count.
type Group struct {
	Values map[string]document.Value
	Count  int
}

// Count groups matching records by the given fields.
func (s *Store) Count(ctx context.Context, groupBy []string, where []Predicate) ([]Group, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Store.Count")
	defer span.End()
	span.SetAttributes(attribute.String("entity", s.entity.Name))

	var groups []Group
	err := s.Run(ctx, "count", func(plan *Plan) error {
		var err error
		groups, err = s.count(ctx, plan, groupBy, where)
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, s.storeError(ctx, "count", err)
	}
	return groups, nil
}

func (s *Store) count(ctx context.Context, plan *Plan, groupBy []string, where []Predicate) ([]Group, error) {
	sb := database.NewSelectBuilder(plan.Dialect())

	exprs := make([]string, 0, len(groupBy))
	sqlOK := true
	for _, name := range groupBy {
		expr, ok := plan.Expr(name, "")
		if !ok {
			sqlOK = false
			break
		}
		exprs = append(exprs, expr)
	}
	var conds []string
	for _, pred := range where {
		cond, ok := plan.condition(sb, pred, "")
		if !ok {
			sqlOK = false
			break
		}
		conds = append(conds, cond)
	}

	if !sqlOK {
		records, err := s.list(ctx, plan, Query{Where: where})
		if err != nil {
			return nil, err
		}
		return groupRecords(records, groupBy), nil
	}

	cols := make([]string, 0, len(exprs)+1)
	for i, expr := range exprs {
		cols = append(cols, fmt.Sprintf("%s AS %s", expr, groupBy[i]))
	}
	cols = append(cols, "COUNT(*) AS total")
	sb.Select(cols...).From(s.entity.Table)
	if len(conds) > 0 {
		sb.Where(conds...)
	}
	if len(exprs) > 0 {
		sb.GroupBy(exprs...)
	}

	query, args := sb.Build()
	rows, err := database.Conn(ctx, s.db).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		total, _ := document.Column(row["total"]).Int()
		g := Group{Values: map[string]document.Value{}, Count: int(total)}
		for _, name := range groupBy {
			g.Values[name] = document.Column(row[name])
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sortGroups(groups, groupBy), nil
}

func groupRecords(records []*models.Record, groupBy []string) []Group {
	index := map[string]int{}
	var groups []Group
	for _, r := range records {
		values := make([]document.Value, len(groupBy))
		for i, name := range groupBy {
			values[i] = r.Fields[name]
		}
		key := groupKey(values)
		if i, ok := index[key]; ok {
			groups[i].Count++
			continue
		}
		g := Group{Values: map[string]document.Value{}, Count: 1}
		for i, name := range groupBy {
			g.Values[name] = values[i]
		}
		index[key] = len(groups)
		groups = append(groups, g)
	}
	return sortGroups(groups, groupBy)
}

func sortGroups(groups []Group, groupBy []string) []Group {
	sort.SliceStable(groups, func(i, j int) bool {
		for _, name := range groupBy {
			a, b := groups[i].Values[name].String(), groups[j].Values[name].String()
			if a != b {
				return a < b
			}
		}
		return false
	})
	return groups
}

// FolioExists reports whether another record uses a folio with the same
// separator-insensitive key.
func (s *Store) FolioExists(ctx context.Context, field, folio string, excludeID *int64) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Store.FolioExists")
	defer span.End()
	span.SetAttributes(attribute.String("entity", s.entity.Name))

	key := normalizers.FolioKey(folio)
	if key == "" {
		return false, nil
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"entity": s.entity.Name,
		"folio":  key,
	}).Debug("Checking folio")

	var exists bool
	err := s.Run(ctx, "check folio", func(plan *Plan) error {
		if expr, ok := plan.Expr(field, ""); ok {
			sb := database.NewSelectBuilder(plan.Dialect())
			sb.Select("COUNT(*)").From(s.entity.Table)
			sb.Where(sb.ExprEqual(database.Compact(expr), key))
			if excludeID != nil {
				sb.Where(sb.NotEqual(s.entity.Key, *excludeID))
			}
			query, args := sb.Build()
			var count int
			if err := database.Conn(ctx, s.db).GetContext(ctx, &count, query, args...); err != nil {
				return err
			}
			exists = count > 0
			return nil
		}

		sb := s.selectRecords(plan)
		sb.Where(sb.Like(database.Upper(s.entity.Document), coarsePattern(key)))
		if excludeID != nil {
			sb.Where(sb.NotEqual(s.entity.Key, *excludeID))
		}
		records, err := s.Fetch(ctx, plan, sb)
		if err != nil {
			return err
		}
		exists = false
		for _, r := range records {
			if normalizers.FolioKey(r.String(field)) == key {
				exists = true
				break
			}
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return false, s.storeError(ctx, "check folio for", err)
	}
	return exists, nil
}

// Referencing returns records whose field holds one of ids, newest first.
func (s *Store) Referencing(ctx context.Context, field string, ids []int64) ([]*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Store.Referencing")
	defer span.End()
	span.SetAttributes(attribute.String("entity", s.entity.Name))

	if len(ids) == 0 {
		return []*models.Record{}, nil
	}
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var records []*models.Record
	err := s.Run(ctx, "find references in", func(plan *Plan) error {
		sb := s.selectRecords(plan)
		if expr, ok := plan.Expr(field, ""); ok {
			values := make([]any, len(ids))
			for i, id := range ids {
				values[i] = strconv.FormatInt(id, 10)
			}
			sb.Where(sb.In(database.Text(expr), values...))
		} else {
			f, _ := s.entity.Field(field)
			if len(f.Path) == 0 {
				return fmt.Errorf("field %s cannot be referenced", field)
			}
			sb.Where(sb.Like(s.entity.Document, Contains(`"`+f.Path[len(f.Path)-1]+`"`)))
			ors := make([]string, len(ids))
			for i, id := range ids {
				ors[i] = sb.Like(s.entity.Document, Contains(strconv.FormatInt(id, 10)))
			}
			sb.Where(sb.Or(ors...))
		}
		sb.OrderBy(s.entity.Key).Desc()

		fetched, err := s.Fetch(ctx, plan, sb)
		if err != nil {
			return err
		}
		records = records[:0]
		for _, r := range fetched {
			if ref, ok := r.Int(field); ok && wanted[ref] {
				records = append(records, r)
			}
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, s.storeError(ctx, "find references in", err)
	}
	if records == nil {
		records = []*models.Record{}
	}
	return records, nil
}

// Write is a full record write. Document is always re-encoded and written.
type Write struct {
	Columns  map[string]any
	Document map[string]any
}

func (s *Store) columnsFor(plan *Plan, w Write, text string) ([]string, []any) {
	values := map[string]any{}
	for k, v := range w.Columns {
		if plan.HasColumn(k) {
			values[k] = v
		}
	}
	for _, f := range s.entity.Fields {
		if len(f.Path) == 0 || plan.Location(f.Name) != Native {
			continue
		}
		if _, set := values[f.Name]; set {
			continue
		}
		for _, path := range f.paths() {
			v, ok := document.Lookup(w.Document, path...)
			if !ok {
				continue
			}
			if f.Normalize == nil {
				values[f.Name] = columnValue(v)
				break
			}
			if v = f.normalize(v); v != nil {
				values[f.Name] = v
				break
			}
		}
	}
	values[s.entity.Document] = text

	cols := make([]string, 0, len(values))
	for k := range values {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = values[c]
	}
	return cols, args
}

func columnValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		return t.String()
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return v
	}
}

func (s *Store) encode(ctx context.Context, doc map[string]any) (string, error) {
	text, err := document.Encode(doc)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("entity", s.entity.Name).Error("Failed to encode document")
		return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "%s document is not serializable", s.entity.Name)
	}
	return text, nil
}

// Insert writes a new row and returns its id.
func (s *Store) Insert(ctx context.Context, w Write) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Store.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("entity", s.entity.Name))

	plan, err := s.Plan(ctx)
	if err != nil {
		return 0, err
	}
	text, err := s.encode(ctx, w.Document)
	if err != nil {
		return 0, err
	}

	cols, args := s.columnsFor(plan, w, text)
	ib := database.NewInsertBuilder(plan.Dialect())
	ib.InsertInto(s.entity.Table).Cols(cols...).Values(args...)
	ib.ReturningID(s.entity.Key)
	query, qargs := ib.Build()

	var id int64
	if err := database.Conn(ctx, s.db).GetContext(ctx, &id, query, qargs...); err != nil {
		tracing.RecordError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.WithContext(ctx).WithField("entity", s.entity.Name).Error("Insert did not return a row")
			return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to create %s", s.entity.Name)
		}
		return 0, s.storeError(ctx, "create", err)
	}
	return id, nil
}

// Update rewrites an existing row.
func (s *Store) Update(ctx context.Context, id int64, w Write) error {
	ctx, span := tracing.StartSpan(ctx, "record.Store.Update")
	defer span.End()
	span.SetAttributes(attribute.String("entity", s.entity.Name), attribute.Int64("id", id))

	plan, err := s.Plan(ctx)
	if err != nil {
		return err
	}
	text, err := s.encode(ctx, w.Document)
	if err != nil {
		return err
	}

	cols, args := s.columnsFor(plan, w, text)
	ub := database.NewUpdateBuilder(plan.Dialect())
	ub.Update(s.entity.Table)
	assignments := make([]string, len(cols))
	for i, c := range cols {
		assignments[i] = ub.Assign(c, args[i])
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal(s.entity.Key, id))
	query, qargs := ub.Build()

	res, err := database.Conn(ctx, s.db).ExecContext(ctx, query, qargs...)
	if err != nil {
		tracing.RecordError(span, err)
		return s.storeError(ctx, "update", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "%s not found", s.entity.Name)
	}
	return nil
}
