package contract

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/internal/repositories/record"
	"github.com/Ramsey-B/argus/pkg/capability"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/document"
	"github.com/Ramsey-B/argus/pkg/events"
	"github.com/Ramsey-B/argus/pkg/models"
	"github.com/Ramsey-B/argus/pkg/normalizers"
	"github.com/Ramsey-B/argus/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

type Repository struct {
	store  *record.Store
	guard  record.Guard
	events events.Notifier
	logger ectologger.Logger
}

// NewRepository builds the contract repository. guard and notifier may be
// nil.
func NewRepository(db database.DB, caps capability.Capabilities, guard record.Guard, notifier events.Notifier, logger ectologger.Logger) *Repository {
	if guard == nil {
		guard = record.NopGuard{}
	}
	if notifier == nil {
		notifier = events.Nop{}
	}
	return &Repository{
		store:  record.NewStore(db, caps, Entity, logger),
		guard:  guard,
		events: notifier,
		logger: logger,
	}
}

// Store exposes the underlying record store to collaborators that need
// contract expressions, such as the request match query.
func (r *Repository) Store() *record.Store {
	return r.store
}

// prepare normalizes the folio and status of a contract document in place.
// fallback is used when the document carries no status.
func prepare(doc map[string]any, fallback models.ContractStatus) (string, error) {
	contrato := document.Object(doc, "contrato")

	folio := normalizers.Folio(document.Dynamic(contrato["folio"]).String())
	if folio == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "contract folio is required")
	}
	contrato["folio"] = folio

	status := fallback
	if raw, ok := contrato["estatus"]; ok && raw != nil {
		code, ok := (statusCode{}).Value(raw).(int64)
		if !ok {
			return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid contract status %v", raw)
		}
		status = models.ContractStatus(code)
	} else if code, ok := (statusCode{}).Value(contrato["estado"]).(int64); ok {
		status = models.ContractStatus(code)
	}
	contrato["estatus"] = int(status)
	contrato["estado"] = status.Label()
	return folio, nil
}

func (r *Repository) Create(ctx context.Context, in models.ContractInput) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "contract.Repository.Create")
	defer span.End()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"client_id":      in.ClientID,
		"development_id": in.DevelopmentID,
	}).Debug("Creating contract")

	doc := document.Clone(in.Document)
	if doc == nil {
		doc = map[string]any{}
	}
	folio, err := prepare(doc, models.ContractActive)
	if err != nil {
		return 0, err
	}

	columns := map[string]any{
		FieldClientID:    in.ClientID,
		FieldDevelopment: in.DevelopmentID,
	}
	if in.CreatedBy != nil {
		columns[FieldCreatedBy] = *in.CreatedBy
	}

	var id int64
	err = r.guard.WithFolio(ctx, Entity.Table, folio, func(ctx context.Context) error {
		taken, err := r.store.FolioExists(ctx, FieldFolio, folio, nil)
		if err != nil {
			return err
		}
		if taken {
			return httperror.NewHTTPErrorf(http.StatusConflict, "contract folio %s already exists", folio)
		}
		id, err = r.store.Insert(ctx, record.Write{Columns: columns, Document: doc})
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("id", id))
	return id, nil
}

// Update rewrites the whole contract. Status and the cancellation stamp are
// carried over from the stored row when the new document omits them.
func (r *Repository) Update(ctx context.Context, id int64, in models.ContractInput) error {
	ctx, span := tracing.StartSpan(ctx, "contract.Repository.Update")
	defer span.End()
	span.SetAttributes(attribute.Int64("id", id))

	r.logger.WithContext(ctx).WithField("id", id).Debug("Updating contract")

	current, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "contract %d not found", id)
	}

	doc := document.Clone(in.Document)
	if doc == nil {
		doc = map[string]any{}
	}
	fallback := models.ContractActive
	if code, ok := current.Int(FieldStatus); ok && models.ContractStatus(code).Valid() {
		fallback = models.ContractStatus(code)
	}
	if stamp, ok := document.Lookup(current.Document, "contrato", "cancelado_en"); ok {
		if _, set := document.Lookup(doc, "contrato", "cancelado_en"); !set {
			document.Set(doc, stamp, "contrato", "cancelado_en")
		}
	}
	folio, err := prepare(doc, fallback)
	if err != nil {
		return err
	}

	columns := map[string]any{
		FieldClientID:    in.ClientID,
		FieldDevelopment: in.DevelopmentID,
	}
	if in.CreatedBy != nil {
		columns[FieldCreatedBy] = *in.CreatedBy
	}

	err = r.guard.WithFolio(ctx, Entity.Table, folio, func(ctx context.Context) error {
		taken, err := r.store.FolioExists(ctx, FieldFolio, folio, &id)
		if err != nil {
			return err
		}
		if taken {
			return httperror.NewHTTPErrorf(http.StatusConflict, "contract folio %s already exists", folio)
		}
		return r.store.Update(ctx, id, record.Write{Columns: columns, Document: doc})
	})
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

// Get returns nil when the contract does not exist.
func (r *Repository) Get(ctx context.Context, id int64) (*models.Record, error) {
	return r.store.Get(ctx, id)
}

func (r *Repository) List(ctx context.Context, filter models.ContractFilter) ([]*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "contract.Repository.List")
	defer span.End()

	q := record.Query{Limit: filter.Limit, Offset: filter.Offset}
	if filter.ClientID != nil {
		q.Where = append(q.Where, record.Eq(FieldClientID, *filter.ClientID))
	}
	if filter.Status != nil {
		q.Where = append(q.Where, record.Eq(FieldStatus, int(*filter.Status)))
	}
	return r.store.List(ctx, q)
}

func (r *Repository) FolioExists(ctx context.Context, folio string, excludeID *int64) (bool, error) {
	return r.store.FolioExists(ctx, FieldFolio, folio, excludeID)
}

func (r *Repository) SetStatus(ctx context.Context, id int64, status models.ContractStatus, actorID *int64) error {
	_, err := r.SetStatusBulk(ctx, []int64{id}, status, actorID)
	return err
}

// SetStatusBulk sets status on every id in one unit of work and returns the
// number of rows changed. The document always gets the matching estado, and
// cancelado_en is stamped the first time a contract is cancelled.
func (r *Repository) SetStatusBulk(ctx context.Context, ids []int64, status models.ContractStatus, actorID *int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "contract.Repository.SetStatusBulk")
	defer span.End()
	span.SetAttributes(attribute.Int("status", int(status)), attribute.Int("ids", len(ids)))

	if !status.Valid() {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid contract status %d", status)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"ids":    ids,
		"status": int(status),
	}).Debug("Setting contract status")

	stamp := time.Now().UTC().Format(time.RFC3339)
	n, err := r.store.ApplyStatus(ctx, record.StatusChange{
		IDs:   ids,
		Field: FieldStatus,
		Value: int(status),
		Patch: func(doc map[string]any) bool {
			contrato := document.Object(doc, "contrato")
			contrato["estatus"] = int(status)
			contrato["estado"] = status.Label()
			if status == models.ContractCancelled {
				if existing, ok := contrato["cancelado_en"]; !ok || existing == nil || existing == "" {
					contrato["cancelado_en"] = stamp
				}
			}
			return true
		},
		AlwaysPatch: true,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}

	r.events.ContractStatusChanged(ctx, ids, status, actorID)
	return n, nil
}

// ActivityByClient tallies contracts per client. An empty clientIDs counts
// every client.
func (r *Repository) ActivityByClient(ctx context.Context, clientIDs []int64) (map[int64]*models.ActivityCount, error) {
	ctx, span := tracing.StartSpan(ctx, "contract.Repository.ActivityByClient")
	defer span.End()

	var where []record.Predicate
	if len(clientIDs) > 0 {
		values := make([]any, len(clientIDs))
		for i, id := range clientIDs {
			values[i] = id
		}
		where = append(where, record.In(FieldClientID, values...))
	}

	groups, err := r.store.Count(ctx, []string{FieldClientID, FieldStatus}, where)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]*models.ActivityCount, len(clientIDs))
	for _, id := range clientIDs {
		out[id] = &models.ActivityCount{ClientID: id}
	}
	for _, g := range groups {
		client, ok := g.Values[FieldClientID].Int()
		if !ok {
			continue
		}
		acc, ok := out[client]
		if !ok {
			acc = &models.ActivityCount{ClientID: client}
			out[client] = acc
		}
		acc.Total += g.Count
		code, _ := g.Values[FieldStatus].Int()
		switch models.ContractStatus(code) {
		case models.ContractActive:
			acc.Active += g.Count
		case models.ContractCancelled:
			acc.Cancelled += g.Count
		case models.ContractArchived:
			acc.Archived += g.Count
		}
	}
	return out, nil
}

// LinksForRequests returns the most recent contract originated from each of
// the given requests.
func (r *Repository) LinksForRequests(ctx context.Context, requestIDs []int64) (map[int64]*models.Record, error) {
	records, err := r.store.Referencing(ctx, FieldOrigin, requestIDs)
	if err != nil {
		return nil, err
	}
	links := make(map[int64]*models.Record, len(records))
	for _, rec := range records {
		origin, _ := rec.Int(FieldOrigin)
		if _, seen := links[origin]; !seen {
			links[origin] = rec
		}
	}
	return links, nil
}

// LinkedRequestIDs reports which of the given requests already have a
// contract.
func (r *Repository) LinkedRequestIDs(ctx context.Context, requestIDs []int64) (map[int64]bool, error) {
	links, err := r.LinksForRequests(ctx, requestIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(links))
	for id := range links {
		out[id] = true
	}
	return out, nil
}
