package request

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/internal/repositories/contract"
	"github.com/Ramsey-B/argus/internal/repositories/record"
	"github.com/Ramsey-B/argus/pkg/capability"
	argusctx "github.com/Ramsey-B/argus/pkg/context"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/document"
	"github.com/Ramsey-B/argus/pkg/events"
	"github.com/Ramsey-B/argus/pkg/models"
	"github.com/Ramsey-B/argus/pkg/normalizers"
	"github.com/Ramsey-B/argus/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

type Repository struct {
	db        database.DB
	store     *record.Store
	contracts *contract.Repository
	guard     record.Guard
	events    events.Notifier
	logger    ectologger.Logger
}

// NewRepository builds the request repository. contracts is used to derive
// linked contracts and to exclude linked requests from matches. guard and
// notifier may be nil.
func NewRepository(db database.DB, caps capability.Capabilities, contracts *contract.Repository, guard record.Guard, notifier events.Notifier, logger ectologger.Logger) *Repository {
	if guard == nil {
		guard = record.NopGuard{}
	}
	if notifier == nil {
		notifier = events.Nop{}
	}
	return &Repository{
		db:        db,
		store:     record.NewStore(db, caps, Entity, logger),
		contracts: contracts,
		guard:     guard,
		events:    notifier,
		logger:    logger,
	}
}

func (r *Repository) Store() *record.Store {
	return r.store
}

// prepare normalizes folio and status in place and returns the folio.
func prepare(doc map[string]any, fallback models.RequestStatus) (string, error) {
	folio := ""
	if raw, ok := doc["folio"]; ok && raw != nil {
		folio = normalizers.Folio(document.Dynamic(raw).String())
	}
	if folio == "" {
		delete(doc, "folio")
	} else {
		doc["folio"] = folio
	}

	status := fallback
	if raw, ok := doc["estatus"]; ok && raw != nil && document.Dynamic(raw).String() != "" {
		parsed, err := models.ParseRequestStatus(document.Dynamic(raw).String())
		if err != nil {
			return "", httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		status = parsed
	}
	doc["estatus"] = string(status)
	return folio, nil
}

func (r *Repository) Create(ctx context.Context, in models.RequestInput) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "request.Repository.Create")
	defer span.End()

	r.logger.WithContext(ctx).WithField("user_id", in.UserID).Debug("Creating request")

	doc := document.Clone(in.Document)
	if doc == nil {
		doc = map[string]any{}
	}
	folio, err := prepare(doc, models.RequestDraft)
	if err != nil {
		return 0, err
	}

	write := record.Write{
		Columns: map[string]any{
			FieldUserID:    in.UserID,
			FieldUpdatedAt: time.Now().UTC(),
		},
		Document: doc,
	}

	var id int64
	err = r.guard.WithFolio(ctx, Entity.Table, folio, func(ctx context.Context) error {
		if err := r.ensureFolioFree(ctx, folio, nil); err != nil {
			return err
		}
		var err error
		id, err = r.store.Insert(ctx, write)
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("id", id))
	return id, nil
}

// Update rewrites the request document. Status and the cancelation object
// carry over when the new document omits them; status changes go through
// Transition.
func (r *Repository) Update(ctx context.Context, id int64, in models.RequestInput) error {
	ctx, span := tracing.StartSpan(ctx, "request.Repository.Update")
	defer span.End()
	span.SetAttributes(attribute.Int64("id", id))

	r.logger.WithContext(ctx).WithField("id", id).Debug("Updating request")

	current, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "request %d not found", id)
	}

	doc := document.Clone(in.Document)
	if doc == nil {
		doc = map[string]any{}
	}
	delete(doc, "estatus")
	if cancelation, ok := current.Document["cancelation"]; ok {
		if _, set := doc["cancelation"]; !set {
			doc["cancelation"] = cancelation
		}
	}
	folio, err := prepare(doc, models.RequestStatusOf(current))
	if err != nil {
		return err
	}

	write := record.Write{
		Columns: map[string]any{
			FieldUserID:    in.UserID,
			FieldUpdatedAt: time.Now().UTC(),
		},
		Document: doc,
	}

	err = r.guard.WithFolio(ctx, Entity.Table, folio, func(ctx context.Context) error {
		if err := r.ensureFolioFree(ctx, folio, &id); err != nil {
			return err
		}
		return r.store.Update(ctx, id, write)
	})
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

func (r *Repository) ensureFolioFree(ctx context.Context, folio string, excludeID *int64) error {
	if folio == "" {
		return nil
	}
	taken, err := r.store.FolioExists(ctx, FieldFolio, folio, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return httperror.NewHTTPErrorf(http.StatusConflict, "request folio %s already exists", folio)
	}
	return nil
}

func (r *Repository) FolioExists(ctx context.Context, folio string, excludeID *int64) (bool, error) {
	return r.store.FolioExists(ctx, FieldFolio, folio, excludeID)
}

// Get returns nil when the request does not exist.
func (r *Repository) Get(ctx context.Context, id int64) (*models.Record, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if err := r.attachLinks(ctx, []*models.Record{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

func predicates(filter models.RequestFilter) []record.Predicate {
	var where []record.Predicate
	if filter.OwnerID != nil {
		where = append(where, record.Eq(FieldUserID, *filter.OwnerID))
	}
	if filter.ViewerID != nil {
		switch filter.Scope {
		case models.ScopeMine:
			where = append(where, record.Eq(FieldUserID, *filter.ViewerID))
		case models.ScopeOthers:
			where = append(where, record.Ne(FieldUserID, *filter.ViewerID))
		}
	}
	return where
}

// List orders submitted requests first, then newest first. Drafts are left
// out unless asked for or filtered by status.
func (r *Repository) List(ctx context.Context, filter models.RequestFilter) ([]*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "request.Repository.List")
	defer span.End()

	where := predicates(filter)
	switch {
	case filter.Status != nil:
		where = append(where, record.Eq(FieldStatus, string(*filter.Status)))
	case !filter.IncludeDrafts:
		where = append(where, record.Ne(FieldStatus, string(models.RequestDraft)))
	}
	first := record.Eq(FieldStatus, string(models.RequestSubmitted))

	records, err := r.store.List(ctx, record.Query{
		Where:  where,
		First:  &first,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		return nil, err
	}
	if err := r.attachLinks(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

var countedStatuses = []models.RequestStatus{
	models.RequestDraft,
	models.RequestSubmitted,
	models.RequestInReview,
	models.RequestApproved,
	models.RequestCancelled,
}

// Counts tallies requests per status with the owner and scope filters of
// List. Every status is reported, zero or not.
func (r *Repository) Counts(ctx context.Context, filter models.RequestFilter) ([]models.StatusCount, error) {
	ctx, span := tracing.StartSpan(ctx, "request.Repository.Counts")
	defer span.End()

	groups, err := r.store.Count(ctx, []string{FieldStatus}, predicates(filter))
	if err != nil {
		return nil, err
	}

	tally := map[models.RequestStatus]int{}
	for _, g := range groups {
		status := models.RequestStatus(g.Values[FieldStatus].String())
		if status == "" {
			status = models.RequestDraft
		}
		tally[status] += g.Count
	}

	out := make([]models.StatusCount, 0, len(countedStatuses))
	for _, status := range countedStatuses {
		out = append(out, models.StatusCount{Status: status, Count: tally[status]})
	}
	return out, nil
}

// Transition moves a request along the state machine. The status write, the
// return columns and the cancelation document patch commit together.
func (r *Repository) Transition(ctx context.Context, id int64, tr models.TransitionRequest) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "request.Repository.Transition")
	defer span.End()
	span.SetAttributes(attribute.Int64("id", id), attribute.String("to", string(tr.To)))

	if !tr.To.Valid() {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid request status %q", tr.To)
	}
	actor := tr.ActorID
	if actor == nil {
		actor = argusctx.GetActorID(ctx)
	}

	if _, err := r.store.Plan(ctx); err != nil {
		return nil, err
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to begin transition")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update request status")
	}
	defer tx.Rollback(ctx)

	loaded, err := r.store.Load(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(loaded) == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "request %d not found", id)
	}
	current := loaded[0]
	from := models.RequestStatusOf(current)
	if !models.CanTransition(from, tr.To) {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "request cannot move from %s to %s", from, tr.To)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":   id,
		"from": from,
		"to":   tr.To,
	}).Debug("Transitioning request")

	now := time.Now().UTC()
	columns := map[string]any{FieldUpdatedAt: now}
	returning := models.IsReturn(from, tr.To)
	if returning {
		columns[FieldReturnReason] = tr.Reason
		columns[FieldReturnedAt] = now
		if actor != nil {
			columns[FieldReturnedBy] = *actor
		}
	}
	cancelling := tr.To == models.RequestCancelled

	_, err = r.store.ApplyStatus(ctx, record.StatusChange{
		IDs:     []int64{id},
		Field:   FieldStatus,
		Value:   string(tr.To),
		Columns: columns,
		Patch: func(doc map[string]any) bool {
			doc["estatus"] = string(tr.To)
			if cancelling {
				doc["cancelation"] = models.Cancelation{
					Reason:      tr.Reason,
					CancelledBy: actor,
					CancelledAt: now,
				}.Document()
			}
			return true
		},
		AlwaysPatch: cancelling,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to commit transition")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update request status")
	}

	r.events.RequestStatusChanged(ctx, id, current.String(FieldFolio), from, tr.To, actor, tr.Reason)
	return r.Get(ctx, id)
}

// attachLinks adds the most recent contract originated from each record.
func (r *Repository) attachLinks(ctx context.Context, records []*models.Record) error {
	if r.contracts == nil || len(records) == 0 {
		return nil
	}
	ids := make([]int64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	links, err := r.contracts.LinksForRequests(ctx, ids)
	if err != nil {
		return err
	}
	for _, rec := range records {
		c, ok := links[rec.ID]
		if !ok {
			continue
		}
		rec.Set("linked_contract_id", document.Column(c.ID))
		rec.Set("linked_contract_folio", document.Column(c.String(contract.FieldFolio)))
		rec.Set("linked_contract_status", c.Fields[contract.FieldStatus])
	}
	return nil
}

func fieldExpr(plan *record.Plan, field, alias string) (string, error) {
	expr, ok := plan.Expr(field, alias)
	if !ok {
		return "", fmt.Errorf("%s has no SQL expression in the current plan", field)
	}
	return expr, nil
}
