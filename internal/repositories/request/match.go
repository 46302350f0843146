package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Ramsey-B/argus/internal/repositories/contract"
	"github.com/Ramsey-B/argus/internal/repositories/record"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/matching"
	"github.com/Ramsey-B/argus/pkg/models"
	"github.com/Ramsey-B/argus/pkg/tracing"
)

var errNoContracts = errors.New("match search needs the contract repository")

type identifier struct {
	field string
	value string
}

func identifiers(q matching.Query) []identifier {
	var out []identifier
	for _, id := range []identifier{
		{FieldFolio, q.Folio},
		{FieldTaxID, q.TaxID},
		{FieldNationalID, q.NationalID},
	} {
		if id.value != "" {
			out = append(out, id)
		}
	}
	return out
}

// MatchNative scores and filters candidates in a single statement and skips
// requests that a contract already references. It fails when any identifier
// has no SQL expression, which is the case once JSON queries are degraded.
func (r *Repository) MatchNative(ctx context.Context, q matching.Query, limit int) ([]*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "request.Repository.MatchNative")
	defer span.End()

	if r.contracts == nil {
		return nil, errNoContracts
	}
	plan, err := r.store.Plan(ctx)
	if err != nil {
		return nil, err
	}
	contractPlan, err := r.contracts.Store().Plan(ctx)
	if err != nil {
		return nil, err
	}

	sb := database.NewSelectBuilder(plan.Dialect())
	var score, conds []string
	for _, id := range identifiers(q) {
		expr, err := fieldExpr(plan, id.field, "s")
		if err != nil {
			return nil, err
		}
		expr = database.Upper(expr)
		conds = append(conds, sb.ExprEqual(expr, id.value))
		score = append(score, fmt.Sprintf("CASE WHEN %s THEN 1 ELSE 0 END", sb.ExprEqual(expr, id.value)))
	}
	if len(conds) == 0 {
		return []*models.Record{}, nil
	}

	origin, err := fieldExpr(contractPlan, contract.FieldOrigin, "c")
	if err != nil {
		return nil, err
	}
	linked := fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s c WHERE %s = %s)",
		contract.Entity.Table, database.Text(origin), database.Text("s."+Entity.Key))

	cols := append(plan.SelectColumns("s"), fmt.Sprintf("(%s) AS coincidences", strings.Join(score, " + ")))
	sb.Select(cols...).From(Entity.Table + " s")
	sb.Where(sb.Or(conds...), linked)
	sb.OrderBy("coincidences DESC", "s."+Entity.Key+" DESC")
	if limit > 0 {
		sb.Limit(limit)
	}

	records, err := r.store.Fetch(ctx, plan, sb)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return records, nil
}

// MatchCoarse selects requests whose raw document contains any identifier.
// It over-selects; callers re-score and check contract links themselves.
func (r *Repository) MatchCoarse(ctx context.Context, q matching.Query, scanLimit int) ([]*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "request.Repository.MatchCoarse")
	defer span.End()

	plan, err := r.store.Plan(ctx)
	if err != nil {
		return nil, err
	}
	plan = plan.Degraded()

	sb := database.NewSelectBuilder(plan.Dialect())
	var ors []string
	for _, id := range identifiers(q) {
		ors = append(ors, sb.Like(database.Upper(Entity.Document), record.Contains(id.value)))
		if id.field == FieldFolio && plan.Location(FieldFolio) == record.Native {
			ors = append(ors, sb.Like(database.Upper(FieldFolio), record.Contains(id.value)))
		}
	}
	if len(ors) == 0 {
		return []*models.Record{}, nil
	}

	sb.Select(plan.SelectColumns("")...).From(Entity.Table)
	sb.Where(sb.Or(ors...))
	sb.OrderBy(Entity.Key).Desc()
	if scanLimit > 0 {
		sb.Limit(scanLimit)
	}

	records, err := r.store.Fetch(ctx, plan, sb)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return records, nil
}
