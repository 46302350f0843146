package requests

import (
	"context"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectolinq"
	argusctx "github.com/Ramsey-B/argus/pkg/context"
	"github.com/Ramsey-B/argus/pkg/matching"
	"github.com/Ramsey-B/argus/pkg/models"
	"github.com/Ramsey-B/argus/pkg/tracing"
	"github.com/Ramsey-B/argus/pkg/utils"
	"github.com/labstack/echo/v4"
)

// Repository is the request store the handlers need.
type Repository interface {
	Create(ctx context.Context, in models.RequestInput) (int64, error)
	Update(ctx context.Context, id int64, in models.RequestInput) error
	Get(ctx context.Context, id int64) (*models.Record, error)
	List(ctx context.Context, filter models.RequestFilter) ([]*models.Record, error)
	Counts(ctx context.Context, filter models.RequestFilter) ([]models.StatusCount, error)
	FolioExists(ctx context.Context, folio string, excludeID *int64) (bool, error)
	Transition(ctx context.Context, id int64, tr models.TransitionRequest) (*models.Record, error)
}

// Searcher finds requests matching a set of identifiers.
type Searcher interface {
	Search(ctx context.Context, q matching.Query) []*matching.Candidate
}

// Register registers the request routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("", Create)
	g.GET("/folio-exists", FolioExists)
	g.GET("/counts", Counts)
	g.GET("/matches", Matches)
	g.GET("/:id", Get)
	g.PUT("/:id", Update)
	g.POST("/:id/transition", Transition)
}

type FolioExistsResponse struct {
	Folio  string `json:"folio"`
	Exists bool   `json:"exists"`
}

type MatchesResponse struct {
	Query      matching.Query        `json:"query"`
	Candidates []*matching.Candidate `json:"candidates"`
}

// filter reads the listing filters shared by List and Counts.
func filter(c echo.Context) (models.RequestFilter, error) {
	ctx := c.Request().Context()
	f := models.RequestFilter{ViewerID: argusctx.GetActorID(ctx)}

	owner, err := utils.QueryInt64(c, "owner")
	if err != nil {
		return f, err
	}
	f.OwnerID = owner

	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		status, err := models.ParseRequestStatus(raw)
		if err != nil {
			return f, httperror.WrapError(http.StatusBadRequest, err)
		}
		f.Status = &status
	}

	if f.IncludeDrafts, err = utils.QueryBool(c, "include_drafts"); err != nil {
		return f, err
	}

	switch scope := models.Scope(strings.ToLower(c.QueryParam("scope"))); scope {
	case models.ScopeAll, models.ScopeMine, models.ScopeOthers:
		if scope != models.ScopeAll && f.ViewerID == nil {
			return f, httperror.NewHTTPErrorf(http.StatusBadRequest, "scope %q requires an acting user", scope)
		}
		f.Scope = scope
	default:
		return f, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid scope %q", scope)
	}

	if f.Limit, err = utils.QueryInt(c, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = utils.QueryInt(c, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

// List handles GET /requests
func List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.List")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	f, err := filter(c)
	if err != nil {
		return err
	}

	records, err := repo.List(ctx, f)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return c.JSON(http.StatusOK, toResponses(records))
}

// Counts handles GET /requests/counts
func Counts(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Counts")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	f, err := filter(c)
	if err != nil {
		return err
	}

	counts, err := repo.Counts(ctx, f)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return c.JSON(http.StatusOK, counts)
}

// Create handles POST /requests
func Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Create")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	in, err := utils.BindRequest[models.RequestInput](c)
	if err != nil {
		return err
	}

	id, err := repo.Create(ctx, in)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return respond(ctx, c, repo, http.StatusCreated, id)
}

// Get handles GET /requests/:id
func Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Get")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	id, err := utils.PathID(c, "id")
	if err != nil {
		return err
	}
	return respond(ctx, c, repo, http.StatusOK, id)
}

// Update handles PUT /requests/:id
func Update(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Update")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	id, err := utils.PathID(c, "id")
	if err != nil {
		return err
	}
	in, err := utils.BindRequest[models.RequestInput](c)
	if err != nil {
		return err
	}

	if err := repo.Update(ctx, id, in); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return respond(ctx, c, repo, http.StatusOK, id)
}

// Transition handles POST /requests/:id/transition
func Transition(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Transition")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	id, err := utils.PathID(c, "id")
	if err != nil {
		return err
	}
	tr, err := utils.BindRequest[models.TransitionRequest](c)
	if err != nil {
		return err
	}

	rec, err := repo.Transition(ctx, id, tr)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return c.JSON(http.StatusOK, models.RequestFromRecord(rec))
}

// FolioExists handles GET /requests/folio-exists
func FolioExists(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.FolioExists")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	folio := c.QueryParam("folio")
	if err := utils.ValidateValue(folio, "required"); err != nil {
		return httperror.WrapError(http.StatusBadRequest, err)
	}
	excludeID, err := utils.QueryInt64(c, "exclude_id")
	if err != nil {
		return err
	}

	exists, err := repo.FolioExists(ctx, folio, excludeID)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return c.JSON(http.StatusOK, FolioExistsResponse{Folio: folio, Exists: exists})
}

// Matches handles GET /requests/matches. It never fails on backend errors;
// an empty candidate list is a valid answer.
func Matches(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RequestHandler.Matches")
	defer span.End()

	ctx, search, err := ectoinject.GetContext[Searcher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	limit, err := utils.QueryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	q := matching.Query{
		Folio:      c.QueryParam("folio"),
		TaxID:      c.QueryParam("rfc"),
		NationalID: c.QueryParam("curp"),
		Limit:      limit,
	}

	candidates := search.Search(ctx, q)
	if candidates == nil {
		candidates = []*matching.Candidate{}
	}

	return c.JSON(http.StatusOK, MatchesResponse{Query: q.Normalize(), Candidates: candidates})
}

func respond(ctx context.Context, c echo.Context, repo Repository, status int, id int64) error {
	rec, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "request %d not found", id)
	}
	return c.JSON(status, models.RequestFromRecord(rec))
}

func toResponses(records []*models.Record) []*models.Request {
	if len(records) == 0 {
		return []*models.Request{}
	}
	return ectolinq.Map(records, models.RequestFromRecord)
}
