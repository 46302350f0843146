package contracts

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectolinq"
	argusctx "github.com/Ramsey-B/argus/pkg/context"
	"github.com/Ramsey-B/argus/pkg/models"
	"github.com/Ramsey-B/argus/pkg/tracing"
	"github.com/Ramsey-B/argus/pkg/utils"
	"github.com/labstack/echo/v4"
)

// Repository is the contract store the handlers need.
type Repository interface {
	Create(ctx context.Context, in models.ContractInput) (int64, error)
	Update(ctx context.Context, id int64, in models.ContractInput) error
	Get(ctx context.Context, id int64) (*models.Record, error)
	List(ctx context.Context, filter models.ContractFilter) ([]*models.Record, error)
	FolioExists(ctx context.Context, folio string, excludeID *int64) (bool, error)
	SetStatus(ctx context.Context, id int64, status models.ContractStatus, actorID *int64) error
	SetStatusBulk(ctx context.Context, ids []int64, status models.ContractStatus, actorID *int64) (int64, error)
	ActivityByClient(ctx context.Context, clientIDs []int64) (map[int64]*models.ActivityCount, error)
}

// Register registers the contract routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("", Create)
	g.POST("/status", SetStatusBulk)
	g.GET("/folio-exists", FolioExists)
	g.GET("/activity", Activity)
	g.GET("/:id", Get)
	g.PUT("/:id", Update)
	g.PUT("/:id/status", SetStatus)
}

// StatusRequest accepts the status as its numeric code or its estado label.
type StatusRequest struct {
	Status any `json:"status"`
}

type BulkStatusRequest struct {
	IDs    []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	Status any     `json:"status"`
}

type BulkStatusResponse struct {
	Updated int64 `json:"updated"`
}

type FolioExistsResponse struct {
	Folio  string `json:"folio"`
	Exists bool   `json:"exists"`
}

func parseStatus(raw any) (models.ContractStatus, error) {
	status, err := models.ParseContractStatus(fmt.Sprint(raw))
	if err != nil {
		return 0, httperror.WrapError(http.StatusBadRequest, err)
	}
	return status, nil
}

// List handles GET /contracts
func List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ContractHandler.List")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	clientID, err := utils.QueryInt64(c, "client_id")
	if err != nil {
		return err
	}
	limit, err := utils.QueryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	offset, err := utils.QueryInt(c, "offset", 0)
	if err != nil {
		return err
	}
	filter := models.ContractFilter{ClientID: clientID, Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		status, err := parseStatus(raw)
		if err != nil {
			return err
		}
		filter.Status = &status
	}

	records, err := repo.List(ctx, filter)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return c.JSON(http.StatusOK, toResponses(records))
}

// Create handles POST /contracts
func Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ContractHandler.Create")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	in, err := utils.BindRequest[models.ContractInput](c)
	if err != nil {
		return err
	}
	if in.CreatedBy == nil {
		in.CreatedBy = argusctx.GetActorID(ctx)
	}

	id, err := repo.Create(ctx, in)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return respond(ctx, c, repo, http.StatusCreated, id)
}

// Get handles GET /contracts/:id
func Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ContractHandler.Get")
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

// Update handles PUT /contracts/:id
func Update(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ContractHandler.Update")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	id, err := utils.PathID(c, "id")
	if err != nil {
		return err
	}
	in, err := utils.BindRequest[models.ContractInput](c)
	if err != nil {
		return err
	}

	if err := repo.Update(ctx, id, in); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return respond(ctx, c, repo, http.StatusOK, id)
}

// SetStatus handles PUT /contracts/:id/status
func SetStatus(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ContractHandler.SetStatus")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	id, err := utils.PathID(c, "id")
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[StatusRequest](c)
	if err != nil {
		return err
	}
	status, err := parseStatus(req.Status)
	if err != nil {
		return err
	}

	existing, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "contract %d not found", id)
	}

	if err := repo.SetStatus(ctx, id, status, argusctx.GetActorID(ctx)); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return respond(ctx, c, repo, http.StatusOK, id)
}

// SetStatusBulk handles POST /contracts/status
func SetStatusBulk(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ContractHandler.SetStatusBulk")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	req, err := utils.BindRequest[BulkStatusRequest](c)
	if err != nil {
		return err
	}
	status, err := parseStatus(req.Status)
	if err != nil {
		return err
	}

	n, err := repo.SetStatusBulk(ctx, req.IDs, status, argusctx.GetActorID(ctx))
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return c.JSON(http.StatusOK, BulkStatusResponse{Updated: n})
}

// FolioExists handles GET /contracts/folio-exists
func FolioExists(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ContractHandler.FolioExists")
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

// Activity handles GET /contracts/activity
func Activity(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ContractHandler.Activity")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	clientIDs, err := utils.QueryInt64s(c, "client_id")
	if err != nil {
		return err
	}

	counts, err := repo.ActivityByClient(ctx, clientIDs)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	out := make([]*models.ActivityCount, 0, len(counts))
	for _, count := range counts {
		out = append(out, count)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })

	return c.JSON(http.StatusOK, out)
}

func respond(ctx context.Context, c echo.Context, repo Repository, status int, id int64) error {
	rec, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "contract %d not found", id)
	}
	return c.JSON(status, models.ContractFromRecord(rec))
}

func toResponses(records []*models.Record) []*models.Contract {
	if len(records) == 0 {
		return []*models.Contract{}
	}
	return ectolinq.Map(records, models.ContractFromRecord)
}
