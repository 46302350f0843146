package integration

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/argus/internal/repositories/contract"
	"github.com/Ramsey-B/argus/internal/repositories/request"
	"github.com/Ramsey-B/argus/internal/testutil"
	"github.com/Ramsey-B/argus/pkg/capability"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/matching"
	"github.com/Ramsey-B/argus/pkg/models"
	"github.com/Ramsey-B/argus/pkg/redis"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) (string, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("container runtime unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return host, mapped.Port()
}

func startPostgres(t *testing.T) database.Config {
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "user",
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "argus",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432")

	return database.Config{
		Driver:   database.DriverPostgres,
		Host:     host,
		Port:     port,
		User:     "user",
		Password: "password",
		Name:     "argus",
	}
}

func migrate(t *testing.T, db database.DB, version uint) {
	t.Helper()
	svc := database.NewMigrationService(testutil.Logger(), &database.MigrationConfig{
		MigrationFolderPath: "../../db",
		Version:             version,
	})
	require.NoError(t, svc.MigrateDB(db))
}

type layer struct {
	probe     *capability.Probe
	contracts *contract.Repository
	requests  *request.Repository
	search    *matching.Engine
}

func newLayer(db database.DB) *layer {
	logger := testutil.Logger()
	probe := capability.NewProbe(db, logger)
	contracts := contract.NewRepository(db, probe, nil, nil, logger)
	requests := request.NewRepository(db, probe, contracts, nil, nil, logger)
	return &layer{
		probe:     probe,
		contracts: contracts,
		requests:  requests,
		search:    matching.NewEngine(requests, contracts, probe, matching.Config{}, logger),
	}
}

func requestDoc(folio, rfc string) map[string]any {
	return map[string]any{
		"folio":   folio,
		"cliente": map[string]any{"rfc": rfc, "curp": "CURP" + folio},
	}
}

func TestPostgresAcrossSchemaVersions(t *testing.T) {
	cfg := startPostgres(t)
	ctx := context.Background()

	db, err := database.Open(ctx, cfg, testutil.Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrate(t, db, 1)
	legacy := newLayer(db)

	first, err := legacy.requests.Create(ctx, models.RequestInput{UserID: 1, Document: requestDoc("pg-1", "RFCPG1")})
	require.NoError(t, err)
	second, err := legacy.requests.Create(ctx, models.RequestInput{UserID: 2, Document: requestDoc("pg-2", "RFCPG1")})
	require.NoError(t, err)

	_, err = legacy.requests.Transition(ctx, first, models.TransitionRequest{To: models.RequestSubmitted})
	require.NoError(t, err)

	_, err = legacy.contracts.Create(ctx, models.ContractInput{
		ClientID:      1,
		DevelopmentID: 1,
		Document: map[string]any{"contrato": map[string]any{
			"folio":               "C-PG-1",
			"solicitud_origen_id": second,
		}},
	})
	require.NoError(t, err)

	candidates := legacy.search.Search(ctx, matching.Query{TaxID: "rfcpg1"})
	require.Len(t, candidates, 1)
	assert.Equal(t, first, candidates[0].ID)
	assert.Equal(t, "native", legacy.probe.Report().JSONMode)

	rec, err := legacy.requests.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "C-PG-1", rec.String("linked_contract_folio"))

	migrate(t, db, 0)
	modern := newLayer(db)

	plan, err := modern.requests.Store().Plan(ctx)
	require.NoError(t, err)
	assert.True(t, plan.HasColumn(request.FieldFolio))
	assert.True(t, plan.HasColumn(request.FieldReturnReason))

	rec, err = modern.requests.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "PG-1", rec.String(request.FieldFolio))
	assert.Equal(t, string(models.RequestSubmitted), rec.String(request.FieldStatus))

	exists, err := modern.requests.FolioExists(ctx, "pg_1", nil)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = modern.requests.Create(ctx, models.RequestInput{UserID: 3, Document: requestDoc("PG1", "X")})
	require.Error(t, err)
	assert.Equal(t, 409, httperror.GetStatusCode(err))

	returned, err := modern.requests.Transition(ctx, first, models.TransitionRequest{To: models.RequestDraft, Reason: "missing papers"})
	require.NoError(t, err)
	assert.Equal(t, "missing papers", returned.String(request.FieldReturnReason))
}

func TestPostgresCorruptDocumentTripsBreaker(t *testing.T) {
	cfg := startPostgres(t)
	ctx := context.Background()

	db, err := database.Open(ctx, cfg, testutil.Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	migrate(t, db, 1)

	l := newLayer(db)
	good, err := l.requests.Create(ctx, models.RequestInput{UserID: 1, Document: requestDoc("ok-1", "RFCOK")})
	require.NoError(t, err)
	testutil.Insert(t, db, "solicitudes", map[string]any{"user_id": 1, "document": "{broken"})

	records, err := l.requests.List(ctx, models.RequestFilter{IncludeDrafts: true})
	require.NoError(t, err)
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, good)
	assert.Equal(t, "degraded", l.probe.Report().JSONMode)
	assert.Equal(t, int64(1), l.probe.Trips())

	candidates := l.search.Search(ctx, matching.Query{TaxID: "RFCOK"})
	require.Len(t, candidates, 1)
	assert.Equal(t, good, candidates[0].ID)
}

func TestRedisFolioGuard(t *testing.T) {
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}, "6379")
	ctx := context.Background()

	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)
	client, err := redis.NewClient(ctx, redis.Config{Host: host, Port: portNum}, testutil.Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	guard := redis.NewFolioGuard(redis.NewLocker(client, "argus:test:"), time.Second, 50*time.Millisecond, testutil.Logger())

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = guard.WithFolio(ctx, "solicitudes", "ab-1", func(context.Context) error {
			close(held)
			time.Sleep(300 * time.Millisecond)
			return nil
		})
	}()
	<-held

	err = guard.WithFolio(ctx, "solicitudes", "AB_1", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, 409, httperror.GetStatusCode(err), fmt.Sprint(err))

	<-done
	require.NoError(t, guard.WithFolio(ctx, "solicitudes", "AB1", func(context.Context) error { return nil }))
}
