package contract

import (
	"context"
	"sync"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/argus/internal/testutil"
	"github.com/Ramsey-B/argus/pkg/capability"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/document"
	"github.com/Ramsey-B/argus/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shape struct {
	name    string
	schema  string
	columns []string
	json    bool
}

var modernColumns = []string{"contratos.folio", "contratos.estatus", "contratos.created_by"}

var shapes = []shape{
	{name: "legacy/json", schema: testutil.ContractsLegacy, json: true},
	{name: "legacy/degraded", schema: testutil.ContractsLegacy},
	{name: "modern/json", schema: testutil.ContractsModern, json: true, columns: modernColumns},
	{name: "modern/degraded", schema: testutil.ContractsModern, columns: modernColumns},
}

type statusEvent struct {
	ids    []int64
	status models.ContractStatus
}

type recordingNotifier struct {
	mu       sync.Mutex
	contract []statusEvent
}

func (n *recordingNotifier) ContractStatusChanged(_ context.Context, ids []int64, status models.ContractStatus, _ *int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.contract = append(n.contract, statusEvent{ids: ids, status: status})
}

func (n *recordingNotifier) RequestStatusChanged(context.Context, int64, string, models.RequestStatus, models.RequestStatus, *int64, string) {
}

func newTestRepository(t *testing.T, sh shape) (*Repository, database.DB, *recordingNotifier) {
	t.Helper()
	db := testutil.SQLite(t, sh.schema)
	notifier := &recordingNotifier{}
	repo := NewRepository(db, capability.NewStatic(sh.json, sh.columns...), nil, notifier, testutil.Logger())
	return repo, db, notifier
}

func input(client int64, folio string) models.ContractInput {
	return models.ContractInput{
		ClientID:      client,
		DevelopmentID: 7,
		Document: map[string]any{
			"contrato": map[string]any{"folio": folio},
			"cliente":  map[string]any{"nombre": "Ana Núñez"},
		},
	}
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, status, httperror.GetStatusCode(err))
}

func TestCreateNormalizesFolio(t *testing.T) {
	for _, sh := range shapes {
		t.Run(sh.name, func(t *testing.T) {
			ctx := context.Background()
			repo, _, _ := newTestRepository(t, sh)

			id, err := repo.Create(ctx, input(1, "ab-12"))
			require.NoError(t, err)

			rec, err := repo.Get(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, rec)

			c := models.ContractFromRecord(rec)
			assert.Equal(t, "AB-12", c.Folio)
			assert.Equal(t, models.ContractActive, c.Status)
			assert.Equal(t, "activo", c.Estado)
			assert.Equal(t, int64(1), c.ClientID)
			assert.Equal(t, "Ana Núñez", document.Dynamic(rec.Document["cliente"].(map[string]any)["nombre"]).String())

			exists, err := repo.FolioExists(ctx, "AB12", nil)
			require.NoError(t, err)
			assert.True(t, exists)

			exists, err = repo.FolioExists(ctx, "AB12", &id)
			require.NoError(t, err)
			assert.False(t, exists)

			_, err = repo.Create(ctx, input(2, "AB_12"))
			requireStatus(t, err, 409)

			_, err = repo.Create(ctx, input(2, "  "))
			requireStatus(t, err, 400)
		})
	}
}

func TestUpdateKeepsStatus(t *testing.T) {
	for _, sh := range shapes {
		t.Run(sh.name, func(t *testing.T) {
			ctx := context.Background()
			repo, _, _ := newTestRepository(t, sh)

			id, err := repo.Create(ctx, input(1, "C-1"))
			require.NoError(t, err)
			other, err := repo.Create(ctx, input(1, "C-2"))
			require.NoError(t, err)
			require.NoError(t, repo.SetStatus(ctx, id, models.ContractCancelled, nil))

			require.NoError(t, repo.Update(ctx, id, input(3, "c-1b")))
			rec, err := repo.Get(ctx, id)
			require.NoError(t, err)
			c := models.ContractFromRecord(rec)
			assert.Equal(t, "C-1B", c.Folio)
			assert.Equal(t, int64(3), c.ClientID)
			assert.Equal(t, models.ContractCancelled, c.Status)
			assert.NotNil(t, c.CancelledAt)

			requireStatus(t, repo.Update(ctx, other, input(1, "C1B")), 409)
			requireStatus(t, repo.Update(ctx, id+100, input(1, "X")), 404)
		})
	}
}

func TestSetStatusBulk(t *testing.T) {
	for _, sh := range shapes {
		t.Run(sh.name, func(t *testing.T) {
			ctx := context.Background()
			repo, _, notifier := newTestRepository(t, sh)

			a, err := repo.Create(ctx, input(1, "A-1"))
			require.NoError(t, err)
			b, err := repo.Create(ctx, input(1, "B-1"))
			require.NoError(t, err)

			n, err := repo.SetStatusBulk(ctx, []int64{a, b}, models.ContractCancelled, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			first := map[int64]string{}
			for _, id := range []int64{a, b} {
				rec, err := repo.Get(ctx, id)
				require.NoError(t, err)
				c := models.ContractFromRecord(rec)
				assert.Equal(t, models.ContractCancelled, c.Status)
				contrato := rec.Document["contrato"].(map[string]any)
				assert.Equal(t, "cancelado", contrato["estado"])
				stamp, ok := contrato["cancelado_en"].(string)
				require.True(t, ok)
				first[id] = stamp
			}

			// A second cancellation must not move the stamp.
			_, err = repo.SetStatusBulk(ctx, []int64{a, b}, models.ContractCancelled, nil)
			require.NoError(t, err)
			for _, id := range []int64{a, b} {
				rec, err := repo.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, first[id], rec.Document["contrato"].(map[string]any)["cancelado_en"])
			}

			require.NoError(t, repo.SetStatus(ctx, a, models.ContractArchived, nil))
			rec, err := repo.Get(ctx, a)
			require.NoError(t, err)
			assert.Equal(t, "archivado", rec.Document["contrato"].(map[string]any)["estado"])

			_, err = repo.SetStatusBulk(ctx, []int64{a}, models.ContractStatus(9), nil)
			requireStatus(t, err, 400)
			requireStatus(t, repo.SetStatus(ctx, 9999, models.ContractActive, nil), 404)

			require.Len(t, notifier.contract, 3)
			assert.Equal(t, models.ContractCancelled, notifier.contract[0].status)
			assert.ElementsMatch(t, []int64{a, b}, notifier.contract[0].ids)
		})
	}
}

func TestSetStatusBulkRollsBack(t *testing.T) {
	for _, sh := range shapes {
		t.Run(sh.name, func(t *testing.T) {
			ctx := context.Background()
			repo, db, notifier := newTestRepository(t, sh)

			ids := make([]int64, 3)
			for i, folio := range []string{"R-1", "R-2", "R-3"} {
				id, err := repo.Create(ctx, input(1, folio))
				require.NoError(t, err)
				ids[i] = id
			}
			testutil.FailUpdates(t, db, "contratos", ids[2])

			_, err := repo.SetStatusBulk(ctx, ids, models.ContractCancelled, nil)
			requireStatus(t, err, 500)

			for _, id := range ids {
				rec, err := repo.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, models.ContractActive, models.ContractFromRecord(rec).Status)
			}
			assert.Empty(t, notifier.contract)
		})
	}
}

func TestListAndActivity(t *testing.T) {
	for _, sh := range shapes {
		t.Run(sh.name, func(t *testing.T) {
			ctx := context.Background()
			repo, _, _ := newTestRepository(t, sh)

			var ids []int64
			for i, client := range []int64{1, 1, 1, 2} {
				id, err := repo.Create(ctx, input(client, "L-"+string(rune('A'+i))))
				require.NoError(t, err)
				ids = append(ids, id)
			}
			require.NoError(t, repo.SetStatus(ctx, ids[1], models.ContractCancelled, nil))
			require.NoError(t, repo.SetStatus(ctx, ids[2], models.ContractArchived, nil))

			client := int64(1)
			list, err := repo.List(ctx, models.ContractFilter{ClientID: &client})
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, ids[2], list[0].ID)
			assert.Equal(t, ids[0], list[2].ID)

			active := models.ContractActive
			list, err = repo.List(ctx, models.ContractFilter{Status: &active})
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, ids[3], list[0].ID)

			list, err = repo.List(ctx, models.ContractFilter{Limit: 1, Offset: 1})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, ids[2], list[0].ID)

			activity, err := repo.ActivityByClient(ctx, []int64{1, 2, 3})
			require.NoError(t, err)
			assert.Equal(t, models.ActivityCount{ClientID: 1, Total: 3, Active: 1, Cancelled: 1, Archived: 1}, *activity[1])
			assert.Equal(t, models.ActivityCount{ClientID: 2, Total: 1, Active: 1}, *activity[2])
			assert.Equal(t, models.ActivityCount{ClientID: 3}, *activity[3])
		})
	}
}

func TestLinksForRequests(t *testing.T) {
	for _, sh := range shapes {
		t.Run(sh.name, func(t *testing.T) {
			ctx := context.Background()
			repo, _, _ := newTestRepository(t, sh)

			linked := func(folio string, origin int64) int64 {
				in := input(1, folio)
				in.Document["contrato"].(map[string]any)["solicitud_origen_id"] = origin
				id, err := repo.Create(ctx, in)
				require.NoError(t, err)
				return id
			}
			linked("K-1", 10)
			newest := linked("K-2", 10)
			other := linked("K-3", 11)
			linked("K-4", 110)

			links, err := repo.LinksForRequests(ctx, []int64{10, 11, 12})
			require.NoError(t, err)
			require.Len(t, links, 2)
			assert.Equal(t, newest, links[10].ID)
			assert.Equal(t, other, links[11].ID)

			ids, err := repo.LinkedRequestIDs(ctx, []int64{12, 11})
			require.NoError(t, err)
			assert.Equal(t, map[int64]bool{11: true}, ids)
		})
	}
}

func TestLegacyStatusLabels(t *testing.T) {
	for _, sh := range shapes {
		t.Run(sh.name, func(t *testing.T) {
			ctx := context.Background()
			repo, db, _ := newTestRepository(t, sh)

			// estado only, and a label where the code belongs.
			onlyEstado := map[string]any{
				"client_id":      int64(1),
				"development_id": int64(7),
				"document":       `{"contrato":{"folio":"L-1","estado":"cancelado"}}`,
			}
			labelled := map[string]any{
				"client_id":      int64(1),
				"development_id": int64(7),
				"document":       `{"contrato":{"folio":"L-2","estatus":" Cancelado "}}`,
			}
			if sh.columns != nil {
				// What the backfill leaves behind on sqlite.
				onlyEstado["folio"], onlyEstado["estatus"] = "L-1", int64(2)
				labelled["folio"], labelled["estatus"] = "L-2", "cancelado"
			}
			a := testutil.Insert(t, db, "contratos", onlyEstado)
			b := testutil.Insert(t, db, "contratos", labelled)
			active, err := repo.Create(ctx, input(1, "L-3"))
			require.NoError(t, err)

			for _, id := range []int64{a, b} {
				rec, err := repo.Get(ctx, id)
				require.NoError(t, err)
				c := models.ContractFromRecord(rec)
				assert.Equal(t, models.ContractCancelled, c.Status, id)
				assert.Equal(t, "cancelado", c.Estado, id)
			}

			cancelled := models.ContractCancelled
			list, err := repo.List(ctx, models.ContractFilter{Status: &cancelled})
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.ElementsMatch(t, []int64{a, b}, []int64{list[0].ID, list[1].ID})

			activeStatus := models.ContractActive
			list, err = repo.List(ctx, models.ContractFilter{Status: &activeStatus})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, active, list[0].ID)

			activity, err := repo.ActivityByClient(ctx, []int64{1})
			require.NoError(t, err)
			assert.Equal(t, models.ActivityCount{ClientID: 1, Total: 3, Active: 1, Cancelled: 2}, *activity[1])

			// Editing keeps the stored status, whether or not the document
			// repeats it.
			require.NoError(t, repo.Update(ctx, a, input(1, "L-1")))
			rec, err := repo.Get(ctx, b)
			require.NoError(t, err)
			in := input(1, "L-2")
			in.Document = document.Clone(rec.Document)
			require.NoError(t, repo.Update(ctx, b, in))

			for _, id := range []int64{a, b} {
				rec, err := repo.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, models.ContractCancelled, models.ContractFromRecord(rec).Status, id)
				contrato := rec.Document["contrato"].(map[string]any)
				assert.Equal(t, "cancelado", contrato["estado"], id)
				code, ok := document.Dynamic(contrato["estatus"]).Int()
				require.True(t, ok, id)
				assert.Equal(t, int64(2), code, id)
			}
		})
	}
}

func TestCreateAcceptsStatusLabel(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newTestRepository(t, shapes[0])

	in := input(1, "S-1")
	in.Document["contrato"].(map[string]any)["estatus"] = "archivado"
	id, err := repo.Create(ctx, in)
	require.NoError(t, err)
	rec, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ContractArchived, models.ContractFromRecord(rec).Status)

	in = input(1, "S-2")
	in.Document["contrato"].(map[string]any)["estatus"] = "vigente"
	_, err = repo.Create(ctx, in)
	requireStatus(t, err, 400)
}
