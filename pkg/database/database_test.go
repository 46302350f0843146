package database_test

import (
	"context"
	"testing"

	"github.com/Ramsey-B/argus/internal/testutil"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectJSONText(t *testing.T) {
	pg, err := database.DialectFor(database.DriverPostgres)
	require.NoError(t, err)
	lite, err := database.DialectFor(database.DriverSQLite)
	require.NoError(t, err)

	assert.Equal(t, "(document::jsonb #>> '{contrato,folio}')", pg.JSONText("document", "contrato", "folio"))
	assert.Equal(t, "json_extract(c.document, '$.contrato.folio')", lite.JSONText("c.document", "contrato", "folio"))
	assert.Equal(t, "json_extract(document, '$.folio')", lite.JSONText("document", "fo'lio"))

	_, err = database.DialectFor("mysql")
	assert.Error(t, err)
}

func TestConfigDSN(t *testing.T) {
	dsn, err := database.Config{
		Driver:   database.DriverPostgres,
		Host:     "db",
		Port:     "5432",
		User:     "argus",
		Password: "secret",
		Name:     "records",
	}.DSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=argus password=secret dbname=records sslmode=disable", dsn)

	dsn, err = database.Config{Driver: database.DriverSQLite, Path: "/tmp/argus.db"}.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "file:/tmp/argus.db?")
	assert.Contains(t, dsn, "busy_timeout")

	_, err = database.Config{Driver: "oracle"}.DSN()
	assert.Error(t, err)
}

func TestColumnExistsOnSQLite(t *testing.T) {
	db := testutil.SQLite(t, `CREATE TABLE items (id INTEGER PRIMARY KEY, folio TEXT)`)
	ctx := context.Background()

	for column, want := range map[string]int{"folio": 1, "estatus": 0} {
		query, args := db.Dialect().ColumnExists("items", column)
		var n int
		require.NoError(t, db.GetContext(ctx, &n, query, args...))
		assert.Equal(t, want, n, column)
	}
}

func count(t *testing.T, db database.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.GetContext(context.Background(), &n, `SELECT COUNT(*) FROM items`))
	return n
}

func TestTransactionCommit(t *testing.T) {
	db := testutil.SQLite(t, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)

	ctx, tx, err := db.GetTx(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, tx, database.Conn(ctx, db))

	_, err = database.Conn(ctx, db).ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.False(t, tx.IsOpen())

	assert.Equal(t, 1, count(t, db))
	assert.NoError(t, tx.Rollback(ctx))
}

func TestJoinedRollbackDoomsOuterTransaction(t *testing.T) {
	db := testutil.SQLite(t, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)

	ctx, outer, err := db.GetTx(context.Background(), nil)
	require.NoError(t, err)
	_, err = outer.ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`)
	require.NoError(t, err)

	ctx, inner, err := db.GetTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, inner.Rollback(ctx))
	assert.True(t, outer.IsOpen())

	assert.ErrorIs(t, outer.Commit(ctx), database.ErrRollbackOnly)
	assert.Equal(t, 0, count(t, db))
}

func TestSQLiteMigrationsBackfillFromDocument(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLite(t)
	migrations := func(version uint) *database.MigrationService {
		return database.NewMigrationService(testutil.Logger(), &database.MigrationConfig{
			MigrationFolderPath: "../../db",
			Version:             version,
		})
	}

	require.NoError(t, migrations(1).MigrateDB(db))
	_, err := db.ExecContext(ctx, `INSERT INTO contratos (client_id, development_id, document)
		VALUES (1, 2, '{"contrato":{"folio":" ab-12 ","estatus":2}}')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO solicitudes (user_id, document) VALUES (3, '{"folio":"s-1"}')`)
	require.NoError(t, err)

	require.NoError(t, migrations(0).MigrateDB(db))

	var contract struct {
		Folio   string `db:"folio"`
		Estatus int    `db:"estatus"`
	}
	require.NoError(t, db.GetContext(ctx, &contract, `SELECT folio, estatus FROM contratos`))
	assert.Equal(t, "AB-12", contract.Folio)
	assert.Equal(t, 2, contract.Estatus)

	var status string
	require.NoError(t, db.GetContext(ctx, &status, `SELECT estatus FROM solicitudes`))
	assert.Equal(t, "draft", status)

	query, args := db.Dialect().ColumnExists("solicitudes", "return_reason")
	var n int
	require.NoError(t, db.GetContext(ctx, &n, query, args...))
	assert.Equal(t, 1, n)

	require.NoError(t, migrations(0).MigrateDB(db))
}

func TestSQLiteMigrationsBackfillStatusLabels(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLite(t)
	migrations := func(version uint) *database.MigrationService {
		return database.NewMigrationService(testutil.Logger(), &database.MigrationConfig{
			MigrationFolderPath: "../../db",
			Version:             version,
		})
	}

	require.NoError(t, migrations(1).MigrateDB(db))
	for _, doc := range []string{
		`{"contrato":{"folio":"L-1","estado":"cancelado"}}`,
		`{"contrato":{"folio":"L-2","estatus":"Cancelado"}}`,
		`{"contrato":{"folio":"L-3","estatus":0,"estado":"cancelado"}}`,
	} {
		_, err := db.ExecContext(ctx, `INSERT INTO contratos (client_id, development_id, document) VALUES (1, 2, ?)`, doc)
		require.NoError(t, err)
	}
	_, err := db.ExecContext(ctx, `INSERT INTO solicitudes (user_id, document) VALUES (3, '{"folio":"s-1","estatus":" In_Review "}')`)
	require.NoError(t, err)

	require.NoError(t, migrations(0).MigrateDB(db))

	var codes []int
	require.NoError(t, db.SelectContext(ctx, &codes, `SELECT estatus FROM contratos ORDER BY id`))
	assert.Equal(t, []int{2, 2, 0}, codes)

	var status string
	require.NoError(t, db.GetContext(ctx, &status, `SELECT estatus FROM solicitudes`))
	assert.Equal(t, "in_review", status)
}
