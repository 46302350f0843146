// Package testutil provides sqlite-backed fixtures for repository tests.
package testutil

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/stretchr/testify/require"
)

const (
	// ContractsLegacy has no folio, estatus or created_by columns.
	ContractsLegacy = `CREATE TABLE contratos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id INTEGER NOT NULL,
		development_id INTEGER NOT NULL,
		document TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

	ContractsModern = `CREATE TABLE contratos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id INTEGER NOT NULL,
		development_id INTEGER NOT NULL,
		document TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		folio TEXT,
		estatus INTEGER,
		created_by INTEGER
	)`

	// RequestsLegacy has no folio, estatus or return columns.
	RequestsLegacy = `CREATE TABLE solicitudes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		document TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

	RequestsModern = `CREATE TABLE solicitudes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		document TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		folio TEXT,
		estatus TEXT,
		return_reason TEXT,
		returned_by INTEGER,
		returned_at DATETIME
	)`
)

func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// SQLite opens a file backed sqlite database in a temp dir and runs the
// given statements against it.
func SQLite(t testing.TB, statements ...string) database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "argus.db")
	db, err := database.Open(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		Path:   path,
	}, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	Exec(t, db, statements...)
	return db
}

func Exec(t testing.TB, db database.DB, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}

// Insert writes a raw row and returns its id. Values are written as given so
// tests can seed malformed documents.
func Insert(t testing.TB, db database.DB, table string, values map[string]any) int64 {
	t.Helper()

	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	ib := database.NewInsertBuilder(db.Dialect())
	ib.InsertInto(table).Cols(cols...)
	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = values[col]
	}
	ib.Values(args...)
	ib.ReturningID("id")

	query, qargs := ib.Build()
	var id int64
	require.NoError(t, db.GetContext(context.Background(), &id, query, qargs...), query)
	return id
}

// FailUpdates installs a trigger that aborts updates to the given row.
func FailUpdates(t testing.TB, db database.DB, table string, id int64) {
	t.Helper()
	name := "fail_" + table + "_" + strings.ReplaceAll(t.Name(), "/", "_")
	name = strings.Map(func(r rune) rune {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	Exec(t, db, "CREATE TRIGGER "+name+" BEFORE UPDATE ON "+table+
		" WHEN OLD.id = "+strconv.FormatInt(id, 10)+" BEGIN SELECT RAISE(ABORT, 'boom'); END")
}
