package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// Dialect hides the SQL differences between the supported engines.
type Dialect interface {
	Name() string
	Flavor() sqlbuilder.Flavor
	// ColumnExists returns a COUNT query for the given table and column.
	ColumnExists(table, column string) (string, []any)
	// JSONText extracts the value at path from a JSON text column as text.
	JSONText(column string, path ...string) string
	// JSONProbe is a statement that fails when JSON functions are unusable.
	JSONProbe() string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres:
		return postgresDialect{}, nil
	case DriverSQLite:
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return DriverPostgres }

func (postgresDialect) Flavor() sqlbuilder.Flavor { return sqlbuilder.PostgreSQL }

func (d postgresDialect) ColumnExists(table, column string) (string, []any) {
	sb := d.Flavor().NewSelectBuilder()
	sb.Select("COUNT(*)").From("information_schema.columns")
	sb.Where(
		"table_schema = current_schema()",
		sb.Equal("table_name", table),
		sb.Equal("column_name", column),
	)
	return sb.Build()
}

func (postgresDialect) JSONText(column string, path ...string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = quotePathPart(p)
	}
	return fmt.Sprintf("(%s::jsonb #>> '{%s}')", column, strings.Join(parts, ","))
}

func (postgresDialect) JSONProbe() string {
	return `SELECT ('{"probe":1}'::jsonb #>> '{probe}')`
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return DriverSQLite }

func (sqliteDialect) Flavor() sqlbuilder.Flavor { return sqlbuilder.SQLite }

func (d sqliteDialect) ColumnExists(table, column string) (string, []any) {
	sb := d.Flavor().NewSelectBuilder()
	sb.Select("COUNT(*)").From(fmt.Sprintf("pragma_table_info(%s)", sb.Var(table)))
	sb.Where(sb.Equal("name", column))
	return sb.Build()
}

func (sqliteDialect) JSONText(column string, path ...string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = quotePathPart(p)
	}
	return fmt.Sprintf("json_extract(%s, '$.%s')", column, strings.Join(parts, "."))
}

func (sqliteDialect) JSONProbe() string {
	return `SELECT json_extract('{"probe":1}', '$.probe')`
}

// quotePathPart keeps path components to identifier characters.
func quotePathPart(p string) string {
	var b strings.Builder
	for _, r := range p {
		if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Text casts expr to text so comparisons behave the same on every engine.
func Text(expr string) string {
	return fmt.Sprintf("CAST(%s AS TEXT)", expr)
}

// Upper normalizes expr for case and whitespace insensitive comparison.
func Upper(expr string) string {
	return fmt.Sprintf("UPPER(TRIM(%s))", Text(expr))
}

// Compact normalizes expr like Upper and also drops '-' and '_'.
func Compact(expr string) string {
	return fmt.Sprintf("REPLACE(REPLACE(%s, '-', ''), '_', '')", Upper(expr))
}

// Lower trims and lowercases expr as text, mapping blanks to NULL.
func Lower(expr string) string {
	return fmt.Sprintf("NULLIF(LOWER(TRIM(%s)), '')", Text(expr))
}
