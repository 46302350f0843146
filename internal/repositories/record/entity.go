// Package record implements the storage algorithm shared by contracts and
// requests: rows that keep part of their data in relational columns and the
// rest in an embedded JSON document.
package record

import (
	"strings"

	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/document"
)

// Field is a logical field that may be stored natively, inside the document,
// or both depending on the deployed schema.
type Field struct {
	Name string
	// Column marks fields that may exist as a native column named Name.
	Column bool
	// Path locates the field inside the document. Column-only fields have none.
	Path []string
	// Fallbacks are further document paths, read in order when Path holds
	// nothing Normalize accepts.
	Fallbacks [][]string
	// Default stands in for a missing value on reads and filters.
	Default any
	// Normalize maps stored values onto one canonical form before they are
	// compared, grouped or returned.
	Normalize Normalizer
}

// Normalizer rewrites stored values in SQL and in the app. Both sides must
// agree, and both yield NULL for values they cannot map.
type Normalizer interface {
	SQL(expr string) string
	Value(raw any) any
}

func (f Field) paths() [][]string {
	if len(f.Path) == 0 {
		return nil
	}
	return append([][]string{f.Path}, f.Fallbacks...)
}

func (f Field) normalizeSQL(expr string) string {
	if f.Normalize == nil {
		return expr
	}
	return f.Normalize.SQL(expr)
}

func (f Field) normalize(raw any) any {
	if f.Normalize == nil || raw == nil {
		return raw
	}
	return f.Normalize.Value(raw)
}

// Lowercase trims and lowercases text, reading blanks as missing.
var Lowercase Normalizer = lowercase{}

type lowercase struct{}

func (lowercase) SQL(expr string) string { return database.Lower(expr) }

func (lowercase) Value(raw any) any {
	s := strings.ToLower(strings.TrimSpace(document.Dynamic(raw).String()))
	if s == "" {
		return nil
	}
	return s
}

// Entity describes one table.
type Entity struct {
	Name     string
	Table    string
	Key      string
	Document string
	// Columns are always present besides Key and Document.
	Columns []string
	Fields  []Field
}

func (e Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (e Entity) isBaseColumn(name string) bool {
	if name == e.Key || name == e.Document {
		return true
	}
	for _, c := range e.Columns {
		if c == name {
			return true
		}
	}
	return false
}
