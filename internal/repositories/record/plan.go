package record

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/document"
)

// Location is where a plan reads a field from.
type Location int

const (
	Absent Location = iota
	// Native reads the column.
	Native
	// JSONPath extracts the document path in SQL.
	JSONPath
	// InApp extracts the document path after decoding.
	InApp
)

func (l Location) String() string {
	switch l {
	case Native:
		return "native"
	case JSONPath:
		return "json_path"
	case InApp:
		return "in_app"
	default:
		return "absent"
	}
}

// Plan fixes one location per field for every statement built from it.
type Plan struct {
	entity  Entity
	dialect database.Dialect
	columns map[string]bool
	json    bool
	locs    map[string]Location
}

func newPlan(entity Entity, dialect database.Dialect, columns map[string]bool, json bool) *Plan {
	p := &Plan{
		entity:  entity,
		dialect: dialect,
		columns: columns,
		json:    json,
		locs:    make(map[string]Location, len(entity.Fields)),
	}
	for _, f := range entity.Fields {
		switch {
		case f.Column && columns[f.Name]:
			p.locs[f.Name] = Native
		case len(f.Path) > 0 && json:
			p.locs[f.Name] = JSONPath
		case len(f.Path) > 0:
			p.locs[f.Name] = InApp
		default:
			p.locs[f.Name] = Absent
		}
	}
	return p
}

// Degraded is the same plan with JSON path extraction moved into the app.
func (p *Plan) Degraded() *Plan {
	if !p.json {
		return p
	}
	return newPlan(p.entity, p.dialect, p.columns, false)
}

func (p *Plan) Entity() Entity { return p.entity }

func (p *Plan) Dialect() database.Dialect { return p.dialect }

func (p *Plan) Location(name string) Location {
	if p.entity.isBaseColumn(name) {
		return Native
	}
	return p.locs[name]
}

// HasColumn reports whether name can be written as a column.
func (p *Plan) HasColumn(name string) bool {
	return p.Location(name) == Native
}

// UsesJSON reports whether statements from this plan call JSON functions.
func (p *Plan) UsesJSON() bool {
	for _, loc := range p.locs {
		if loc == JSONPath {
			return true
		}
	}
	return false
}

// Expr is the SQL expression for a field, qualified by alias when given.
// It reports false when the field can only be evaluated in the app.
func (p *Plan) Expr(name, alias string) (string, bool) {
	f, isField := p.entity.Field(name)
	switch p.Location(name) {
	case Native:
		if !isField {
			return qualify(alias, name), true
		}
		return p.withDefault(f, []string{f.normalizeSQL(qualify(alias, name))}, false), true
	case JSONPath:
		doc := qualify(alias, p.entity.Document)
		var exprs []string
		for _, path := range f.paths() {
			exprs = append(exprs, f.normalizeSQL(p.dialect.JSONText(doc, path...)))
		}
		textOnly := p.dialect.Name() == database.DriverPostgres && f.Normalize == nil
		return p.withDefault(f, exprs, textOnly), true
	default:
		return "", false
	}
}

// withDefault coalesces exprs and the field default. Postgres JSON
// extraction yields text, so its defaults are rendered as text literals
// unless a normalizer decides the type.
func (p *Plan) withDefault(f Field, exprs []string, textOnly bool) string {
	if f.Default != nil {
		d, isString := f.Default.(string)
		switch {
		case isString || textOnly:
			if !isString {
				d = fmt.Sprint(f.Default)
			}
			exprs = append(exprs, "'"+strings.ReplaceAll(d, "'", "''")+"'")
		default:
			exprs = append(exprs, fmt.Sprint(f.Default))
		}
	}
	if len(exprs) == 1 {
		return exprs[0]
	}
	return fmt.Sprintf("COALESCE(%s)", strings.Join(exprs, ", "))
}

// SelectColumns lists the projection for reading full records.
func (p *Plan) SelectColumns(alias string) []string {
	column := func(name string) string {
		if alias == "" {
			return name
		}
		return qualify(alias, name) + " AS " + name
	}
	cols := []string{column(p.entity.Key)}
	for _, c := range p.entity.Columns {
		cols = append(cols, column(c))
	}
	cols = append(cols, column(p.entity.Document))
	for _, f := range p.entity.Fields {
		switch p.locs[f.Name] {
		case Native:
			cols = append(cols, column(f.Name))
		case JSONPath:
			expr, _ := p.Expr(f.Name, alias)
			cols = append(cols, fmt.Sprintf("%s AS %s", expr, f.Name))
		}
	}
	return cols
}

// extract fills in-app fields from the decoded document so every plan
// yields the same keys.
func (p *Plan) extract(fields map[string]document.Value, doc map[string]any) {
	for _, f := range p.entity.Fields {
		switch p.locs[f.Name] {
		case InApp:
			var v any
			for _, path := range f.paths() {
				if raw, ok := document.Lookup(doc, path...); ok {
					if v = f.normalize(raw); v != nil {
						break
					}
				}
			}
			if v == nil {
				v = f.Default
			}
			fields[f.Name] = document.Column(v)
		case Native:
			if f.Normalize == nil && f.Default == nil {
				continue
			}
			v := f.normalize(fields[f.Name].Raw())
			if v == nil {
				v = f.Default
			}
			fields[f.Name] = document.Column(v)
		}
	}
}

func qualify(alias, column string) string {
	if alias == "" {
		return column
	}
	return alias + "." + column
}
