package record

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/Ramsey-B/argus/pkg/document"
	"github.com/Ramsey-B/argus/pkg/models"
)

type Op int

const (
	OpEq Op = iota
	OpNe
	OpIn
)

// Predicate is a logical filter on a field. It is rendered as SQL when the
// plan can express the field and evaluated on decoded records otherwise.
type Predicate struct {
	Field  string
	Op     Op
	Values []any
}

func Eq(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpEq, Values: []any{value}}
}

func Ne(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpNe, Values: []any{value}}
}

func In(field string, values ...any) Predicate {
	return Predicate{Field: field, Op: OpIn, Values: values}
}

type Query struct {
	Where []Predicate
	// First orders records matching it ahead of the rest. Ties fall back to
	// newest id first.
	First  *Predicate
	Limit  int
	Offset int
}

type conditioner interface {
	Equal(field string, value interface{}) string
	NotEqual(field string, value interface{}) string
	In(field string, values ...interface{}) string
}

func (p *Plan) condition(cond conditioner, pred Predicate, alias string) (string, bool) {
	expr, ok := p.Expr(pred.Field, alias)
	if !ok {
		return "", false
	}
	switch pred.Op {
	case OpNe:
		return cond.NotEqual(expr, pred.Values[0]), true
	case OpIn:
		if len(pred.Values) == 0 {
			return "1 = 0", true
		}
		return cond.In(expr, pred.Values...), true
	default:
		return cond.Equal(expr, pred.Values[0]), true
	}
}

// Matches evaluates pred against a decoded record.
func (pred Predicate) Matches(r *models.Record) bool {
	v := r.Fields[pred.Field]
	if v.IsNull() {
		// SQL comparisons against NULL are never true.
		return false
	}
	switch pred.Op {
	case OpNe:
		return !equalValue(v, pred.Values[0])
	case OpIn:
		for _, want := range pred.Values {
			if equalValue(v, want) {
				return true
			}
		}
		return false
	default:
		return equalValue(v, pred.Values[0])
	}
}

func equalValue(v document.Value, want any) bool {
	switch w := want.(type) {
	case int:
		got, ok := v.Int()
		return ok && got == int64(w)
	case int64:
		got, ok := v.Int()
		return ok && got == w
	case models.ContractStatus:
		got, ok := v.Int()
		return ok && got == int64(w)
	case string:
		return v.String() == w
	case models.RequestStatus:
		return v.String() == string(w)
	default:
		return v.String() == fmt.Sprint(w)
	}
}

// arrange applies predicates, ordering and paging in the app. It mirrors
// what the SQL path does for the same query.
func arrange(records []*models.Record, where []Predicate, q Query) []*models.Record {
	out := records[:0]
	for _, r := range records {
		keep := true
		for _, pred := range where {
			if !pred.Matches(r) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.First != nil {
			fi, fj := q.First.Matches(out[i]), q.First.Matches(out[j])
			if fi != fj {
				return fi
			}
		}
		return out[i].ID > out[j].ID
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []*models.Record{}
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// coarsePattern builds a LIKE pattern that matches key with any characters
// between its runes, so "AB12" finds "AB-12" and "ab_12".
func coarsePattern(key string) string {
	var b strings.Builder
	b.WriteByte('%')
	for _, r := range key {
		b.WriteRune(r)
		b.WriteByte('%')
	}
	return b.String()
}

// Contains builds a LIKE pattern around s. LIKE wildcards in s only widen
// the match, and callers re-check candidates in the app.
func Contains(s string) string {
	return "%" + s + "%"
}

func groupKey(values []document.Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return strings.Join(parts, "\x00")
}

var _ conditioner = (*database.SelectBuilder)(nil)
