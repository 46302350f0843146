package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder(d Dialect) *InsertBuilder {
	return &InsertBuilder{d.Flavor().NewInsertBuilder()}
}

// ReturningID appends a RETURNING clause for the key column.
func (ib *InsertBuilder) ReturningID(column string) *InsertBuilder {
	ib.SQL(fmt.Sprintf("RETURNING %s", column))
	return ib
}

type UpdateBuilder struct {
	*sqlbuilder.UpdateBuilder
}

func NewUpdateBuilder(d Dialect) *UpdateBuilder {
	return &UpdateBuilder{d.Flavor().NewUpdateBuilder()}
}

type SelectBuilder struct {
	*sqlbuilder.SelectBuilder
}

func NewSelectBuilder(d Dialect) *SelectBuilder {
	return &SelectBuilder{d.Flavor().NewSelectBuilder()}
}

// ExprEqual renders "expr = ?" where expr is any SQL expression.
func (sb *SelectBuilder) ExprEqual(expr string, value any) string {
	return fmt.Sprintf("%s = %s", expr, sb.Var(value))
}

// InInt64 renders "expr IN (...)" for a list of ids.
func InInt64(cond interface{ Var(any) string }, expr string, ids []int64) string {
	if len(ids) == 0 {
		return "1 = 0"
	}
	vars := make([]string, len(ids))
	for i, id := range ids {
		vars[i] = cond.Var(id)
	}
	return fmt.Sprintf("%s IN (%s)", expr, strings.Join(vars, ", "))
}
