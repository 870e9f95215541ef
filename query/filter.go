// Package query translates declarative filter mappings, order-by strings and
// pagination requests into the repository's composable select criteria.
package query

import (
	"reflect"
	"sort"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/drawbook/go-datastore/core"
)

// Filter maps a field name, optionally suffixed with "__<operator>", to a
// value. Entries combine with logical AND. Without a suffix the entry is an
// equality test.
type Filter map[string]any

const operatorSeparator = "__"

// Supported operator suffixes. Anything else fails compilation with an
// unsupported-operator error before any query is issued.
const (
	OpIn  = "in"
	OpGt  = "gt"
	OpGte = "gte"
	OpLt  = "lt"
	OpLte = "lte"
	OpNe  = "ne"
	OpNin = "nin"
)

var comparisonOps = map[string]string{
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
	OpNe:  "<>",
}

// Compile translates the filter into select criteria. Keys are visited in
// sorted order so the generated query text is deterministic.
func (f Filter) Compile() ([]repository.SelectCriteria, error) {
	if len(f) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	criteria := make([]repository.SelectCriteria, 0, len(keys))
	for _, key := range keys {
		clause, err := compileClause(key, f[key])
		if err != nil {
			return nil, err
		}
		criteria = append(criteria, clause)
	}
	return criteria, nil
}

func compileClause(key string, value any) (repository.SelectCriteria, error) {
	if !strings.Contains(key, operatorSeparator) {
		if err := validateColumn(key); err != nil {
			return nil, err
		}
		return whereComparison(key, "=", value), nil
	}

	parts := strings.SplitN(key, operatorSeparator, 2)
	column, operator := parts[0], parts[1]
	if err := validateColumn(column); err != nil {
		return nil, err
	}

	if expr, ok := comparisonOps[operator]; ok {
		return whereComparison(column, expr, value), nil
	}
	switch operator {
	case OpIn:
		return whereMembership(column, value, false)
	case OpNin:
		return whereMembership(column, value, true)
	}
	return nil, core.NewUnsupportedOperator(column, operator)
}

func whereComparison(column, expr string, value any) repository.SelectCriteria {
	return repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? "+expr+" ?", bun.Ident(column), value)
	})
}

func whereMembership(column string, value any, negate bool) (repository.SelectCriteria, error) {
	kind := reflect.ValueOf(value).Kind()
	if kind != reflect.Slice && kind != reflect.Array {
		return nil, core.NewBadInput("query: membership filter on " + column + " requires a collection value")
	}
	expr := "?TableAlias.? IN (?)"
	if negate {
		expr = "?TableAlias.? NOT IN (?)"
	}
	return repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where(expr, bun.Ident(column), bun.In(value))
	}), nil
}

func validateColumn(column string) error {
	if column == "" {
		return core.NewBadInput("query: filter key is empty")
	}
	for _, r := range column {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
		default:
			return core.NewBadInput("query: filter key " + column + " is not a valid column name")
		}
	}
	return nil
}
