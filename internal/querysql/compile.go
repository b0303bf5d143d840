// Package querysql compiles validated queryir values to parameterized SQL
// for the SQLite dataset backend.
//
// Only validated IR reaches this package; compilation still quotes every
// identifier and parameterizes every literal, so nothing from the original
// query text is ever interpolated into SQL.
package querysql

import (
	"fmt"
	"strings"

	"github.com/tolliver/veil/internal/queryir"
)

// CompileAnalysis converts an analysis query to parameterized SQL.
// Returns (sql, params, error).
//
// Every grouped query includes ORDER BY over the grouping columns with
// COLLATE BINARY so result row order is deterministic across runs - the
// persisted result payload is byte-compared in tests and re-runs.
func CompileAnalysis(q queryir.AnalysisQuery) (string, []any, error) {
	if len(q.Items) == 0 {
		return "", nil, fmt.Errorf("cannot compile query with no select items")
	}

	var cols []string
	for _, item := range q.Items {
		col, err := compileItem(item)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(q.Table))

	var params []any
	if q.Where != nil {
		whereSQL, whereParams, err := compilePredicate(q.Where)
		if err != nil {
			return "", nil, fmt.Errorf("compile where: %w", err)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(whereSQL)
		params = whereParams
	}

	if len(q.GroupBy) > 0 {
		var group []string
		var order []string
		for _, g := range q.GroupBy {
			group = append(group, quoteIdent(g))
			order = append(order, quoteIdent(g)+" ASC COLLATE BINARY")
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(group, ", "))
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(order, ", "))
	}

	return sb.String(), params, nil
}

// CompileTransform converts a transformation query to its two statements:
// the DROP of any previous derived table and the CREATE TABLE ... AS.
// The inner select is compiled by CompileAnalysis.
func CompileTransform(t queryir.TransformQuery) (dropSQL, createSQL string, params []any, err error) {
	selectSQL, selectParams, err := CompileAnalysis(t.Select)
	if err != nil {
		return "", "", nil, fmt.Errorf("compile transformation select: %w", err)
	}
	dropSQL = "DROP TABLE IF EXISTS " + quoteIdent(t.Target)
	createSQL = "CREATE TABLE " + quoteIdent(t.Target) + " AS " + selectSQL
	return dropSQL, createSQL, selectParams, nil
}

func compileItem(item queryir.SelectItem) (string, error) {
	switch it := item.(type) {
	case queryir.Column:
		return quoteIdent(it.Name) + " AS " + quoteIdent(it.OutputName()), nil
	case queryir.Aggregate:
		var arg string
		if it.Column == queryir.Star {
			arg = "*"
		} else {
			arg = quoteIdent(it.Column)
		}
		return fmt.Sprintf("%s(%s) AS %s", it.Func, arg, quoteIdent(it.OutputName())), nil
	default:
		return "", fmt.Errorf("unsupported select item type %T", item)
	}
}

// compilePredicate compiles a predicate to a WHERE fragment.
// Literals are always ? placeholders, never interpolated.
func compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Compare:
		return fmt.Sprintf("%s %s ?", quoteIdent(pred.Column), pred.Op), []any{pred.Value.Param()}, nil
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		var parts []string
		var params []any
		for _, sub := range pred.Predicates {
			sql, subParams, err := compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			params = append(params, subParams...)
		}
		return strings.Join(parts, " AND "), params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type %T", p)
	}
}

// quoteIdent double-quotes an identifier for SQLite. Qualified dataset
// names like "puf.puf" are stored as literal table names, so the dot is
// quoted with the rest of the identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
