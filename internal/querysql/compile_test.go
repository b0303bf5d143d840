package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolliver/veil/internal/queryir"
)

func TestCompileAnalysisCountStar(t *testing.T) {
	sql, params, err := CompileAnalysis(queryir.AnalysisQuery{
		Table: "puf.puf",
		Items: []queryir.SelectItem{
			queryir.Aggregate{Func: queryir.AggCount, Column: queryir.Star},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) AS "count" FROM "puf.puf"`, sql)
	assert.Empty(t, params)
}

func TestCompileAnalysisGrouped(t *testing.T) {
	sql, params, err := CompileAnalysis(queryir.AnalysisQuery{
		Table: "puf.puf",
		Items: []queryir.SelectItem{
			queryir.Column{Name: "state"},
			queryir.Aggregate{Func: queryir.AggAvg, Column: "wages", Alias: "mean_wages"},
		},
		Where: queryir.And{Predicates: []queryir.Predicate{
			queryir.Compare{Column: "agi", Op: queryir.OpGt, Value: queryir.LitInt(0)},
			queryir.Compare{Column: "state", Op: queryir.OpNe, Value: queryir.LitString("XX")},
		}},
		GroupBy: []string{"state"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "state" AS "state", AVG("wages") AS "mean_wages" FROM "puf.puf"`+
			` WHERE "agi" > ? AND "state" <> ?`+
			` GROUP BY "state" ORDER BY "state" ASC COLLATE BINARY`,
		sql)
	assert.Equal(t, []any{int64(0), "XX"}, params)
}

func TestCompileAnalysisNoItems(t *testing.T) {
	_, _, err := CompileAnalysis(queryir.AnalysisQuery{Table: "t"})
	require.Error(t, err)
}

func TestCompileTransform(t *testing.T) {
	dropSQL, createSQL, params, err := CompileTransform(queryir.TransformQuery{
		Target: "puf.puf_sub",
		Select: queryir.AnalysisQuery{
			Table: "puf.puf",
			Items: []queryir.SelectItem{queryir.Column{Name: "wages"}},
			Where: queryir.Compare{Column: "agi", Op: queryir.OpGe, Value: queryir.LitFloat(1.5)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `DROP TABLE IF EXISTS "puf.puf_sub"`, dropSQL)
	assert.Equal(t,
		`CREATE TABLE "puf.puf_sub" AS SELECT "wages" AS "wages" FROM "puf.puf" WHERE "agi" >= ?`,
		createSQL)
	assert.Equal(t, []any{1.5}, params)
}

func TestQuoteIdentEscapesQuotes(t *testing.T) {
	sql, _, err := CompileAnalysis(queryir.AnalysisQuery{
		Table: `bad"name`,
		Items: []queryir.SelectItem{
			queryir.Aggregate{Func: queryir.AggCount, Column: queryir.Star},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, `FROM "bad""name"`)
}
