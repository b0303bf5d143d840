package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAggFunc(t *testing.T) {
	for _, name := range []string{"count", "COUNT", "Count"} {
		fn, ok := ParseAggFunc(name)
		assert.True(t, ok)
		assert.Equal(t, AggCount, fn)
	}

	_, ok := ParseAggFunc("MEDIAN")
	assert.False(t, ok)
}

func TestOutputNames(t *testing.T) {
	tests := []struct {
		item SelectItem
		want string
	}{
		{Column{Name: "state"}, "state"},
		{Column{Name: "state", Alias: "st"}, "st"},
		{Aggregate{Func: AggCount, Column: Star}, "count"},
		{Aggregate{Func: AggSum, Column: "wages"}, "sum_wages"},
		{Aggregate{Func: AggAvg, Column: "agi", Alias: "mean_agi"}, "mean_agi"},
	}
	for _, tt := range tests {
		switch it := tt.item.(type) {
		case Column:
			assert.Equal(t, tt.want, it.OutputName())
		case Aggregate:
			assert.Equal(t, tt.want, it.OutputName())
		}
	}
}

func TestQueryItemPartition(t *testing.T) {
	q := AnalysisQuery{
		Items: []SelectItem{
			Column{Name: "state"},
			Aggregate{Func: AggCount, Column: Star},
			Aggregate{Func: AggSum, Column: "wages"},
		},
	}

	aggs := q.Aggregates()
	assert.Len(t, aggs, 2)
	assert.Equal(t, AggCount, aggs[0].Func)

	cols := q.PlainColumns()
	assert.Len(t, cols, 1)
	assert.Equal(t, "state", cols[0].Name)
}
