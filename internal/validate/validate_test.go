package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolliver/veil/internal/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New([]schema.Table{
		schema.NewTable("puf.puf", 1000, []schema.Column{
			{Name: "recid", Type: schema.TypeInt, PrivateID: true},
			{Name: "state", Type: schema.TypeString, Cardinality: 51},
			{Name: "agi", Type: schema.TypeFloat, Lower: 0, Upper: 100000, HasBounds: true},
			{Name: "wages", Type: schema.TypeFloat, Lower: 0, Upper: 80000, HasBounds: true},
		}),
	})
	require.NoError(t, err)
	return s
}

func TestValidateSimpleAggregate(t *testing.T) {
	vq, err := Validate("SELECT COUNT(*) FROM puf.puf", "", testSchema(t))
	require.NoError(t, err)

	assert.Equal(t, "puf.puf", vq.Table.Name)
	assert.Equal(t, 1, vq.NumCells())
	assert.Nil(t, vq.Transform)
}

func TestValidateGroupedAggregates(t *testing.T) {
	vq, err := Validate(
		"SELECT state, COUNT(*), AVG(wages) FROM puf.puf WHERE agi > 0 GROUP BY state",
		"", testSchema(t))
	require.NoError(t, err)
	assert.Equal(t, 2, vq.NumCells(), "epsilon splits across the two aggregate cells")
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name     string
		analysis string
		reason   Reason
	}{
		{"empty", "   ", ReasonEmptyQuery},
		{"bad grammar", "SELECT * FROM puf.puf", ReasonUnsupportedConstruct},
		{"unknown table", "SELECT COUNT(*) FROM other.table", ReasonUnknownTable},
		{"unknown column", "SELECT SUM(bogus) FROM puf.puf", ReasonUnknownColumn},
		{"row level select", "SELECT state FROM puf.puf GROUP BY state", ReasonUnsupportedConstruct},
		{"ungrouped plain column", "SELECT state, COUNT(*) FROM puf.puf", ReasonUnsupportedConstruct},
		{"sum over string", "SELECT SUM(state) FROM puf.puf", ReasonUnsupportedConstruct},
		{"private id select", "SELECT COUNT(recid) FROM puf.puf", ReasonUnsupportedConstruct},
		{"private id where", "SELECT COUNT(*) FROM puf.puf WHERE recid = 1", ReasonUnsupportedConstruct},
		{"private id group", "SELECT recid, COUNT(*) FROM puf.puf GROUP BY recid", ReasonUnsupportedConstruct},
		{"unknown where column", "SELECT COUNT(*) FROM puf.puf WHERE bogus = 1", ReasonUnknownColumn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.analysis, "", testSchema(t))
			require.Error(t, err)
			var ve *Error
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.reason, ve.Reason)
		})
	}
}

func TestValidateWithTransform(t *testing.T) {
	vq, err := Validate(
		"SELECT COUNT(*), AVG(wages) FROM puf.puf_positive",
		"CREATE TABLE puf.puf_positive AS SELECT state, wages FROM puf.puf WHERE agi > 0",
		testSchema(t))
	require.NoError(t, err)

	require.NotNil(t, vq.Transform)
	assert.Equal(t, "puf.puf_positive", vq.Transform.Target)
	assert.Equal(t, "puf.puf_positive", vq.Table.Name)
	assert.Equal(t, 2, vq.NumCells())

	// Plain columns carry their source metadata into the derived table.
	wages, ok := vq.Table.Column("wages")
	require.True(t, ok)
	assert.True(t, wages.HasBounds)
	assert.Equal(t, 80000.0, wages.Upper)
}

func TestValidateTransformRejections(t *testing.T) {
	sch := testSchema(t)
	tests := []struct {
		name      string
		analysis  string
		transform string
		reason    Reason
	}{
		{
			"target outside namespace",
			"SELECT COUNT(*) FROM scratch",
			"CREATE TABLE scratch AS SELECT state FROM puf.puf",
			ReasonUnknownTable,
		},
		{
			"target shadows base",
			"SELECT COUNT(*) FROM puf.puf",
			"CREATE TABLE puf.puf AS SELECT state FROM puf.puf",
			ReasonUnknownTable,
		},
		{
			"unknown source table",
			"SELECT COUNT(*) FROM puf.puf_sub",
			"CREATE TABLE puf.puf_sub AS SELECT state FROM secret.stuff",
			ReasonUnknownTable,
		},
		{
			"private id in transform",
			"SELECT COUNT(*) FROM puf.puf_sub",
			"CREATE TABLE puf.puf_sub AS SELECT recid FROM puf.puf",
			ReasonUnsupportedConstruct,
		},
		{
			"analysis ignores transform result",
			"SELECT COUNT(*) FROM puf.puf",
			"CREATE TABLE puf.puf_sub AS SELECT state FROM puf.puf",
			ReasonUnsupportedConstruct,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.analysis, tt.transform, sch)
			require.Error(t, err)
			var ve *Error
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.reason, ve.Reason)
		})
	}
}
