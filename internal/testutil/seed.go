// Package testutil provides deterministic substitutes for the engine's
// nondeterministic inputs (clock, tokens, noise) and seed helpers for
// the two databases.
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolliver/veil/internal/dataset"
	"github.com/tolliver/veil/internal/schema"
	"github.com/tolliver/veil/internal/store"
)

// OpenStore creates a fresh engine store in a temp directory.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "veil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// seedRow is one record of the fixture table.
type seedRow struct {
	recid int64
	state string
	agi   float64
	wages float64
	eic   int64
}

var rawRows = []seedRow{
	{1, "NY", 52000, 48000, 0},
	{2, "NY", 61000, 55000, 1},
	{3, "CA", 30000, 28000, 2},
	{4, "CA", 87000, 80000, 0},
	{5, "TX", 12000, 11000, 3},
	{6, "TX", 45000, 40000, 1},
	{7, "NY", 99000, 76000, 0},
	{8, "CA", 23000, 20000, 2},
}

var syntheticRows = []seedRow{
	{101, "NY", 50000, 46000, 0},
	{102, "NY", 64000, 58000, 1},
	{103, "CA", 28000, 26000, 2},
	{104, "CA", 90000, 79000, 0},
	{105, "TX", 15000, 13000, 3},
	{106, "TX", 42000, 39000, 1},
}

// SeedDataset creates a dataset database holding the fixture table
// "puf.puf" and its synthetic variant.
func SeedDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	return SeedDatasetAt(t, filepath.Join(t.TempDir(), "puf.db"))
}

// SeedDatasetAt seeds the fixture dataset at a caller-chosen path, for
// tests that hand the path to a command line.
func SeedDatasetAt(t *testing.T, path string) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	createTable(t, ds, "puf.puf", rawRows)
	createTable(t, ds, dataset.SyntheticName("puf.puf"), syntheticRows)
	return ds
}

func createTable(t *testing.T, ds *dataset.Dataset, name string, rows []seedRow) {
	t.Helper()
	_, err := ds.DB().Exec(fmt.Sprintf(`
		CREATE TABLE %q (
			recid INTEGER PRIMARY KEY,
			state TEXT NOT NULL,
			agi REAL NOT NULL,
			wages REAL NOT NULL,
			eic INTEGER NOT NULL
		)
	`, name))
	require.NoError(t, err)

	for _, r := range rows {
		_, err := ds.DB().Exec(
			fmt.Sprintf(`INSERT INTO %q (recid, state, agi, wages, eic) VALUES (?, ?, ?, ?, ?)`, name),
			r.recid, r.state, r.agi, r.wages, r.eic)
		require.NoError(t, err)
	}
}

// ApprovedSchema returns the allow-list matching the seeded fixture
// table.
func ApprovedSchema(t *testing.T) *schema.Schema {
	t.Helper()
	table := schema.NewTable("puf.puf", int64(len(rawRows)), []schema.Column{
		{Name: "recid", Type: schema.TypeInt, PrivateID: true},
		{Name: "state", Type: schema.TypeString, Cardinality: 3},
		{Name: "agi", Type: schema.TypeFloat, Lower: 0, Upper: 100000, HasBounds: true},
		{Name: "wages", Type: schema.TypeFloat, Lower: 0, Upper: 80000, HasBounds: true},
		{Name: "eic", Type: schema.TypeInt, Lower: 0, Upper: 3, HasBounds: true, Cardinality: 4},
	})
	sch, err := schema.New([]schema.Table{table})
	require.NoError(t, err)
	return sch
}
