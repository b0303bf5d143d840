package schema

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDir(t *testing.T) {
	s, err := LoadDir(filepath.Join("testdata", "approved"))
	require.NoError(t, err)

	assert.Equal(t, []string{"puf.puf"}, s.TableNames())

	table, ok := s.Table("puf.puf")
	require.True(t, ok)
	assert.Equal(t, int64(1000), table.Rows)

	recid, ok := table.Column("RECID")
	require.True(t, ok)
	assert.True(t, recid.PrivateID)
	assert.False(t, recid.HasBounds)

	mars, ok := table.Column("MARS")
	require.True(t, ok)
	assert.Equal(t, TypeInt, mars.Type)
	assert.Equal(t, 1.0, mars.Lower)
	assert.Equal(t, 5.0, mars.Upper)
	assert.True(t, mars.HasBounds)
	assert.Equal(t, 5, mars.Cardinality)

	wages, ok := table.Column("E00200")
	require.True(t, ok)
	assert.Equal(t, TypeFloat, wages.Type)
	assert.Equal(t, 1_000_000.0, wages.Upper)
}

func TestLoadDirMissingType(t *testing.T) {
	_, err := LoadDir(filepath.Join("testdata", "bad"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type is required")
}

func TestLoadDirUnknownColumnField(t *testing.T) {
	// "privateid" is not a recognized column attribute. Loading it as a
	// no-op would leave the record identifier selectable.
	_, err := LoadDir(filepath.Join("testdata", "unknown_field"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join("testdata", "nope"))
	require.Error(t, err)
}
