package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())

	assert.Equal(t, 10.0, p.MaxEpsilon)
	assert.Equal(t, 0.5, p.SyntheticBelow)
	assert.False(t, p.ExactAllowed)
	assert.Equal(t, NoiseLaplace, p.Noise)
	assert.Equal(t, 0.05, p.Alpha)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writePolicy(t, `
max_epsilon: 4.5
synthetic_below: 0.25
noise: gaussian
delta: 0.0001
query_timeout: 10s
`)
	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4.5, p.MaxEpsilon)
	assert.Equal(t, 0.25, p.SyntheticBelow)
	assert.Equal(t, NoiseGaussian, p.Noise)
	assert.Equal(t, 0.0001, p.Delta)
	assert.Equal(t, 10*time.Second, p.QueryTimeout)
	// Unset fields keep their defaults.
	assert.Equal(t, 0.05, p.Alpha)
}

func TestLoadGaussianDefaultDelta(t *testing.T) {
	path := writePolicy(t, "noise: gaussian\n")
	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultDelta, p.Delta)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"laplace with delta", "noise: laplace\ndelta: 0.1\n"},
		{"unknown noise", "noise: uniform\n"},
		{"bad alpha", "alpha: 1.5\n"},
		{"negative cap", "max_epsilon: -1\n"},
		{"zero timeout", "query_timeout: 0s\n"},
		{"not yaml", "{{{{\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writePolicy(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
