package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, p.Name)
	assert.NotEmpty(t, p.Skills)
	require.NotEmpty(t, p.Experience)
	assert.Equal(t, "2021 - present", p.Experience[0].Period())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"Sam","skills":["Go"]}`), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Sam", p.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseRequiresName(t *testing.T) {
	_, err := Parse([]byte(`{"headline":"x"}`))
	assert.Error(t, err)
}
