package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLossProbabilitiesNone(t *testing.T) {
	req, rep, err := LossProbabilities(nil)
	require.NoError(t, err)
	assert.Zero(t, req)
	assert.Zero(t, rep)
}

func TestLossProbabilitiesSingleAppliesBothDirections(t *testing.T) {
	req, rep, err := LossProbabilities([]string{"0.3"})
	require.NoError(t, err)
	assert.Equal(t, 0.3, req)
	assert.Equal(t, 0.3, rep)
}

func TestLossProbabilitiesTwoIndependent(t *testing.T) {
	req, rep, err := LossProbabilities([]string{"0.1", "0.2"})
	require.NoError(t, err)
	assert.Equal(t, 0.1, req)
	assert.Equal(t, 0.2, rep)
}

func TestLossProbabilitiesOutOfRange(t *testing.T) {
	_, _, err := LossProbabilities([]string{"1.5"})
	assert.Error(t, err)
}

func TestLossProbabilitiesTooMany(t *testing.T) {
	_, _, err := LossProbabilities([]string{"0.1", "0.2", "0.3"})
	assert.Error(t, err)
}

func TestLoadFacilitiesMissingFileIsNotError(t *testing.T) {
	facilities, err := LoadFacilities(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Nil(t, facilities)
}

func TestLoadFacilitiesParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facilities.toml")
	content := "facilities = [\"Room X\", \"Room Y\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	facilities, err := LoadFacilities(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Room X", "Room Y"}, facilities)
}
