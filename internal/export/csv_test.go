package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkoppe/bode/pkg/models"
)

func deg(v float64) *float64 { return &v }

func threeResults() []models.MeasurementResult {
	return []models.MeasurementResult{
		{Frequency: 1000, GainDB: -0.1, PhaseDeg: deg(-1.5)},
		{Frequency: 10000, GainDB: -3.0103, PhaseDeg: deg(-45)},
		{Frequency: 100000, GainDB: -20.04, PhaseDeg: deg(-84.3)},
	}
}

func TestWriteCSVWithPhase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.csv")

	require.NoError(t, WriteCSV(threeResults(), path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 4, "header plus one row per result")
	assert.Equal(t, "frequency;gain_dB;phase_deg", lines[0])
	for _, line := range lines[1:] {
		assert.Len(t, strings.Split(line, ";"), 3)
	}
	assert.Equal(t, "10000;-3.0103;-45.0000", lines[2])
}

func TestWriteCSVWithoutPhase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.csv")

	require.NoError(t, WriteCSV(threeResults(), path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "frequency;gain_dB", lines[0])
	for _, line := range lines[1:] {
		assert.Len(t, strings.Split(line, ";"), 2)
	}
}

func TestWriteCSVMissingPhaseWritesNan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.csv")
	results := []models.MeasurementResult{{Frequency: 500, GainDB: 1.25}}

	require.NoError(t, WriteCSV(results, path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "500;1.2500;nan")
}

func TestWriteCSVFailureLeavesNoPartialFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	path := filepath.Join(dir, "sweep.csv")

	err := WriteCSV(threeResults(), path, true)
	require.Error(t, err)

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, path, writeErr.Path)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteCSVLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sweep.csv")

	require.NoError(t, WriteCSV(threeResults(), path, false))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sweep.csv", entries[0].Name())
}
