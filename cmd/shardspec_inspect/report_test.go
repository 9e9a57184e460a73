package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJob = `
tensor "weights" {
  shape          = [8, 4]
  phy_shape      = [world_size / 2, 2]
  subgroup_shape = [1, 2]
}

tensor "half" {
  shape     = [6]
  ranks     = [1, 2, 3]
  phy_shape = [3]
}

tensor "bias" {
  shape = [4]
  kind  = "mirrored"
}
`

func TestReport(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)
	path := filepath.Join(t.TempDir(), "job.hcl")
	require.NoError(t, os.WriteFile(path, []byte(testJob), 0o644))

	var buf bytes.Buffer
	require.NoError(t, report(&buf, path, 4, -1, nil))
	out := buf.String()
	assert.Contains(t, out, "weights [8 4]: ShardSpec([2, :(x2)])")
	assert.Contains(t, out, "replica groups: [[0 1] [2 3]]")
	assert.Contains(t, out, "[4:8, 0:4]")
	assert.Contains(t, out, "idle")
	assert.Contains(t, out, "[4:6]")
	assert.Contains(t, out, "bias [4]: MirroredSpec")
	assert.Contains(t, out, "full tensor on every rank")

	buf.Reset()
	require.NoError(t, report(&buf, path, 4, 0, nil))
	assert.NotContains(t, buf.String(), "[4:8, 0:4]")
	assert.Contains(t, buf.String(), "idle")

	buf.Reset()
	require.NoError(t, report(&buf, path, 4, -1, []string{"bias"}))
	assert.Contains(t, buf.String(), "bias [4]: MirroredSpec")
	assert.NotContains(t, buf.String(), "weights")
	require.Error(t, report(&buf, path, 4, -1, []string{"nope"}))

	require.Error(t, report(&buf, filepath.Join(t.TempDir(), "missing.hcl"), 4, -1, nil))
}

func TestFormatRange(t *testing.T) {
	assert.Equal(t, "[0:2, 3:6]", formatRange([]int{0, 3}, []int{2, 6}))
	assert.Equal(t, "[]", formatRange(nil, nil))
}
