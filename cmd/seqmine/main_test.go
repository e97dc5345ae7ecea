package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
input:
  columns:
    series: host
segmentation:
  templates:
    - {label: low, min: 0, max: 10}
    - {label: high, min: 11, max: 100}
growth:
  iterations: 1
  templates:
    - {relation: before}
pruning:
  min_support: 0.3
checkpoint:
  backend: none
`

func fixture(t *testing.T) (dir, cfg, input string) {
	t.Helper()
	dir = t.TempDir()
	cfg = filepath.Join(dir, "seqmine.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(testConfig), 0o644))

	var sb strings.Builder
	sb.WriteString("host,timestamp,value\n")
	for i, v := range []string{"1", "1", "50", "50", "2", "2", "60", "60"} {
		fmt.Fprintf(&sb, "a,%d,%s\n", i, v)
	}
	input = filepath.Join(dir, "cpu.csv")
	require.NoError(t, os.WriteFile(input, []byte(sb.String()), 0o644))
	return dir, cfg, input
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestMineCountPruneExport(t *testing.T) {
	dir, cfg, input := fixture(t)
	saved := filepath.Join(dir, "forests")

	out, err := run(t, "mine", "--config", cfg, "--save", saved, "--variants", "3", input)
	require.NoError(t, err)
	assert.Contains(t, out, "MINING COMPLETE")
	assert.Contains(t, out, "Events:")

	forest := filepath.Join(saved, "a.forest.json.gz")
	assert.FileExists(t, forest)
	assert.FileExists(t, filepath.Join(saved, "a.types.json.gz"))

	out, err = run(t, "count", "--config", cfg, forest)
	require.NoError(t, err)
	assert.Contains(t, out, "types (")
	assert.Contains(t, out, "per depth: d0=")

	pruned := filepath.Join(dir, "pruned.forest.json.gz")
	out, err = run(t, "prune", "--config", cfg, "--once", "--out", pruned, forest)
	require.NoError(t, err)
	assert.Contains(t, out, "pass 1: total=")
	assert.FileExists(t, pruned)

	exported := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(exported, 0o755))
	out, err = run(t, "export", "--config", cfg, "-o", exported, filepath.Join(saved, "a.types.json.gz"))
	require.NoError(t, err)
	assert.Contains(t, out, "pattern types to")
	assert.FileExists(t, filepath.Join(exported, "a.types.parquet"))
}

func TestMine_Quiet(t *testing.T) {
	_, cfg, input := fixture(t)
	out, err := run(t, "mine", "-q", "--config", cfg, "-n", "2", input)
	require.NoError(t, err)
	assert.Contains(t, out, "Mined 1 series (8 samples, 0 failed)")
}

func TestMine_Errors(t *testing.T) {
	dir, cfg, _ := fixture(t)

	_, err := run(t, "mine", "--config", cfg, filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	_, err = run(t, "mine", "--config", filepath.Join(dir, "missing.yaml"), "x.csv")
	assert.Error(t, err)

	_, err = run(t, "mine", "--config", cfg)
	assert.Error(t, err, "an input is required")
}

func TestConfigValidate(t *testing.T) {
	_, cfg, _ := fixture(t)
	out, err := run(t, "config", "validate", "--config", cfg, "--min-support", "0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 2 segment templates, 1 growth templates, 1 iterations")

	_, err = run(t, "config", "validate", "--config", cfg, "--min-support", "2")
	assert.Error(t, err)
}

func TestSnapshots_LocalBackend(t *testing.T) {
	dir, cfg, input := fixture(t)
	t.Setenv("SEQMINE_CHECKPOINT_DIR", filepath.Join(dir, "snaps"))

	_, err := run(t, "mine", "-q", "--config", cfg, "--checkpoint", "local", input)
	require.NoError(t, err)

	out, err := run(t, "snapshots", "list", "--config", cfg, "--checkpoint", "local")
	require.NoError(t, err)
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "segmented")

	_, err = run(t, "snapshots", "list", "--config", cfg)
	assert.Error(t, err, "no backend configured")
}
