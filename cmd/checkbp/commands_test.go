package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkbp/instance"
	"checkbp/internal/config"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGenThenRun(t *testing.T) {
	dir := t.TempDir()
	instPath := filepath.Join(dir, "inst.json")
	_, err := runCLI(t, "gen", "-o", instPath, "--n", "8", "--eta", "1", "--inequalities", "60", "--seed", "cli")
	require.NoError(t, err)
	inst, err := instance.Load(instPath)
	require.NoError(t, err)
	assert.Len(t, inst.Inequalities, 60)

	chart := filepath.Join(dir, "out", "rounds.html")
	out, err := runCLI(t, "run", "--instance", instPath, "--iterations", "3", "-t", "2",
		"--chart", chart, "--metrics-addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "run ")
	assert.Contains(t, out, "correct")
	assert.Contains(t, out, "checkgraph.Propagate")
	assert.Contains(t, out, "success=")

	html, err := os.ReadFile(chart)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(html), "Marginal entropy"))
}

func TestRunRejectsBadFlags(t *testing.T) {
	_, err := runCLI(t, "run", "--n", "12")
	require.Error(t, err)
	_, err = runCLI(t, "run", "--n", "8", "--threads", "-1")
	require.Error(t, err)
	_, err = runCLI(t, "gen", "--eta", "9")
	require.Error(t, err)
	_, err = runCLI(t, "run", "--instance", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestPrior(t *testing.T) {
	out, err := runCLI(t, "prior", "--eta", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "  0  0.375000")
	assert.Contains(t, out, " -2  0.062500")
	assert.Contains(t, out, "entropy 2.0306 bits")

	_, err = runCLI(t, "prior", "--eta", "0")
	require.Error(t, err)
}

func TestResolveRunFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instance:\n  n: 16\n  seed: file\nthreads: 2\niterations: 9\n"), 0o644))

	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--threads", "4", "--seed", "flag"}))
	flags := config.Run{Threads: 4, Iterations: 1, Instance: instance.Params{Seed: "flag", N: 64}}
	cfg, err := resolveRun(path, cmd.Flags(), flags)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, "flag", cfg.Instance.Seed)
	assert.Equal(t, 16, cfg.Instance.N)
	assert.Equal(t, 9, cfg.Iterations)
}

func TestGenDenseChallenges(t *testing.T) {
	instPath := filepath.Join(t.TempDir(), "dense.json")
	_, err := runCLI(t, "gen", "-o", instPath, "--n", "8", "--eta", "1", "--inequalities", "10", "--sparsity", "0")
	require.NoError(t, err)
	inst, err := instance.Load(instPath)
	require.NoError(t, err)
	require.NotNil(t, inst.Params.ChallengeSparsity)
	assert.Equal(t, 0.0, *inst.Params.ChallengeSparsity)
	for _, q := range inst.Inequalities {
		assert.NotContains(t, q.Coeffs, 0)
	}

	_, err = runCLI(t, "gen", "-o", instPath, "--sparsity", "dense")
	require.Error(t, err)
}
