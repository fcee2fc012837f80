package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/compplan/plan"
	"github.com/warp/compplan/store/sqlite"
)

func TestRun_BuildsTarget(t *testing.T) {
	// GIVEN: The default budget and target
	var stdout, stderr bytes.Buffer

	// WHEN: Running with audit and scenarios
	err := run(context.Background(), []string{"--audit", "--scenarios"}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	// THEN: The build reaches M3 and both extras are printed
	var out output
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, plan.TierM3, out.Build.Achieved)
	require.NotNil(t, out.Audit)
	assert.LessOrEqual(t, out.Audit.Score, 1.0)
	assert.Len(t, out.Scenarios, 4)
	assert.Nil(t, out.Run)
}

func TestRun_ArchivesToSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	var stdout, stderr bytes.Buffer

	err := run(ctx, []string{"--archive", path, "--label", "cli"}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	var out output
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.NotNil(t, out.Run)
	assert.Equal(t, "cli", out.Run.Label)
	assert.Equal(t, 5, out.Run.Stages)

	store, err := sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Get(ctx, out.Run.ID)
	require.NoError(t, err)
	assert.Len(t, got.Stages, 5)
}

func TestRun_PlanOverlay(t *testing.T) {
	// GIVEN: An overlay making UZ the default region
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_region: UZ\n"), 0o644))
	var stdout, stderr bytes.Buffer

	// WHEN: Running against it
	err := run(context.Background(), []string{"--plan", path, "--archive", filepath.Join(t.TempDir(), "r.db")}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	// THEN: The archived run is in UZ
	var out output
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, "UZ", out.Run.Region)
}

func TestRun_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad budget", []string{"--budget", "lots"}},
		{"bad strategy", []string{"--strategy", "reckless"}},
		{"unknown tier", []string{"--target", "Z9"}},
		{"unknown region", []string{"--region", "XX"}},
		{"missing plan", []string{"--plan", "/nonexistent/plan.yaml"}},
		{"extra argument", []string{"now"}},
		{"unknown flag", []string{"--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Error(t, run(context.Background(), tt.args, &stdout, &stderr))
			assert.Empty(t, stdout.String())
		})
	}
}
