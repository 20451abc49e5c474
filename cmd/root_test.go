package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sim "github.com/railsim/railsim/sim"
	"github.com/railsim/railsim/sim/snapshot"
)

const t1Scenario = "../testdata/scenarios/t1.yaml"

func TestOverrides_Apply_OnlySetFields(t *testing.T) {
	// GIVEN a scenario and overrides for seed and trace only
	sc, err := sim.LoadScenario(t1Scenario)
	require.NoError(t, err)
	s, lvl := int64(9), "stops"

	// WHEN applied
	overrides{seed: &s, trace: &lvl}.apply(sc)

	// THEN those fields change and the rest keep their file values
	assert.Equal(t, int64(9), sc.Seed)
	assert.Equal(t, "stops", sc.Trace)
	assert.Equal(t, 360, sc.Ticks)
	assert.Empty(t, sc.Store.Path)
}

func TestLoadEnv_FillsUnsetFlags(t *testing.T) {
	// GIVEN both variables set and --log given explicitly
	t.Setenv("RAILSIM_SCENARIO", "from-env.yaml")
	t.Setenv("RAILSIM_LOG", "debug")
	c := &cobra.Command{Use: "test"}
	var scenario, log string
	c.Flags().StringVar(&scenario, "scenario", "", "")
	c.Flags().StringVar(&log, "log", "error", "")
	require.NoError(t, c.Flags().Set("log", "info"))

	// WHEN the environment is loaded
	require.NoError(t, loadEnv(c))

	// THEN only the unset flag takes the environment value
	assert.Equal(t, "from-env.yaml", scenario)
	assert.Equal(t, "info", log)
}

func TestRunScenario_WritesStoreSnapshotsAndReport(t *testing.T) {
	// GIVEN the T1 scenario with a file store, snapshots and tracing
	dir := t.TempDir()
	sc, err := sim.LoadScenario(t1Scenario)
	require.NoError(t, err)
	storeFile := filepath.Join(dir, "records.bin")
	sc.Ticks = 60
	sc.Store.Path = storeFile
	sc.Snapshot = sim.SnapshotConfig{Dir: dir, EveryTicks: 30}
	sc.Trace = "decisions"

	// WHEN run
	res, err := runScenario(context.Background(), sc, "test-run")
	require.NoError(t, err)

	// THEN a snapshot exists for ticks 29 and 59
	for _, tick := range []int{29, 59} {
		_, err := os.Stat(filepath.Join(dir, "test-run", snapshot.FileName(tick)))
		assert.NoError(t, err, "tick %d", tick)
	}
	assert.Equal(t, 60, res.Metrics.Ticks)
	assert.Positive(t, res.Metrics.Generated)
	assert.Equal(t, 2, res.Metrics.SnapshotsWritten)
	require.NotNil(t, res.Trace)

	// AND the report carries the run id and trace summary
	var out bytes.Buffer
	report(&out, res)
	assert.Contains(t, out.String(), "Run ID               : test-run")
	assert.Contains(t, out.String(), "=== Trace Summary ===")

	// AND the store file can be inspected after the run
	out.Reset()
	require.NoError(t, inspectStore(&out, storeFile, 3))
	assert.Contains(t, out.String(), "Store       : "+storeFile)
	assert.Contains(t, out.String(), "slot")
}

func TestRunScenario_InvalidScenario(t *testing.T) {
	sc, err := sim.LoadScenario(t1Scenario)
	require.NoError(t, err)
	sc.DT = 0

	_, err = runScenario(context.Background(), sc, "bad")

	require.Error(t, err)
	assert.NotEmpty(t, sim.ValidationErrors(err))
}

func TestRunScenario_Cancelled(t *testing.T) {
	sc, err := sim.LoadScenario(t1Scenario)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = runScenario(ctx, sc, "cancelled")

	assert.ErrorIs(t, err, context.Canceled)
}
