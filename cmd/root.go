package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/railsim/railsim/sim"
	"github.com/railsim/railsim/sim/snapshot"
	"github.com/railsim/railsim/sim/trace"
)

var (
	// CLI flags for the run command
	scenarioPath  string // Path to the scenario YAML
	logLevel      string // Log verbosity level
	runID         string // Identifier of this run; random when empty
	seed          int64  // Overrides the scenario seed
	ticks         int    // Overrides the scenario tick count
	storePath     string // Overrides the record store file
	snapshotDir   string // Overrides the snapshot directory
	snapshotEvery int    // Overrides the snapshot interval (ticks)
	traceLevel    string // Overrides the decision trace level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "railsim",
	Short: "Tick-based passenger flow simulator for rail networks",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnv(cmd); err != nil {
			return err
		}
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", logLevel)
		}
		logrus.SetLevel(level)
		return nil
	},
}

// loadEnv reads .env (if present) and fills flags the user did not set from
// RAILSIM_SCENARIO and RAILSIM_LOG.
func loadEnv(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	for flag, env := range map[string]string{"scenario": "RAILSIM_SCENARIO", "log": "RAILSIM_LOG"} {
		f := cmd.Flags().Lookup(flag)
		if f == nil || f.Changed {
			continue
		}
		if v, ok := os.LookupEnv(env); ok {
			if err := f.Value.Set(v); err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
		}
	}
	return nil
}

// overrides are the flags of the run command that replace scenario fields.
type overrides struct {
	seed          *int64
	ticks         *int
	storePath     *string
	snapshotDir   *string
	snapshotEvery *int
	trace         *string
}

func (o overrides) apply(sc *sim.Scenario) {
	if o.seed != nil {
		sc.Seed = *o.seed
	}
	if o.ticks != nil {
		sc.Ticks = *o.ticks
	}
	if o.storePath != nil {
		sc.Store.Path = *o.storePath
	}
	if o.snapshotDir != nil {
		sc.Snapshot.Dir = *o.snapshotDir
	}
	if o.snapshotEvery != nil {
		sc.Snapshot.EveryTicks = *o.snapshotEvery
	}
	if o.trace != nil {
		sc.Trace = *o.trace
	}
}

// changedOverrides collects the run flags set on the command line.
func changedOverrides(cmd *cobra.Command) overrides {
	var o overrides
	changed := cmd.Flags().Changed
	if changed("seed") {
		o.seed = &seed
	}
	if changed("ticks") {
		o.ticks = &ticks
	}
	if changed("store-path") {
		o.storePath = &storePath
	}
	if changed("snapshot-dir") {
		o.snapshotDir = &snapshotDir
	}
	if changed("snapshot-every") {
		o.snapshotEvery = &snapshotEvery
	}
	if changed("trace") {
		o.trace = &traceLevel
	}
	return o
}

// runResult is what a finished run leaves behind for reporting.
type runResult struct {
	RunID   string
	Metrics sim.Metrics
	Trace   *trace.SimulationTrace
	Elapsed time.Duration
}

// runScenario builds and runs sc to completion, writing snapshots under
// sc.Snapshot.Dir/<id> when configured. The record store is closed on return.
func runScenario(ctx context.Context, sc *sim.Scenario, id string) (*runResult, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	store, err := sc.OpenStore()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logrus.Warnf("closing record store: %v", cerr)
		}
	}()

	var opts []sim.Option
	var st *trace.SimulationTrace
	if level := trace.TraceLevel(sc.Trace); level.Enabled() {
		st = trace.NewSimulationTrace(id, level)
		opts = append(opts, sim.WithTrace(st))
	}
	if sc.Snapshot.Dir != "" {
		sink, err := snapshot.NewParquetSink(sc.Snapshot.Dir, id)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sim.WithSink(sink))
		logrus.Infof("writing snapshots every %d ticks to %s", sc.Snapshot.EveryTicks, sink.Dir())
	}

	s, err := sc.Build(store, opts...)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := s.Run(ctx, sc.Ticks); err != nil {
		return nil, err
	}
	return &runResult{RunID: id, Metrics: *s.Metrics(), Trace: st, Elapsed: time.Since(start)}, nil
}

// report prints the run metrics and, when tracing was on, the trace summary.
func report(w io.Writer, res *runResult) {
	fmt.Fprintf(w, "Run ID               : %s\n", res.RunID)
	res.Metrics.Print(w)
	fmt.Fprintf(w, "Wall Time            : %s\n", res.Elapsed.Round(time.Millisecond))
	if res.Trace == nil {
		return
	}
	s := trace.Summarize(res.Trace)
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Routing Decisions    : %d (%d unroutable, %d distinct routes)\n", s.TotalRoutings, s.Unroutable, s.DistinctRoutes)
	fmt.Fprintf(w, "Spawns               : %d (%d reused)\n", s.Spawns, s.ReusedSpawns)
	if s.StopsServed > 0 {
		fmt.Fprintf(w, "Stops Served         : %d (mean occupancy %.1f)\n", s.StopsServed, s.MeanOccupancy)
		if s.WorstStation != 0 {
			fmt.Fprintf(w, "Worst Station        : %d (%d left behind)\n", s.WorstStation, s.MaxLeftBehind)
		}
	}
}

// runCmd executes the simulation described by a scenario file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario",
	Run: func(cmd *cobra.Command, args []string) {
		if scenarioPath == "" {
			logrus.Fatalf("Scenario not provided (--scenario or RAILSIM_SCENARIO). Exiting simulation.")
		}
		sc, err := sim.LoadScenario(scenarioPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		changedOverrides(cmd).apply(sc)

		id := runID
		if id == "" {
			id = uuid.NewString()
		}
		logrus.Infof("Starting run %s from %s", id, scenarioPath)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		res, err := runScenario(ctx, sc, id)
		if err != nil {
			for _, fe := range sim.ValidationErrors(err) {
				logrus.Error(fe)
			}
			logrus.Fatalf("Run %s failed: %v", id, err)
		}
		report(os.Stdout, res)
		logrus.Info("Simulation complete.")
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to the scenario YAML")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier used for snapshot directories (default: random UUID)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for demand generation (overrides the scenario)")
	runCmd.Flags().IntVar(&ticks, "ticks", 0, "Number of ticks to run (overrides the scenario)")
	runCmd.Flags().StringVar(&storePath, "store-path", "", "Record store file; empty keeps records in memory (overrides the scenario)")
	runCmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "Directory for Parquet snapshots (overrides the scenario)")
	runCmd.Flags().IntVar(&snapshotEvery, "snapshot-every", 0, "Ticks between snapshots (overrides the scenario)")
	runCmd.Flags().StringVar(&traceLevel, "trace", "", "Decision trace level: none, decisions, stops (overrides the scenario)")

	rootCmd.AddCommand(runCmd)
}
