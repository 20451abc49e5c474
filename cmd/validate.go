package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/railsim/railsim/sim"
)

// validateScenario loads the scenario at path and checks that it builds into
// a network and demand set. Field-level failures are listed one per line.
func validateScenario(w io.Writer, path string) error {
	sc, err := sim.LoadScenario(path)
	if err != nil {
		return err
	}
	if err := sc.Validate(); err != nil {
		for _, fe := range sim.ValidationErrors(err) {
			fmt.Fprintf(w, "  %s\n", fe)
		}
		return err
	}
	net, err := sc.BuildNetwork()
	if err != nil {
		return err
	}
	if _, err := sc.BuildGenerators(sim.NewPartitionedRNG(sim.NewSimulationKey(sc.Seed))); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: ok (%d stations, %d lines, %d demand sources, %d ticks of %gs)\n",
		path, len(net.Stations()), len(net.Lines()), len(sc.Demand), sc.Ticks, sc.DT)
	return nil
}

// validateCmd checks scenario files without running them
var validateCmd = &cobra.Command{
	Use:   "validate <scenario>...",
	Short: "Check scenario files",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		failed := 0
		for _, path := range args {
			if err := validateScenario(os.Stdout, path); err != nil {
				logrus.Errorf("%s: %v", path, err)
				failed++
			}
		}
		if failed > 0 {
			logrus.Fatalf("%d of %d scenarios invalid", failed, len(args))
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
