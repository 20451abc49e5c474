// Tracks per-tick and run-wide passenger and fleet statistics.

package sim

import (
	"fmt"
	"io"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// TickMetrics is the aggregate state after one tick. Counters cover events
// within the tick; the remaining fields are levels at its end.
type TickMetrics struct {
	Tick int
	Time float64

	Generated  int
	Unroutable int
	Spawned    int
	Deferred   int // departures newly held back by an exhausted fleet
	Alighted   int // arrivals plus transfers
	Arrived    int
	Transfers  int
	Boarded    int
	LeftBehind int
	Promoted   int
	Released   int // arrived records whose slots were freed

	ActiveTrains    int
	Waiting         int
	Onboard         int
	Transferring    int
	ArrivedLive     int // arrived records still holding a slot
	ActiveCustomers int64
	MeanOccupancy   float64 // riders per in-service train
}

// Metrics aggregates statistics about the whole run for final reporting.
type Metrics struct {
	Ticks            int
	Generated        int
	Unroutable       int
	Spawned          int
	ReusedSpawns     int
	DeferredSpawns   int
	Reversals        int
	Boarded          int
	Arrived          int
	Transfers        int
	Evicted          int
	LeftBehind       int
	Released         int
	SnapshotsWritten int
	SnapshotFailures int
	PeakOccupancy    int

	JourneyTimes []float64 // spawn to tap-off, seconds, per arrived customer
	WaitTimes    []float64 // total wait, seconds, per arrived customer
}

// Distribution captures statistical summary of a metric.
type Distribution struct {
	Mean  float64
	P50   float64
	P95   float64
	P99   float64
	Min   float64
	Max   float64
	Count int
}

// NewDistribution computes a Distribution from raw values.
// Returns zero-value Distribution for empty input.
func NewDistribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return Distribution{
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Count: len(sorted),
	}
}

// Print writes the run summary.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Ticks                : %d\n", m.Ticks)
	fmt.Fprintf(w, "Customers Generated  : %d\n", m.Generated)
	fmt.Fprintf(w, "Unroutable           : %d\n", m.Unroutable)
	fmt.Fprintf(w, "Arrived              : %d\n", m.Arrived)
	fmt.Fprintf(w, "Transfers            : %d\n", m.Transfers)
	fmt.Fprintf(w, "Left Behind          : %d\n", m.LeftBehind)
	fmt.Fprintf(w, "Trains Spawned       : %d (%d reused)\n", m.Spawned, m.ReusedSpawns)
	fmt.Fprintf(w, "Deferred Spawns      : %d\n", m.DeferredSpawns)
	fmt.Fprintf(w, "Peak Occupancy       : %d\n", m.PeakOccupancy)
	if m.Arrived > 0 {
		j := NewDistribution(m.JourneyTimes)
		wt := NewDistribution(m.WaitTimes)
		fmt.Fprintf(w, "Journey Time (s)     : mean %.1f p50 %.1f p95 %.1f p99 %.1f\n", j.Mean, j.P50, j.P95, j.P99)
		fmt.Fprintf(w, "Wait Time (s)        : mean %.1f p50 %.1f p95 %.1f p99 %.1f\n", wt.Mean, wt.P50, wt.P95, wt.P99)
	}
	if m.SnapshotsWritten > 0 || m.SnapshotFailures > 0 {
		fmt.Fprintf(w, "Snapshots            : %d written, %d failed\n", m.SnapshotsWritten, m.SnapshotFailures)
	}
}
