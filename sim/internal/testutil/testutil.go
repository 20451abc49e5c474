// Package testutil provides shared test infrastructure for the railsim
// packages: record-store fixtures, invariant checks and scenario files.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/railsim/railsim/sim/records"
)

// NewStore returns an in-memory record store closed at test cleanup.
func NewStore(t *testing.T, capacity int64) *records.Store {
	t.Helper()
	s, err := records.NewMemory(records.Options{InitialCapacity: capacity})
	if err != nil {
		t.Fatalf("creating record store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// AssertRecordInvariants checks every live record: its state is one of the
// four known states, and on_train_id is set exactly when it is onboard.
func AssertRecordInvariants(t *testing.T, s *records.Store) {
	t.Helper()
	err := s.ForEachLive(func(idx int64, r records.Record) error {
		switch r.State {
		case records.StateWaiting, records.StateOnboard, records.StateArrived, records.StateTransferring:
		default:
			t.Errorf("record %d at slot %d: unknown state %d", r.ID, idx, r.State)
		}
		if (r.OnTrain != 0) != (r.State == records.StateOnboard) {
			t.Errorf("record %d at slot %d: state %s with on_train_id %d", r.ID, idx, r.State, r.OnTrain)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scanning records: %v", err)
	}
}

// LoadScenario returns the bytes of testdata/scenarios/<name>.yaml.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func LoadScenario(t *testing.T, name string) []byte {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "scenarios", name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read scenario %s: %v", name, err)
	}
	return data
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
