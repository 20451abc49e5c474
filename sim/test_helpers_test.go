package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/railsim/railsim/sim/demand"
	"github.com/railsim/railsim/sim/fleet"
	"github.com/railsim/railsim/sim/internal/testutil"
	"github.com/railsim/railsim/sim/network"
	"github.com/railsim/railsim/sim/snapshot"
)

// t1Options tweaks the line built by newT1Network.
type t1Options struct {
	bidirectional bool
	capacity      int // 0 means 100
	noRoom        bool
	fleetSize     int
	headway       float64
}

// newT1Network builds stations 1, 2, 3 joined by line T1 with running
// times 120s and 180s.
func newT1Network(t *testing.T, o t1Options) *network.Network {
	t.Helper()
	if o.fleetSize == 0 {
		o.fleetSize = 2
	}
	if o.headway == 0 {
		o.headway = 600
	}
	if o.capacity == 0 {
		o.capacity = 100
	}
	if o.noRoom {
		o.capacity = 0
	}
	nw := network.New()
	for _, id := range []uint32{1, 2, 3} {
		_, err := nw.AddStation(network.StationSpec{ID: id})
		require.NoError(t, err)
	}
	l, err := network.NewLine(network.LineSpec{
		ID:            1,
		Code:          "T1",
		Stations:      []uint32{1, 2, 3},
		TravelTimes:   []float64{120, 180},
		Bidirectional: o.bidirectional,
		FleetSize:     o.fleetSize,
		Capacity:      o.capacity,
		Policy:        fleet.Headway{Interval: o.headway},
	})
	require.NoError(t, err)
	require.NoError(t, nw.AddLine(l))
	return nw
}

func newTestSimulator(t *testing.T, nw *network.Network, cfg Config, gens []*demand.Generator, opts ...Option) *Simulator {
	t.Helper()
	if cfg.DT == 0 {
		cfg.DT = 10
	}
	sim, err := NewSimulator(cfg, testutil.NewStore(t, 64), nw, gens, opts...)
	require.NoError(t, err)
	return sim
}

// stepUntil runs ticks while Clock <= until.
func stepUntil(t *testing.T, sim *Simulator, until float64) {
	t.Helper()
	for sim.Clock <= until {
		require.NoError(t, sim.Step())
	}
}

// memorySink keeps snapshots in memory, or fails every write when err is set.
type memorySink struct {
	snaps []snapshot.Snapshot
	err   error
}

func (m *memorySink) WriteSnapshot(s snapshot.Snapshot) error {
	if m.err != nil {
		return m.err
	}
	m.snaps = append(m.snaps, s)
	return nil
}

var errSinkDown = errors.New("sink unavailable")
