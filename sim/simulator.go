// sim/simulator.go
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/railsim/railsim/sim/demand"
	"github.com/railsim/railsim/sim/fleet"
	"github.com/railsim/railsim/sim/network"
	"github.com/railsim/railsim/sim/paths"
	"github.com/railsim/railsim/sim/records"
	"github.com/railsim/railsim/sim/snapshot"
	"github.com/railsim/railsim/sim/trace"
)

// Sink receives periodic snapshots of the live records.
// *snapshot.ParquetSink implements it.
type Sink interface {
	WriteSnapshot(snapshot.Snapshot) error
}

// Config holds the tick-loop parameters.
type Config struct {
	DT               float64 // seconds per tick
	Start            float64 // clock of the first tick
	SnapshotEvery    int     // ticks between snapshots; 0 disables snapshots
	ArrivedRetention float64 // seconds an arrived record keeps its slot
	Disruptions      []Disruption
}

// Option configures optional collaborators of a Simulator.
type Option func(*Simulator)

// WithSink routes periodic snapshots to s.
func WithSink(s Sink) Option {
	return func(sim *Simulator) { sim.sink = s }
}

// WithTrace records routing, spawn and stop decisions into st.
func WithTrace(st *trace.SimulationTrace) Option {
	return func(sim *Simulator) { sim.trace = st }
}

type arrival struct {
	idx int64
	at  float64
}

// Simulator drives the network tick by tick. It owns the record store, the
// network and the live trains; every other component refers to customers by
// store index only.
//
// Thread-safety: NOT thread-safe. One goroutine calls Step or Run.
type Simulator struct {
	Clock     float64
	TickCount int

	cfg        Config
	store      *records.Store
	net        *network.Network
	lines      []*network.Line
	stations   []*network.Station
	generators []*demand.Generator
	sink       Sink
	trace      *trace.SimulationTrace

	disruptions *disruptionHeap
	down        map[string]int // open outage windows per line

	trains       []*fleet.Train // in service or suspended, in spawn order
	arrived      []arrival      // arrived records awaiting release, oldest first
	lastSnapshot float64

	tick     TickMetrics
	history  []TickMetrics
	metrics  Metrics
	injected int // AddCustomer calls since the last Step
}

// NewSimulator wires a simulator over a built network. Generators run in the
// order given.
func NewSimulator(cfg Config, store *records.Store, net *network.Network, generators []*demand.Generator, opts ...Option) (*Simulator, error) {
	if store == nil || net == nil {
		panic("sim: NewSimulator requires a store and a network")
	}
	if cfg.DT <= 0 {
		return nil, fmt.Errorf("dt must be positive, got %v", cfg.DT)
	}
	if cfg.SnapshotEvery < 0 {
		return nil, fmt.Errorf("snapshot interval must be non-negative, got %d", cfg.SnapshotEvery)
	}
	if cfg.ArrivedRetention < 0 {
		return nil, fmt.Errorf("arrived retention must be non-negative, got %v", cfg.ArrivedRetention)
	}
	for _, d := range cfg.Disruptions {
		if _, err := net.Line(d.Line); err != nil {
			return nil, fmt.Errorf("disruption: %w", err)
		}
		if d.Duration <= 0 {
			return nil, fmt.Errorf("disruption on line %s: duration must be positive, got %v", d.Line, d.Duration)
		}
	}
	for _, g := range generators {
		if _, ok := net.Station(g.Origin); !ok {
			return nil, fmt.Errorf("demand origin %d: %w", g.Origin, network.ErrUnknownStation)
		}
	}
	sim := &Simulator{
		Clock:        cfg.Start,
		cfg:          cfg,
		store:        store,
		net:          net,
		lines:        net.Lines(),
		stations:     net.Stations(),
		generators:   slices.Clone(generators),
		disruptions:  newDisruptionHeap(cfg.Disruptions),
		down:         make(map[string]int),
		lastSnapshot: records.NoTime,
	}
	for _, o := range opts {
		o(sim)
	}
	return sim, nil
}

// Store returns the record store.
func (sim *Simulator) Store() *records.Store { return sim.store }

// Network returns the simulated network.
func (sim *Simulator) Network() *network.Network { return sim.net }

// Trains returns the trains currently running, in spawn order.
func (sim *Simulator) Trains() []*fleet.Train { return slices.Clone(sim.trains) }

// History returns the metrics of every completed tick.
func (sim *Simulator) History() []TickMetrics { return slices.Clone(sim.history) }

// Metrics returns the run-wide totals so far.
func (sim *Simulator) Metrics() *Metrics { return &sim.metrics }

// Run executes n ticks. Cancellation is checked between ticks. The store is
// flushed before Run returns.
func (sim *Simulator) Run(ctx context.Context, n int) error {
	logrus.Infof("[t=%.0f] simulation starting: %d ticks of %.1fs", sim.Clock, n, sim.cfg.DT)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			logrus.Warnf("[t=%.0f] simulation cancelled after %d ticks", sim.Clock, i)
			return errors.Join(err, sim.store.Flush())
		}
		if err := sim.Step(); err != nil {
			return fmt.Errorf("tick %d (t=%.0f): %w", sim.TickCount, sim.Clock, err)
		}
	}
	logrus.Infof("[t=%.0f] simulation ended: %d arrived, %d still live", sim.Clock, sim.metrics.Arrived, sim.store.Live())
	return sim.store.Flush()
}

// Step runs one tick at Clock, then advances Clock by DT. Phase order is
// fixed; any returned error is fatal for the run.
func (sim *Simulator) Step() error {
	now := sim.Clock
	sim.tick = TickMetrics{Tick: sim.TickCount, Time: now, Generated: sim.injected}
	sim.injected = 0

	sim.applyDisruptions(now)
	fresh, err := sim.generate(now)
	if err != nil {
		return err
	}
	for _, idx := range fresh {
		if err := sim.routeNew(idx); err != nil {
			return err
		}
	}
	if err := sim.spawn(now); err != nil {
		return err
	}
	if err := sim.advanceTrains(now); err != nil {
		return err
	}
	if err := sim.account(now); err != nil {
		return err
	}
	sim.aggregate()
	if err := sim.maybeSnapshot(now); err != nil {
		return err
	}
	if err := sim.releaseArrived(now); err != nil {
		return err
	}

	sim.history = append(sim.history, sim.tick)
	sim.metrics.Ticks++
	sim.TickCount++
	sim.Clock += sim.cfg.DT
	return nil
}

// AddCustomer creates one customer at origin bound for dest at the current
// clock, routes it and queues it at origin. ok is false when no route exists
// and the customer was discarded. The customer counts toward the generated
// total of the next Step.
func (sim *Simulator) AddCustomer(origin, dest uint32) (idx int64, ok bool, err error) {
	idx, err = sim.store.AllocateIndex()
	if err != nil {
		return -1, false, err
	}
	r := records.Record{
		ID:            sim.store.NextID(),
		Origin:        origin,
		Dest:          dest,
		Current:       origin,
		State:         records.StateWaiting,
		TapOn:         records.NoTime,
		TapOff:        records.NoTime,
		Spawn:         sim.Clock,
		MovementSpeed: 1.0,
	}
	if err := sim.store.Put(idx, r); err != nil {
		return -1, false, err
	}
	sim.metrics.Generated++
	sim.injected++
	before := sim.metrics.Unroutable
	if err := sim.routeNew(idx); err != nil {
		return -1, false, err
	}
	return idx, sim.metrics.Unroutable == before, nil
}

// Phase 0.
func (sim *Simulator) applyDisruptions(now float64) {
	for {
		ev, ok := sim.disruptions.popDue(now)
		if !ok {
			return
		}
		l, err := sim.net.Line(ev.line)
		if err != nil {
			continue
		}
		logrus.Infof("[t=%.0f] %s", now, ev)
		switch ev.kind {
		case disruptionStart:
			sim.down[ev.line]++
			for _, t := range l.Fleet().ActiveTrains() {
				t.Suspend(now)
			}
		case disruptionEnd:
			sim.down[ev.line]--
			if sim.down[ev.line] > 0 {
				continue
			}
			delete(sim.down, ev.line)
			for _, t := range l.Fleet().ActiveTrains() {
				t.Resume(now)
			}
		}
	}
}

// Phase 1.
func (sim *Simulator) generate(now float64) ([]int64, error) {
	var fresh []int64
	for _, g := range sim.generators {
		idxs, err := g.Generate(sim.store, now, sim.cfg.DT)
		if err != nil {
			return nil, err
		}
		fresh = append(fresh, idxs...)
	}
	sim.tick.Generated += len(fresh)
	sim.metrics.Generated += len(fresh)
	return fresh, nil
}

// Phase 2 for one customer: route from its current station and queue it on
// the platform of its first line. Unroutable customers are released.
func (sim *Simulator) routeNew(idx int64) error {
	seg, ok, err := sim.route(idx)
	if err != nil || !ok {
		return err
	}
	st, _ := sim.net.Station(seg.From)
	st.EnqueuePassenger(idx, seg.Line)
	return nil
}

// route assigns a path and returns its first leg. ok is false when the
// customer had no route and has been discarded.
func (sim *Simulator) route(idx int64) (paths.Segment, bool, error) {
	r, err := sim.store.Get(idx)
	if err != nil {
		return paths.Segment{}, false, err
	}
	id, err := sim.net.AssignPathToCustomer(sim.store, idx)
	if err != nil {
		if !errors.Is(err, network.ErrNoRoute) && !errors.Is(err, network.ErrUnknownStation) {
			return paths.Segment{}, false, err
		}
		sim.tick.Unroutable++
		sim.metrics.Unroutable++
		sim.recordRouting(r, 0, nil, err)
		logrus.Debugf("[t=%.0f] customer %d discarded: %v", sim.Clock, r.ID, err)
		return paths.Segment{}, false, sim.store.ReleaseIndex(idx)
	}
	segs, err := sim.net.Paths().Expand(id)
	if err != nil {
		return paths.Segment{}, false, err
	}
	sim.recordRouting(r, id, segs, nil)
	return segs[0], true, nil
}

func (sim *Simulator) recordRouting(r records.Record, id paths.PathID, segs []paths.Segment, err error) {
	if sim.trace == nil {
		return
	}
	rec := trace.RoutingRecord{
		CustomerID: r.ID,
		Clock:      sim.Clock,
		Origin:     r.Current,
		Dest:       r.Dest,
		PathID:     uint32(id),
		Route:      paths.Format(segs),
	}
	if err != nil {
		rec.Reason = err.Error()
	}
	sim.trace.RecordRouting(rec)
}

// Phase 3.
func (sim *Simulator) spawn(now float64) error {
	for _, l := range sim.lines {
		if sim.down[l.Code()] > 0 {
			continue
		}
		deferred := l.Fleet().Deferred()
		events := l.Fleet().Tick(now)
		if d := l.Fleet().Deferred() - deferred; d > 0 {
			sim.tick.Deferred += d
			sim.metrics.DeferredSpawns += d
		}
		for _, ev := range events {
			timetable, err := l.BuildTimetable(now, ev.Direction)
			if err != nil {
				return fmt.Errorf("line %s: %w", l.Code(), err)
			}
			ev.Train.Start(timetable, ev.Direction, now)
			sim.trains = append(sim.trains, ev.Train)
			sim.tick.Spawned++
			sim.metrics.Spawned++
			if ev.Reused {
				sim.metrics.ReusedSpawns++
			}
			logrus.Debugf("[t=%.0f] line %s: train %d departs %s from %d", now, l.Code(), ev.Train.ID, ev.Direction, timetable[0].Station)
			if sim.trace != nil {
				sim.trace.RecordSpawn(trace.SpawnRecord{
					Clock:     now,
					Line:      l.Code(),
					TrainID:   uint32(ev.Train.ID),
					Direction: ev.Direction.String(),
					Reused:    ev.Reused,
				})
			}
		}
	}
	return nil
}

// Phase 4.
func (sim *Simulator) advanceTrains(now float64) error {
	for _, t := range slices.Clone(sim.trains) {
		if !t.Step(sim.cfg.DT, now) {
			continue
		}
		if err := sim.serveStop(t, now); err != nil {
			return err
		}
	}
	sim.trains = slices.DeleteFunc(sim.trains, func(t *fleet.Train) bool {
		return t.Status() == fleet.StatusIdle
	})
	return nil
}

// serveStop runs alight, board and, at a terminal, turnaround for a train
// that has just reached a station.
func (sim *Simulator) serveStop(t *fleet.Train, now float64) error {
	l, err := sim.net.Line(t.Line)
	if err != nil {
		return err
	}
	st, ok := sim.net.Station(t.CurrentStation())
	if !ok {
		return fmt.Errorf("train %d at station %d: %w", t.ID, t.CurrentStation(), network.ErrUnknownStation)
	}
	res, err := t.Alight(sim.store, sim.net.Paths(), now)
	if err != nil {
		return err
	}
	for _, idx := range res.Arrived {
		if err := sim.recordArrival(idx, now); err != nil {
			return err
		}
	}
	for _, tr := range res.Transfers {
		if err := st.TransferPassenger(tr.Index, tr.NextLine, sim.store, now); err != nil {
			return err
		}
	}
	sim.tick.Alighted += len(res.Arrived) + len(res.Transfers)
	sim.tick.Arrived += len(res.Arrived)
	sim.tick.Transfers += len(res.Transfers)
	sim.metrics.Transfers += len(res.Transfers)

	var boarded, left int
	if t.AtTerminal() {
		boarded, left, err = sim.turnAround(t, l, st, now)
	} else {
		boarded, left, err = sim.board(t, st, now)
	}
	if err != nil {
		return err
	}
	if sim.trace != nil {
		sim.trace.RecordStop(trace.StopRecord{
			Clock:      now,
			Line:       t.Line,
			TrainID:    uint32(t.ID),
			Station:    st.ID,
			Alighted:   len(res.Arrived),
			Transfers:  len(res.Transfers),
			Boarded:    boarded,
			LeftBehind: left,
			Occupancy:  t.Occupancy(),
		})
	}
	return nil
}

func (sim *Simulator) recordArrival(idx int64, now float64) error {
	r, err := sim.store.Get(idx)
	if err != nil {
		return err
	}
	sim.arrived = append(sim.arrived, arrival{idx: idx, at: now})
	sim.metrics.Arrived++
	sim.metrics.JourneyTimes = append(sim.metrics.JourneyTimes, r.TapOff-r.Spawn)
	sim.metrics.WaitTimes = append(sim.metrics.WaitTimes, r.TotalWait)
	return nil
}

// board fills t from st's platform with riders headed to t's next stop.
func (sim *Simulator) board(t *fleet.Train, st *network.Station, now float64) (int, int, error) {
	next, ok := t.NextStop()
	if !ok {
		return 0, 0, nil
	}
	req := network.BoardingRequest{Line: t.Line, Next: next.Station, Headroom: t.Headroom()}
	selected, left, err := st.DequeueForBoarding(req, sim.store, sim.net.Paths())
	if err != nil {
		return 0, 0, err
	}
	boarded, rejected, err := t.Board(selected, sim.store, now)
	if len(rejected) > 0 {
		st.Requeue(rejected, t.Line)
	}
	if err != nil {
		return len(boarded), left, err
	}
	sim.tick.Boarded += len(boarded)
	sim.tick.LeftBehind += left
	sim.metrics.Boarded += len(boarded)
	sim.metrics.LeftBehind += left
	sim.metrics.PeakOccupancy = max(sim.metrics.PeakOccupancy, t.Occupancy())
	if left > 0 {
		logrus.Debugf("[t=%.0f] station %d: %d left behind by train %d", now, st.ID, left, t.ID)
	}
	return len(boarded), left, nil
}

// turnAround handles a train at the end of its timetable. On a
// bidirectional line within service hours the train reverses and loads for
// the return trip; otherwise it is released to the idle pool.
func (sim *Simulator) turnAround(t *fleet.Train, l *network.Line, st *network.Station, now float64) (int, int, error) {
	if t.Occupancy() > 0 {
		evicted, err := t.Evict(sim.store)
		if err != nil {
			return 0, 0, err
		}
		sim.metrics.Evicted += len(evicted)
		for _, idx := range evicted {
			if err := sim.reroute(idx, st, now); err != nil {
				return 0, 0, err
			}
		}
	}
	if l.Bidirectional() && l.Fleet().InService(now) {
		timetable, err := l.BuildTimetable(now, -t.Direction())
		if err != nil {
			return 0, 0, err
		}
		t.ReverseDirection()
		t.Start(timetable, t.Direction(), now)
		t.Step(0, now)
		sim.metrics.Reversals++
		logrus.Debugf("[t=%.0f] line %s: train %d reverses at %d", now, l.Code(), t.ID, st.ID)
		return sim.board(t, st, now)
	}
	logrus.Debugf("[t=%.0f] line %s: train %d returns to pool", now, l.Code(), t.ID)
	return 0, 0, l.Fleet().ReleaseTrain(t.ID)
}

// reroute plans a fresh path for a rider put off a train at st and queues
// it there as a transfer.
func (sim *Simulator) reroute(idx int64, st *network.Station, now float64) error {
	seg, ok, err := sim.route(idx)
	if err != nil || !ok {
		return err
	}
	return st.TransferPassenger(idx, seg.Line, sim.store, now)
}

// Phase 5.
func (sim *Simulator) account(now float64) error {
	for _, st := range sim.stations {
		n, err := st.PromoteTransfers(sim.store, now)
		if err != nil {
			return err
		}
		sim.tick.Promoted += n
	}
	return sim.store.ForEachLive(func(idx int64, r records.Record) error {
		switch r.State {
		case records.StateWaiting:
			sim.tick.Waiting++
		case records.StateOnboard:
			sim.tick.Onboard++
		case records.StateTransferring:
			sim.tick.Transferring++
		case records.StateArrived:
			sim.tick.ArrivedLive++
		}
		sim.store.AccrueTime(idx, sim.cfg.DT)
		return nil
	})
}

// Phase 6.
func (sim *Simulator) aggregate() {
	sim.tick.ActiveTrains = len(sim.trains)
	sim.tick.ActiveCustomers = sim.store.Live()
	riders, running := 0, 0
	for _, t := range sim.trains {
		if t.Status() != fleet.StatusInService {
			continue
		}
		riders += t.Occupancy()
		running++
	}
	if running > 0 {
		sim.tick.MeanOccupancy = float64(riders) / float64(running)
	}
}

// Phase 7. A sink failure is counted and logged; failing to read the store
// is fatal.
func (sim *Simulator) maybeSnapshot(now float64) error {
	if sim.sink == nil || sim.cfg.SnapshotEvery <= 0 || (sim.TickCount+1)%sim.cfg.SnapshotEvery != 0 {
		return nil
	}
	snap := snapshot.Snapshot{Tick: sim.TickCount, Time: now}
	err := sim.store.ForEachLive(func(_ int64, r records.Record) error {
		snap.Records = append(snap.Records, r)
		return nil
	})
	if err != nil {
		return fmt.Errorf("collecting snapshot for tick %d: %w", sim.TickCount, err)
	}
	if err := sim.sink.WriteSnapshot(snap); err != nil {
		sim.metrics.SnapshotFailures++
		logrus.Warnf("[t=%.0f] snapshot for tick %d failed: %v", now, sim.TickCount, err)
		return nil
	}
	sim.metrics.SnapshotsWritten++
	sim.lastSnapshot = now
	return nil
}

func (sim *Simulator) snapshotting() bool {
	return sim.sink != nil && sim.cfg.SnapshotEvery > 0
}

// Phase 8: free the slots of customers that arrived at least
// ArrivedRetention ago and, when snapshots are on, have appeared in one.
func (sim *Simulator) releaseArrived(now float64) error {
	n := 0
	for _, a := range sim.arrived {
		if now-a.at < sim.cfg.ArrivedRetention {
			break
		}
		if sim.snapshotting() && a.at > sim.lastSnapshot {
			break
		}
		if err := sim.store.ReleaseIndex(a.idx); err != nil {
			return err
		}
		n++
	}
	sim.arrived = slices.Delete(sim.arrived, 0, n)
	sim.tick.Released = n
	sim.metrics.Released += n
	return nil
}
