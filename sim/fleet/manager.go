// Package fleet implements per-line train fleets: departure policies, the
// fleet manager that spawns, pools and reuses trains under a fleet-size
// ceiling, and the Train entity itself.
package fleet

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
)

// ErrUnknownTrain is returned when releasing a train that is not active.
var ErrUnknownTrain = errors.New("train not active on this line")

// trainIDStride separates the id ranges of lines: line k issues ids
// k*trainIDStride+1, k*trainIDStride+2, ...
const trainIDStride = 10000

// SpawnEvent is a departure realised by Tick. Train is ready for Start.
type SpawnEvent struct {
	Train     *Train
	Direction Direction
	At        float64
	Reused    bool
}

// Config describes one line's fleet.
type Config struct {
	Line         string
	Ordinal      int // 1-based position of the line in the network, for id allocation
	FleetSize    int
	Capacity     int
	DwellTime    float64
	Policy       Policy
	ServiceHours ServiceHours
	Origins      []Direction // default {Forward}
}

type originClock struct {
	dir      Direction
	next     float64 // scheduled time of the pending departure
	deferred bool    // pending departure has already been counted as deferred
}

// Manager owns a line's trains. Invariant: len(active)+len(idle) <= FleetSize.
//
// Thread-safety: NOT thread-safe; driven by the simulation loop.
type Manager struct {
	cfg      Config
	trains   map[TrainID]*Train
	active   []TrainID // in spawn order
	idle     []TrainID // FIFO
	created  int
	clocks   []originClock
	deferred int
	serving  bool // previous Tick fell within service hours
}

// NewManager validates cfg and returns a manager with an empty fleet.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Line == "" {
		return nil, fmt.Errorf("fleet: line code is required")
	}
	if cfg.FleetSize < 1 || cfg.FleetSize >= trainIDStride {
		return nil, fmt.Errorf("fleet %s: fleet size %d outside [1, %d)", cfg.Line, cfg.FleetSize, trainIDStride)
	}
	if cfg.Ordinal < 1 {
		return nil, fmt.Errorf("fleet %s: ordinal must be >= 1, got %d", cfg.Line, cfg.Ordinal)
	}
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("fleet %s: negative capacity %d", cfg.Line, cfg.Capacity)
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("fleet %s: schedule policy is required", cfg.Line)
	}
	if h, ok := cfg.Policy.(Headway); ok && h.Interval <= 0 {
		return nil, fmt.Errorf("fleet %s: headway must be positive, got %v", cfg.Line, h.Interval)
	}
	if len(cfg.Origins) == 0 {
		cfg.Origins = []Direction{Forward}
	}
	m := &Manager{cfg: cfg, trains: make(map[TrainID]*Train)}
	for _, d := range cfg.Origins {
		m.clocks = append(m.clocks, originClock{dir: d, next: cfg.Policy.first()})
	}
	return m, nil
}

// Tick returns the departures realised at now. A due departure that cannot
// get a train stays due and is retried on the next tick; later departures
// queue behind it and are realised one per tick once trains free up.
// Departures scheduled before the first in-service tick are skipped. At most
// one train leaves each origin per tick.
func (m *Manager) Tick(now float64) []SpawnEvent {
	if !m.cfg.ServiceHours.Contains(now) {
		m.serving = false
		return nil
	}
	if !m.serving {
		m.serving = true
		m.skipMissed(now)
	}
	var events []SpawnEvent
	for i := range m.clocks {
		c := &m.clocks[i]
		if c.next > now {
			continue
		}
		t, reused, ok := m.allocate()
		if !ok {
			if !c.deferred {
				c.deferred = true
				m.deferred++
				logrus.Debugf("[t=%.0f] line %s: %s departure deferred, fleet of %d exhausted",
					now, m.cfg.Line, c.dir, m.cfg.FleetSize)
			}
			continue
		}
		c.deferred = false
		c.next = m.cfg.Policy.after(c.next, now)
		events = append(events, SpawnEvent{Train: t, Direction: c.dir, At: now, Reused: reused})
	}
	return events
}

// skipMissed drops departures scheduled before now, when the line was not
// running. A departure due exactly at now is kept. Headway departures are
// never skipped since the interval has always elapsed by the time service
// resumes.
func (m *Manager) skipMissed(now float64) {
	if _, ok := m.cfg.Policy.(Headway); ok {
		return
	}
	for i := range m.clocks {
		c := &m.clocks[i]
		skipped := 0
		for c.next < now {
			c.next = m.cfg.Policy.after(c.next, c.next)
			skipped++
		}
		if skipped > 0 {
			c.deferred = false
			logrus.Debugf("[t=%.0f] line %s: skipped %d %s departures outside service", now, m.cfg.Line, skipped, c.dir)
		}
	}
}

// AllocateTrain moves a train into the active set, preferring the idle pool.
// ok is false when the fleet ceiling is reached.
func (m *Manager) AllocateTrain() (id TrainID, reused bool, ok bool) {
	t, reused, ok := m.allocate()
	if !ok {
		return 0, false, false
	}
	return t.ID, reused, true
}

func (m *Manager) allocate() (*Train, bool, bool) {
	if len(m.idle) > 0 {
		id := m.idle[0]
		m.idle = m.idle[1:]
		m.active = append(m.active, id)
		return m.trains[id], true, true
	}
	if len(m.active)+len(m.idle) >= m.cfg.FleetSize {
		return nil, false, false
	}
	m.created++
	id := TrainID(m.cfg.Ordinal*trainIDStride + m.created)
	t := newTrain(id, m.cfg.Line, m.cfg.Capacity, m.cfg.DwellTime)
	m.trains[id] = t
	m.active = append(m.active, id)
	return t, false, true
}

// ReleaseTrain returns an active train to the idle pool and resets its trip state.
func (m *Manager) ReleaseTrain(id TrainID) error {
	i := slices.Index(m.active, id)
	if i < 0 {
		return fmt.Errorf("line %s release %d: %w", m.cfg.Line, id, ErrUnknownTrain)
	}
	m.active = slices.Delete(m.active, i, i+1)
	m.idle = append(m.idle, id)
	m.trains[id].reset()
	return nil
}

// Train returns the train with id, active or idle.
func (m *Manager) Train(id TrainID) (*Train, bool) {
	t, ok := m.trains[id]
	return t, ok
}

// ActiveTrains returns the active trains in spawn order.
func (m *Manager) ActiveTrains() []*Train {
	out := make([]*Train, len(m.active))
	for i, id := range m.active {
		out[i] = m.trains[id]
	}
	return out
}

// Active returns the ids of active trains in spawn order.
func (m *Manager) Active() []TrainID { return slices.Clone(m.active) }

// Idle returns the ids in the idle pool, next reused first.
func (m *Manager) Idle() []TrainID { return slices.Clone(m.idle) }

// Deferred returns the number of departures delayed by fleet exhaustion.
func (m *Manager) Deferred() int { return m.deferred }

// InService reports whether now falls within the line's service hours.
func (m *Manager) InService(now float64) bool { return m.cfg.ServiceHours.Contains(now) }

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.cfg }
