package fleet

import (
	"fmt"
	"slices"

	"github.com/railsim/railsim/sim/paths"
	"github.com/railsim/railsim/sim/records"
)

// TrainID identifies a train network-wide. It is stored in the on_train
// column of onboard records, so zero is never issued.
type TrainID uint32

// Direction is the traversal order over a line's station list.
type Direction int8

const (
	Forward  Direction = 1
	Backward Direction = -1
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Stop is one timetable entry: the train reaches Station at Arrival.
type Stop struct {
	Arrival float64
	Station uint32
}

// Status is the lifecycle state of a train.
type Status int

const (
	StatusIdle Status = iota
	StatusInService
	StatusOutOfService
)

func (s Status) String() string {
	switch s {
	case StatusInService:
		return "in_service"
	case StatusOutOfService:
		return "out_of_service"
	default:
		return "idle"
	}
}

// PathLookup resolves the segment a rider takes from a station.
// *paths.Cache implements it.
type PathLookup interface {
	NextFrom(id paths.PathID, station uint32) (seg paths.Segment, last bool, ok bool, err error)
}

// Transfer is a rider leaving the train to change to NextLine.
type Transfer struct {
	Index    int64
	NextLine string
}

// AlightResult is the outcome of Alight at one stop.
type AlightResult struct {
	Arrived   []int64    // reached their destination
	Transfers []Transfer // change line here
	Stayed    int        // continue on this train
}

// Train is one trip-running vehicle. Riders are held as record indices;
// the record store is the only place their data lives.
//
// A Train is reused across trips: Manager.ReleaseTrain resets trip state
// while ID and Line persist.
type Train struct {
	ID        TrainID
	Line      string
	Capacity  int
	DwellTime float64

	status    Status
	direction Direction
	timetable []Stop
	next      int    // index of the next stop to reach
	current   uint32 // station last reached, 0 before the origin
	ratio     float64
	dwell     float64
	onboard   []int64
	pausedAt  float64
	trips     int
}

func newTrain(id TrainID, line string, capacity int, dwell float64) *Train {
	return &Train{ID: id, Line: line, Capacity: capacity, DwellTime: dwell, direction: Forward}
}

// Start puts the train in service on timetable. The train must be empty.
func (t *Train) Start(timetable []Stop, dir Direction, now float64) {
	if len(timetable) == 0 {
		panic(fmt.Sprintf("fleet: train %d started with an empty timetable", t.ID))
	}
	if len(t.onboard) > 0 {
		panic(fmt.Sprintf("fleet: train %d started with %d riders aboard", t.ID, len(t.onboard)))
	}
	t.timetable = slices.Clone(timetable)
	t.direction = dir
	t.next = 0
	t.current = 0
	t.ratio = 0
	t.dwell = 0
	t.pausedAt = 0
	t.status = StatusInService
	t.trips++
}

// reset clears trip state when the train returns to the idle pool.
func (t *Train) reset() {
	t.timetable = nil
	t.onboard = nil
	t.next = 0
	t.current = 0
	t.ratio = 0
	t.dwell = 0
	t.pausedAt = 0
	t.direction = Forward
	t.status = StatusIdle
}

// Step advances the train to time now. It returns true exactly once per
// timetabled stop, in the tick where the stop's arrival time is reached.
// The origin stop is reached in the tick the trip starts.
func (t *Train) Step(dt, now float64) bool {
	if t.status != StatusInService {
		return false
	}
	if t.next < len(t.timetable) && now >= t.timetable[t.next].Arrival {
		t.current = t.timetable[t.next].Station
		t.next++
		t.ratio = 0
		t.dwell = t.DwellTime
		return true
	}
	if t.dwell > 0 {
		t.dwell = max(0, t.dwell-dt)
		return false
	}
	if t.next > 0 && t.next < len(t.timetable) {
		depart := t.timetable[t.next-1].Arrival + t.DwellTime
		span := t.timetable[t.next].Arrival - depart
		if span > 0 {
			t.ratio = min(1, max(0, (now-depart)/span))
		}
	}
	return false
}

// Alight processes onboard riders at the current station.
func (t *Train) Alight(store *records.Store, lookup PathLookup, now float64) (AlightResult, error) {
	var res AlightResult
	kept := t.onboard[:0]
	for _, idx := range t.onboard {
		r, err := store.Get(idx)
		if err != nil {
			return res, fmt.Errorf("train %d alight: %w", t.ID, err)
		}
		seg, _, ok, err := lookup.NextFrom(paths.PathID(r.PathID), t.current)
		if err != nil {
			return res, fmt.Errorf("train %d alight record %d: %w", t.ID, r.ID, err)
		}
		r.Current = t.current
		switch {
		case !ok:
			r.State = records.StateArrived
			r.OnTrain = 0
			r.TapOff = now
			res.Arrived = append(res.Arrived, idx)
		case seg.Line != t.Line:
			r.State = records.StateTransferring
			r.OnTrain = 0
			res.Transfers = append(res.Transfers, Transfer{Index: idx, NextLine: seg.Line})
		default:
			kept = append(kept, idx)
			res.Stayed++
		}
		if err := store.Put(idx, r); err != nil {
			return res, err
		}
	}
	clear(t.onboard[len(kept):])
	t.onboard = kept
	return res, nil
}

// Board admits riders in the supplied order up to the remaining headroom.
// Riders that do not fit are returned in rejected, in order.
func (t *Train) Board(indices []int64, store *records.Store, now float64) (boarded, rejected []int64, err error) {
	n := min(len(indices), t.Headroom())
	for _, idx := range indices[:n] {
		err := store.Update(idx, func(r *records.Record) {
			r.State = records.StateOnboard
			r.OnTrain = uint32(t.ID)
			r.Current = t.current
			if r.TapOn == records.NoTime {
				r.TapOn = now
			}
		})
		if err != nil {
			return boarded, indices[len(boarded):], fmt.Errorf("train %d board: %w", t.ID, err)
		}
		t.onboard = append(t.onboard, idx)
		boarded = append(boarded, idx)
	}
	return boarded, indices[n:], nil
}

// Evict removes every rider. They become transferring at the current
// station; the caller re-routes them.
func (t *Train) Evict(store *records.Store) ([]int64, error) {
	out := t.onboard
	t.onboard = nil
	for _, idx := range out {
		err := store.Update(idx, func(r *records.Record) {
			r.State = records.StateTransferring
			r.OnTrain = 0
			r.Current = t.current
		})
		if err != nil {
			return out, fmt.Errorf("train %d evict: %w", t.ID, err)
		}
	}
	return out, nil
}

// ReverseDirection flips the traversal direction.
func (t *Train) ReverseDirection() {
	t.direction = -t.direction
}

// Suspend takes the train out of service at now. Timetable time does not
// elapse while suspended.
func (t *Train) Suspend(now float64) {
	if t.status != StatusInService {
		return
	}
	t.status = StatusOutOfService
	t.pausedAt = now
}

// Resume returns a suspended train to service, shifting every remaining
// arrival by the paused duration.
func (t *Train) Resume(now float64) {
	if t.status != StatusOutOfService {
		return
	}
	shift := now - t.pausedAt
	for i := t.next; i < len(t.timetable); i++ {
		t.timetable[i].Arrival += shift
	}
	t.status = StatusInService
}

// AtTerminal reports whether the train has reached the last stop of its timetable.
func (t *Train) AtTerminal() bool {
	return t.status != StatusIdle && t.next >= len(t.timetable)
}

// NextStop returns the upcoming stop, if any.
func (t *Train) NextStop() (Stop, bool) {
	if t.next >= len(t.timetable) {
		return Stop{}, false
	}
	return t.timetable[t.next], true
}

func (t *Train) Status() Status          { return t.status }
func (t *Train) Direction() Direction    { return t.direction }
func (t *Train) CurrentStation() uint32  { return t.current }
func (t *Train) PositionRatio() float64  { return t.ratio }
func (t *Train) DwellRemaining() float64 { return t.dwell }
func (t *Train) Occupancy() int          { return len(t.onboard) }
func (t *Train) Headroom() int           { return max(0, t.Capacity-len(t.onboard)) }
func (t *Train) Trips() int              { return t.trips }
func (t *Train) Onboard() []int64        { return slices.Clone(t.onboard) }
func (t *Train) Timetable() []Stop       { return slices.Clone(t.timetable) }
