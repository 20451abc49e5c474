package network

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/railsim/railsim/sim/fleet"
	"github.com/railsim/railsim/sim/paths"
	"github.com/railsim/railsim/sim/records"
)

// DefaultStationCapacity is the crowding threshold when a station spec sets none.
const DefaultStationCapacity = 5000

// StationSpec describes a station.
type StationSpec struct {
	ID           uint32
	Name         string
	Capacity     int     // queue length above which the station counts as crowded
	TransferTime float64 // seconds before a transferring rider may board
}

// BoardingRequest describes a train at the platform: it runs on Line and
// calls next at Next. Headroom bounds the number of riders selected.
type BoardingRequest struct {
	Line     string
	Next     uint32
	Headroom int
}

type pendingTransfer struct {
	idx     int64
	readyAt float64
}

// Station holds the riders waiting at one station. The master queue keeps
// every queued index in arrival order; each platform sub-queue keeps the
// riders whose next leg is on that line, in the same relative order.
type Station struct {
	ID           uint32
	Name         string
	Capacity     int
	TransferTime float64

	lines     []string // sorted
	queue     []int64
	platforms map[string][]int64
	transfers []pendingTransfer
	crowded   bool

	TotalEnqueued   int
	TotalBoarded    int
	TotalLeftBehind int
	TotalTransfers  int
	CrowdingEvents  int
}

func newStation(spec StationSpec) *Station {
	capacity := spec.Capacity
	if capacity <= 0 {
		capacity = DefaultStationCapacity
	}
	return &Station{
		ID:           spec.ID,
		Name:         spec.Name,
		Capacity:     capacity,
		TransferTime: spec.TransferTime,
		platforms:    make(map[string][]int64),
	}
}

func (s *Station) addLine(code string) {
	if i, found := slices.BinarySearch(s.lines, code); !found {
		s.lines = slices.Insert(s.lines, i, code)
	}
}

// Lines returns the codes of the lines serving the station, sorted.
func (s *Station) Lines() []string { return slices.Clone(s.lines) }

// EnqueuePassenger appends idx to the master queue and to line's platform.
func (s *Station) EnqueuePassenger(idx int64, line string) {
	s.enqueue(idx, line)
	s.TotalEnqueued++
}

func (s *Station) enqueue(idx int64, line string) {
	s.queue = append(s.queue, idx)
	s.platforms[line] = append(s.platforms[line], idx)
	s.checkCrowding()
}

// Requeue puts indices back at the front of line's platform and of the
// master queue, preserving their order.
func (s *Station) Requeue(indices []int64, line string) {
	if len(indices) == 0 {
		return
	}
	s.queue = append(slices.Clone(indices), s.queue...)
	s.platforms[line] = append(slices.Clone(indices), s.platforms[line]...)
}

func (s *Station) checkCrowding() {
	over := len(s.queue) > s.Capacity
	if over && !s.crowded {
		s.CrowdingEvents++
		logrus.Warnf("station %d (%s): %d waiting exceeds capacity %d", s.ID, s.Name, len(s.queue), s.Capacity)
	}
	s.crowded = over
}

// DequeueForBoarding selects, in queue order, the waiting riders on req.Line's
// platform whose next leg is req.Line from this station to req.Next. At most
// req.Headroom are removed and returned; the remaining eligible riders stay
// queued and are reported as leftBehind.
func (s *Station) DequeueForBoarding(req BoardingRequest, store *records.Store, lookup fleet.PathLookup) (selected []int64, leftBehind int, err error) {
	platform := s.platforms[req.Line]
	kept := make([]int64, 0, len(platform))
	for _, idx := range platform {
		if store.State(idx) != records.StateWaiting {
			kept = append(kept, idx)
			continue
		}
		seg, _, ok, err := lookup.NextFrom(paths.PathID(store.PathID(idx)), s.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("station %d: record at %d: %w", s.ID, idx, err)
		}
		if !ok || seg.Line != req.Line || seg.To != req.Next {
			kept = append(kept, idx)
			continue
		}
		if len(selected) < req.Headroom {
			selected = append(selected, idx)
			continue
		}
		leftBehind++
		kept = append(kept, idx)
	}
	s.platforms[req.Line] = kept
	if len(selected) > 0 {
		s.removeFromQueue(selected)
	}
	s.TotalBoarded += len(selected)
	s.TotalLeftBehind += leftBehind
	return selected, leftBehind, nil
}

func (s *Station) removeFromQueue(indices []int64) {
	gone := make(map[int64]struct{}, len(indices))
	for _, idx := range indices {
		gone[idx] = struct{}{}
	}
	s.queue = slices.DeleteFunc(s.queue, func(idx int64) bool {
		_, ok := gone[idx]
		return ok
	})
	s.crowded = len(s.queue) > s.Capacity
}

// TransferPassenger queues a rider changing to nextLine here. The rider
// stays transferring until PromoteTransfers runs at or after
// now + TransferTime.
func (s *Station) TransferPassenger(idx int64, nextLine string, store *records.Store, now float64) error {
	err := store.Update(idx, func(r *records.Record) {
		r.State = records.StateTransferring
		r.Current = s.ID
		r.OnTrain = 0
	})
	if err != nil {
		return fmt.Errorf("station %d transfer: %w", s.ID, err)
	}
	s.transfers = append(s.transfers, pendingTransfer{idx: idx, readyAt: now + s.TransferTime})
	s.TotalTransfers++
	s.enqueue(idx, nextLine)
	return nil
}

// PromoteTransfers flips transferring riders whose penalty has elapsed to
// waiting and returns how many were promoted.
func (s *Station) PromoteTransfers(store *records.Store, now float64) (int, error) {
	promoted := 0
	kept := s.transfers[:0]
	for _, p := range s.transfers {
		if p.readyAt > now {
			kept = append(kept, p)
			continue
		}
		err := store.Update(p.idx, func(r *records.Record) { r.State = records.StateWaiting })
		if err != nil {
			return promoted, fmt.Errorf("station %d promote: %w", s.ID, err)
		}
		promoted++
	}
	clear(s.transfers[len(kept):])
	s.transfers = kept
	return promoted, nil
}

// Waiting returns a copy of the master queue.
func (s *Station) Waiting() []int64 { return slices.Clone(s.queue) }

// Len returns the number of queued riders, transferring ones included.
func (s *Station) Len() int { return len(s.queue) }

// PlatformLen returns the number of riders queued for line.
func (s *Station) PlatformLen(line string) int { return len(s.platforms[line]) }

// Transferring returns the number of riders still serving a transfer penalty.
func (s *Station) Transferring() int { return len(s.transfers) }
