package network

import (
	"fmt"
	"slices"

	"github.com/railsim/railsim/sim/fleet"
)

// LineSpec describes a line's topology and fleet.
type LineSpec struct {
	ID            int // 1-based; also the train id range of the line's fleet
	Code          string
	Stations      []uint32
	TravelTimes   []float64 // seconds between consecutive stations
	Bidirectional bool
	DwellTime     float64
	FleetSize     int
	Capacity      int
	Policy        fleet.Policy
	ServiceHours  fleet.ServiceHours
	Origins       []fleet.Direction
}

// Line is an ordered run of stations served by one fleet.
type Line struct {
	id            int
	code          string
	stations      []uint32
	travel        []float64
	index         map[uint32]int
	bidirectional bool
	dwell         float64
	fleet         *fleet.Manager
}

// NewLine validates spec and builds the line with its fleet manager.
func NewLine(spec LineSpec) (*Line, error) {
	if len(spec.Stations) < 2 {
		return nil, fmt.Errorf("line %s: %w: needs at least 2 stations, got %d", spec.Code, ErrInvalidLine, len(spec.Stations))
	}
	if len(spec.TravelTimes) != len(spec.Stations)-1 {
		return nil, fmt.Errorf("line %s: %w: %d travel times for %d stations",
			spec.Code, ErrInvalidLine, len(spec.TravelTimes), len(spec.Stations))
	}
	for i, tt := range spec.TravelTimes {
		if tt <= 0 {
			return nil, fmt.Errorf("line %s: %w: travel time %d is %v", spec.Code, ErrInvalidLine, i, tt)
		}
	}
	if spec.DwellTime < 0 {
		return nil, fmt.Errorf("line %s: %w: negative dwell time", spec.Code, ErrInvalidLine)
	}
	index := make(map[uint32]int, len(spec.Stations))
	for i, s := range spec.Stations {
		if _, dup := index[s]; dup {
			return nil, fmt.Errorf("line %s: %w: station %d listed twice", spec.Code, ErrInvalidLine, s)
		}
		index[s] = i
	}
	if !spec.Bidirectional && slices.Contains(spec.Origins, fleet.Backward) {
		return nil, fmt.Errorf("line %s: %w", spec.Code, ErrNotBidirectional)
	}
	mgr, err := fleet.NewManager(fleet.Config{
		Line:         spec.Code,
		Ordinal:      spec.ID,
		FleetSize:    spec.FleetSize,
		Capacity:     spec.Capacity,
		DwellTime:    spec.DwellTime,
		Policy:       spec.Policy,
		ServiceHours: spec.ServiceHours,
		Origins:      spec.Origins,
	})
	if err != nil {
		return nil, fmt.Errorf("line %s: %w", spec.Code, err)
	}
	return &Line{
		id:            spec.ID,
		code:          spec.Code,
		stations:      slices.Clone(spec.Stations),
		travel:        slices.Clone(spec.TravelTimes),
		index:         index,
		bidirectional: spec.Bidirectional,
		dwell:         spec.DwellTime,
		fleet:         mgr,
	}, nil
}

func (l *Line) ID() int                { return l.id }
func (l *Line) Code() string           { return l.code }
func (l *Line) Bidirectional() bool    { return l.bidirectional }
func (l *Line) DwellTime() float64     { return l.dwell }
func (l *Line) Fleet() *fleet.Manager  { return l.fleet }
func (l *Line) Stations() []uint32     { return slices.Clone(l.stations) }
func (l *Line) TravelTimes() []float64 { return slices.Clone(l.travel) }

// Serves reports whether station is on the line.
func (l *Line) Serves(station uint32) bool {
	_, ok := l.index[station]
	return ok
}

func (l *Line) position(station uint32) (int, error) {
	i, ok := l.index[station]
	if !ok {
		return 0, fmt.Errorf("station %d on line %s: %w", station, l.code, ErrOutOfRange)
	}
	return i, nil
}

// NextStation returns the station after current in direction dir.
func (l *Line) NextStation(current uint32, dir fleet.Direction) (uint32, error) {
	i, err := l.position(current)
	if err != nil {
		return 0, err
	}
	j := i + int(dir)
	if j < 0 || j >= len(l.stations) {
		return 0, fmt.Errorf("station %d on line %s heading %s: %w", current, l.code, dir, ErrEndOfLine)
	}
	return l.stations[j], nil
}

// TravelTime returns the running time between two stations on the line,
// in either order, excluding dwell.
func (l *Line) TravelTime(from, to uint32) (float64, error) {
	i, err := l.position(from)
	if err != nil {
		return 0, err
	}
	j, err := l.position(to)
	if err != nil {
		return 0, err
	}
	if i > j {
		i, j = j, i
	}
	var sum float64
	for k := i; k < j; k++ {
		sum += l.travel[k]
	}
	return sum, nil
}

// Origin returns the first station in traversal order dir.
func (l *Line) Origin(dir fleet.Direction) uint32 {
	if dir == fleet.Backward {
		return l.stations[len(l.stations)-1]
	}
	return l.stations[0]
}

// Terminal returns the last station in traversal order dir.
func (l *Line) Terminal(dir fleet.Direction) uint32 {
	return l.Origin(-dir)
}

// IsTerminal reports whether station ends the line in direction dir.
func (l *Line) IsTerminal(station uint32, dir fleet.Direction) bool {
	return l.Serves(station) && l.Terminal(dir) == station
}

// BuildTimetable lists every stop of a trip departing the origin of dir at
// start. Each following arrival adds the dwell at the previous stop and the
// running time of the segment.
func (l *Line) BuildTimetable(start float64, dir fleet.Direction) ([]fleet.Stop, error) {
	if dir == fleet.Backward && !l.bidirectional {
		return nil, fmt.Errorf("line %s: %w", l.code, ErrNotBidirectional)
	}
	n := len(l.stations)
	stops := make([]fleet.Stop, 0, n)
	t := start
	for k := 0; k < n; k++ {
		i := k
		if dir == fleet.Backward {
			i = n - 1 - k
		}
		if k > 0 {
			seg := i - 1 // forward: segment between i-1 and i
			if dir == fleet.Backward {
				seg = i
			}
			t += l.dwell + l.travel[seg]
		}
		stops = append(stops, fleet.Stop{Arrival: t, Station: l.stations[i]})
	}
	return stops, nil
}
