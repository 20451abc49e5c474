// Package network holds the rail topology: stations, lines and the path
// cache, plus shortest-path routing over the station graph.
package network

import (
	"cmp"
	"container/heap"
	"fmt"
	"math"
	"slices"

	"github.com/bluele/gcache"
	"github.com/sirupsen/logrus"

	"github.com/railsim/railsim/sim/paths"
	"github.com/railsim/railsim/sim/records"
)

// DefaultRouteCacheSize bounds the number of memoised origin/destination pairs.
const DefaultRouteCacheSize = 10000

type edge struct {
	to     uint32
	line   string
	weight float64
}

type odPair struct {
	origin, dest uint32
}

type routeResult struct {
	id  paths.PathID
	err error
}

// Option configures a Network.
type Option func(*Network)

// WithRouteCacheSize sets the LRU capacity of the route cache.
func WithRouteCacheSize(n int) Option {
	return func(nw *Network) { nw.routeCacheSize = n }
}

// Network owns the stations, lines and path cache. Edges are directed and
// labelled with a line code; a bidirectional line contributes both
// directions. The graph is rebuilt on every topology change.
//
// Thread-safety: NOT thread-safe.
type Network struct {
	stations map[uint32]*Station
	lines    []*Line
	byCode   map[string]*Line
	adj      map[uint32][]edge
	paths    *paths.Cache

	routeCacheSize int
	routes         gcache.Cache
	RouteFailures  int
}

// New returns an empty network.
func New(opts ...Option) *Network {
	nw := &Network{
		stations:       make(map[uint32]*Station),
		byCode:         make(map[string]*Line),
		adj:            make(map[uint32][]edge),
		paths:          paths.NewCache(),
		routeCacheSize: DefaultRouteCacheSize,
	}
	for _, o := range opts {
		o(nw)
	}
	nw.routes = gcache.New(nw.routeCacheSize).LRU().Build()
	return nw
}

// AddStation registers a station.
func (nw *Network) AddStation(spec StationSpec) (*Station, error) {
	if spec.ID == 0 {
		return nil, fmt.Errorf("station id 0 is reserved: %w", ErrUnknownStation)
	}
	if _, dup := nw.stations[spec.ID]; dup {
		return nil, fmt.Errorf("station %d: %w", spec.ID, ErrDuplicateStation)
	}
	st := newStation(spec)
	nw.stations[spec.ID] = st
	nw.rebuild()
	return st, nil
}

// AddLine registers a line. Every station on it must already exist.
func (nw *Network) AddLine(l *Line) error {
	if _, dup := nw.byCode[l.code]; dup {
		return fmt.Errorf("line %s: %w", l.code, ErrDuplicateLine)
	}
	for _, other := range nw.lines {
		if other.id == l.id {
			return fmt.Errorf("line %s: id %d already used by %s: %w", l.code, l.id, other.code, ErrDuplicateLine)
		}
	}
	for _, s := range l.stations {
		if _, ok := nw.stations[s]; !ok {
			return fmt.Errorf("line %s: station %d: %w", l.code, s, ErrUnknownStation)
		}
	}
	nw.lines = append(nw.lines, l)
	nw.byCode[l.code] = l
	for _, s := range l.stations {
		nw.stations[s].addLine(l.code)
	}
	nw.rebuild()
	return nil
}

func (nw *Network) rebuild() {
	adj := make(map[uint32][]edge, len(nw.stations))
	for _, l := range nw.lines {
		for i := 0; i+1 < len(l.stations); i++ {
			adj[l.stations[i]] = append(adj[l.stations[i]], edge{to: l.stations[i+1], line: l.code, weight: l.travel[i]})
		}
		if !l.bidirectional {
			continue
		}
		for i := len(l.stations) - 1; i > 0; i-- {
			adj[l.stations[i]] = append(adj[l.stations[i]], edge{to: l.stations[i-1], line: l.code, weight: l.travel[i-1]})
		}
	}
	nw.adj = adj
	nw.routes.Purge()
	logrus.Debugf("network rebuilt: %d stations, %d lines", len(nw.stations), len(nw.lines))
}

// FindPath returns the path id of the minimum travel-time route from origin
// to dest. Equal-cost ties resolve to the order edges were added.
func (nw *Network) FindPath(origin, dest uint32) (paths.PathID, error) {
	for _, s := range []uint32{origin, dest} {
		if _, ok := nw.stations[s]; !ok {
			return 0, fmt.Errorf("station %d: %w", s, ErrUnknownStation)
		}
	}
	if origin == dest {
		return 0, fmt.Errorf("%d -> %d: origin equals destination: %w", origin, dest, ErrNoRoute)
	}
	key := odPair{origin, dest}
	if v, err := nw.routes.Get(key); err == nil {
		r := v.(routeResult)
		return r.id, r.err
	}
	segs, err := nw.shortestPath(origin, dest)
	var res routeResult
	if err != nil {
		res.err = err
	} else {
		res.id = nw.paths.Plan(origin, dest, segs)
	}
	if err := nw.routes.Set(key, res); err != nil {
		logrus.Warnf("route cache: %v", err)
	}
	return res.id, res.err
}

type queueItem struct {
	station uint32
	dist    float64
	seq     int
}

// distQueue orders by distance, then push sequence.
type distQueue []queueItem

func (q distQueue) Len() int { return len(q) }
func (q distQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].seq < q[j].seq
}
func (q distQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *distQueue) Push(x any)   { *q = append(*q, x.(queueItem)) }
func (q *distQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

func (nw *Network) shortestPath(origin, dest uint32) ([]paths.Segment, error) {
	dist := map[uint32]float64{origin: 0}
	prev := make(map[uint32]paths.Segment)
	done := make(map[uint32]bool)
	q := &distQueue{{station: origin}}
	seq := 1
	for q.Len() > 0 {
		it := heap.Pop(q).(queueItem)
		if done[it.station] {
			continue
		}
		done[it.station] = true
		if it.station == dest {
			break
		}
		for _, e := range nw.adj[it.station] {
			if done[e.to] {
				continue
			}
			nd := it.dist + e.weight
			if d, seen := dist[e.to]; seen && nd >= d {
				continue
			}
			dist[e.to] = nd
			prev[e.to] = paths.Segment{Line: e.line, From: it.station, To: e.to}
			heap.Push(q, queueItem{station: e.to, dist: nd, seq: seq})
			seq++
		}
	}
	if !done[dest] {
		return nil, fmt.Errorf("%d -> %d: %w", origin, dest, ErrNoRoute)
	}
	var segs []paths.Segment
	for at := dest; at != origin; {
		seg := prev[at]
		segs = append(segs, seg)
		at = seg.From
	}
	slices.Reverse(segs)
	return segs, nil
}

// AssignPathToCustomer routes the record at idx from its current station to
// its destination and writes the path id into the record.
func (nw *Network) AssignPathToCustomer(store *records.Store, idx int64) (paths.PathID, error) {
	r, err := store.Get(idx)
	if err != nil {
		return 0, err
	}
	id, err := nw.FindPath(r.Current, r.Dest)
	if err != nil {
		nw.RouteFailures++
		return 0, err
	}
	r.PathID = uint32(id)
	return id, store.Put(idx, r)
}

// GetTransferOptions returns the lines serving station other than arrivingLine, sorted.
func (nw *Network) GetTransferOptions(station uint32, arrivingLine string) ([]string, error) {
	st, ok := nw.stations[station]
	if !ok {
		return nil, fmt.Errorf("station %d: %w", station, ErrUnknownStation)
	}
	out := make([]string, 0, len(st.lines))
	for _, code := range st.lines {
		if code != arrivingLine {
			out = append(out, code)
		}
	}
	return out, nil
}

// Station returns the station with id.
func (nw *Network) Station(id uint32) (*Station, bool) {
	st, ok := nw.stations[id]
	return st, ok
}

// Line returns the line with code.
func (nw *Network) Line(code string) (*Line, error) {
	l, ok := nw.byCode[code]
	if !ok {
		return nil, fmt.Errorf("line %q: %w", code, ErrUnknownLine)
	}
	return l, nil
}

// Stations returns all stations sorted by id.
func (nw *Network) Stations() []*Station {
	out := make([]*Station, 0, len(nw.stations))
	for _, st := range nw.stations {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b *Station) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Lines returns all lines in the order they were added.
func (nw *Network) Lines() []*Line { return slices.Clone(nw.lines) }

// Paths returns the network's path cache.
func (nw *Network) Paths() *paths.Cache { return nw.paths }

// CachedRoutes returns the number of memoised origin/destination results.
func (nw *Network) CachedRoutes() int { return nw.routes.Len(false) }

// PathTravelTime sums the segment running times of a path.
func (nw *Network) PathTravelTime(id paths.PathID) (float64, error) {
	segs, err := nw.paths.Expand(id)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, s := range segs {
		l, err := nw.Line(s.Line)
		if err != nil {
			return math.NaN(), err
		}
		tt, err := l.TravelTime(s.From, s.To)
		if err != nil {
			return math.NaN(), err
		}
		total += tt
	}
	return total, nil
}
