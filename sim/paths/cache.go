// Package paths implements the content-addressed path cache. A path is the
// ordered list of line segments a customer rides from origin to destination;
// identical (origin, destination, segments) triples always resolve to the
// same PathID.
package paths

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrPathNotFound is returned by Expand for ids the cache never issued.
var ErrPathNotFound = errors.New("path not found")

// PathID identifies a cached path. Zero is never issued and marks an unrouted record.
type PathID uint32

// Segment is one leg of a route: ride Line from station From to station To.
type Segment struct {
	Line string
	From uint32
	To   uint32
}

func (s Segment) String() string {
	return fmt.Sprintf("(%s %d->%d)", s.Line, s.From, s.To)
}

// Format renders segments as a compact route string, e.g. "(T1 1->2) (T1 2->3)".
func Format(segs []Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.String()
	}
	return strings.Join(parts, " ")
}

type entry struct {
	origin, dest uint32
	segments     []Segment
}

type digest [sha256.Size]byte

// Cache stores immutable path entries keyed by a SHA-256 digest of their
// content. A digest hit is confirmed by full comparison; distinct contents
// sharing a digest live side by side in the same bucket.
//
// Not thread-safe; owned by the Network.
type Cache struct {
	entries []entry // entries[id-1]
	buckets map[digest][]PathID
	hash    func(origin, dest uint32, segs []Segment) digest
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		buckets: make(map[digest][]PathID),
		hash:    contentHash,
	}
}

func contentHash(origin, dest uint32, segs []Segment) digest {
	h := sha256.New()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], origin)
	h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:], dest)
	h.Write(buf[:])
	for _, s := range segs {
		binary.LittleEndian.PutUint32(buf[:], uint32(len(s.Line)))
		h.Write(buf[:])
		h.Write([]byte(s.Line))
		binary.LittleEndian.PutUint32(buf[:], s.From)
		h.Write(buf[:])
		binary.LittleEndian.PutUint32(buf[:], s.To)
		h.Write(buf[:])
	}
	var d digest
	h.Sum(d[:0])
	return d
}

// Plan returns the id of the entry for (origin, dest, segs), creating it on first use.
// segs is copied; later changes by the caller do not affect the cache.
func (c *Cache) Plan(origin, dest uint32, segs []Segment) PathID {
	d := c.hash(origin, dest, segs)
	for _, id := range c.buckets[d] {
		e := &c.entries[id-1]
		if e.origin == origin && e.dest == dest && slices.Equal(e.segments, segs) {
			return id
		}
	}
	c.entries = append(c.entries, entry{origin: origin, dest: dest, segments: slices.Clone(segs)})
	id := PathID(len(c.entries))
	c.buckets[d] = append(c.buckets[d], id)
	return id
}

// Expand returns a copy of the segments stored under id.
func (c *Cache) Expand(id PathID) ([]Segment, error) {
	e, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(e.segments), nil
}

// Endpoints returns the origin and destination stored under id.
func (c *Cache) Endpoints(id PathID) (origin, dest uint32, err error) {
	e, err := c.lookup(id)
	if err != nil {
		return 0, 0, err
	}
	return e.origin, e.dest, nil
}

// NextFrom returns the segment of path id departing station, and whether it
// is the final segment. ok is false when the path does not leave station,
// which for a rider means station is the destination.
func (c *Cache) NextFrom(id PathID, station uint32) (seg Segment, last bool, ok bool, err error) {
	e, err := c.lookup(id)
	if err != nil {
		return Segment{}, false, false, err
	}
	seg, last, ok = NextSegment(e.segments, station)
	return seg, last, ok, nil
}

func (c *Cache) lookup(id PathID) (*entry, error) {
	if id == 0 || int(id) > len(c.entries) {
		return nil, fmt.Errorf("path %d: %w", id, ErrPathNotFound)
	}
	return &c.entries[id-1], nil
}

// Len returns the number of distinct entries.
func (c *Cache) Len() int { return len(c.entries) }

// NextSegment returns the segment in segs departing station and whether it
// is the last one. Paths produced by shortest-path search visit a station at
// most once, so the first match is the only one.
func NextSegment(segs []Segment, station uint32) (seg Segment, last bool, ok bool) {
	for i, s := range segs {
		if s.From == station {
			return s, i == len(segs)-1, true
		}
	}
	return Segment{}, false, false
}
