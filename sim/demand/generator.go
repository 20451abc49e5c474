// Package demand generates customers at stations. Arrival counts per tick
// are Poisson-distributed around a time-varying rate profile.
package demand

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/railsim/railsim/sim/records"
)

// Movement speed bounds in m/s.
const (
	minSpeed = 1.0
	maxSpeed = 1.5
)

// knuthLimit bounds the mean handed to a single Knuth draw; exp(-mean)
// underflows for large means.
const knuthLimit = 30.0

// Generator creates customers at one origin station.
type Generator struct {
	Origin       uint32
	destinations []uint32
	profile      Profile
	rng          *rand.Rand
}

// NewGenerator returns a generator for origin. The origin is removed from
// destinations; at least one destination must remain.
func NewGenerator(origin uint32, destinations []uint32, profile Profile, rng *rand.Rand) (*Generator, error) {
	if profile == nil {
		return nil, fmt.Errorf("demand at %d: profile is required", origin)
	}
	if rng == nil {
		panic("demand: NewGenerator requires an rng")
	}
	dests := slices.DeleteFunc(slices.Clone(destinations), func(d uint32) bool { return d == origin })
	if len(dests) == 0 {
		return nil, fmt.Errorf("demand at %d: no destinations other than the origin", origin)
	}
	return &Generator{Origin: origin, destinations: dests, profile: profile, rng: rng}, nil
}

// Destinations returns the destination set, origin excluded.
func (g *Generator) Destinations() []uint32 { return slices.Clone(g.destinations) }

// Generate allocates and writes this tick's arrivals and returns their indices.
// Store exhaustion is returned wrapped; no partial batch is left allocated.
func (g *Generator) Generate(store *records.Store, now, dt float64) ([]int64, error) {
	mean := g.profile.Rate(now) * dt
	if !(mean > 0) {
		return nil, nil
	}
	n := poisson(g.rng, mean)
	if n == 0 {
		return nil, nil
	}
	idxs, err := store.AllocateIndices(n)
	if err != nil {
		return nil, fmt.Errorf("generating %d customers at station %d: %w", n, g.Origin, err)
	}
	for _, idx := range idxs {
		r := records.Record{
			ID:            store.NextID(),
			Origin:        g.Origin,
			Dest:          g.destinations[g.rng.Intn(len(g.destinations))],
			Current:       g.Origin,
			State:         records.StateWaiting,
			TapOn:         records.NoTime,
			TapOff:        records.NoTime,
			Spawn:         now,
			MovementSpeed: float32(minSpeed + (maxSpeed-minSpeed)*g.rng.Float64()),
		}
		if err := store.Put(idx, r); err != nil {
			return nil, err
		}
	}
	return idxs, nil
}

// poisson draws from Poisson(mean) with Knuth's multiplication method,
// summing independent draws of at most knuthLimit for large means.
func poisson(rng *rand.Rand, mean float64) int {
	n := 0
	for mean > 0 {
		m := math.Min(mean, knuthLimit)
		mean -= m
		limit := math.Exp(-m)
		p := rng.Float64()
		for p > limit {
			n++
			p *= rng.Float64()
		}
	}
	return n
}
