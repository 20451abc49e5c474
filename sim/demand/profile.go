package demand

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// Profile returns the arrival rate, in customers per second, at simulation time now.
type Profile interface {
	Rate(now float64) float64
}

// ProfileFunc adapts a plain function to Profile.
type ProfileFunc func(now float64) float64

func (f ProfileFunc) Rate(now float64) float64 { return f(now) }

// Constant is a time-invariant rate.
type Constant float64

func (c Constant) Rate(float64) float64 { return float64(c) }

// DailyPeak is Base plus a Gaussian bump of height Peak centred on PeakHour
// with standard deviation Spread hours. The bump repeats every day.
type DailyPeak struct {
	Base     float64
	Peak     float64
	PeakHour float64
	Spread   float64
}

func (d DailyPeak) Rate(now float64) float64 {
	hour := hourOfDay(now)
	z := (hour - d.PeakHour) / d.Spread
	return d.Base + d.Peak*math.Exp(-0.5*z*z)
}

// Point sets the rate from Hour (of day) until the next point.
type Point struct {
	Hour float64
	Rate float64
}

// Piecewise is a daily step function. Hours before the first point take the
// rate of the last point, so the profile wraps at midnight.
type Piecewise struct {
	points []Point
}

// NewPiecewise returns a step profile over points sorted by hour.
func NewPiecewise(points []Point) (Piecewise, error) {
	if len(points) == 0 {
		return Piecewise{}, fmt.Errorf("piecewise profile needs at least one point")
	}
	ps := slices.Clone(points)
	slices.SortStableFunc(ps, func(a, b Point) int { return cmp.Compare(a.Hour, b.Hour) })
	for _, p := range ps {
		if p.Hour < 0 || p.Hour >= 24 {
			return Piecewise{}, fmt.Errorf("piecewise point hour %v outside [0, 24)", p.Hour)
		}
		if p.Rate < 0 {
			return Piecewise{}, fmt.Errorf("piecewise point at hour %v has negative rate %v", p.Hour, p.Rate)
		}
	}
	return Piecewise{points: ps}, nil
}

func (p Piecewise) Rate(now float64) float64 {
	if len(p.points) == 0 {
		return 0
	}
	hour := hourOfDay(now)
	rate := p.points[len(p.points)-1].Rate
	for _, pt := range p.points {
		if pt.Hour > hour {
			break
		}
		rate = pt.Rate
	}
	return rate
}

func hourOfDay(now float64) float64 {
	h := math.Mod(now/3600, 24)
	if h < 0 {
		h += 24
	}
	return h
}
