package fleet

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

// Policy decides when a line departs a train. It is a closed set of
// variants: Headway, Departures and Cron.
//
// Times are simulation seconds. first returns the first departure time;
// after returns the departure following one that was due at scheduled and
// realised at spawnedAt. +Inf means no further departures.
type Policy interface {
	Kind() string
	first() float64
	after(scheduled, spawnedAt float64) float64
}

// Headway departs a train whenever Interval seconds have elapsed since the
// previous departure from the same origin. The first departure is due
// immediately.
type Headway struct {
	Interval float64
}

func (Headway) Kind() string { return "headway" }

func (h Headway) first() float64 { return math.Inf(-1) }

func (h Headway) after(_, spawnedAt float64) float64 { return spawnedAt + h.Interval }

// Departures departs at an explicit list of times. Duplicate times collapse
// into a single departure.
type Departures struct {
	times []float64
}

// NewDepartures returns a Departures policy over a sorted copy of times.
func NewDepartures(times []float64) Departures {
	ts := slices.Clone(times)
	slices.Sort(ts)
	return Departures{times: slices.Compact(ts)}
}

func (Departures) Kind() string { return "departures" }

// Times returns the departure times in ascending order.
func (d Departures) Times() []float64 { return slices.Clone(d.times) }

func (d Departures) first() float64 {
	if len(d.times) == 0 {
		return math.Inf(1)
	}
	return d.times[0]
}

func (d Departures) after(scheduled, _ float64) float64 {
	i := sort.SearchFloat64s(d.times, scheduled)
	for i < len(d.times) && d.times[i] <= scheduled {
		i++
	}
	if i == len(d.times) {
		return math.Inf(1)
	}
	return d.times[i]
}

// Cron departs on a standard five-field cron expression evaluated against
// wall-clock time Epoch + simulation seconds.
type Cron struct {
	Expr  string
	Epoch time.Time
	sched cron.Schedule
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewCron parses expr. Simulation time 0 corresponds to epoch.
func NewCron(expr string, epoch time.Time) (Cron, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Cron{}, fmt.Errorf("parsing cron schedule %q: %w", expr, err)
	}
	return Cron{Expr: expr, Epoch: epoch, sched: sched}, nil
}

func (Cron) Kind() string { return "cron" }

func (c Cron) first() float64 {
	return c.next(c.Epoch.Add(-time.Nanosecond))
}

func (c Cron) after(scheduled, _ float64) float64 {
	return c.next(c.Epoch.Add(time.Duration(scheduled * float64(time.Second))))
}

func (c Cron) next(after time.Time) float64 {
	if c.sched == nil {
		panic("fleet: Cron policy used without NewCron")
	}
	n := c.sched.Next(after)
	if n.IsZero() {
		return math.Inf(1)
	}
	return n.Sub(c.Epoch).Seconds()
}

// ServiceHours is a daily window [Start, End) in hours of the day. A window
// with Start > End wraps past midnight. The zero value means all day.
type ServiceHours struct {
	Start float64
	End   float64
}

// AllDay is the service window covering every hour.
var AllDay = ServiceHours{Start: 0, End: 24}

// Contains reports whether simulation time now (seconds) falls in the window.
func (w ServiceHours) Contains(now float64) bool {
	if w == (ServiceHours{}) || (w.Start == 0 && w.End >= 24) {
		return true
	}
	hour := math.Mod(now/3600, 24)
	if hour < 0 {
		hour += 24
	}
	if w.Start <= w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}
