package sim

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/railsim/railsim/sim/trace"
)

// DefaultEpoch anchors simulation time zero for cron schedules when a
// scenario sets none. It is a Monday at midnight UTC.
var DefaultEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Scenario is a complete run description, loadable from a YAML file.
type Scenario struct {
	Seed             int64           `yaml:"seed"`
	DT               float64         `yaml:"dt" validate:"gt=0"`
	Ticks            int             `yaml:"ticks" validate:"gte=0"`
	Start            float64         `yaml:"start" validate:"gte=0"`
	Epoch            time.Time       `yaml:"epoch"`
	DwellTime        float64         `yaml:"dwell_time" validate:"gte=0"`
	ArrivedRetention float64         `yaml:"arrived_retention" validate:"gte=0"`
	Trace            string          `yaml:"trace"`
	Store            StoreConfig     `yaml:"store"`
	Snapshot         SnapshotConfig  `yaml:"snapshot"`
	RouteCacheSize   int             `yaml:"route_cache_size" validate:"gte=0"`
	Stations         []StationConfig `yaml:"stations" validate:"required,min=1,dive"`
	Lines            []LineConfig    `yaml:"lines" validate:"required,min=1,dive"`
	Demand           []DemandConfig  `yaml:"demand" validate:"dive"`
	Disruptions      []Disruption    `yaml:"disruptions" validate:"dive"`
}

// StoreConfig locates the record store. An empty Path keeps it in memory.
type StoreConfig struct {
	Path            string `yaml:"path"`
	InitialCapacity int64  `yaml:"initial_capacity" validate:"gte=0"`
	MaxCapacity     int64  `yaml:"max_capacity" validate:"gte=0"`
}

// SnapshotConfig enables Parquet snapshots when Dir is set.
type SnapshotConfig struct {
	Dir        string `yaml:"dir"`
	EveryTicks int    `yaml:"every_ticks" validate:"gte=0"`
}

// StationConfig describes one station.
type StationConfig struct {
	ID           uint32  `yaml:"id" validate:"required"`
	Name         string  `yaml:"name"`
	Capacity     int     `yaml:"capacity" validate:"gte=0"`
	TransferTime float64 `yaml:"transfer_time" validate:"gte=0"`
}

// LineConfig describes one line and its fleet.
type LineConfig struct {
	ID            int            `yaml:"id" validate:"gte=0"`
	Code          string         `yaml:"code" validate:"required"`
	Stations      []uint32       `yaml:"stations" validate:"required,min=2,dive,required"`
	TravelTimes   []float64      `yaml:"travel_times" validate:"required,dive,gt=0"`
	Bidirectional bool           `yaml:"bidirectional"`
	FleetSize     int            `yaml:"fleet_size" validate:"gte=1"`
	DwellTime     *float64       `yaml:"dwell_time" validate:"omitempty,gte=0"`
	Schedule      ScheduleConfig `yaml:"schedule"`
}

// ScheduleConfig selects exactly one departure policy: Headway (seconds),
// Departures (seconds since start of simulation) or Cron.
type ScheduleConfig struct {
	Headway      float64   `yaml:"headway" validate:"gte=0"`
	Departures   []float64 `yaml:"departures" validate:"dive,gte=0"`
	Cron         string    `yaml:"cron"`
	Capacity     int       `yaml:"capacity" validate:"gte=0"`
	ServiceHours []float64 `yaml:"service_hours" validate:"omitempty,len=2,dive,gte=0,lte=24"`
	Origins      string    `yaml:"origins" validate:"omitempty,oneof=forward both"`
}

// DemandConfig describes customer generation at one origin. An empty
// Destinations list means every other station.
type DemandConfig struct {
	Origin       uint32        `yaml:"origin" validate:"required"`
	Destinations []uint32      `yaml:"destinations"`
	Pattern      PatternConfig `yaml:"pattern"`
}

// PatternConfig selects a rate profile. Rates are customers per second.
type PatternConfig struct {
	Type     string        `yaml:"type" validate:"oneof=constant daily_peak piecewise"`
	Rate     float64       `yaml:"rate" validate:"gte=0"`
	Base     float64       `yaml:"base" validate:"gte=0"`
	Peak     float64       `yaml:"peak" validate:"gte=0"`
	PeakHour float64       `yaml:"peak_hour" validate:"gte=0,lt=24"`
	Spread   float64       `yaml:"spread" validate:"gte=0"`
	Points   []PointConfig `yaml:"points" validate:"dive"`
}

// PointConfig is one step of a piecewise profile.
type PointConfig struct {
	Hour float64 `yaml:"hour" validate:"gte=0,lt=24"`
	Rate float64 `yaml:"rate" validate:"gte=0"`
}

// LoadScenario reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	sc.applyDefaults()
	return &sc, nil
}

func (s *Scenario) applyDefaults() {
	if s.Epoch.IsZero() {
		s.Epoch = DefaultEpoch
	}
	for i := range s.Lines {
		if s.Lines[i].ID == 0 {
			s.Lines[i].ID = i + 1
		}
	}
}

var structValidator = validator.New()

// Validate checks field ranges and cross-references between stations,
// lines, demand and disruptions.
func (s *Scenario) Validate() error {
	if err := structValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	if !trace.IsValidTraceLevel(s.Trace) {
		return fmt.Errorf("unknown trace level %q; valid: none, decisions, stops", s.Trace)
	}
	if s.Store.MaxCapacity > 0 && s.Store.InitialCapacity > s.Store.MaxCapacity {
		return fmt.Errorf("store initial_capacity %d exceeds max_capacity %d", s.Store.InitialCapacity, s.Store.MaxCapacity)
	}
	if s.Snapshot.Dir != "" && s.Snapshot.EveryTicks == 0 {
		return fmt.Errorf("snapshot dir %q set without every_ticks", s.Snapshot.Dir)
	}

	stations := make(map[uint32]bool, len(s.Stations))
	for _, st := range s.Stations {
		if stations[st.ID] {
			return fmt.Errorf("station %d defined twice", st.ID)
		}
		stations[st.ID] = true
	}

	codes := make(map[string]bool, len(s.Lines))
	ids := make(map[int]string, len(s.Lines))
	for _, l := range s.Lines {
		if codes[l.Code] {
			return fmt.Errorf("line %s defined twice", l.Code)
		}
		codes[l.Code] = true
		if other, dup := ids[l.ID]; dup {
			return fmt.Errorf("line %s: id %d already used by %s", l.Code, l.ID, other)
		}
		ids[l.ID] = l.Code
		if err := l.validate(stations); err != nil {
			return err
		}
	}

	for i, d := range s.Demand {
		if !stations[d.Origin] {
			return fmt.Errorf("demand[%d]: unknown origin station %d", i, d.Origin)
		}
		for _, dst := range d.Destinations {
			if !stations[dst] {
				return fmt.Errorf("demand[%d]: unknown destination station %d", i, dst)
			}
		}
		if d.Pattern.Type == "piecewise" && len(d.Pattern.Points) == 0 {
			return fmt.Errorf("demand[%d]: piecewise pattern needs points", i)
		}
		if d.Pattern.Type == "daily_peak" && d.Pattern.Spread <= 0 {
			return fmt.Errorf("demand[%d]: daily_peak pattern needs a positive spread", i)
		}
	}

	for i, d := range s.Disruptions {
		if !codes[d.Line] {
			return fmt.Errorf("disruptions[%d]: unknown line %q", i, d.Line)
		}
	}
	return nil
}

func (l LineConfig) validate(stations map[uint32]bool) error {
	if len(l.TravelTimes) != len(l.Stations)-1 {
		return fmt.Errorf("line %s: %d travel times for %d stations", l.Code, len(l.TravelTimes), len(l.Stations))
	}
	for _, id := range l.Stations {
		if !stations[id] {
			return fmt.Errorf("line %s: unknown station %d", l.Code, id)
		}
	}
	sch := l.Schedule
	set := 0
	if sch.Headway > 0 {
		set++
	}
	if len(sch.Departures) > 0 {
		set++
	}
	if sch.Cron != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("line %s: schedule needs exactly one of headway, departures, cron (got %d)", l.Code, set)
	}
	if sch.Origins == "both" && !l.Bidirectional {
		return fmt.Errorf("line %s: origins both requires a bidirectional line", l.Code)
	}
	return nil
}

// ValidationErrors returns the per-field failures of err, if it came from
// struct-tag validation.
func ValidationErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	slices.Sort(out)
	return out
}
