package sim

import (
	"fmt"

	"github.com/railsim/railsim/sim/demand"
	"github.com/railsim/railsim/sim/fleet"
	"github.com/railsim/railsim/sim/network"
	"github.com/railsim/railsim/sim/records"
)

// DefaultTrainCapacity is the rider capacity of a train when a schedule sets none.
const DefaultTrainCapacity = 1000

// OpenStore creates the scenario's record store: file-backed when a path is
// configured, in memory otherwise. An existing file is truncated.
func (s *Scenario) OpenStore() (*records.Store, error) {
	return records.Create(s.Store.Path, records.Options{
		InitialCapacity: s.Store.InitialCapacity,
		MaxCapacity:     s.Store.MaxCapacity,
	})
}

// BuildNetwork creates the stations, then the lines in file order.
func (s *Scenario) BuildNetwork() (*network.Network, error) {
	var opts []network.Option
	if s.RouteCacheSize > 0 {
		opts = append(opts, network.WithRouteCacheSize(s.RouteCacheSize))
	}
	net := network.New(opts...)
	for _, st := range s.Stations {
		if _, err := net.AddStation(network.StationSpec{
			ID:           st.ID,
			Name:         st.Name,
			Capacity:     st.Capacity,
			TransferTime: st.TransferTime,
		}); err != nil {
			return nil, err
		}
	}
	for _, lc := range s.Lines {
		spec, err := s.lineSpec(lc)
		if err != nil {
			return nil, err
		}
		l, err := network.NewLine(spec)
		if err != nil {
			return nil, err
		}
		if err := net.AddLine(l); err != nil {
			return nil, err
		}
	}
	return net, nil
}

func (s *Scenario) lineSpec(lc LineConfig) (network.LineSpec, error) {
	policy, err := s.policy(lc)
	if err != nil {
		return network.LineSpec{}, err
	}
	dwell := s.DwellTime
	if lc.DwellTime != nil {
		dwell = *lc.DwellTime
	}
	capacity := lc.Schedule.Capacity
	if capacity == 0 {
		capacity = DefaultTrainCapacity
	}
	var hours fleet.ServiceHours
	if len(lc.Schedule.ServiceHours) == 2 {
		hours = fleet.ServiceHours{Start: lc.Schedule.ServiceHours[0], End: lc.Schedule.ServiceHours[1]}
	}
	origins := []fleet.Direction{fleet.Forward}
	if lc.Schedule.Origins == "both" {
		origins = append(origins, fleet.Backward)
	}
	return network.LineSpec{
		ID:            lc.ID,
		Code:          lc.Code,
		Stations:      lc.Stations,
		TravelTimes:   lc.TravelTimes,
		Bidirectional: lc.Bidirectional,
		DwellTime:     dwell,
		FleetSize:     lc.FleetSize,
		Capacity:      capacity,
		Policy:        policy,
		ServiceHours:  hours,
		Origins:       origins,
	}, nil
}

func (s *Scenario) policy(lc LineConfig) (fleet.Policy, error) {
	sch := lc.Schedule
	switch {
	case sch.Headway > 0:
		return fleet.Headway{Interval: sch.Headway}, nil
	case len(sch.Departures) > 0:
		return fleet.NewDepartures(sch.Departures), nil
	case sch.Cron != "":
		c, err := fleet.NewCron(sch.Cron, s.Epoch)
		if err != nil {
			return nil, fmt.Errorf("line %s: %w", lc.Code, err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("line %s: no schedule policy", lc.Code)
}

// BuildGenerators creates one generator per demand entry, each drawing from
// its origin station's RNG stream.
func (s *Scenario) BuildGenerators(rng *PartitionedRNG) ([]*demand.Generator, error) {
	all := make([]uint32, len(s.Stations))
	for i, st := range s.Stations {
		all[i] = st.ID
	}
	gens := make([]*demand.Generator, 0, len(s.Demand))
	for i, d := range s.Demand {
		profile, err := d.Pattern.profile()
		if err != nil {
			return nil, fmt.Errorf("demand[%d]: %w", i, err)
		}
		dests := d.Destinations
		if len(dests) == 0 {
			dests = all
		}
		g, err := demand.NewGenerator(d.Origin, dests, profile, rng.ForSubsystem(SubsystemDemand(d.Origin)))
		if err != nil {
			return nil, fmt.Errorf("demand[%d]: %w", i, err)
		}
		gens = append(gens, g)
	}
	return gens, nil
}

func (p PatternConfig) profile() (demand.Profile, error) {
	switch p.Type {
	case "constant":
		return demand.Constant(p.Rate), nil
	case "daily_peak":
		return demand.DailyPeak{Base: p.Base, Peak: p.Peak, PeakHour: p.PeakHour, Spread: p.Spread}, nil
	case "piecewise":
		points := make([]demand.Point, len(p.Points))
		for i, pt := range p.Points {
			points[i] = demand.Point{Hour: pt.Hour, Rate: pt.Rate}
		}
		return demand.NewPiecewise(points)
	}
	return nil, fmt.Errorf("unknown demand pattern %q", p.Type)
}

// Config returns the tick-loop parameters of the scenario.
func (s *Scenario) Config() Config {
	return Config{
		DT:               s.DT,
		Start:            s.Start,
		SnapshotEvery:    s.Snapshot.EveryTicks,
		ArrivedRetention: s.ArrivedRetention,
		Disruptions:      s.Disruptions,
	}
}

// Build validates the scenario and assembles a simulator over store.
func (s *Scenario) Build(store *records.Store, opts ...Option) (*Simulator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	net, err := s.BuildNetwork()
	if err != nil {
		return nil, err
	}
	gens, err := s.BuildGenerators(NewPartitionedRNG(NewSimulationKey(s.Seed)))
	if err != nil {
		return nil, err
	}
	return NewSimulator(s.Config(), store, net, gens, opts...)
}
