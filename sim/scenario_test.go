package sim

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railsim/railsim/sim/fleet"
	"github.com/railsim/railsim/sim/internal/testutil"
)

func parseScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	sc, err := ParseScenario(testutil.LoadScenario(t, name))
	require.NoError(t, err)
	return sc
}

func TestParseScenario_City(t *testing.T) {
	sc := parseScenario(t, "city")

	require.NoError(t, sc.Validate())
	assert.Equal(t, int64(7), sc.Seed)
	assert.Equal(t, 21600.0, sc.Start)
	assert.Equal(t, DefaultEpoch, sc.Epoch)
	require.Len(t, sc.Lines, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{sc.Lines[0].ID, sc.Lines[1].ID, sc.Lines[2].ID}, "ids default to file order")
	require.NotNil(t, sc.Lines[1].DwellTime)
	assert.Equal(t, 30.0, *sc.Lines[1].DwellTime)
	assert.Nil(t, sc.Lines[0].DwellTime)
	assert.Equal(t, "*/15 * * * *", sc.Lines[1].Schedule.Cron)
	assert.Equal(t, []Disruption{{Line: "T8", At: 22800, Duration: 600}}, sc.Disruptions)
}

func TestParseScenario_EpochDefault(t *testing.T) {
	sc := parseScenario(t, "t1")
	assert.True(t, sc.Epoch.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Monday, sc.Epoch.Weekday())
}

func TestParseScenario_RejectsUnknownField(t *testing.T) {
	_, err := ParseScenario([]byte("seed: 1\ndt: 10\nheadwya: 5\n"))
	assert.Error(t, err)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestScenario_Validate_FieldTags(t *testing.T) {
	// GIVEN a scenario with a zero tick length and an empty fleet
	sc := parseScenario(t, "t1")
	sc.DT = 0
	sc.Lines[0].FleetSize = 0

	// WHEN validated
	err := sc.Validate()

	// THEN both fields are reported
	require.Error(t, err)
	assert.Equal(t, []string{
		`Scenario.DT: failed "gt"`,
		`Scenario.Lines[0].FleetSize: failed "gte"`,
	}, ValidationErrors(err))
}

func TestScenario_Validate_CrossReferences(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Scenario)
	}{
		{"unknown trace level", func(s *Scenario) { s.Trace = "verbose" }},
		{"initial above max capacity", func(s *Scenario) { s.Store = StoreConfig{InitialCapacity: 10, MaxCapacity: 5} }},
		{"snapshot dir without interval", func(s *Scenario) { s.Snapshot.Dir = "out" }},
		{"duplicate station", func(s *Scenario) { s.Stations = append(s.Stations, StationConfig{ID: 1}) }},
		{"duplicate line code", func(s *Scenario) {
			l := s.Lines[0]
			l.ID = 2
			s.Lines = append(s.Lines, l)
		}},
		{"duplicate line id", func(s *Scenario) {
			l := s.Lines[0]
			l.Code = "T2"
			s.Lines = append(s.Lines, l)
		}},
		{"travel time count", func(s *Scenario) { s.Lines[0].TravelTimes = []float64{120} }},
		{"line through unknown station", func(s *Scenario) { s.Lines[0].Stations = []uint32{1, 2, 9} }},
		{"two schedule policies", func(s *Scenario) { s.Lines[0].Schedule.Cron = "*/5 * * * *" }},
		{"no schedule policy", func(s *Scenario) { s.Lines[0].Schedule.Headway = 0 }},
		{"both origins on one-way line", func(s *Scenario) { s.Lines[0].Schedule.Origins = "both" }},
		{"unknown demand origin", func(s *Scenario) { s.Demand[0].Origin = 9 }},
		{"unknown demand destination", func(s *Scenario) { s.Demand[0].Destinations = []uint32{9} }},
		{"piecewise without points", func(s *Scenario) { s.Demand[0].Pattern = PatternConfig{Type: "piecewise"} }},
		{"daily peak without spread", func(s *Scenario) { s.Demand[0].Pattern = PatternConfig{Type: "daily_peak", Peak: 1} }},
		{"disruption on unknown line", func(s *Scenario) { s.Disruptions = []Disruption{{Line: "X", At: 0, Duration: 60}} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sc := parseScenario(t, "t1")
			tc.mutate(sc)
			err := sc.Validate()
			assert.Error(t, err)
			assert.Nil(t, ValidationErrors(err), "reported by cross-reference checks, not field tags")
		})
	}
}

func TestScenario_Build_City(t *testing.T) {
	// GIVEN the city scenario
	sc := parseScenario(t, "city")

	// WHEN the network is built
	net, err := sc.BuildNetwork()
	require.NoError(t, err)

	// THEN each line carries its own schedule settings
	lines := net.Lines()
	require.Len(t, lines, 3)

	t8 := lines[0].Fleet().Config()
	assert.Equal(t, "headway", t8.Policy.Kind())
	assert.Equal(t, []fleet.Direction{fleet.Forward, fleet.Backward}, t8.Origins)
	assert.Equal(t, 20.0, t8.DwellTime)
	assert.Equal(t, 200, t8.Capacity)
	assert.Equal(t, fleet.ServiceHours{Start: 5, End: 23}, t8.ServiceHours)

	t1 := lines[1].Fleet().Config()
	assert.Equal(t, "cron", t1.Policy.Kind())
	assert.Equal(t, 30.0, t1.DwellTime)

	shuttle := lines[2].Fleet().Config()
	assert.Equal(t, "departures", shuttle.Policy.Kind())
	assert.Equal(t, DefaultTrainCapacity, shuttle.Capacity)

	st, ok := net.Station(3)
	require.True(t, ok)
	assert.Equal(t, 60.0, st.TransferTime)
	assert.Equal(t, []string{"T1", "T8"}, st.Lines())

	gens, err := sc.BuildGenerators(NewPartitionedRNG(NewSimulationKey(sc.Seed)))
	require.NoError(t, err)
	require.Len(t, gens, 3)
	assert.Equal(t, []uint32{2, 3, 4, 5, 6}, gens[0].Destinations(), "empty destinations means every other station")
	assert.Equal(t, []uint32{1, 4}, gens[1].Destinations())
}

func TestScenario_Build_RejectsInvalid(t *testing.T) {
	sc := parseScenario(t, "t1")
	sc.Lines[0].Schedule.Cron = "not a cron"
	sc.Lines[0].Schedule.Headway = 0

	_, err := sc.Build(testutil.NewStore(t, 8))

	assert.Error(t, err)
}

func TestScenario_OpenStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		sc := parseScenario(t, "t1")
		store, err := sc.OpenStore()
		require.NoError(t, err)
		defer store.Close()
		assert.Empty(t, store.Path())
	})
	t.Run("file truncated on open", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "records.bin")
		require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))
		sc := parseScenario(t, "t1")
		sc.Store.Path = path

		store, err := sc.OpenStore()
		require.NoError(t, err)
		defer store.Close()

		assert.Equal(t, path, store.Path())
		assert.Zero(t, store.Live())
	})
}

func TestScenario_Config(t *testing.T) {
	sc := parseScenario(t, "city")
	cfg := sc.Config()
	assert.Equal(t, 10.0, cfg.DT)
	assert.Equal(t, 21600.0, cfg.Start)
	assert.Equal(t, 300.0, cfg.ArrivedRetention)
	assert.Zero(t, cfg.SnapshotEvery)
	assert.Len(t, cfg.Disruptions, 1)
}
