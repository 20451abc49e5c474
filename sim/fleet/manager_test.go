package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Line == "" {
		cfg.Line = "T1"
	}
	if cfg.Ordinal == 0 {
		cfg.Ordinal = 1
	}
	if cfg.Policy == nil {
		cfg.Policy = Headway{Interval: 600}
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 100
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func assertFleetCeiling(t *testing.T, m *Manager) {
	t.Helper()
	assert.LessOrEqual(t, len(m.Active())+len(m.Idle()), m.Config().FleetSize)
}

func TestManager_Tick_HeadwaySpawnsAtZeroThenEveryInterval(t *testing.T) {
	m := newTestManager(t, Config{FleetSize: 5})

	var spawnTimes []float64
	for now := 0.0; now <= 1800; now += 60 {
		for _, ev := range m.Tick(now) {
			spawnTimes = append(spawnTimes, ev.At)
		}
	}
	assert.Equal(t, []float64{0, 600, 1200, 1800}, spawnTimes)
}

func TestManager_Tick_OutsideServiceHours_NoSpawn(t *testing.T) {
	m := newTestManager(t, Config{FleetSize: 2, ServiceHours: ServiceHours{Start: 6, End: 22}})

	assert.Empty(t, m.Tick(5*3600))
	evs := m.Tick(6 * 3600)
	require.Len(t, evs, 1, "first in-service tick departs")
}

func TestManager_FleetCeiling_DefersAndRetries(t *testing.T) {
	// GIVEN a fleet of one
	m := newTestManager(t, Config{FleetSize: 1})
	first := m.Tick(0)
	require.Len(t, first, 1)
	assert.False(t, first[0].Reused)

	// WHEN the next departure falls due while the only train is active
	assert.Empty(t, m.Tick(600))
	assert.Empty(t, m.Tick(660))
	assertFleetCeiling(t, m)

	// THEN it is counted once and realised as soon as the train is released
	assert.Equal(t, 1, m.Deferred())
	require.NoError(t, m.ReleaseTrain(first[0].Train.ID))
	evs := m.Tick(720)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Reused)
	assert.Equal(t, first[0].Train.ID, evs[0].Train.ID, "identity preserved")
	assert.Equal(t, 1, m.Deferred())
	assertFleetCeiling(t, m)
}

func TestManager_InvariantHoldsAcrossManyTicks(t *testing.T) {
	m := newTestManager(t, Config{FleetSize: 3, Policy: Headway{Interval: 60}})
	for now := 0.0; now < 3600; now += 30 {
		m.Tick(now)
		if now > 0 && int(now)%300 == 0 && len(m.Active()) > 0 {
			require.NoError(t, m.ReleaseTrain(m.Active()[0]))
		}
		assertFleetCeiling(t, m)
	}
}

func TestManager_AllocateTrain_IdlePoolFirst(t *testing.T) {
	m := newTestManager(t, Config{FleetSize: 2, Ordinal: 3})

	a, reused, ok := m.AllocateTrain()
	require.True(t, ok)
	assert.False(t, reused)
	assert.Equal(t, TrainID(30001), a)
	b, _, ok := m.AllocateTrain()
	require.True(t, ok)
	assert.Equal(t, TrainID(30002), b)
	_, _, ok = m.AllocateTrain()
	assert.False(t, ok, "ceiling reached")

	require.NoError(t, m.ReleaseTrain(b))
	c, reused, ok := m.AllocateTrain()
	require.True(t, ok)
	assert.True(t, reused)
	assert.Equal(t, b, c)
}

func TestManager_ReleaseTrain_Unknown(t *testing.T) {
	m := newTestManager(t, Config{FleetSize: 1})
	assert.ErrorIs(t, m.ReleaseTrain(42), ErrUnknownTrain)
}

func TestManager_ReleaseTrain_ResetsTripState(t *testing.T) {
	m := newTestManager(t, Config{FleetSize: 1})
	ev := m.Tick(0)[0]
	ev.Train.Start([]Stop{{0, 1}, {120, 2}}, Forward, 0)
	ev.Train.Step(60, 0)
	ev.Train.ReverseDirection()

	require.NoError(t, m.ReleaseTrain(ev.Train.ID))

	tr, ok := m.Train(ev.Train.ID)
	require.True(t, ok)
	assert.Equal(t, StatusIdle, tr.Status())
	assert.Empty(t, tr.Timetable())
	assert.Equal(t, Forward, tr.Direction())
	assert.Equal(t, uint32(0), tr.CurrentStation())
	assert.Equal(t, 1, tr.Trips(), "trip count survives the pool")
}

func TestManager_ExplicitDepartures(t *testing.T) {
	m := newTestManager(t, Config{FleetSize: 4, Policy: NewDepartures([]float64{120, 480})})

	var at []float64
	for now := 0.0; now <= 900; now += 60 {
		for _, ev := range m.Tick(now) {
			at = append(at, ev.At)
		}
	}
	assert.Equal(t, []float64{120, 480}, at)
}

func TestManager_DeferredDepartures_EachRealisedInOrder(t *testing.T) {
	// GIVEN departures at 0, 60 and 120 and a fleet of one
	m := newTestManager(t, Config{FleetSize: 1, Policy: NewDepartures([]float64{0, 60, 120})})
	first := m.Tick(0)
	require.Len(t, first, 1)

	// WHEN the train stays out past both later departures
	assert.Empty(t, m.Tick(60))
	assert.Empty(t, m.Tick(120))
	assert.Equal(t, 1, m.Deferred(), "the 60s departure is pending")

	// THEN the 60s departure leaves once the train is back
	require.NoError(t, m.ReleaseTrain(first[0].Train.ID))
	second := m.Tick(300)
	require.Len(t, second, 1)

	// AND the 120s departure is still owed and waits for the next release
	assert.Empty(t, m.Tick(310))
	assert.Equal(t, 2, m.Deferred())
	require.NoError(t, m.ReleaseTrain(second[0].Train.ID))
	assert.Len(t, m.Tick(320), 1)
	assert.Empty(t, m.Tick(330), "list exhausted")
	assertFleetCeiling(t, m)
}

func TestManager_DeferredDepartures_CatchUpOnePerTick(t *testing.T) {
	// GIVEN a spare train and two departures owed after a deferral
	m := newTestManager(t, Config{FleetSize: 2, Policy: NewDepartures([]float64{0, 10, 20, 30})})
	a := m.Tick(0)
	b := m.Tick(10)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Empty(t, m.Tick(20))
	assert.Empty(t, m.Tick(30))

	// WHEN both trains return
	require.NoError(t, m.ReleaseTrain(a[0].Train.ID))
	require.NoError(t, m.ReleaseTrain(b[0].Train.ID))

	// THEN the owed departures leave on consecutive ticks
	assert.Len(t, m.Tick(100), 1)
	assert.Len(t, m.Tick(110), 1)
	assert.Empty(t, m.Tick(120))
}

func TestManager_DeparturesBeforeFirstTick_Skipped(t *testing.T) {
	// GIVEN departures every 300s and a first tick well after several have passed
	m := newTestManager(t, Config{FleetSize: 4, Policy: NewDepartures([]float64{0, 300, 600, 900, 1500})})

	// WHEN ticking from t=1000
	first := m.Tick(1000)
	second := m.Tick(1010)

	// THEN nothing leaves for the past departures and the next is 1500
	assert.Empty(t, first)
	assert.Empty(t, second)
	assert.Len(t, m.Tick(1500), 1)
	assert.Zero(t, m.Deferred())
}

func TestManager_CronLateStart_DepartsOnSchedule(t *testing.T) {
	// GIVEN a quarter-hourly cron and a run starting at 06:00
	c, err := NewCron("*/15 * * * *", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	m := newTestManager(t, Config{FleetSize: 2, Policy: c})

	// WHEN ticking from 21600
	// THEN only the 06:00 departure leaves, not the night's backlog
	assert.Len(t, m.Tick(21600), 1)
	assert.Empty(t, m.Tick(21610))
	assert.Empty(t, m.Tick(22490))
	assert.Len(t, m.Tick(22500), 1)
}

func TestManager_ServiceResumes_SkipsOvernightDepartures(t *testing.T) {
	// GIVEN explicit departures through the night and service from 06:00 to 22:00
	m := newTestManager(t, Config{
		FleetSize:    2,
		Policy:       NewDepartures([]float64{3600, 7200, 21600, 25200}),
		ServiceHours: ServiceHours{Start: 6, End: 22},
	})

	// WHEN ticking before and at service start
	assert.Empty(t, m.Tick(3600))
	assert.Empty(t, m.Tick(7200))

	// THEN the first in-service departure is 06:00
	assert.Len(t, m.Tick(21600), 1)
	assert.Empty(t, m.Tick(21610))
	assert.Len(t, m.Tick(25200), 1)
}

func TestManager_BothOrigins_IndependentClocks(t *testing.T) {
	m := newTestManager(t, Config{FleetSize: 4, Origins: []Direction{Forward, Backward}})

	evs := m.Tick(0)
	require.Len(t, evs, 2)
	assert.Equal(t, Forward, evs[0].Direction)
	assert.Equal(t, Backward, evs[1].Direction)
	assert.Empty(t, m.Tick(300))
	assert.Len(t, m.Tick(600), 2)
}

func TestNewManager_Validation(t *testing.T) {
	base := Config{Line: "T1", Ordinal: 1, FleetSize: 1, Policy: Headway{Interval: 60}}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing line", func(c *Config) { c.Line = "" }},
		{"zero fleet", func(c *Config) { c.FleetSize = 0 }},
		{"zero ordinal", func(c *Config) { c.Ordinal = 0 }},
		{"nil policy", func(c *Config) { c.Policy = nil }},
		{"zero headway", func(c *Config) { c.Policy = Headway{} }},
		{"negative capacity", func(c *Config) { c.Capacity = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			_, err := NewManager(cfg)
			assert.Error(t, err)
		})
	}
}
