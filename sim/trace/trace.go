package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures routing and spawn decisions.
	TraceLevelDecisions TraceLevel = "decisions"
	// TraceLevelStops additionally captures every served stop.
	TraceLevelStops TraceLevel = "stops"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	TraceLevelStops:     true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// Enabled reports whether level records anything.
func (l TraceLevel) Enabled() bool {
	return l != "" && l != TraceLevelNone
}

// SimulationTrace collects decision records during a run.
type SimulationTrace struct {
	RunID    string
	Level    TraceLevel
	Routings []RoutingRecord
	Spawns   []SpawnRecord
	Stops    []StopRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(runID string, level TraceLevel) *SimulationTrace {
	return &SimulationTrace{
		RunID:    runID,
		Level:    level,
		Routings: make([]RoutingRecord, 0),
		Spawns:   make([]SpawnRecord, 0),
		Stops:    make([]StopRecord, 0),
	}
}

// RecordRouting appends a routing decision record.
func (st *SimulationTrace) RecordRouting(record RoutingRecord) {
	st.Routings = append(st.Routings, record)
}

// RecordSpawn appends a departure record.
func (st *SimulationTrace) RecordSpawn(record SpawnRecord) {
	st.Spawns = append(st.Spawns, record)
}

// RecordStop appends a served-stop record. Ignored below TraceLevelStops.
func (st *SimulationTrace) RecordStop(record StopRecord) {
	if st.Level != TraceLevelStops {
		return
	}
	st.Stops = append(st.Stops, record)
}
