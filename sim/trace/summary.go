package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalRoutings    int
	Unroutable       int
	DistinctRoutes   int
	Spawns           int
	ReusedSpawns     int
	SpawnsByLine     map[string]int
	StopsServed      int
	TotalLeftBehind  int
	MaxLeftBehind    int
	WorstStation     uint32 // station with the most riders left behind; 0 if none
	MeanOccupancy    float64
	LeftBehindByStop map[uint32]int
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		SpawnsByLine:     make(map[string]int),
		LeftBehindByStop: make(map[uint32]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalRoutings = len(st.Routings)
	routes := make(map[uint32]struct{})
	for _, r := range st.Routings {
		if r.PathID == 0 {
			summary.Unroutable++
			continue
		}
		routes[r.PathID] = struct{}{}
	}
	summary.DistinctRoutes = len(routes)

	summary.Spawns = len(st.Spawns)
	for _, s := range st.Spawns {
		summary.SpawnsByLine[s.Line]++
		if s.Reused {
			summary.ReusedSpawns++
		}
	}

	if len(st.Stops) > 0 {
		totalOcc := 0
		for _, s := range st.Stops {
			totalOcc += s.Occupancy
			summary.TotalLeftBehind += s.LeftBehind
			summary.LeftBehindByStop[s.Station] += s.LeftBehind
		}
		summary.StopsServed = len(st.Stops)
		summary.MeanOccupancy = float64(totalOcc) / float64(len(st.Stops))
		for station, n := range summary.LeftBehindByStop {
			if n > summary.MaxLeftBehind || (n == summary.MaxLeftBehind && n > 0 && station < summary.WorstStation) {
				summary.MaxLeftBehind = n
				summary.WorstStation = station
			}
		}
	}

	return summary
}
