// Package trace records simulator decisions for offline analysis.
// It stores pure data types and depends on no other simulator package.
package trace

// RoutingRecord captures one routing decision for a new or evicted customer.
type RoutingRecord struct {
	CustomerID uint64
	Clock      float64
	Origin     uint32
	Dest       uint32
	PathID     uint32 // 0 when unroutable
	Route      string // formatted segments, empty when unroutable
	Reason     string // error text when unroutable
}

// SpawnRecord captures one realised departure.
type SpawnRecord struct {
	Clock     float64
	Line      string
	TrainID   uint32
	Direction string
	Reused    bool
}

// StopRecord captures what happened when a train served a station.
type StopRecord struct {
	Clock      float64
	Line       string
	TrainID    uint32
	Station    uint32
	Alighted   int
	Transfers  int
	Boarded    int
	LeftBehind int
	Occupancy  int
}
