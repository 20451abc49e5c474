// Package snapshot exports the live customer records to Parquet files, one
// immutable file per snapshot tick, for downstream analytics.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/sirupsen/logrus"

	"github.com/railsim/railsim/sim/records"
)

// Snapshot is the set of live records at the end of a tick.
type Snapshot struct {
	Tick    int
	Time    float64
	Records []records.Record
}

// Row is the Parquet schema of one customer record.
type Row struct {
	Tick          int64   `parquet:"tick"`
	ID            uint64  `parquet:"id"`
	Origin        uint32  `parquet:"origin_station_id"`
	Dest          uint32  `parquet:"dest_station_id"`
	Current       uint32  `parquet:"current_station_id"`
	OnTrain       uint32  `parquet:"on_train_id"`
	State         string  `parquet:"state"`
	TapOn         float64 `parquet:"tap_on_ts"`
	TapOff        float64 `parquet:"tap_off_ts"`
	Spawn         float64 `parquet:"spawn_ts"`
	PathID        uint32  `parquet:"path_id"`
	TotalWait     float64 `parquet:"total_wait_time"`
	TotalTravel   float64 `parquet:"total_travel_time"`
	MovementSpeed float32 `parquet:"movement_speed"`
}

// NewRow converts a record taken at tick.
func NewRow(tick int, r records.Record) Row {
	return Row{
		Tick:          int64(tick),
		ID:            r.ID,
		Origin:        r.Origin,
		Dest:          r.Dest,
		Current:       r.Current,
		OnTrain:       r.OnTrain,
		State:         r.State.String(),
		TapOn:         r.TapOn,
		TapOff:        r.TapOff,
		Spawn:         r.Spawn,
		PathID:        r.PathID,
		TotalWait:     r.TotalWait,
		TotalTravel:   r.TotalTravel,
		MovementSpeed: r.MovementSpeed,
	}
}

// ParquetSink writes <dir>/<runID>/snapshot_tick_<N>.parquet.
type ParquetSink struct {
	dir string
}

// NewParquetSink creates the run directory.
func NewParquetSink(dir, runID string) (*ParquetSink, error) {
	if runID == "" {
		return nil, fmt.Errorf("snapshot sink: run id is required")
	}
	runDir := filepath.Join(dir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &ParquetSink{dir: runDir}, nil
}

// Dir returns the run directory.
func (p *ParquetSink) Dir() string { return p.dir }

// FileName returns the file name of the snapshot for tick.
func FileName(tick int) string {
	return fmt.Sprintf("snapshot_tick_%d.parquet", tick)
}

// WriteSnapshot writes s to its own file. The file appears atomically.
func (p *ParquetSink) WriteSnapshot(s Snapshot) error {
	rows := make([]Row, len(s.Records))
	for i, r := range s.Records {
		rows[i] = NewRow(s.Tick, r)
	}
	final := filepath.Join(p.dir, FileName(s.Tick))
	tmp := final + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing snapshot for tick %d: %w", s.Tick, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publishing snapshot for tick %d: %w", s.Tick, err)
	}
	logrus.Debugf("snapshot tick %d: %d records -> %s", s.Tick, len(rows), final)
	return nil
}

// Read loads a snapshot file written by ParquetSink.
func Read(path string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	return rows, nil
}
