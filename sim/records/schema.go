// Package records implements the customer record store: a fixed-schema,
// columnar, memory-mapped arena of customer records addressed by slot index.
//
// A slot is allocated when its id column is non-zero. Released slots keep
// their other columns until the next allocation overwrites them through Put,
// so every allocation path in the simulator writes a full Record.
package records

import (
	"encoding/binary"
	"fmt"
	"math"
)

// State is the lifecycle state of a customer record.
// The state decides which component may mutate the record:
// waiting/transferring records belong to a Station, onboard records to a Train.
type State uint8

const (
	StateWaiting      State = 0
	StateOnboard      State = 1
	StateArrived      State = 2
	StateTransferring State = 3
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateOnboard:
		return "onboard"
	case StateArrived:
		return "arrived"
	case StateTransferring:
		return "transferring"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the four known states.
func (s State) Valid() bool {
	return s <= StateTransferring
}

// Record is the decoded form of one customer slot.
type Record struct {
	ID            uint64  // 0 marks a free slot
	Origin        uint32  // origin station id
	Dest          uint32  // destination station id
	Current       uint32  // station the customer is at (or last stopped at while onboard)
	OnTrain       uint32  // 0 = not on a train
	State         State   // lifecycle state
	TapOn         float64 // first boarding time, NoTime until boarded
	TapOff        float64 // final alighting time, NoTime until arrived
	Spawn         float64 // creation time
	PathID        uint32  // 0 = not routed
	TotalWait     float64 // seconds spent waiting or transferring
	TotalTravel   float64 // seconds spent onboard
	MovementSpeed float32 // walking speed in m/s
}

// NoTime marks an unset timestamp column. Simulation time starts at 0, so
// zero is a valid tap-on time.
const NoTime = -1.0

type column int

const (
	colID column = iota
	colOrigin
	colDest
	colCurrent
	colOnTrain
	colState
	colTapOn
	colTapOff
	colSpawn
	colPath
	colWait
	colTravel
	colSpeed
	numColumns
)

var columnWidths = [numColumns]int{8, 4, 4, 4, 4, 1, 8, 8, 8, 4, 8, 8, 4}

// columnPrefix[k] is the summed width of columns before k; the region of
// column k starts at headerSize + capacity*columnPrefix[k].
var columnPrefix [numColumns + 1]int

// RecordWidth is the number of bytes one record occupies across all columns.
var RecordWidth int

func init() {
	for k := 0; k < int(numColumns); k++ {
		columnPrefix[k+1] = columnPrefix[k] + columnWidths[k]
	}
	RecordWidth = columnPrefix[numColumns]
}

const (
	headerSize    = 64
	formatVersion = 1

	offMagic      = 0
	offVersion    = 8
	offWidth      = 12
	offCapacity   = 16
	offHighWater  = 24
	offNextID     = 32
	offGeneration = 40
)

var magic = [8]byte{'R', 'A', 'I', 'L', 'R', 'E', 'C', 1}

var le = binary.LittleEndian

// fileSize returns the mapping size needed for capacity records.
func fileSize(capacity int64) int64 {
	return headerSize + capacity*int64(RecordWidth)
}

// columns decodes records out of a mapped region. It is shared by the
// writable Store and the read-only Reader.
type columns struct {
	data     []byte
	capacity int64
}

func (c *columns) offset(col column, idx int64) int {
	return headerSize + int(c.capacity)*columnPrefix[col] + int(idx)*columnWidths[col]
}

func (c *columns) u64(col column, idx int64) uint64 {
	return le.Uint64(c.data[c.offset(col, idx):])
}

func (c *columns) u32(col column, idx int64) uint32 {
	return le.Uint32(c.data[c.offset(col, idx):])
}

func (c *columns) f64(col column, idx int64) float64 {
	return math.Float64frombits(c.u64(col, idx))
}

func (c *columns) putU64(col column, idx int64, v uint64) {
	le.PutUint64(c.data[c.offset(col, idx):], v)
}

func (c *columns) putU32(col column, idx int64, v uint32) {
	le.PutUint32(c.data[c.offset(col, idx):], v)
}

func (c *columns) putF64(col column, idx int64, v float64) {
	c.putU64(col, idx, math.Float64bits(v))
}

func (c *columns) read(idx int64) Record {
	return Record{
		ID:            c.u64(colID, idx),
		Origin:        c.u32(colOrigin, idx),
		Dest:          c.u32(colDest, idx),
		Current:       c.u32(colCurrent, idx),
		OnTrain:       c.u32(colOnTrain, idx),
		State:         State(c.data[c.offset(colState, idx)]),
		TapOn:         c.f64(colTapOn, idx),
		TapOff:        c.f64(colTapOff, idx),
		Spawn:         c.f64(colSpawn, idx),
		PathID:        c.u32(colPath, idx),
		TotalWait:     c.f64(colWait, idx),
		TotalTravel:   c.f64(colTravel, idx),
		MovementSpeed: math.Float32frombits(c.u32(colSpeed, idx)),
	}
}

func (c *columns) write(idx int64, r Record) {
	c.putU64(colID, idx, r.ID)
	c.putU32(colOrigin, idx, r.Origin)
	c.putU32(colDest, idx, r.Dest)
	c.putU32(colCurrent, idx, r.Current)
	c.putU32(colOnTrain, idx, r.OnTrain)
	c.data[c.offset(colState, idx)] = byte(r.State)
	c.putF64(colTapOn, idx, r.TapOn)
	c.putF64(colTapOff, idx, r.TapOff)
	c.putF64(colSpawn, idx, r.Spawn)
	c.putU32(colPath, idx, r.PathID)
	c.putF64(colWait, idx, r.TotalWait)
	c.putF64(colTravel, idx, r.TotalTravel)
	c.putU32(colSpeed, idx, math.Float32bits(r.MovementSpeed))
}

func (c *columns) headerU64(off int) uint64 {
	return le.Uint64(c.data[off:])
}

func (c *columns) putHeaderU64(off int, v uint64) {
	le.PutUint64(c.data[off:], v)
}

// relocate moves every column from the layout of oldCap to the layout of
// c.capacity (which must be larger) and zeroes the new tail of each column.
// Columns are moved last to first so that no region is overwritten before it
// has been copied.
func (c *columns) relocate(oldCap int64) {
	for k := numColumns - 1; k >= 0; k-- {
		w := columnWidths[k]
		oldOff := headerSize + int(oldCap)*columnPrefix[k]
		newOff := headerSize + int(c.capacity)*columnPrefix[k]
		n := int(oldCap) * w
		copy(c.data[newOff:newOff+n], c.data[oldOff:oldOff+n])
		clear(c.data[newOff+n : newOff+int(c.capacity)*w])
	}
}
