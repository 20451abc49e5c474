package network

import "errors"

var (
	// ErrNoRoute is returned when no path connects an origin to a destination.
	ErrNoRoute = errors.New("no route")

	// ErrUnknownStation is returned for station ids not added to the network.
	ErrUnknownStation = errors.New("unknown station")

	// ErrUnknownLine is returned for line codes not added to the network.
	ErrUnknownLine = errors.New("unknown line")

	// ErrOutOfRange is returned by topology lookups for a station not on the line.
	ErrOutOfRange = errors.New("station not on line")

	// ErrEndOfLine is returned when asking for the station past a terminal.
	ErrEndOfLine = errors.New("end of line")

	// ErrNotBidirectional is returned for backward traversal of a one-way line.
	ErrNotBidirectional = errors.New("line is not bidirectional")

	// ErrInvalidLine is returned for malformed line topology.
	ErrInvalidLine = errors.New("invalid line")

	ErrDuplicateStation = errors.New("duplicate station")

	ErrDuplicateLine = errors.New("duplicate line")
)
