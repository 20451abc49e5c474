package sim

import (
	"container/heap"
	"fmt"
)

// Disruption takes every train of Line out of service for Duration seconds
// starting at At. Suspended trains hold position and resume their timetable
// shifted by the outage; no departures are made while the line is down.
type Disruption struct {
	Line     string  `yaml:"line" validate:"required"`
	At       float64 `yaml:"at" validate:"gte=0"`
	Duration float64 `yaml:"duration" validate:"gt=0"`
}

type disruptionKind int

const (
	disruptionEnd disruptionKind = iota // ends sort first so back-to-back windows chain
	disruptionStart
)

func (k disruptionKind) String() string {
	if k == disruptionStart {
		return "start"
	}
	return "end"
}

type disruptionEvent struct {
	at   float64
	kind disruptionKind
	line string
	seq  int
}

// disruptionHeap is a priority queue of outage boundaries.
// Ordering: time → kind (end before start) → insertion sequence.
type disruptionHeap struct {
	events []disruptionEvent
	seq    int
}

func newDisruptionHeap(ds []Disruption) *disruptionHeap {
	h := &disruptionHeap{}
	for _, d := range ds {
		h.schedule(disruptionEvent{at: d.At, kind: disruptionStart, line: d.Line})
		h.schedule(disruptionEvent{at: d.At + d.Duration, kind: disruptionEnd, line: d.Line})
	}
	return h
}

func (h *disruptionHeap) Len() int { return len(h.events) }

func (h *disruptionHeap) Less(i, j int) bool {
	ei, ej := h.events[i], h.events[j]
	if ei.at != ej.at {
		return ei.at < ej.at
	}
	if ei.kind != ej.kind {
		return ei.kind < ej.kind
	}
	return ei.seq < ej.seq
}

func (h *disruptionHeap) Swap(i, j int) {
	h.events[i], h.events[j] = h.events[j], h.events[i]
}

func (h *disruptionHeap) Push(x any) {
	h.events = append(h.events, x.(disruptionEvent))
}

func (h *disruptionHeap) Pop() any {
	old := h.events
	n := len(old)
	item := old[n-1]
	h.events = old[0 : n-1]
	return item
}

func (h *disruptionHeap) schedule(e disruptionEvent) {
	e.seq = h.seq
	h.seq++
	heap.Push(h, e)
}

// popDue removes and returns the next event at or before now.
func (h *disruptionHeap) popDue(now float64) (disruptionEvent, bool) {
	if h.Len() == 0 || h.events[0].at > now {
		return disruptionEvent{}, false
	}
	return heap.Pop(h).(disruptionEvent), true
}

func (e disruptionEvent) String() string {
	return fmt.Sprintf("disruption %s on line %s at %.0f", e.kind, e.line, e.at)
}
