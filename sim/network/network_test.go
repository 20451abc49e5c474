package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railsim/railsim/sim/fleet"
	"github.com/railsim/railsim/sim/paths"
	"github.com/railsim/railsim/sim/records"
)

func buildNetwork(t *testing.T, stations []uint32, specs ...LineSpec) *Network {
	t.Helper()
	nw := New()
	for _, id := range stations {
		_, err := nw.AddStation(StationSpec{ID: id})
		require.NoError(t, err)
	}
	for _, spec := range specs {
		require.NoError(t, nw.AddLine(mustLine(t, spec)))
	}
	return nw
}

func lineSpec(id int, code string, stations []uint32, times []float64, bidi bool) LineSpec {
	return LineSpec{
		ID: id, Code: code, Stations: stations, TravelTimes: times, Bidirectional: bidi,
		FleetSize: 1, Capacity: 100, Policy: fleet.Headway{Interval: 600},
	}
}

func TestNetwork_FindPath_SingleLine(t *testing.T) {
	nw := buildNetwork(t, []uint32{1, 2, 3}, t1Spec())

	id, err := nw.FindPath(1, 3)
	require.NoError(t, err)
	segs, err := nw.Paths().Expand(id)
	require.NoError(t, err)

	assert.Equal(t, []paths.Segment{{Line: "T1", From: 1, To: 2}, {Line: "T1", From: 2, To: 3}}, segs)
}

func TestNetwork_FindPath_IsMemoisedAndIdempotent(t *testing.T) {
	nw := buildNetwork(t, []uint32{1, 2, 3}, t1Spec())

	a, err := nw.FindPath(1, 3)
	require.NoError(t, err)
	b, err := nw.FindPath(1, 3)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, nw.CachedRoutes())
	assert.Equal(t, 1, nw.Paths().Len())
}

func TestNetwork_FindPath_OneWayLineHasNoReverseRoute(t *testing.T) {
	nw := buildNetwork(t, []uint32{1, 2, 3}, t1Spec())
	_, err := nw.FindPath(3, 1)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestNetwork_FindPath_BidirectionalReverse(t *testing.T) {
	spec := t1Spec()
	spec.Bidirectional = true
	nw := buildNetwork(t, []uint32{1, 2, 3}, spec)

	id, err := nw.FindPath(3, 1)
	require.NoError(t, err)
	segs, _ := nw.Paths().Expand(id)
	assert.Equal(t, []paths.Segment{{Line: "T1", From: 3, To: 2}, {Line: "T1", From: 2, To: 1}}, segs)
}

func TestNetwork_FindPath_PrefersFasterTransfer(t *testing.T) {
	// GIVEN a slow direct line and a faster two-line route via station 4
	nw := buildNetwork(t, []uint32{1, 2, 4},
		lineSpec(1, "SLOW", []uint32{1, 2}, []float64{1000}, false),
		lineSpec(2, "A", []uint32{1, 4}, []float64{200}, false),
		lineSpec(3, "B", []uint32{4, 2}, []float64{300}, false),
	)

	id, err := nw.FindPath(1, 2)
	require.NoError(t, err)
	segs, _ := nw.Paths().Expand(id)

	assert.Equal(t, []paths.Segment{{Line: "A", From: 1, To: 4}, {Line: "B", From: 4, To: 2}}, segs)
	total, err := nw.PathTravelTime(id)
	require.NoError(t, err)
	assert.Equal(t, 500.0, total)
}

func TestNetwork_FindPath_EqualCostTieFollowsInsertionOrder(t *testing.T) {
	build := func() *Network {
		return buildNetwork(t, []uint32{1, 2},
			lineSpec(1, "FIRST", []uint32{1, 2}, []float64{100}, false),
			lineSpec(2, "SECOND", []uint32{1, 2}, []float64{100}, false),
		)
	}
	for i := 0; i < 5; i++ {
		nw := build()
		id, err := nw.FindPath(1, 2)
		require.NoError(t, err)
		segs, _ := nw.Paths().Expand(id)
		require.Len(t, segs, 1)
		assert.Equal(t, "FIRST", segs[0].Line)
	}
}

func TestNetwork_FindPath_ParallelLines_EachHopKeepsItsLine(t *testing.T) {
	// GIVEN a stopping line over 1-2-3 and an express added later over 2-3
	nw := buildNetwork(t, []uint32{1, 2, 3},
		lineSpec(1, "LOCAL", []uint32{1, 2, 3}, []float64{100, 100}, false),
		lineSpec(2, "EXPRESS", []uint32{2, 3}, []float64{40}, false),
	)

	// WHEN routing end to end
	id, err := nw.FindPath(1, 3)
	require.NoError(t, err)
	segs, err := nw.Paths().Expand(id)
	require.NoError(t, err)

	// THEN the parallel 2-3 edge of the faster line is taken and labelled with it
	assert.Equal(t, []paths.Segment{{Line: "LOCAL", From: 1, To: 2}, {Line: "EXPRESS", From: 2, To: 3}}, segs)
	total, err := nw.PathTravelTime(id)
	require.NoError(t, err)
	assert.Equal(t, 140.0, total)
}

func TestNetwork_FindPath_Errors(t *testing.T) {
	nw := buildNetwork(t, []uint32{1, 2, 3, 9}, t1Spec())

	_, err := nw.FindPath(1, 1)
	assert.ErrorIs(t, err, ErrNoRoute)
	_, err = nw.FindPath(1, 9)
	assert.ErrorIs(t, err, ErrNoRoute, "isolated station")
	_, err = nw.FindPath(1, 77)
	assert.ErrorIs(t, err, ErrUnknownStation)
}

func TestNetwork_AddLine_PurgesRouteCache(t *testing.T) {
	// GIVEN a cached "no route" answer
	nw := buildNetwork(t, []uint32{1, 2, 3, 4}, t1Spec())
	_, err := nw.FindPath(3, 4)
	require.ErrorIs(t, err, ErrNoRoute)
	require.Equal(t, 1, nw.CachedRoutes())

	// WHEN a line connecting them is added
	require.NoError(t, nw.AddLine(mustLine(t, lineSpec(2, "EXT", []uint32{3, 4}, []float64{60}, false))))

	// THEN the stale answer is gone and the new route is found
	assert.Equal(t, 0, nw.CachedRoutes())
	_, err = nw.FindPath(3, 4)
	assert.NoError(t, err)
}

func TestNetwork_AddLine_Errors(t *testing.T) {
	nw := buildNetwork(t, []uint32{1, 2, 3}, t1Spec())

	dup := t1Spec()
	dup.ID = 2
	assert.ErrorIs(t, nw.AddLine(mustLine(t, dup)), ErrDuplicateLine)
	sameID := lineSpec(1, "OTHER", []uint32{1, 2}, []float64{10}, false)
	assert.ErrorIs(t, nw.AddLine(mustLine(t, sameID)), ErrDuplicateLine)
	missing := lineSpec(3, "FAR", []uint32{1, 99}, []float64{10}, false)
	assert.ErrorIs(t, nw.AddLine(mustLine(t, missing)), ErrUnknownStation)

	_, err := nw.AddStation(StationSpec{ID: 1})
	assert.ErrorIs(t, err, ErrDuplicateStation)
}

func TestNetwork_GetTransferOptions(t *testing.T) {
	nw := buildNetwork(t, []uint32{1, 2, 3, 4},
		t1Spec(),
		lineSpec(2, "U", []uint32{2, 4}, []float64{60}, false),
		lineSpec(3, "A", []uint32{4, 2}, []float64{60}, false),
	)

	opts, err := nw.GetTransferOptions(2, "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "U"}, opts)
	opts, err = nw.GetTransferOptions(1, "T1")
	require.NoError(t, err)
	assert.Empty(t, opts)
	_, err = nw.GetTransferOptions(42, "T1")
	assert.ErrorIs(t, err, ErrUnknownStation)
}

func TestNetwork_AssignPathToCustomer(t *testing.T) {
	nw := buildNetwork(t, []uint32{1, 2, 3, 9}, t1Spec())
	store, err := records.NewMemory(records.Options{InitialCapacity: 4})
	require.NoError(t, err)
	defer store.Close()
	idxs, _ := store.AllocateIndices(2)
	require.NoError(t, store.Put(idxs[0], records.Record{ID: 1, Origin: 1, Current: 1, Dest: 3}))
	require.NoError(t, store.Put(idxs[1], records.Record{ID: 2, Origin: 1, Current: 1, Dest: 9}))

	id, err := nw.AssignPathToCustomer(store, idxs[0])
	require.NoError(t, err)
	r, _ := store.Get(idxs[0])
	assert.Equal(t, uint32(id), r.PathID)

	_, err = nw.AssignPathToCustomer(store, idxs[1])
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.Equal(t, 1, nw.RouteFailures)
}

func TestNetwork_StationsSortedLinesInsertionOrder(t *testing.T) {
	nw := buildNetwork(t, []uint32{3, 1, 2},
		lineSpec(2, "Z", []uint32{1, 2}, []float64{10}, false),
		lineSpec(1, "A", []uint32{2, 3}, []float64{10}, false),
	)
	var ids []uint32
	for _, st := range nw.Stations() {
		ids = append(ids, st.ID)
	}
	assert.Equal(t, []uint32{1, 2, 3}, ids)
	assert.Equal(t, "Z", nw.Lines()[0].Code())
	_, err := nw.Line("nope")
	assert.ErrorIs(t, err, ErrUnknownLine)
}
