package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-seating-api/internal/models"
)

func denseRoom(building, room string, capacity int) models.Room {
	return models.Room{Building: building, Room: room, RawCapacity: capacity, EffectiveCapacity: capacity, PerCourseCapacity: capacity}
}

func rollRange(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%03d", prefix, i+1)
	}
	return out
}

func countByRoom(allocs []models.Allocation) map[models.RoomKey]int {
	out := make(map[models.RoomKey]int)
	for _, a := range allocs {
		out[models.RoomKey{Building: a.Building, Room: a.Room}]++
	}
	return out
}

func TestAllocateSlotSingleRoomExactFit(t *testing.T) {
	engine := NewAllocationEngine(nil, nil)
	rooms := []models.Room{denseRoom("B1", "101", 10)}

	res := engine.AllocateSlot(testSlot, regsFor(testSlot, "CS101", rollRange("R", 10)...), rooms, nil)
	require.False(t, res.Failed)
	require.Len(t, res.Allocations, 10)
	assert.Equal(t, 0, res.Remaining[rooms[0].Key()])

	usage := BuildUsageRows([]models.SlotResult{res}, rooms)
	require.Len(t, usage, 1)
	assert.Equal(t, 10, usage[0].Used)
	assert.Equal(t, 0, usage[0].Left)
}

func TestAllocateSlotSingleBuildingFillsLowerRoomFirst(t *testing.T) {
	engine := NewAllocationEngine(nil, nil)
	rooms := []models.Room{denseRoom("B1", "102", 5), denseRoom("B1", "101", 5)}

	res := engine.AllocateSlot(testSlot, regsFor(testSlot, "CS101", rollRange("R", 8)...), rooms, nil)
	counts := countByRoom(res.Allocations)
	assert.Equal(t, 5, counts[models.RoomKey{Building: "B1", Room: "101"}])
	assert.Equal(t, 3, counts[models.RoomKey{Building: "B1", Room: "102"}])
	assert.Equal(t, "R001", res.Allocations[0].Roll)
	assert.Equal(t, "101", res.Allocations[0].Room)
	assert.Equal(t, "102", res.Allocations[5].Room)
}

func TestAllocateSlotSpreadsWhenNoBuildingSuffices(t *testing.T) {
	engine := NewAllocationEngine(nil, nil)
	rooms := []models.Room{denseRoom("B2", "201", 6), denseRoom("B1", "101", 6)}

	res := engine.AllocateSlot(testSlot, regsFor(testSlot, "CS101", rollRange("R", 12)...), rooms, nil)
	require.Len(t, res.Allocations, 12)
	assert.Equal(t, "B1", res.Allocations[0].Building)
	assert.Equal(t, "B1", res.Allocations[5].Building)
	assert.Equal(t, "B2", res.Allocations[6].Building)
	assert.Empty(t, res.Signals)
}

func TestAllocateSlotPrefersTightestBuilding(t *testing.T) {
	engine := NewAllocationEngine(nil, nil)
	rooms := []models.Room{
		denseRoom("BIG", "1", 50),
		denseRoom("SMALL", "1", 12),
		denseRoom("MID", "1", 20),
	}
	res := engine.AllocateSlot(testSlot, regsFor(testSlot, "CS101", rollRange("R", 10)...), rooms, nil)
	for _, a := range res.Allocations {
		assert.Equal(t, "SMALL", a.Building)
	}
}

func TestAllocateSlotTieGoesToEarlierBuilding(t *testing.T) {
	engine := NewAllocationEngine(nil, nil)
	rooms := []models.Room{denseRoom("B9", "1", 10), denseRoom("B1", "1", 10)}

	res := engine.AllocateSlot(testSlot, regsFor(testSlot, "CS101", rollRange("R", 4)...), rooms, nil)
	assert.Equal(t, "B9", res.Allocations[0].Building)
}

func TestAllocateSlotLargestCourseFirst(t *testing.T) {
	engine := NewAllocationEngine(nil, nil)
	rooms := []models.Room{denseRoom("A", "1", 10), denseRoom("B", "1", 4)}
	regs := append(regsFor(testSlot, "SMALL", rollRange("S", 4)...), regsFor(testSlot, "LARGE", rollRange("L", 10)...)...)

	res := engine.AllocateSlot(testSlot, regs, rooms, nil)
	require.Len(t, res.Allocations, 14)
	assert.Equal(t, "LARGE", res.Allocations[0].Course)
	for _, a := range res.Allocations {
		if a.Course == "LARGE" {
			assert.Equal(t, "A", a.Building)
		} else {
			assert.Equal(t, "B", a.Building)
		}
	}
}

func TestAllocateSlotCapacityShortfallSeatsNobody(t *testing.T) {
	engine := NewAllocationEngine(nil, nil)
	rooms := []models.Room{denseRoom("B1", "101", 45), denseRoom("B2", "201", 45)}

	res := engine.AllocateSlot(testSlot, regsFor(testSlot, "CS101", rollRange("R", 100)...), rooms, nil)
	assert.True(t, res.Failed)
	assert.Empty(t, res.Allocations)
	require.Len(t, res.Signals, 1)
	assert.Equal(t, models.SignalCapacity, res.Signals[0].Kind)
	assert.Equal(t, models.SeverityError, res.Signals[0].Severity)
	assert.Equal(t, 10, res.Signals[0].Count)
	assert.Equal(t, 45, res.Remaining[rooms[0].Key()])
}

func TestAllocateSlotSkipsDrainedRooms(t *testing.T) {
	engine := NewAllocationEngine(nil, nil)
	rooms := []models.Room{denseRoom("A", "1", 5), denseRoom("A", "2", 0), denseRoom("B", "1", 5)}
	regs := append(regsFor(testSlot, "X", rollRange("X", 5)...), regsFor(testSlot, "Y", rollRange("Y", 5)...)...)

	res := engine.AllocateSlot(testSlot, regs, rooms, nil)
	require.Len(t, res.Allocations, 10)
	for _, a := range res.Allocations {
		assert.NotEqual(t, "2", a.Room)
	}
	for key, left := range res.Remaining {
		assert.GreaterOrEqual(t, left, 0, key.String())
	}
}

func TestAllocateSlotDeduplicatesRollsPerCourse(t *testing.T) {
	engine := NewAllocationEngine(nil, nil)
	rooms := []models.Room{denseRoom("B1", "101", 10)}
	regs := regsFor(testSlot, "CS101", "R2", "R1", "R2", "R3", "R1")

	res := engine.AllocateSlot(testSlot, regs, rooms, map[string]string{"R1": "Asha"})
	require.Len(t, res.Allocations, 3)
	assert.Equal(t, []string{"R2", "R1", "R3"}, []string{res.Allocations[0].Roll, res.Allocations[1].Roll, res.Allocations[2].Roll})
	assert.Equal(t, models.UnknownName, res.Allocations[0].Name)
	assert.Equal(t, "Asha", res.Allocations[1].Name)

	require.Len(t, res.Signals, 1)
	assert.Equal(t, models.SignalDuplicateEnrollment, res.Signals[0].Kind)
	assert.Equal(t, models.SeverityWarn, res.Signals[0].Severity)
	assert.Equal(t, []string{"R2", "R1"}, res.Signals[0].Rolls)
}

func TestAllocateSlotClashingRollSeatedPerCourse(t *testing.T) {
	engine := NewAllocationEngine(nil, nil)
	rooms := []models.Room{denseRoom("B1", "101", 2), denseRoom("B2", "201", 2)}
	regs := append(regsFor(testSlot, "A", "R1", "R2"), regsFor(testSlot, "B", "R1", "R3")...)

	res := engine.AllocateSlot(testSlot, regs, rooms, nil)
	require.Len(t, res.Allocations, 4)
	seen := map[string]string{}
	for _, a := range res.Allocations {
		if a.Roll == "R1" {
			seen[a.Course] = a.Building
		}
	}
	assert.Equal(t, map[string]string{"A": "B1", "B": "B2"}, seen)
}

// firstBuildingOnly ignores every building but the first. GreedyPolicy never
// strands students: the slot total check guarantees enough seats and the
// spread fallback reaches every room, so the unseated path needs a narrower
// policy.
type firstBuildingOnly struct{}

func (firstBuildingOnly) Place(arena *RoomArena, students int) Placement {
	b := arena.Buildings()[0]
	return Placement{Building: b, Rooms: arena.RoomsIn(b)}
}

func TestAllocateSlotReportsUnseatedButKeepsSeated(t *testing.T) {
	engine := NewAllocationEngine(firstBuildingOnly{}, nil)
	rooms := []models.Room{denseRoom("B1", "101", 3), denseRoom("B2", "201", 10)}

	res := engine.AllocateSlot(testSlot, regsFor(testSlot, "CS101", rollRange("R", 7)...), rooms, nil)
	assert.False(t, res.Failed)
	assert.Len(t, res.Allocations, 3)
	require.Len(t, res.Signals, 1)
	assert.Equal(t, models.SignalUnseated, res.Signals[0].Kind)
	assert.Equal(t, 4, res.Signals[0].Count)
	assert.Equal(t, []string{"CS101"}, res.Signals[0].Courses)
}

func TestAllocateSlotIsDeterministic(t *testing.T) {
	rooms := []models.Room{denseRoom("B2", "3", 7), denseRoom("B1", "9", 4), denseRoom("B1", "10", 6), denseRoom("B3", "1", 9)}
	var regs []models.Registration
	regs = append(regs, regsFor(testSlot, "C1", rollRange("A", 6)...)...)
	regs = append(regs, regsFor(testSlot, "C2", rollRange("B", 6)...)...)
	regs = append(regs, regsFor(testSlot, "C3", rollRange("C", 9)...)...)

	first := NewAllocationEngine(nil, nil).AllocateSlot(testSlot, regs, rooms, nil)
	second := NewAllocationEngine(nil, nil).AllocateSlot(testSlot, regs, rooms, nil)
	assert.Equal(t, first.Allocations, second.Allocations)
	assert.Equal(t, first.Remaining, second.Remaining)
}

func TestRoomArenaOrdering(t *testing.T) {
	arena := NewRoomArena([]models.Room{denseRoom("B2", "b", 1), denseRoom("B1", "z", 1), denseRoom("B2", "a", 2), denseRoom("B2", "a", 4)})
	assert.Equal(t, []string{"B2", "B1"}, arena.Buildings())
	assert.Equal(t, []models.RoomKey{{Building: "B2", Room: "a"}, {Building: "B2", Room: "b"}}, arena.RoomsIn("B2"))
	assert.Equal(t, []models.RoomKey{{Building: "B1", Room: "z"}, {Building: "B2", Room: "a"}, {Building: "B2", Room: "b"}}, arena.AllRooms())
	assert.Equal(t, 4, arena.Remaining(models.RoomKey{Building: "B2", Room: "a"}))
	assert.Equal(t, 6, arena.Total())
	assert.Equal(t, 1, arena.Take(models.RoomKey{Building: "B1", Room: "z"}, 5))
	assert.Equal(t, 0, arena.Take(models.RoomKey{Building: "B1", Room: "z"}, 5))
}
