package service

import (
	"sort"

	"github.com/noah-isme/exam-seating-api/internal/models"
)

// RoomArena tracks the remaining seats of every room for a single slot.
// Buildings keep first-appearance order; rooms inside a building are sorted
// by room identifier.
type RoomArena struct {
	buildings  []string
	byBuilding map[string][]models.RoomKey
	base       map[models.RoomKey]int
	remaining  map[models.RoomKey]int
}

// NewRoomArena builds a fresh arena from per-course capacities. A room listed
// twice keeps its last capacity.
func NewRoomArena(rooms []models.Room) *RoomArena {
	a := &RoomArena{
		byBuilding: make(map[string][]models.RoomKey),
		base:       make(map[models.RoomKey]int, len(rooms)),
		remaining:  make(map[models.RoomKey]int, len(rooms)),
	}
	for _, room := range rooms {
		key := room.Key()
		if _, seen := a.base[key]; !seen {
			if _, ok := a.byBuilding[room.Building]; !ok {
				a.buildings = append(a.buildings, room.Building)
			}
			a.byBuilding[room.Building] = append(a.byBuilding[room.Building], key)
		}
		a.base[key] = room.PerCourseCapacity
		a.remaining[key] = room.PerCourseCapacity
	}
	for _, keys := range a.byBuilding {
		sort.SliceStable(keys, func(i, j int) bool { return keys[i].Room < keys[j].Room })
	}
	return a
}

// Buildings returns building codes in first-appearance order.
func (a *RoomArena) Buildings() []string {
	return append([]string(nil), a.buildings...)
}

// RoomsIn returns the building's rooms in ascending room order.
func (a *RoomArena) RoomsIn(building string) []models.RoomKey {
	return append([]models.RoomKey(nil), a.byBuilding[building]...)
}

// AllRooms returns every room ordered by (building, room).
func (a *RoomArena) AllRooms() []models.RoomKey {
	keys := make([]models.RoomKey, 0, len(a.base))
	for key := range a.base {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Building != keys[j].Building {
			return keys[i].Building < keys[j].Building
		}
		return keys[i].Room < keys[j].Room
	})
	return keys
}

// Remaining reports the seats left in a room.
func (a *RoomArena) Remaining(key models.RoomKey) int {
	return a.remaining[key]
}

// BuildingRemaining sums the seats left across a building's rooms.
func (a *RoomArena) BuildingRemaining(building string) int {
	total := 0
	for _, key := range a.byBuilding[building] {
		total += a.remaining[key]
	}
	return total
}

// Total sums the seats left across the slot.
func (a *RoomArena) Total() int {
	total := 0
	for _, seats := range a.remaining {
		total += seats
	}
	return total
}

// Take removes up to n seats from a room and returns how many were taken.
func (a *RoomArena) Take(key models.RoomKey, n int) int {
	left := a.remaining[key]
	if n > left {
		n = left
	}
	if n <= 0 {
		return 0
	}
	a.remaining[key] = left - n
	return n
}

// Snapshot copies the remaining-seat map.
func (a *RoomArena) Snapshot() map[models.RoomKey]int {
	out := make(map[models.RoomKey]int, len(a.remaining))
	for key, seats := range a.remaining {
		out[key] = seats
	}
	return out
}

// Placement is the ordered list of rooms a course should be poured into.
// Building is empty when the course is spread across buildings.
type Placement struct {
	Building string
	Rooms    []models.RoomKey
}

// PlacementPolicy chooses where a course of the given size goes.
type PlacementPolicy interface {
	Place(arena *RoomArena, students int) Placement
}

// GreedyPolicy seats a course in the tightest single building that can hold
// it, or spreads it across all rooms when none can.
type GreedyPolicy struct{}

// Place implements PlacementPolicy.
func (GreedyPolicy) Place(arena *RoomArena, students int) Placement {
	chosen := ""
	best := -1
	for _, building := range arena.Buildings() {
		seats := arena.BuildingRemaining(building)
		if seats < students {
			continue
		}
		if best < 0 || seats < best {
			chosen, best = building, seats
		}
	}
	if best >= 0 {
		return Placement{Building: chosen, Rooms: arena.RoomsIn(chosen)}
	}
	return Placement{Rooms: arena.AllRooms()}
}
