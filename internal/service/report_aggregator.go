package service

import (
	"sort"
	"strings"

	"github.com/noah-isme/exam-seating-api/internal/models"
)

type rosterKey struct {
	slot     models.Slot
	building string
	room     string
	course   string
}

func (k rosterKey) less(o rosterKey) bool {
	if k.slot != o.slot {
		return k.slot.Less(o.slot)
	}
	if k.building != o.building {
		return k.building < o.building
	}
	if k.room != o.room {
		return k.room < o.room
	}
	return k.course < o.course
}

// BuildRosterRows groups allocations by (slot, building, room, course).
// Students, rolls and names keep seating order.
func BuildRosterRows(allocations []models.Allocation) []models.RosterRow {
	groups := make(map[rosterKey]*models.RosterRow)
	students := make(map[rosterKey][]models.Student)
	var keys []rosterKey

	for _, a := range allocations {
		key := rosterKey{
			slot:     models.Slot{Date: a.Date, Session: a.Session},
			building: a.Building,
			room:     a.Room,
			course:   a.Course,
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
			groups[key] = &models.RosterRow{
				Date:     a.Date,
				Session:  a.Session,
				Building: a.Building,
				Room:     a.Room,
				Course:   a.Course,
			}
		}
		students[key] = append(students[key], models.Student{Roll: a.Roll, Name: a.Name})
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	rows := make([]models.RosterRow, 0, len(keys))
	for _, key := range keys {
		row := groups[key]
		seated := students[key]
		rolls := make([]string, len(seated))
		names := make([]string, len(seated))
		for i, st := range seated {
			rolls[i] = st.Roll
			names[i] = st.Name
		}
		row.Rolls = strings.Join(rolls, models.RosterDelimiter)
		row.Names = strings.Join(names, models.RosterDelimiter)
		row.Count = len(seated)
		row.Students = seated
		rows = append(rows, *row)
	}
	return rows
}

// BuildUsageRows reports, per slot and room, the base per-course capacity,
// the seats used and the seats left. Slots that failed the capacity check
// report every room unused.
func BuildUsageRows(results []models.SlotResult, rooms []models.Room) []models.UsageRow {
	ordered := uniqueRooms(rooms)

	sorted := append([]models.SlotResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Slot.Less(sorted[j].Slot) })

	rows := make([]models.UsageRow, 0, len(sorted)*len(ordered))
	for _, res := range sorted {
		for _, room := range ordered {
			left, ok := res.Remaining[room.Key()]
			if !ok {
				left = room.PerCourseCapacity
			}
			rows = append(rows, models.UsageRow{
				Date:              res.Slot.Date,
				Session:           res.Slot.Session,
				Building:          room.Building,
				Room:              room.Room,
				PerCourseCapacity: room.PerCourseCapacity,
				Used:              room.PerCourseCapacity - left,
				Left:              left,
			})
		}
	}
	return rows
}

// uniqueRooms orders rooms by (building, room), keeping the last entry for a
// repeated key to match the arena.
func uniqueRooms(rooms []models.Room) []models.Room {
	index := make(map[models.RoomKey]int, len(rooms))
	var out []models.Room
	for _, room := range rooms {
		if i, ok := index[room.Key()]; ok {
			out[i] = room
			continue
		}
		index[room.Key()] = len(out)
		out = append(out, room)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Building != out[j].Building {
			return out[i].Building < out[j].Building
		}
		return out[i].Room < out[j].Room
	})
	return out
}

func sortSlots(slots []models.Slot) {
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Less(slots[j]) })
}

// Summarize condenses a plan into counters.
func Summarize(results []models.SlotResult, registrations int, rosters []models.RosterRow) models.PlanSummary {
	summary := models.PlanSummary{
		Slots:         len(results),
		Registrations: registrations,
		RosterRows:    len(rosters),
	}
	for _, res := range results {
		if res.Failed {
			summary.FailedSlots++
		}
		summary.Seated += len(res.Allocations)
		for _, sig := range res.Signals {
			switch sig.Kind {
			case models.SignalUnseated:
				summary.Unseated += sig.Count
			case models.SignalClash:
				summary.Clashes++
			}
		}
	}
	return summary
}
