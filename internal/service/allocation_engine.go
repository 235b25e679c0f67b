package service

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-seating-api/internal/models"
)

// AllocationEngine seats one slot's students into rooms course by course,
// largest course first.
type AllocationEngine struct {
	policy PlacementPolicy
	logger *zap.Logger
}

// NewAllocationEngine wires the engine; a nil policy selects GreedyPolicy.
func NewAllocationEngine(policy PlacementPolicy, logger *zap.Logger) *AllocationEngine {
	if policy == nil {
		policy = GreedyPolicy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationEngine{policy: policy, logger: logger}
}

type courseRolls struct {
	course string
	rolls  []string
}

// AllocateSlot seats the slot's registrations. The arena is built fresh from
// rooms and discarded afterwards, so concurrent calls for different slots
// share nothing.
func (e *AllocationEngine) AllocateSlot(slot models.Slot, registrations []models.Registration, rooms []models.Room, names map[string]string) models.SlotResult {
	result := models.SlotResult{Slot: slot}
	courses, dupes := dedupeByCourse(slot, registrations)
	result.Signals = append(result.Signals, dupes...)

	arena := NewRoomArena(rooms)
	demand := 0
	for _, c := range courses {
		demand += len(c.rolls)
	}
	supply := arena.Total()
	if demand > supply {
		result.Failed = true
		result.Remaining = arena.Snapshot()
		result.Signals = append(result.Signals, models.Signal{
			Kind:     models.SignalCapacity,
			Severity: models.SeverityError,
			Date:     slot.Date,
			Session:  slot.Session,
			Count:    demand - supply,
			Message:  fmt.Sprintf("insufficient capacity for %s: need %d seats, have %d (short by %d)", slot, demand, supply, demand-supply),
		})
		return result
	}

	sort.SliceStable(courses, func(i, j int) bool { return len(courses[i].rolls) > len(courses[j].rolls) })

	for _, c := range courses {
		allocations, unseated := e.placeCourse(slot, c, arena, names)
		result.Allocations = append(result.Allocations, allocations...)
		if unseated > 0 {
			result.Signals = append(result.Signals, models.Signal{
				Kind:     models.SignalUnseated,
				Severity: models.SeverityError,
				Date:     slot.Date,
				Session:  slot.Session,
				Courses:  []string{c.course},
				Count:    unseated,
				Message:  fmt.Sprintf("%d students of %s could not be seated on %s", unseated, c.course, slot),
			})
		}
	}

	result.Remaining = arena.Snapshot()
	return result
}

func (e *AllocationEngine) placeCourse(slot models.Slot, c courseRolls, arena *RoomArena, names map[string]string) ([]models.Allocation, int) {
	placement := e.policy.Place(arena, len(c.rolls))
	if placement.Building != "" {
		e.logger.Info("course allocated within single building",
			zap.String("slot", slot.String()),
			zap.String("course", c.course),
			zap.String("building", placement.Building),
			zap.Int("capacity", arena.BuildingRemaining(placement.Building)),
		)
	} else {
		e.logger.Info("course spread across buildings",
			zap.String("slot", slot.String()),
			zap.String("course", c.course),
			zap.Int("students", len(c.rolls)),
		)
	}

	pending := c.rolls
	allocations := make([]models.Allocation, 0, len(pending))
	for _, key := range placement.Rooms {
		if len(pending) == 0 {
			break
		}
		taken := arena.Take(key, len(pending))
		if taken == 0 {
			continue
		}
		for _, roll := range pending[:taken] {
			allocations = append(allocations, models.Allocation{
				Date:     slot.Date,
				Session:  slot.Session,
				Building: key.Building,
				Room:     key.Room,
				Course:   c.course,
				Roll:     roll,
				Name:     lookupName(names, roll),
			})
		}
		pending = pending[taken:]
	}
	return allocations, len(pending)
}

// dedupeByCourse groups rolls per course in discovery order, keeping the first
// occurrence of each roll and reporting collapsed duplicates.
func dedupeByCourse(slot models.Slot, registrations []models.Registration) ([]courseRolls, []models.Signal) {
	index := make(map[string]int)
	seen := make(map[string]map[string]struct{})
	var courses []courseRolls
	var dupes map[string][]string
	for _, r := range registrations {
		i, ok := index[r.Course]
		if !ok {
			i = len(courses)
			index[r.Course] = i
			courses = append(courses, courseRolls{course: r.Course})
			seen[r.Course] = make(map[string]struct{})
		}
		if _, dup := seen[r.Course][r.Roll]; dup {
			if dupes == nil {
				dupes = make(map[string][]string)
			}
			dupes[r.Course] = append(dupes[r.Course], r.Roll)
			continue
		}
		seen[r.Course][r.Roll] = struct{}{}
		courses[i].rolls = append(courses[i].rolls, r.Roll)
	}

	var signals []models.Signal
	for _, c := range courses {
		rolls, ok := dupes[c.course]
		if !ok {
			continue
		}
		signals = append(signals, models.Signal{
			Kind:     models.SignalDuplicateEnrollment,
			Severity: models.SeverityWarn,
			Date:     slot.Date,
			Session:  slot.Session,
			Courses:  []string{c.course},
			Rolls:    rolls,
			Count:    len(rolls),
			Message:  fmt.Sprintf("%d duplicate enrollment rows collapsed for %s on %s", len(rolls), c.course, slot),
		})
	}
	return courses, signals
}

func lookupName(names map[string]string, roll string) string {
	if name, ok := names[roll]; ok && name != "" {
		return name
	}
	return models.UnknownName
}
