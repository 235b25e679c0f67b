package service

import (
	"fmt"
	"sort"

	"github.com/noah-isme/exam-seating-api/internal/models"
)

// DetectClashes reports every roll registered for more than one course in
// the slot, once per unordered course pair. Allocation is not affected.
func DetectClashes(slot models.Slot, registrations []models.Registration) []models.Signal {
	rollSets := make(map[string]map[string]struct{})
	for _, r := range registrations {
		set, ok := rollSets[r.Course]
		if !ok {
			set = make(map[string]struct{})
			rollSets[r.Course] = set
		}
		set[r.Roll] = struct{}{}
	}

	courses := make([]string, 0, len(rollSets))
	for course := range rollSets {
		courses = append(courses, course)
	}
	sort.Strings(courses)

	var signals []models.Signal
	for i := 0; i < len(courses); i++ {
		for j := i + 1; j < len(courses); j++ {
			a, b := courses[i], courses[j]
			for _, roll := range intersectRolls(rollSets[a], rollSets[b]) {
				signals = append(signals, models.Signal{
					Kind:     models.SignalClash,
					Severity: models.SeverityError,
					Date:     slot.Date,
					Session:  slot.Session,
					Courses:  []string{a, b},
					Rolls:    []string{roll},
					Message:  fmt.Sprintf("clash on %s: roll %s registered for both %s and %s", slot, roll, a, b),
				})
			}
		}
	}
	return signals
}

func intersectRolls(a, b map[string]struct{}) []string {
	if len(b) < len(a) {
		a, b = b, a
	}
	var out []string
	for roll := range a {
		if _, ok := b[roll]; ok {
			out = append(out, roll)
		}
	}
	sort.Strings(out)
	return out
}
