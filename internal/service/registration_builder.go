package service

import (
	"strings"

	"github.com/noah-isme/exam-seating-api/internal/models"
	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
)

const noExamMarker = "NO EXAM"

// BuildRegistrations expands the timetable against the enrollment table into
// one registration per (slot, course, roll). Rolls keep enrollment-table order.
func BuildRegistrations(timetable []models.TimetableRow, enrollments []models.Enrollment) ([]models.Registration, error) {
	rollsByCourse := make(map[string][]string)
	for _, e := range enrollments {
		course := strings.TrimSpace(e.Course)
		roll := strings.TrimSpace(e.Roll)
		if course == "" || roll == "" {
			continue
		}
		rollsByCourse[course] = append(rollsByCourse[course], roll)
	}

	var registrations []models.Registration
	for _, row := range timetable {
		date := strings.TrimSpace(row.Date)
		if date == "" {
			continue
		}
		for _, session := range models.Sessions {
			for _, course := range ParseCourseCell(row.Cell(session)) {
				for _, roll := range rollsByCourse[course] {
					registrations = append(registrations, models.Registration{
						Date:    date,
						Session: session,
						Course:  course,
						Roll:    roll,
					})
				}
			}
		}
	}

	if len(registrations) == 0 {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "no registrations built from timetable and enrollment tables")
	}
	return registrations, nil
}

// ParseCourseCell splits a timetable cell into course codes. Empty cells and
// cells starting with the NO EXAM marker yield nothing.
func ParseCourseCell(cell string) []string {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.HasPrefix(strings.ToUpper(cell), noExamMarker) {
		return nil
	}
	parts := strings.Split(cell, ";")
	courses := make([]string, 0, len(parts))
	for _, part := range parts {
		if code := strings.TrimSpace(part); code != "" {
			courses = append(courses, code)
		}
	}
	return courses
}

// GroupBySlot partitions registrations by slot. Slots come back in date then
// session order.
func GroupBySlot(registrations []models.Registration) ([]models.Slot, map[models.Slot][]models.Registration) {
	grouped := make(map[models.Slot][]models.Registration)
	var slots []models.Slot
	for _, r := range registrations {
		slot := r.Slot()
		if _, ok := grouped[slot]; !ok {
			slots = append(slots, slot)
		}
		grouped[slot] = append(grouped[slot], r)
	}
	sortSlots(slots)
	return slots, grouped
}
