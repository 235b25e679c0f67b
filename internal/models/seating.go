package models

import (
	"fmt"
	"strings"
)

// Session names one of the two daily exam sittings.
type Session string

const (
	SessionMorning Session = "morning"
	SessionEvening Session = "evening"
)

// Sessions lists sittings in timetable column order.
var Sessions = []Session{SessionMorning, SessionEvening}

// Title returns the capitalised label used in document names ("Morning").
func (s Session) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// Rank orders sessions within a day; unknown sessions sort last.
func (s Session) Rank() int {
	for i, known := range Sessions {
		if s == known {
			return i
		}
	}
	return len(Sessions)
}

// DensityMode selects how much of a room's effective capacity a single course may use.
type DensityMode string

const (
	ModeSparse DensityMode = "sparse"
	ModeDense  DensityMode = "dense"
)

// UnknownName is displayed for rolls missing from the name table.
const UnknownName = "Unknown Name"

// RunParams are the two scalar inputs of a seating run.
type RunParams struct {
	Buffer int         `json:"buffer" validate:"gte=0"`
	Mode   DensityMode `json:"mode" validate:"required,oneof=sparse dense"`
}

// TimetableRow is one exam day with the raw course cells for both sessions.
type TimetableRow struct {
	Date    string
	Morning string
	Evening string
}

// Cell returns the course cell for the given session.
func (r TimetableRow) Cell(session Session) string {
	switch session {
	case SessionMorning:
		return r.Morning
	case SessionEvening:
		return r.Evening
	default:
		return ""
	}
}

// Enrollment links a roll number to a course code.
type Enrollment struct {
	Roll   string `csv:"rollno"`
	Course string `csv:"course_code"`
}

// RoomInput is a room as read from the capacity table.
type RoomInput struct {
	Building    string
	Room        string
	RawCapacity int
}

// RoomKey identifies a room across the whole run.
type RoomKey struct {
	Building string `json:"building"`
	Room     string `json:"room"`
}

func (k RoomKey) String() string {
	return fmt.Sprintf("%s-%s", k.Building, k.Room)
}

// Room carries the capacities derived for a run.
type Room struct {
	Building          string `json:"building"`
	Room              string `json:"room"`
	RawCapacity       int    `json:"raw_capacity"`
	EffectiveCapacity int    `json:"effective_capacity"`
	PerCourseCapacity int    `json:"per_course_capacity"`
}

// Key returns the room's arena key.
func (r Room) Key() RoomKey {
	return RoomKey{Building: r.Building, Room: r.Room}
}

// Slot is a (date, session) pair, the unit of independent allocation.
type Slot struct {
	Date    string  `json:"date"`
	Session Session `json:"session"`
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %s", s.Date, s.Session)
}

// Less orders slots by date then session.
func (s Slot) Less(other Slot) bool {
	if s.Date != other.Date {
		return s.Date < other.Date
	}
	return s.Session.Rank() < other.Session.Rank()
}

// Registration is one student's sitting for one course in one slot.
type Registration struct {
	Date    string  `json:"date"`
	Session Session `json:"session"`
	Course  string  `json:"course"`
	Roll    string  `json:"roll"`
}

// Slot returns the registration's slot.
func (r Registration) Slot() Slot {
	return Slot{Date: r.Date, Session: r.Session}
}

// Allocation seats one student of one course in one room.
type Allocation struct {
	Date     string  `json:"date"`
	Session  Session `json:"session"`
	Building string  `json:"building"`
	Room     string  `json:"room"`
	Course   string  `json:"course"`
	Roll     string  `json:"roll"`
	Name     string  `json:"name"`
}

// RosterRow aggregates the students of one course seated in one room.
// Students keeps the (roll, name) pairs in seating order; Rolls and Names are
// their joined forms for tabular output.
type RosterRow struct {
	Date     string    `json:"date" csv:"Date"`
	Session  Session   `json:"session" csv:"Slot"`
	Building string    `json:"building" csv:"Building"`
	Room     string    `json:"room" csv:"Room"`
	Course   string    `json:"course" csv:"CourseCode"`
	Rolls    string    `json:"rolls" csv:"RollNumbers"`
	Names    string    `json:"names" csv:"Names"`
	Count    int       `json:"count" csv:"-"`
	Students []Student `json:"students,omitempty" csv:"-"`
}

// Slot returns the roster row's slot.
func (r RosterRow) Slot() Slot {
	return Slot{Date: r.Date, Session: r.Session}
}

// RosterDelimiter joins rolls and names inside a roster row.
const RosterDelimiter = ";"

// Student is a (roll, name) pair handed to document renderers.
type Student struct {
	Roll string `json:"roll"`
	Name string `json:"name"`
}

// UsageRow reports seat consumption for one room in one slot.
type UsageRow struct {
	Date              string  `json:"date" csv:"Date"`
	Session           Session `json:"session" csv:"Slot"`
	Building          string  `json:"building" csv:"Building"`
	Room              string  `json:"room" csv:"Room"`
	PerCourseCapacity int     `json:"per_course_capacity" csv:"EffectiveCapacityPerSubject"`
	Used              int     `json:"used" csv:"UsedSeats"`
	Left              int     `json:"left" csv:"SeatsLeft"`
}

// SlotResult is the outcome of allocating one slot.
type SlotResult struct {
	Slot        Slot
	Allocations []Allocation
	Remaining   map[RoomKey]int
	Signals     []Signal
	Failed      bool
}

// Plan is the complete, deterministic output of a seating run.
type Plan struct {
	Params      RunParams    `json:"params"`
	Rooms       []Room       `json:"rooms"`
	Allocations []Allocation `json:"allocations"`
	Rosters     []RosterRow  `json:"rosters"`
	Usage       []UsageRow   `json:"usage"`
	Signals     []Signal     `json:"signals"`
	Summary     PlanSummary  `json:"summary"`
}

// PlanSummary condenses a plan for run status payloads.
type PlanSummary struct {
	Slots         int `json:"slots"`
	FailedSlots   int `json:"failed_slots"`
	Registrations int `json:"registrations"`
	Seated        int `json:"seated"`
	Unseated      int `json:"unseated"`
	Clashes       int `json:"clashes"`
	RosterRows    int `json:"roster_rows"`
}

// SeatingInput is the normalised set of tables a run plans from.
type SeatingInput struct {
	Timetable   []TimetableRow
	Enrollments []Enrollment
	Names       map[string]string
	Rooms       []RoomInput
}
