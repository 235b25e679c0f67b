package models

// SignalKind classifies a reported condition of a seating run.
type SignalKind string

const (
	SignalClash               SignalKind = "CLASH"
	SignalCapacity            SignalKind = "CAPACITY"
	SignalUnseated            SignalKind = "UNSEATED"
	SignalDuplicateEnrollment SignalKind = "DUPLICATE_ENROLLMENT"
	SignalRender              SignalKind = "RENDER"
)

// SignalSeverity selects which log streams record a signal.
type SignalSeverity string

const (
	SeverityWarn  SignalSeverity = "warn"
	SeverityError SignalSeverity = "error"
)

// Signal is a clash, warning, or error raised while planning or rendering.
// Signals never change allocation results.
type Signal struct {
	Kind     SignalKind     `json:"kind"`
	Severity SignalSeverity `json:"severity"`
	Date     string         `json:"date,omitempty"`
	Session  Session        `json:"session,omitempty"`
	Courses  []string       `json:"courses,omitempty"`
	Rolls    []string       `json:"rolls,omitempty"`
	Room     string         `json:"room,omitempty"`
	Count    int            `json:"count,omitempty"`
	Message  string         `json:"message"`
}

// Slot returns the slot the signal refers to, if any.
func (s Signal) Slot() Slot {
	return Slot{Date: s.Date, Session: s.Session}
}
