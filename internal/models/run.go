package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus captures seating run lifecycle states.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "QUEUED"
	RunStatusProcessing RunStatus = "PROCESSING"
	RunStatusFinished   RunStatus = "FINISHED"
	RunStatusFailed     RunStatus = "FAILED"
)

// Run is persisted metadata for one asynchronous seating run.
type Run struct {
	ID           string     `db:"id" json:"id"`
	Params       RunOptions `db:"params" json:"params"`
	Status       RunStatus  `db:"status" json:"status"`
	Progress     int        `db:"progress" json:"progress"`
	InputPath    string     `db:"input_path" json:"-"`
	InputHash    string     `db:"input_hash" json:"input_hash"`
	Summary      RunSummary `db:"summary" json:"summary"`
	ResultURL    *string    `db:"result_url" json:"result_url,omitempty"`
	CreatedBy    string     `db:"created_by" json:"created_by"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
}

// RunOptions stores the request-scoped run parameters as JSONB.
type RunOptions struct {
	RunParams
	Attendance bool `json:"attendance"`
}

// Value marshals options to JSON for persistence.
func (o RunOptions) Value() (driver.Value, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal run options: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the options struct.
func (o *RunOptions) Scan(value interface{}) error {
	return scanJSON(value, o, "RunOptions")
}

// RunSummary is the plan digest persisted once a run finishes.
type RunSummary struct {
	PlanSummary
	Artifacts []string `json:"artifacts,omitempty"`
}

// Value marshals the summary to JSON for persistence.
func (s RunSummary) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal run summary: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the summary struct.
func (s *RunSummary) Scan(value interface{}) error {
	return scanJSON(value, s, "RunSummary")
}

// RunFilter captures listing criteria for runs.
type RunFilter struct {
	Status   *RunStatus
	Page     int
	PageSize int
}

func scanJSON(value interface{}, dest interface{}, name string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, name)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}
