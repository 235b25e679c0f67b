package dto

import (
	"time"

	"github.com/noah-isme/exam-seating-api/internal/models"
)

// CreateRunRequest carries the form fields sent next to the uploaded bundle.
// Absent fields fall back to the configured defaults.
type CreateRunRequest struct {
	Buffer     *int               `form:"buffer" json:"buffer"`
	Mode       models.DensityMode `form:"mode" json:"mode"`
	Attendance *bool              `form:"attendance" json:"attendance"`
}

// ListRunsQuery holds the list endpoint filters.
type ListRunsQuery struct {
	Status   string `form:"status" validate:"omitempty,oneof=QUEUED PROCESSING FINISHED FAILED"`
	Page     int    `form:"page" validate:"omitempty,gte=1"`
	PageSize int    `form:"page_size" validate:"omitempty,gte=1,lte=100"`
}

// RunResponse is returned after a run is accepted.
type RunResponse struct {
	ID       string           `json:"id"`
	Status   models.RunStatus `json:"status"`
	Progress int              `json:"progress"`
}

// RunStatusResponse exposes run progress and its outcome.
type RunStatusResponse struct {
	ID         string            `json:"id"`
	Status     models.RunStatus  `json:"status"`
	Progress   int               `json:"progress"`
	Params     models.RunOptions `json:"params"`
	InputHash  string            `json:"input_hash"`
	Summary    models.RunSummary `json:"summary"`
	ResultURL  *string           `json:"result_url,omitempty"`
	Error      *string           `json:"error,omitempty"`
	CreatedBy  string            `json:"created_by"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}
