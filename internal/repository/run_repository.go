package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/exam-seating-api/internal/models"
)

const runColumns = "id, params, status, progress, input_path, input_hash, summary, result_url, created_by, created_at, finished_at, error_message"

const runSchema = `CREATE TABLE IF NOT EXISTS seating_runs (
	id UUID PRIMARY KEY,
	params JSONB NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	input_path TEXT NOT NULL,
	input_hash TEXT NOT NULL,
	summary JSONB,
	result_url TEXT,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_seating_runs_status_created ON seating_runs (status, created_at DESC)`

type queryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// RunRepository persists seating run metadata.
type RunRepository struct {
	db      *sqlx.DB
	metrics queryObserver
}

// NewRunRepository constructs the repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// WithMetrics records query timings on the given observer.
func (r *RunRepository) WithMetrics(metrics queryObserver) *RunRepository {
	r.metrics = metrics
	return r
}

// EnsureSchema creates the runs table when missing.
func (r *RunRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, runSchema); err != nil {
		return fmt.Errorf("ensure seating run schema: %w", err)
	}
	return nil
}

func (r *RunRepository) observe(label string, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveDBQuery(label, time.Since(start))
	}
}

// Create inserts a new run row with generated defaults.
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	defer r.observe("runs.create", time.Now())
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO seating_runs (id, params, status, progress, input_path, input_hash, summary, result_url, created_by, created_at, finished_at, error_message)
VALUES (:id, :params, :status, :progress, :input_path, :input_hash, :summary, :result_url, :created_by, :created_at, :finished_at, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create seating run: %w", err)
	}
	return nil
}

// GetByID returns a run row by its identifier.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	defer r.observe("runs.get", time.Now())
	query := "SELECT " + runColumns + " FROM seating_runs WHERE id = $1"
	var run models.Run
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, fmt.Errorf("get seating run: %w", err)
	}
	return &run, nil
}

// UpdateRunParams defines the mutable fields.
type UpdateRunParams struct {
	Status       *models.RunStatus
	Progress     *int
	Summary      *models.RunSummary
	ResultURL    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update persists the provided changes for a run row.
func (r *RunRepository) Update(ctx context.Context, id string, params UpdateRunParams) error {
	defer r.observe("runs.update", time.Now())
	set := make([]string, 0, 6)
	args := make([]interface{}, 0, 7)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Status != nil {
		add("status", *params.Status)
	}
	if params.Progress != nil {
		add("progress", *params.Progress)
	}
	if params.Summary != nil {
		add("summary", *params.Summary)
	}
	if params.ResultURL != nil {
		add("result_url", *params.ResultURL)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if params.FinishedAt != nil {
		add("finished_at", *params.FinishedAt)
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE seating_runs SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update seating run: %w", err)
	}
	return nil
}

// List returns a page of runs, newest first, with the total match count.
func (r *RunRepository) List(ctx context.Context, filter models.RunFilter) ([]models.Run, int, error) {
	defer r.observe("runs.list", time.Now())
	var (
		where string
		args  []interface{}
	)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = " WHERE status = $1"
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM seating_runs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count seating runs: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf("SELECT %s FROM seating_runs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d", runColumns, where, len(args)-1, len(args))

	var runs []models.Run
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list seating runs: %w", err)
	}
	return runs, total, nil
}

// ListQueued fetches queued runs (used for cold start recovery).
func (r *RunRepository) ListQueued(ctx context.Context, limit int) ([]models.Run, error) {
	defer r.observe("runs.list_queued", time.Now())
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT " + runColumns + " FROM seating_runs WHERE status = 'QUEUED' ORDER BY created_at ASC LIMIT $1"
	var runs []models.Run
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("list queued seating runs: %w", err)
	}
	return runs, nil
}

// ListFinishedBefore retrieves completed runs prior to cutoff for cleanup.
func (r *RunRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Run, error) {
	defer r.observe("runs.list_finished", time.Now())
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + runColumns + " FROM seating_runs WHERE status IN ('FINISHED', 'FAILED') AND finished_at IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2"
	var runs []models.Run
	if err := r.db.SelectContext(ctx, &runs, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list finished seating runs: %w", err)
	}
	return runs, nil
}

// Delete removes a run row after its artifacts have been purged.
func (r *RunRepository) Delete(ctx context.Context, id string) error {
	defer r.observe("runs.delete", time.Now())
	if _, err := r.db.ExecContext(ctx, "DELETE FROM seating_runs WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete seating run: %w", err)
	}
	return nil
}
