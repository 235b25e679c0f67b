package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-seating-api/internal/dto"
	"github.com/noah-isme/exam-seating-api/internal/models"
	"github.com/noah-isme/exam-seating-api/internal/repository"
	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
	"github.com/noah-isme/exam-seating-api/pkg/jobs"
	"github.com/noah-isme/exam-seating-api/pkg/storage"
)

// Layout of a run directory inside run storage.
const (
	runInputFile   = "input.zip"
	runPlanFile    = "plan.json"
	runBundleFile  = "bundle.zip"
	runResultDir   = "result"
	runOutputDir   = "output"
	runAttendDir   = "attendance_pdfs"
	runLogsDir     = "logs"
	runJobType     = "seating_run"
	runCleanupPage = 100
)

type runStore interface {
	Create(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id string) (*models.Run, error)
	Update(ctx context.Context, id string, params repository.UpdateRunParams) error
	List(ctx context.Context, filter models.RunFilter) ([]models.Run, int, error)
	ListQueued(ctx context.Context, limit int) ([]models.Run, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Run, error)
	Delete(ctx context.Context, id string) error
}

type runFiles interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	ReadFile(filename string) ([]byte, error)
	RemoveAll(name string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
	Path(filename string) string
}

type runDispatcher interface {
	Enqueue(job jobs.Job) error
}

type runMetrics interface {
	ObserveRun(status models.RunStatus)
}

// RunServiceConfig governs upload limits, defaults, queue recovery and cleanup.
type RunServiceConfig struct {
	DefaultBuffer   int
	DefaultMode     models.DensityMode
	MaxUploadBytes  int64
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// RunDownload aggregates resolved download data.
type RunDownload struct {
	File      *os.File
	Filename  string
	ExpiresAt time.Time
}

// RunService orchestrates the seating run lifecycle.
type RunService struct {
	repo      runStore
	files     runFiles
	queue     runDispatcher
	signer    *storage.SignedURLSigner
	metrics   runMetrics
	validator *validator.Validate
	logger    *zap.Logger
	cfg       RunServiceConfig
}

// NewRunService constructs the run service.
func NewRunService(repo runStore, files runFiles, queue runDispatcher, signer *storage.SignedURLSigner, metrics runMetrics, validate *validator.Validate, logger *zap.Logger, cfg RunServiceConfig) *RunService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = models.ModeDense
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 64 << 20
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &RunService{
		repo:      repo,
		files:     files,
		queue:     queue,
		signer:    signer,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Create stores the uploaded bundle, persists a queued run and enqueues it.
func (s *RunService) Create(ctx context.Context, req dto.CreateRunRequest, upload io.Reader, actorID string) (*dto.RunResponse, error) {
	params := models.RunParams{Buffer: s.cfg.DefaultBuffer, Mode: s.cfg.DefaultMode}
	if req.Buffer != nil {
		params.Buffer = *req.Buffer
	}
	if req.Mode != "" {
		params.Mode = models.DensityMode(strings.ToLower(string(req.Mode)))
	}
	if err := s.validator.Struct(params); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "buffer must be >= 0 and mode one of sparse, dense")
	}
	attendance := true
	if req.Attendance != nil {
		attendance = *req.Attendance
	}

	data, err := io.ReadAll(io.LimitReader(upload, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
	}
	if len(data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "bundle is empty")
	}

	sum := sha256.Sum256(data)
	run := &models.Run{
		ID:        uuid.NewString(),
		Params:    models.RunOptions{RunParams: params, Attendance: attendance},
		Status:    models.RunStatusQueued,
		InputHash: hex.EncodeToString(sum[:]),
		CreatedBy: actorID,
	}
	run.InputPath, err = s.files.Save(path.Join(run.ID, runInputFile), data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store upload")
	}
	if err := s.repo.Create(ctx, run); err != nil {
		_ = s.files.RemoveAll(run.ID)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create seating run")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: runJobType}); err != nil {
		status := models.RunStatusFailed
		msg := "failed to enqueue run"
		now := time.Now().UTC()
		progress := 100
		_ = s.repo.Update(ctx, run.ID, repository.UpdateRunParams{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		s.observe(status)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue seating run")
	}
	s.observe(models.RunStatusQueued)
	s.logger.Info("seating run queued",
		zap.String("run_id", run.ID),
		zap.Int("buffer", params.Buffer),
		zap.String("mode", string(params.Mode)),
		zap.Int("bytes", len(data)),
	)
	return &dto.RunResponse{ID: run.ID, Status: run.Status, Progress: run.Progress}, nil
}

// Get exposes run metadata to clients.
func (s *RunService) Get(ctx context.Context, id string) (*dto.RunStatusResponse, error) {
	run, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toRunStatus(*run)
	return &resp, nil
}

// List returns a page of runs.
func (s *RunService) List(ctx context.Context, query dto.ListRunsQuery) ([]dto.RunStatusResponse, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid list query")
	}
	filter := models.RunFilter{Page: query.Page, PageSize: query.PageSize}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if query.Status != "" {
		status := models.RunStatus(query.Status)
		filter.Status = &status
	}
	runs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list seating runs")
	}
	out := make([]dto.RunStatusResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunStatus(run))
	}
	return out, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Rosters returns the roster rows of a finished run.
func (s *RunService) Rosters(ctx context.Context, id string) ([]models.RosterRow, error) {
	plan, err := s.plan(ctx, id)
	if err != nil {
		return nil, err
	}
	return plan.Rosters, nil
}

// Usage returns the seat usage rows of a finished run.
func (s *RunService) Usage(ctx context.Context, id string) ([]models.UsageRow, error) {
	plan, err := s.plan(ctx, id)
	if err != nil {
		return nil, err
	}
	return plan.Usage, nil
}

// Signals returns the signals of a finished run, optionally only one kind.
func (s *RunService) Signals(ctx context.Context, id string, kind models.SignalKind) ([]models.Signal, error) {
	plan, err := s.plan(ctx, id)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return plan.Signals, nil
	}
	out := make([]models.Signal, 0)
	for _, sig := range plan.Signals {
		if sig.Kind == kind {
			out = append(out, sig)
		}
	}
	return out, nil
}

// ResolveDownload validates token and opens the run bundle.
func (s *RunService) ResolveDownload(ctx context.Context, token string) (*RunDownload, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	run, err := s.load(ctx, claims.RunID)
	if err != nil {
		return nil, err
	}
	if run.ResultURL == nil || !strings.HasSuffix(*run.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if run.Status != models.RunStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "run not ready")
	}
	file, err := s.files.Open(claims.Path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open run bundle")
	}
	return &RunDownload{
		File:      file,
		Filename:  fmt.Sprintf("seating_%s.zip", run.ID),
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// RecoverPendingJobs replays queued runs (e.g. after process restart).
func (s *RunService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued seating runs", "error", err)
		return
	}
	for _, run := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: runJobType}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending run", "run_id", run.ID, "error", err)
		}
	}
}

// StartCleanup boots a goroutine that purges expired runs periodically.
func (s *RunService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *RunService) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	for {
		runs, err := s.repo.ListFinishedBefore(ctx, cutoff, runCleanupPage)
		if err != nil {
			s.logger.Sugar().Warnw("cleanup list failed", "error", err)
			return
		}
		for _, run := range runs {
			if err := s.files.RemoveAll(run.ID); err != nil {
				s.logger.Sugar().Warnw("cleanup delete failed", "run_id", run.ID, "error", err)
				continue
			}
			if err := s.repo.Delete(ctx, run.ID); err != nil {
				s.logger.Sugar().Warnw("cleanup row delete failed", "run_id", run.ID, "error", err)
			}
		}
		if len(runs) < runCleanupPage {
			break
		}
	}
	if _, err := s.files.CleanupOlderThan(s.cfg.ResultTTL * 2); err != nil {
		s.logger.Sugar().Warnw("filesystem cleanup failed", "error", err)
	}
}

func (s *RunService) load(ctx context.Context, id string) (*models.Run, error) {
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "seating run not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load seating run")
	}
	return run, nil
}

func (s *RunService) plan(ctx context.Context, id string) (*models.Plan, error) {
	run, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("seating run is %s", run.Status))
	}
	raw, err := s.files.ReadFile(path.Join(run.ID, runPlanFile))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read seating plan")
	}
	var plan models.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode seating plan")
	}
	return &plan, nil
}

func (s *RunService) observe(status models.RunStatus) {
	if s.metrics != nil {
		s.metrics.ObserveRun(status)
	}
}

func toRunStatus(run models.Run) dto.RunStatusResponse {
	resp := dto.RunStatusResponse{
		ID:         run.ID,
		Status:     run.Status,
		Progress:   run.Progress,
		Params:     run.Params,
		InputHash:  run.InputHash,
		Summary:    run.Summary,
		ResultURL:  run.ResultURL,
		CreatedBy:  run.CreatedBy,
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
	}
	if run.ErrorMessage != nil && *run.ErrorMessage != "" {
		resp.Error = run.ErrorMessage
	}
	return resp
}
