package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-seating-api/internal/csvio"
	"github.com/noah-isme/exam-seating-api/internal/models"
	"github.com/noah-isme/exam-seating-api/internal/repository"
	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
	"github.com/noah-isme/exam-seating-api/pkg/export"
	"github.com/noah-isme/exam-seating-api/pkg/jobs"
	runlog "github.com/noah-isme/exam-seating-api/pkg/logger"
	"github.com/noah-isme/exam-seating-api/pkg/storage"
)

type planCache interface {
	GetPlan(ctx context.Context, key string) *models.Plan
	SetPlan(ctx context.Context, key string, plan *models.Plan) error
}

// RunWorkerConfig tunes the worker.
type RunWorkerConfig struct {
	APIPrefix  string
	PhotoMaxPx int
}

// RunWorker bridges queue jobs to the seating pipeline.
type RunWorker struct {
	repo      runStore
	files     runFiles
	seating   *SeatingService
	artifacts *ArtifactService
	cache     planCache
	signer    *storage.SignedURLSigner
	metrics   runMetrics
	logger    *zap.Logger
	cfg       RunWorkerConfig
}

// NewRunWorker constructs a worker. cache may be nil.
func NewRunWorker(repo runStore, files runFiles, seating *SeatingService, artifacts *ArtifactService, cache planCache, signer *storage.SignedURLSigner, metrics runMetrics, logger *zap.Logger, cfg RunWorkerConfig) *RunWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if seating == nil {
		seating = NewSeatingService(nil, nil, nil, logger, SeatingConfig{})
	}
	if artifacts == nil {
		artifacts = NewArtifactService(nil, nil, nil, logger, ArtifactConfig{})
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &RunWorker{
		repo:      repo,
		files:     files,
		seating:   seating,
		artifacts: artifacts,
		cache:     cache,
		signer:    signer,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Handle processes a queue job. Configuration problems in the upload are
// returned as permanent errors so the queue gives up at once.
func (w *RunWorker) Handle(ctx context.Context, job jobs.Job) error {
	run, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Permanent(err)
		}
		return err
	}
	if run.Status == models.RunStatusFinished || run.Status == models.RunStatusFailed {
		return nil
	}

	processing := models.RunStatusProcessing
	progress := 10
	if err := w.repo.Update(ctx, run.ID, repository.UpdateRunParams{Status: &processing, Progress: &progress}); err != nil {
		return err
	}
	w.observe(processing)

	logDir := w.files.Path(path.Join(run.ID, runResultDir, runLogsDir))
	logs, err := runlog.NewRunLogger(w.logger.With(zap.String("run_id", run.ID)), logDir)
	if err != nil {
		return w.retry(ctx, run.ID, err)
	}
	summary, execErr := w.execute(ctx, run, logs.Logger)
	if execErr != nil && appErrors.IsCode(execErr, appErrors.ErrConfiguration.Code) {
		logs.Error("configuration error", zap.Error(execErr))
	}
	if err := logs.Close(); err != nil {
		w.logger.Warn("failed to close run logs", zap.String("run_id", run.ID), zap.Error(err))
	}
	if execErr != nil {
		if appErrors.IsCode(execErr, appErrors.ErrConfiguration.Code) {
			return jobs.Permanent(execErr)
		}
		return w.retry(ctx, run.ID, execErr)
	}

	bundle := path.Join(run.ID, runBundleFile)
	if err := storage.ArchiveDir(w.files.Path(path.Join(run.ID, runResultDir)), w.files.Path(bundle)); err != nil {
		return w.retry(ctx, run.ID, err)
	}
	token, _, err := w.signer.Sign(run.ID, bundle)
	if err != nil {
		return w.retry(ctx, run.ID, err)
	}

	finished := models.RunStatusFinished
	progress = 100
	now := time.Now().UTC()
	url := fmt.Sprintf("%s/runs/download/%s", strings.TrimRight(w.cfg.APIPrefix, "/"), token)
	clear := ""
	if err := w.repo.Update(ctx, run.ID, repository.UpdateRunParams{
		Status:       &finished,
		Progress:     &progress,
		Summary:      summary,
		ResultURL:    &url,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark run finished", "run_id", run.ID, "error", err)
		return err
	}
	w.observe(finished)
	w.logger.Info("seating run finished",
		zap.String("run_id", run.ID),
		zap.Int("seated", summary.Seated),
		zap.Int("failed_slots", summary.FailedSlots),
		zap.Int("artifacts", len(summary.Artifacts)),
	)
	return nil
}

// GiveUp marks a run failed once the queue will not retry it.
func (w *RunWorker) GiveUp(job jobs.Job, cause error) {
	failed := models.RunStatusFailed
	progress := 100
	now := time.Now().UTC()
	msg := cause.Error()
	if appErr := appErrors.FromError(cause); appErr != nil && appErr.Code != appErrors.ErrInternal.Code {
		msg = appErr.Error()
	}
	if err := w.repo.Update(context.Background(), job.ID, repository.UpdateRunParams{
		Status:       &failed,
		Progress:     &progress,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark run failed", "run_id", job.ID, "error", err)
		return
	}
	w.observe(failed)
}

func (w *RunWorker) execute(ctx context.Context, run *models.Run, log *zap.Logger) (*models.RunSummary, error) {
	data, err := w.files.ReadFile(run.InputPath)
	if err != nil {
		return nil, err
	}
	fsys, err := csvio.OpenZip(data)
	if err != nil {
		return nil, err
	}
	bundle, err := csvio.Load(fsys)
	if err != nil {
		return nil, err
	}

	params := run.Params.RunParams
	key := PlanKey(run.InputHash, params)
	var plan *models.Plan
	if w.cache != nil {
		plan = w.cache.GetPlan(ctx, key)
	}
	if plan != nil {
		log.Info("seating plan served from cache", zap.String("input_hash", run.InputHash))
		for _, sig := range plan.Signals {
			LogSignal(log, sig)
		}
	} else {
		plan, err = w.seating.WithLogger(log).Plan(ctx, bundle.Input, params)
		if err != nil {
			return nil, err
		}
		if w.cache != nil {
			_ = w.cache.SetPlan(ctx, key, plan)
		}
	}
	w.setProgress(ctx, run.ID, 50)

	targets := ArtifactTargets{Photos: export.NewPhotoSource(bundle.Photos, w.cfg.PhotoMaxPx)}
	if targets.Output, err = storage.NewLocalStorage(w.files.Path(path.Join(run.ID, runResultDir, runOutputDir))); err != nil {
		return nil, err
	}
	if run.Params.Attendance {
		if targets.Attendance, err = storage.NewLocalStorage(w.files.Path(path.Join(run.ID, runResultDir, runAttendDir))); err != nil {
			return nil, err
		}
	}
	artifacts, err := w.artifacts.WithLogger(log).Write(ctx, plan, targets)
	if err != nil {
		return nil, err
	}
	plan.Signals = append(plan.Signals, artifacts.Signals...)
	w.setProgress(ctx, run.ID, 90)

	payload, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encode seating plan: %w", err)
	}
	if _, err := w.files.Save(path.Join(run.ID, runPlanFile), payload); err != nil {
		return nil, err
	}
	return &models.RunSummary{PlanSummary: plan.Summary, Artifacts: artifacts.Files}, nil
}

func (w *RunWorker) retry(ctx context.Context, runID string, cause error) error {
	queued := models.RunStatusQueued
	reset := 0
	msg := cause.Error()
	if err := w.repo.Update(ctx, runID, repository.UpdateRunParams{
		Status:       &queued,
		Progress:     &reset,
		ErrorMessage: &msg,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark run queued", "run_id", runID, "error", err)
	}
	return cause
}

func (w *RunWorker) setProgress(ctx context.Context, runID string, progress int) {
	if err := w.repo.Update(ctx, runID, repository.UpdateRunParams{Progress: &progress}); err != nil {
		w.logger.Sugar().Warnw("failed to update run progress", "run_id", runID, "error", err)
	}
}

func (w *RunWorker) observe(status models.RunStatus) {
	if w.metrics != nil {
		w.metrics.ObserveRun(status)
	}
}
