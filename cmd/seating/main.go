package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-seating-api/internal/csvio"
	"github.com/noah-isme/exam-seating-api/internal/models"
	"github.com/noah-isme/exam-seating-api/internal/service"
	"github.com/noah-isme/exam-seating-api/pkg/config"
	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
	"github.com/noah-isme/exam-seating-api/pkg/export"
	"github.com/noah-isme/exam-seating-api/pkg/logger"
	"github.com/noah-isme/exam-seating-api/pkg/storage"
)

// flagKeys maps short flag names onto the config keys they override.
var flagKeys = map[string]string{
	"buffer":         "seating-default-buffer",
	"mode":           "seating-default-mode",
	"slot-workers":   "seating-slot-workers",
	"render-workers": "seating-render-workers",
	"photos-dir":     "seating-photos-dir",
}

type options struct {
	input         string
	outputDir     string
	attendanceDir string
	photoMaxPx    int
}

func main() {
	flags := pflag.NewFlagSet("seating", pflag.ExitOnError)
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if key, ok := flagKeys[name]; ok {
			return pflag.NormalizedName(key)
		}
		return pflag.NormalizedName(name)
	})

	var opts options
	flags.StringVar(&opts.input, "input", ".", "input directory or .zip holding the four tables")
	flags.StringVar(&opts.outputDir, "output-dir", "output", "directory for roster and usage documents")
	flags.StringVar(&opts.attendanceDir, "attendance-dir", "attendance_pdfs", "directory for attendance sheets; empty skips them")
	flags.IntVar(&opts.photoMaxPx, "photo-max-px", 256, "long edge of downscaled photos")
	flags.Int("buffer", 0, "seats held back per room")
	flags.String("mode", string(models.ModeDense), "density mode: sparse or dense")
	flags.Int("slot-workers", 4, "slots planned concurrently")
	flags.Int("render-workers", 4, "attendance sheets rendered concurrently")
	flags.String("photos-dir", "photos", "fallback photo directory when the input carries none")
	flags.String("log-dir", "logs", "directory for execution.log and errors.log")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if !flags.Changed("log-dir") && cfg.Log.Dir == "" {
		cfg.Log.Dir = "logs"
	}
	cfg.Log.Format = "console"

	base, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	runLog, err := logger.NewRunLogger(base, cfg.Log.Dir)
	if err != nil {
		log.Fatalf("failed to open run logs: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, opts, runLog.Logger)
	stop()
	if err != nil {
		runLog.Error("seating run aborted", zap.Error(err))
	}
	_ = runLog.Close()
	if err != nil {
		if appErrors.IsCode(err, appErrors.ErrConfiguration.Code) || appErrors.IsCode(err, appErrors.ErrValidation.Code) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, logr *zap.Logger) error {
	fsys, closer, err := csvio.Open(opts.input)
	if err != nil {
		return err
	}
	defer closer.Close() //nolint:errcheck

	bundle, err := csvio.Load(fsys)
	if err != nil {
		return err
	}

	params := models.RunParams{
		Buffer: cfg.Seating.DefaultBuffer,
		Mode:   models.DensityMode(strings.ToLower(cfg.Seating.DefaultMode)),
	}
	logr.Info("seating run started",
		zap.String("input", opts.input),
		zap.Int("buffer", params.Buffer),
		zap.String("mode", string(params.Mode)),
	)

	seating := service.NewSeatingService(nil, nil, nil, logr, service.SeatingConfig{SlotWorkers: cfg.Seating.SlotWorkers})
	plan, err := seating.Plan(ctx, bundle.Input, params)
	if err != nil {
		return err
	}

	targets := service.ArtifactTargets{Photos: export.NewPhotoSource(photoFS(bundle.Photos, cfg.Seating.PhotosDir), opts.photoMaxPx)}
	if targets.Output, err = storage.NewLocalStorage(opts.outputDir); err != nil {
		return fmt.Errorf("prepare output directory: %w", err)
	}
	if opts.attendanceDir != "" {
		if targets.Attendance, err = storage.NewLocalStorage(opts.attendanceDir); err != nil {
			return fmt.Errorf("prepare attendance directory: %w", err)
		}
	}

	artifacts := service.NewArtifactService(export.NewCSVExporter(), export.NewPDFExporter(), nil, logr, service.ArtifactConfig{
		RenderWorkers: cfg.Seating.RenderWorkers,
	})
	result, err := artifacts.Write(ctx, plan, targets)
	if err != nil {
		return err
	}

	logr.Info("seating run finished",
		zap.Int("slots", plan.Summary.Slots),
		zap.Int("failed_slots", plan.Summary.FailedSlots),
		zap.Int("seated", plan.Summary.Seated),
		zap.Int("unseated", plan.Summary.Unseated),
		zap.Int("clashes", plan.Summary.Clashes),
		zap.Int("documents", len(result.Files)),
		zap.Int("render_failures", len(result.Signals)),
	)
	return nil
}

// photoFS prefers photos shipped inside the input and falls back to dir.
func photoFS(bundled fs.FS, dir string) fs.FS {
	if bundled != nil {
		return bundled
	}
	if dir == "" {
		return nil
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil
	}
	return os.DirFS(dir)
}
