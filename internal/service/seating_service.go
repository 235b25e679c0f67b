package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/exam-seating-api/internal/models"
	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
)

type planMetrics interface {
	ObservePlan(duration time.Duration, summary models.PlanSummary)
	IncSignal(kind models.SignalKind)
}

// SeatingConfig governs plan fan-out.
type SeatingConfig struct {
	SlotWorkers int
}

// SeatingService turns normalised input tables into a seating plan.
type SeatingService struct {
	engine    *AllocationEngine
	validator *validator.Validate
	metrics   planMetrics
	logger    *zap.Logger
	cfg       SeatingConfig
}

// NewSeatingService wires the planning pipeline.
func NewSeatingService(engine *AllocationEngine, validate *validator.Validate, metrics planMetrics, logger *zap.Logger, cfg SeatingConfig) *SeatingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = NewAllocationEngine(nil, logger)
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.SlotWorkers <= 0 {
		cfg.SlotWorkers = 1
	}
	return &SeatingService{
		engine:    engine,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// WithLogger returns a copy of the service writing to logger, used to route a
// single run's records into its own log files.
func (s *SeatingService) WithLogger(logger *zap.Logger) *SeatingService {
	if logger == nil {
		return s
	}
	clone := *s
	clone.logger = logger
	clone.engine = NewAllocationEngine(s.engine.policy, logger)
	return &clone
}

// Plan builds registrations, checks clashes and allocates every slot.
// Only configuration problems return an error; slot level failures are
// reported as signals on the plan.
func (s *SeatingService) Plan(ctx context.Context, input models.SeatingInput, params models.RunParams) (*models.Plan, error) {
	start := time.Now()
	if err := s.validator.Struct(params); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "invalid run parameters")
	}

	registrations, err := BuildRegistrations(input.Timetable, input.Enrollments)
	if err != nil {
		return nil, err
	}
	rooms := PlanRooms(input.Rooms, params, s.logger)
	slots, bySlot := GroupBySlot(registrations)

	s.logger.Info("seating plan started",
		zap.Int("registrations", len(registrations)),
		zap.Int("rooms", len(rooms)),
		zap.Int("slots", len(slots)),
		zap.Int("buffer", params.Buffer),
		zap.String("mode", string(params.Mode)),
	)

	recorder := NewSignalRecorder(s.logger, s.metrics)

	results := make([]models.SlotResult, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SlotWorkers)
	for i, slot := range slots {
		i, slot := i, slot
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			regs := bySlot[slot]
			clashes := DetectClashes(slot, regs)
			recorder.Record(clashes...)
			res := s.engine.AllocateSlot(slot, regs, rooms, input.Names)
			recorder.Record(res.Signals...)
			res.Signals = append(clashes, res.Signals...)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	plan := &models.Plan{Params: params, Rooms: rooms}
	for _, res := range results {
		plan.Allocations = append(plan.Allocations, res.Allocations...)
		plan.Signals = append(plan.Signals, res.Signals...)
		s.logger.Info("slot processed",
			zap.String("slot", res.Slot.String()),
			zap.Int("seated", len(res.Allocations)),
			zap.Bool("failed", res.Failed),
		)
	}
	plan.Rosters = BuildRosterRows(plan.Allocations)
	plan.Usage = BuildUsageRows(results, rooms)
	plan.Summary = Summarize(results, len(registrations), plan.Rosters)

	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObservePlan(elapsed, plan.Summary)
	}
	s.logger.Info("seating plan finished",
		zap.Int("seated", plan.Summary.Seated),
		zap.Int("failed_slots", plan.Summary.FailedSlots),
		zap.Int("roster_rows", plan.Summary.RosterRows),
		zap.Duration("duration", elapsed),
	)
	return plan, nil
}
