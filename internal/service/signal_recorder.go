package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-seating-api/internal/models"
)

type signalCounter interface {
	IncSignal(kind models.SignalKind)
}

// SignalRecorder logs signals as they are raised and keeps them for the run
// report. Safe for concurrent use.
type SignalRecorder struct {
	logger  *zap.Logger
	metrics signalCounter

	mu      sync.Mutex
	signals []models.Signal
}

// NewSignalRecorder builds a recorder writing to logger.
func NewSignalRecorder(logger *zap.Logger, metrics signalCounter) *SignalRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalRecorder{logger: logger, metrics: metrics}
}

// Record logs and stores the given signals.
func (r *SignalRecorder) Record(signals ...models.Signal) {
	if len(signals) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sig := range signals {
		LogSignal(r.logger, sig)
		if r.metrics != nil {
			r.metrics.IncSignal(sig.Kind)
		}
	}
	r.signals = append(r.signals, signals...)
}

// Signals returns a copy of everything recorded so far.
func (r *SignalRecorder) Signals() []models.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Signal(nil), r.signals...)
}

// LogSignal writes one signal at its severity.
func LogSignal(logger *zap.Logger, sig models.Signal) {
	fields := []zap.Field{zap.String("kind", string(sig.Kind))}
	if sig.Date != "" {
		fields = append(fields, zap.String("date", sig.Date), zap.String("session", string(sig.Session)))
	}
	if len(sig.Courses) > 0 {
		fields = append(fields, zap.Strings("courses", sig.Courses))
	}
	if len(sig.Rolls) > 0 {
		fields = append(fields, zap.Strings("rolls", sig.Rolls))
	}
	if sig.Room != "" {
		fields = append(fields, zap.String("room", sig.Room))
	}
	if sig.Count > 0 {
		fields = append(fields, zap.Int("count", sig.Count))
	}
	if sig.Severity == models.SeverityWarn {
		logger.Warn(sig.Message, fields...)
		return
	}
	logger.Error(sig.Message, fields...)
}
