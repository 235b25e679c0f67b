package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noah-isme/exam-seating-api/pkg/config"
	"github.com/noah-isme/exam-seating-api/pkg/middleware/requestid"
)

const (
	ExecutionLogFile = "execution.log"
	ErrorLogFile     = "errors.log"
)

func New(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Env == config.EnvProduction {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Log.Format {
	case "console":
		zapCfg.Encoding = "console"
	default:
		zapCfg.Encoding = "json"
	}

	if cfg.Log.Level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
	}

	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapCfg.Build()
}

// RunLogger is a logger that mirrors everything written to it into a log
// directory: execution.log receives info and above, errors.log only errors.
type RunLogger struct {
	*zap.Logger
	files []*os.File
}

// NewRunLogger tees base into the two files under dir, creating dir when needed.
func NewRunLogger(base *zap.Logger, dir string) (*RunLogger, error) {
	if base == nil {
		base = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	execFile, err := os.OpenFile(filepath.Join(dir, ExecutionLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open execution log: %w", err)
	}
	errFile, err := os.OpenFile(filepath.Join(dir, ErrorLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = execFile.Close()
		return nil, fmt.Errorf("open error log: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	core := zapcore.NewTee(
		base.Core(),
		zapcore.NewCore(encoder, zapcore.AddSync(execFile), zapcore.InfoLevel),
		zapcore.NewCore(encoder, zapcore.AddSync(errFile), zapcore.ErrorLevel),
	)

	return &RunLogger{
		Logger: zap.New(core, zap.AddCaller()),
		files:  []*os.File{execFile, errFile},
	}, nil
}

// Close flushes and closes the log files. The base logger stays usable.
func (l *RunLogger) Close() error {
	_ = l.Logger.Sync()
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func GinMiddleware(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		reqID := requestid.Value(c)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		}
		if reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}

		l.Info("http_request", fields...)
	}
}
