package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-seating-api/internal/models"
	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
)

const planCachePrefix = "seating:plan:"

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type cacheMetrics interface {
	RecordCacheOperation(hit bool, duration time.Duration)
	ObserveCacheWrite(duration time.Duration)
}

// CacheService stores computed seating plans keyed by an input digest so an
// identical upload with identical parameters skips planning.
type CacheService struct {
	repo       CacheRepository
	metrics    cacheMetrics
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics cacheMetrics, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 6 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// PlanKey derives the cache key for an input digest and run parameters.
func PlanKey(inputHash string, params models.RunParams) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", inputHash, params.Buffer, params.Mode)))
	return planCachePrefix + hex.EncodeToString(sum[:])
}

// GetPlan returns a cached plan, or nil on a miss. Lookup failures are
// logged and treated as misses.
func (s *CacheService) GetPlan(ctx context.Context, key string) *models.Plan {
	if !s.Enabled() {
		return nil
	}
	var plan models.Plan
	start := time.Now()
	err := s.repo.Get(ctx, key, &plan)
	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(err == nil, duration)
	}
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("plan cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	return &plan
}

// SetPlan stores a plan under key using the default TTL.
func (s *CacheService) SetPlan(ctx context.Context, key string, plan *models.Plan) error {
	if !s.Enabled() || plan == nil {
		return nil
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, plan, s.defaultTTL)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil {
		s.logger.Warn("plan cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate removes every cached plan.
func (s *CacheService) Invalidate(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, planCachePrefix+"*"); err != nil {
		s.logger.Warn("plan cache invalidate failed", zap.Error(err))
		return err
	}
	return nil
}
