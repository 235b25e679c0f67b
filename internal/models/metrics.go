package models

import "time"

// MetricsSnapshot summarises process metrics for the status endpoint.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	PlansTotal               uint64    `json:"plans_total"`
	StudentsSeated           uint64    `json:"students_seated"`
	SignalsTotal             uint64    `json:"signals_total"`
	RenderFailures           uint64    `json:"render_failures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
