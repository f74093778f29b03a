package memory

import (
	"context"
	"time"
)

// QueryMetric records the outcome of one orchestrated query. Metric
// writes are fire-and-forget: the orchestrator logs and swallows
// failures on this path.
type QueryMetric struct {
	// Query is the raw user query text
	Query string

	// ResponseTime is the end-to-end processing duration
	ResponseTime time.Duration

	// Confidence is the score attached to the answer
	Confidence float64

	// MemoryTypes lists which memory kinds contributed context
	MemoryTypes []string

	// Personalized mirrors the response's personalized flag
	Personalized bool

	// Success is false when the generation stage produced the
	// degraded answer
	Success bool

	// Timestamp is when the query completed
	Timestamp time.Time
}

// MetricsSummary aggregates query metrics over a window.
type MetricsSummary struct {
	TotalQueries        int     `json:"total_queries"`
	AvgResponseTime     float64 `json:"avg_response_time_seconds"`
	AvgConfidence       float64 `json:"avg_confidence"`
	SuccessfulQueries   int     `json:"successful_queries"`
	PersonalizedQueries int     `json:"personalized_queries"`
	SuccessRate         float64 `json:"success_rate"`
	PersonalizationRate float64 `json:"personalization_rate"`
}

// MetricsStore is implemented by stores that persist per-query
// performance metrics.
type MetricsStore interface {
	// StoreQueryMetric appends one metric row.
	StoreQueryMetric(ctx context.Context, m QueryMetric) error

	// MetricsSummary aggregates metrics recorded at or after since.
	MetricsSummary(ctx context.Context, since time.Time) (MetricsSummary, error)

	// CleanupMetrics deletes metric rows strictly older than the cutoff.
	CleanupMetrics(ctx context.Context, olderThan time.Time) (int64, error)
}

// Summarize computes a MetricsSummary from raw metric rows. Durable
// adapters that aggregate in SQL don't use this; the volatile store and
// tests do.
func Summarize(metrics []QueryMetric) MetricsSummary {
	var s MetricsSummary
	if len(metrics) == 0 {
		return s
	}

	var totalTime, totalConf float64
	for _, m := range metrics {
		totalTime += m.ResponseTime.Seconds()
		totalConf += m.Confidence
		if m.Success {
			s.SuccessfulQueries++
		}
		if m.Personalized {
			s.PersonalizedQueries++
		}
	}

	s.TotalQueries = len(metrics)
	s.AvgResponseTime = totalTime / float64(s.TotalQueries)
	s.AvgConfidence = totalConf / float64(s.TotalQueries)
	s.SuccessRate = float64(s.SuccessfulQueries) / float64(s.TotalQueries)
	s.PersonalizationRate = float64(s.PersonalizedQueries) / float64(s.TotalQueries)
	return s
}
