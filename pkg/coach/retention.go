package coach

import (
	"context"
	"time"

	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/memory"
)

// RetentionResult reports what a retention sweep removed.
type RetentionResult struct {
	EpisodicRemoved int64
	MetricsRemoved  int64
}

// RunRetention deletes episodic memories and metrics older than the
// given horizons. Backends without cleanup support (the volatile store
// covers both, durable stores must) simply contribute zero.
func (c *Coach) RunRetention(ctx context.Context, episodicDays, metricsDays int) (RetentionResult, error) {
	var result RetentionResult
	now := c.clk.Now()

	if episodicDays > 0 {
		if cleaner, ok := c.memories.(memory.Cleaner); ok {
			cutoff := now.Add(-time.Duration(episodicDays) * 24 * time.Hour)
			removed, err := cleaner.CleanupEpisodic(ctx, cutoff)
			if err != nil {
				return result, err
			}
			result.EpisodicRemoved = removed
		} else {
			log.DebugContext(ctx, "Memory store does not support episodic cleanup")
		}
	}

	if metricsDays > 0 {
		if metrics, ok := c.memories.(memory.MetricsStore); ok {
			cutoff := now.Add(-time.Duration(metricsDays) * 24 * time.Hour)
			removed, err := metrics.CleanupMetrics(ctx, cutoff)
			if err != nil {
				return result, err
			}
			result.MetricsRemoved = removed
		}
	}

	log.InfoContext(ctx, "Retention sweep finished",
		"episodic_removed", result.EpisodicRemoved,
		"metrics_removed", result.MetricsRemoved,
	)
	return result, nil
}

// MetricsSummary aggregates query metrics over the trailing window, when
// the memory store keeps metrics.
func (c *Coach) MetricsSummary(ctx context.Context, window time.Duration) (memory.MetricsSummary, bool, error) {
	metrics, ok := c.memories.(memory.MetricsStore)
	if !ok {
		return memory.MetricsSummary{}, false, nil
	}

	summary, err := metrics.MetricsSummary(ctx, c.clk.Now().Add(-window))
	if err != nil {
		return memory.MetricsSummary{}, true, err
	}
	return summary, true, nil
}

// Stats reports memory store counts.
func (c *Coach) Stats(ctx context.Context) (memory.Stats, error) {
	return c.memories.GetStats(ctx)
}
