// Package worker provides background job processing.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vodgate/vodgate/internal/health"
)

// RefreshConfig holds configuration for the health refresh job.
type RefreshConfig struct {
	// Interval between probe rounds. Default: 60 seconds.
	Interval time.Duration

	// Timeout bounds one full probe round. Default: 30 seconds.
	Timeout time.Duration
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	TotalRounds     int64
	LastRoundAt     time.Time
	LastRoundTook   time.Duration
	LastHealthy     int
	LastDegraded    int
	LastUnreachable int
	LastUnknown     int
}

// RefreshResult summarizes one probe round.
type RefreshResult struct {
	StartTime   time.Time
	Duration    time.Duration
	Sources     int
	Healthy     int
	Degraded    int
	Unreachable int
	Unknown     int
}

// RefreshJob periodically probes every configured source so request
// paths always see a recent health snapshot.
type RefreshJob struct {
	config  RefreshConfig
	prober  *health.Prober
	logger  zerolog.Logger
	metrics *RefreshMetrics
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config RefreshConfig
	Prober *health.Prober
	Logger zerolog.Logger
}

// NewRefreshJob creates a new refresh job.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	config := cfg.Config
	if config.Interval == 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &RefreshJob{
		config:  config,
		prober:  cfg.Prober,
		logger:  cfg.Logger,
		metrics: &RefreshMetrics{},
	}
}

// RunOnce executes a single probe round across all sources.
func (j *RefreshJob) RunOnce(ctx context.Context) *RefreshResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	statuses := j.prober.ProbeAll(ctx)

	result := &RefreshResult{
		StartTime: start,
		Duration:  time.Since(start),
		Sources:   len(statuses),
	}
	for _, st := range statuses {
		switch st.State {
		case health.StateHealthy:
			result.Healthy++
		case health.StateDegraded:
			result.Degraded++
		case health.StateUnreachable:
			result.Unreachable++
		default:
			result.Unknown++
		}
	}

	j.updateMetrics(result)

	j.logger.Info().
		Int("sources", result.Sources).
		Int("healthy", result.Healthy).
		Int("degraded", result.Degraded).
		Int("unreachable", result.Unreachable).
		Dur("took", result.Duration).
		Msg("health refresh round complete")

	return result
}

// Run probes all sources immediately and then on every interval tick,
// blocking until the context is cancelled. A round still in flight when
// the next tick fires is not stacked; the prober skips busy sources.
func (j *RefreshJob) Run(ctx context.Context) {
	j.logger.Info().
		Dur("interval", j.config.Interval).
		Msg("health refresh job started")

	j.RunOnce(ctx)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("health refresh job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()
	return RefreshMetrics{
		TotalRounds:     j.metrics.TotalRounds,
		LastRoundAt:     j.metrics.LastRoundAt,
		LastRoundTook:   j.metrics.LastRoundTook,
		LastHealthy:     j.metrics.LastHealthy,
		LastDegraded:    j.metrics.LastDegraded,
		LastUnreachable: j.metrics.LastUnreachable,
		LastUnknown:     j.metrics.LastUnknown,
	}
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	j.metrics.TotalRounds++
	j.metrics.LastRoundAt = result.StartTime
	j.metrics.LastRoundTook = result.Duration
	j.metrics.LastHealthy = result.Healthy
	j.metrics.LastDegraded = result.Degraded
	j.metrics.LastUnreachable = result.Unreachable
	j.metrics.LastUnknown = result.Unknown
}
