// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
)

// Job is one run of a periodic task. The returned count is logged when
// positive; errors are logged and never stop the ticker.
type Job func(ctx context.Context) (int, error)

// TickerService runs a Job on a fixed interval until its context ends.
type TickerService struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	job      Job
	logger   zerolog.Logger

	// runOnStart runs the job once before the first tick
	runOnStart bool
}

// TickerOption configures a TickerService.
type TickerOption func(*TickerService)

// WithTimeout bounds each run. Zero means the run inherits the service
// context only.
func WithTimeout(d time.Duration) TickerOption {
	return func(t *TickerService) { t.timeout = d }
}

// WithRunOnStart runs the job immediately when the service starts.
func WithRunOnStart() TickerOption {
	return func(t *TickerService) { t.runOnStart = true }
}

// NewTickerService creates a periodic job. A non-positive interval means
// one minute.
func NewTickerService(name string, interval time.Duration, job Job, opts ...TickerOption) *TickerService {
	if interval <= 0 {
		interval = time.Minute
	}
	t := &TickerService{
		name:     name,
		interval: interval,
		job:      job,
		logger:   logging.WithComponent("job").With().Str("job", name).Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Serve implements suture.Service. It returns ctx.Err() on shutdown.
func (t *TickerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	if t.runOnStart {
		t.runOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *TickerService) runOnce(ctx context.Context) {
	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	n, err := t.job(runCtx)
	metrics.RecordJob(t.name, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
		return
	}
	if n > 0 {
		t.logger.Debug().Int("count", n).Dur("duration", time.Since(start)).Msg("job completed")
	}
}

// Interval returns the tick period.
func (t *TickerService) Interval() time.Duration {
	return t.interval
}

// String implements fmt.Stringer.
func (t *TickerService) String() string {
	return t.name
}
