package core

import (
	"context"
	"time"
)

// MetricsRecorder receives one observation per service operation. Recorders
// must be safe for concurrent use from every worker.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// NoopMetricsRecorder discards observations.
type NoopMetricsRecorder struct{}

// Observe implements MetricsRecorder.
func (NoopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}
