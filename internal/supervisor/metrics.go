package supervisor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// sessionMetrics holds the supervisor's OpenTelemetry instruments. With no
// meter provider installed these are no-ops.
type sessionMetrics struct {
	started    metric.Int64Counter
	initFailed metric.Int64Counter
	errored    metric.Int64Counter
	active     metric.Int64UpDownCounter
}

func newSessionMetrics() *sessionMetrics {
	meter := otel.Meter("github.com/roosthq/roost/internal/supervisor")

	started, _ := meter.Int64Counter("roost.sessions.started",
		metric.WithDescription("Sessions whose initiation succeeded"))
	initFailed, _ := meter.Int64Counter("roost.sessions.init_failed",
		metric.WithDescription("Session initiations rejected synchronously"))
	errored, _ := meter.Int64Counter("roost.sessions.errored",
		metric.WithDescription("Sessions terminated by an error event"))
	active, _ := meter.Int64UpDownCounter("roost.sessions.active",
		metric.WithDescription("Sessions currently registered as live"))

	return &sessionMetrics{
		started:    started,
		initFailed: initFailed,
		errored:    errored,
		active:     active,
	}
}

func (m *sessionMetrics) recordStart(ctx context.Context)      { m.started.Add(ctx, 1) }
func (m *sessionMetrics) recordInitFailed(ctx context.Context) { m.initFailed.Add(ctx, 1) }
func (m *sessionMetrics) recordError(ctx context.Context)      { m.errored.Add(ctx, 1) }
func (m *sessionMetrics) recordUp(ctx context.Context)         { m.active.Add(ctx, 1) }
func (m *sessionMetrics) recordDown(ctx context.Context)       { m.active.Add(ctx, -1) }
