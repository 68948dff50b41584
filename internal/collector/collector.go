// Package collector polls vendor cloud APIs on a schedule and hands the
// resulting readings to the ingest pipeline.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tubone24/switchbot-hub/internal/model"
	"github.com/tubone24/switchbot-hub/internal/registry"
)

// Sink receives readings from collectors. Implemented by the ingest router.
type Sink interface {
	Ingest(ctx context.Context, reading model.Reading) error
}

// Collector produces a batch of readings from one vendor API.
type Collector interface {
	ID() string
	Interval() time.Duration
	Poll(ctx context.Context) ([]model.Reading, error)
}

// APIError is a vendor API failure with the vendor's own status code, kept
// distinct from transport errors so callers can log them differently.
type APIError struct {
	Vendor  string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Vendor, e.Code, e.Message)
}

// ErrorNotifier receives poll-failure notifications. Implemented by
// notify.Dispatcher.
type ErrorNotifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// Runner drives one collector on its interval, feeding readings to the
// sink. A failed poll is logged and retried on the next tick; individual
// reading ingest failures do not abort the rest of the batch.
type Runner struct {
	collector   Collector
	sink        Sink
	reg         *registry.Registry
	errNotifier ErrorNotifier
	failing     bool
}

// NewRunner wires a collector to the ingest sink.
func NewRunner(c Collector, sink Sink, reg *registry.Registry) *Runner {
	return &Runner{collector: c, sink: sink, reg: reg}
}

// NotifyErrors enables poll-failure notifications through n. Only the
// failure edge notifies (and the recovery), not every failed tick.
func (r *Runner) NotifyErrors(n ErrorNotifier) *Runner {
	r.errNotifier = n
	return r
}

// Run polls once immediately, then on every interval tick, until the
// context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.collector.Interval()
	slog.Info("collector started", "collector", r.collector.ID(), "interval", interval)

	r.pollOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("collector stopped", "collector", r.collector.ID())
			return ctx.Err()
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	start := time.Now()
	readings, err := r.collector.Poll(ctx)
	if err != nil {
		slog.Error("poll failed", "collector", r.collector.ID(), "error", err)
		if !r.failing && r.errNotifier != nil {
			r.errNotifier.Notify(ctx, model.Notification{
				Channel:   model.ChannelAtmosphere,
				Severity:  model.SeverityWarning,
				Title:     fmt.Sprintf("%s polling failed", r.collector.ID()),
				Message:   err.Error(),
				Timestamp: time.Now(),
			})
		}
		r.failing = true
		return
	}

	if r.failing && r.errNotifier != nil {
		r.errNotifier.Notify(ctx, model.Notification{
			Channel:   model.ChannelAtmosphere,
			Severity:  model.SeverityInfo,
			Title:     fmt.Sprintf("%s polling recovered", r.collector.ID()),
			Message:   fmt.Sprintf("%d readings on the latest poll", len(readings)),
			Timestamp: time.Now(),
		})
	}
	r.failing = false

	ingested := 0
	for _, reading := range readings {
		if err := r.sink.Ingest(ctx, reading); err != nil {
			slog.Error("ingest failed",
				"collector", r.collector.ID(),
				"device_id", reading.DeviceID,
				"error", err)
			continue
		}
		ingested++
	}

	r.reg.SetLastPoll(r.collector.ID(), time.Now())
	slog.Debug("poll complete",
		"collector", r.collector.ID(),
		"readings", ingested,
		"duration", time.Since(start).Round(time.Millisecond))
}
