// Package report posts periodic daily sensor summaries with a rendered
// chart to the graph channel.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tubone24/switchbot-hub/internal/chart"
	"github.com/tubone24/switchbot-hub/internal/model"
	"github.com/tubone24/switchbot-hub/internal/store"
)

// Notifier posts a notification. Implemented by notify.Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// Reporter periodically summarizes the previous day's sensor samples per
// device, renders a chart, and posts both to the graph channel.
type Reporter struct {
	store    *store.Store
	renderer *chart.Renderer
	notifier Notifier
	interval time.Duration

	now func() time.Time // stubbed in tests
}

// New creates a reporter.
func New(st *store.Store, renderer *chart.Renderer, notifier Notifier, interval time.Duration) *Reporter {
	return &Reporter{
		store:    st,
		renderer: renderer,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
	}
}

// Run posts a report on every interval tick until the context is
// cancelled. No report fires at startup; a restart must not repeat the
// day's graphs.
func (r *Reporter) Run(ctx context.Context) error {
	slog.Info("reporter started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reporter stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report posts one summary per sensor device for yesterday.
func (r *Reporter) Report(ctx context.Context) {
	date := r.now().AddDate(0, 0, -1).Format("2006-01-02")

	devices, err := r.store.SensorDevices()
	if err != nil {
		slog.Error("listing sensor devices failed", "error", err)
		return
	}

	for _, dev := range devices {
		if err := r.reportDevice(ctx, dev, date); err != nil {
			slog.Error("daily report failed", "device_id", dev.DeviceID, "date", date, "error", err)
		}
	}
}

func (r *Reporter) reportDevice(ctx context.Context, dev store.SensorDevice, date string) error {
	summary, err := r.store.DailySensorSummary(dev.DeviceID, date)
	if err != nil {
		return fmt.Errorf("daily summary: %w", err)
	}
	if summary == nil {
		slog.Debug("no samples for report", "device_id", dev.DeviceID, "date", date)
		return nil
	}

	samples, err := r.store.SensorSeries(dev.DeviceID, date)
	if err != nil {
		return fmt.Errorf("load series: %w", err)
	}

	// Chart rendering is best-effort; the summary still goes out without
	// an image.
	imageURL := ""
	title := fmt.Sprintf("%s - %s", dev.DeviceName, date)
	if url, err := r.renderer.RenderDaily(ctx, title, samples); err != nil {
		slog.Warn("chart rendering failed", "device_id", dev.DeviceID, "error", err)
	} else {
		imageURL = url
	}

	r.notifier.Notify(ctx, model.Notification{
		Channel:    model.ChannelGraph,
		Severity:   model.SeverityInfo,
		Title:      fmt.Sprintf("Daily report: %s", dev.DeviceName),
		Message:    summaryText(summary),
		DeviceID:   dev.DeviceID,
		DeviceName: dev.DeviceName,
		Timestamp:  r.now(),
		ImageURL:   imageURL,
		Fields: map[string]string{
			"Date":    date,
			"Samples": fmt.Sprintf("%d", summary.Count),
		},
	})
	return nil
}

func summaryText(s *model.DailySummary) string {
	text := ""
	if line := metricLine("Temperature", s.Temperature, "C"); line != "" {
		text += line + "\n"
	}
	if line := metricLine("Humidity", s.Humidity, "%"); line != "" {
		text += line + "\n"
	}
	if line := metricLine("CO2", s.CO2, "ppm"); line != "" {
		text += line + "\n"
	}
	if text == "" {
		return "No metrics recorded"
	}
	return text[:len(text)-1]
}

func metricLine(name string, m model.MetricSummary, unit string) string {
	if m.Min == nil || m.Max == nil || m.Avg == nil {
		return ""
	}
	return fmt.Sprintf("%s: min %.1f / max %.1f / avg %.1f %s", name, *m.Min, *m.Max, *m.Avg, unit)
}
