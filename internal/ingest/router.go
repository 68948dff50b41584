// Package ingest is the pipeline every reading flows through: identity
// resolution, device filtering, persistence, change detection, and change
// notifications.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tubone24/switchbot-hub/internal/change"
	"github.com/tubone24/switchbot-hub/internal/classify"
	"github.com/tubone24/switchbot-hub/internal/model"
	"github.com/tubone24/switchbot-hub/internal/registry"
	"github.com/tubone24/switchbot-hub/internal/store"
)

// Notifier posts a notification. Implemented by notify.Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// Router applies the ingest pipeline to readings from pollers and the
// webhook listener.
type Router struct {
	store    *store.Store
	reg      *registry.Registry
	notifier Notifier

	ignore  []string // lowercase name substrings -> skip entirely
	polling []string // lowercase name substrings -> poll-routed devices
}

// NewRouter creates a router. Devices whose name matches an ignoreDevices
// substring are skipped entirely. When pollingDevices is non-empty, only
// matching SwitchBot devices notify from poll readings; the rest are
// webhook-routed — their poll results still persist, but the webhook is
// authoritative for notifications so nothing fires twice.
func NewRouter(st *store.Store, reg *registry.Registry, notifier Notifier, ignoreDevices, pollingDevices []string) *Router {
	return &Router{
		store:    st,
		reg:      reg,
		notifier: notifier,
		ignore:   normalizeList(ignoreDevices),
		polling:  normalizeList(pollingDevices),
	}
}

func normalizeList(entries []string) []string {
	var out []string
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

func matchesAny(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Ingest runs one reading through the pipeline.
func (r *Router) Ingest(ctx context.Context, reading model.Reading) error {
	if reading.DeviceID == "" {
		r.resolveIdentity(&reading)
	}

	if r.ignored(reading) {
		slog.Debug("reading ignored", "device_id", reading.DeviceID, "device_name", reading.Name)
		return nil
	}

	at := reading.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}

	prev, err := r.store.GetState(reading.DeviceID)
	if err != nil {
		return fmt.Errorf("load previous state: %w", err)
	}

	changed, err := r.store.SaveState(reading.DeviceID, reading.Name, reading.Type, reading.Status, at)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	r.reg.Update(model.DeviceState{
		DeviceID:   reading.DeviceID,
		DeviceName: reading.Name,
		DeviceType: reading.Type,
		Status:     reading.Status,
		UpdatedAt:  at,
	})

	r.appendSamples(reading, at)

	if changed {
		r.notifyChange(ctx, reading, prev, at)
	}
	return nil
}

// resolveIdentity maps a MAC-only webhook reading onto a known device, or
// mints a placeholder identity when nothing matches so the event is still
// recorded.
func (r *Router) resolveIdentity(reading *model.Reading) {
	if id, ok := r.reg.ResolveMAC(reading.DeviceMAC); ok {
		reading.DeviceID = id
		if st, ok := r.reg.Get(id); ok {
			if reading.Name == "" {
				reading.Name = st.DeviceName
			}
			if reading.Type == "" {
				reading.Type = st.DeviceType
			}
		}
		return
	}

	norm := registry.NormalizeMAC(reading.DeviceMAC)
	reading.DeviceID = "webhook-" + norm
	if reading.Name == "" {
		reading.Name = fmt.Sprintf("Unknown device (%s)", reading.DeviceMAC)
	}
	slog.Warn("webhook device not resolved", "mac", reading.DeviceMAC, "placeholder_id", reading.DeviceID)
}

func (r *Router) ignored(reading model.Reading) bool {
	return matchesAny(reading.Name, r.ignore)
}

// pollNotifySuppressed reports whether a poll reading's change notification
// should be dropped because the device is webhook-routed.
func (r *Router) pollNotifySuppressed(reading model.Reading) bool {
	if reading.Source != model.SourcePoll || reading.Vendor != model.VendorSwitchBot {
		return false
	}
	if len(r.polling) == 0 {
		return false
	}
	return !matchesAny(reading.Name, r.polling)
}

// appendSamples records time-series rows. Sample failures are logged, not
// returned: a broken metrics row must not block state tracking.
func (r *Router) appendSamples(reading model.Reading, at time.Time) {
	if reading.Weather != nil {
		if _, err := r.store.AppendWeatherSample(*reading.Weather); err != nil {
			slog.Error("weather sample failed", "device_id", reading.DeviceID, "error", err)
		}
		return
	}

	sample := sensorSampleFrom(reading, at)
	if !sample.HasMetrics() {
		return
	}
	if _, err := r.store.AppendSensorSample(sample); err != nil {
		slog.Error("sensor sample failed", "device_id", reading.DeviceID, "error", err)
	}
}

// sensorSampleFrom extracts meter metrics from a SwitchBot status bag.
func sensorSampleFrom(reading model.Reading, at time.Time) model.SensorSample {
	return model.SensorSample{
		DeviceID:    reading.DeviceID,
		DeviceName:  reading.Name,
		RecordedAt:  at,
		Temperature: floatField(reading.Status, "temperature"),
		Humidity:    floatField(reading.Status, "humidity"),
		CO2:         intField(reading.Status, "CO2"),
		Battery:     intField(reading.Status, "battery"),
	}
}

func floatField(status model.Status, key string) *float64 {
	if v, ok := status[key]; ok {
		if f, ok := toFloat(v); ok {
			return &f
		}
	}
	return nil
}

func intField(status model.Status, key string) *int {
	if v, ok := status[key]; ok {
		if f, ok := toFloat(v); ok {
			n := int(f)
			return &n
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}

// notifyChange classifies the device and posts a diff summary to the
// category's channel. Devices classified as Other are persisted but never
// announced.
func (r *Router) notifyChange(ctx context.Context, reading model.Reading, prev *model.DeviceState, at time.Time) {
	if r.pollNotifySuppressed(reading) {
		slog.Debug("poll change for webhook-routed device, not notifying",
			"device_id", reading.DeviceID, "device_name", reading.Name)
		return
	}

	category := classify.Classify(reading.Type, reading.Name)
	channel := classify.Channel(category)
	if channel == "" {
		return
	}

	var prevStatus model.Status
	if prev != nil {
		prevStatus = prev.Status
	}
	diffs := change.Diff(prevStatus, reading.Status)
	if len(diffs) == 0 {
		return
	}

	lines := make([]string, len(diffs))
	for i, d := range diffs {
		lines[i] = d.Message
	}

	r.notifier.Notify(ctx, model.Notification{
		Channel:    channel,
		Severity:   model.SeverityInfo,
		Title:      fmt.Sprintf("%s (%s)", reading.Name, reading.Type),
		Message:    strings.Join(lines, "\n"),
		DeviceID:   reading.DeviceID,
		DeviceName: reading.Name,
		Timestamp:  at,
		Fields: map[string]string{
			"Source": string(reading.Source),
		},
	})
}
