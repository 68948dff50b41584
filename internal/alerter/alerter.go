// Package alerter evaluates weather alert rules against the most recent
// station samples and posts threshold crossings to the alert channel.
package alerter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tubone24/switchbot-hub/internal/config"
	"github.com/tubone24/switchbot-hub/internal/model"
	"github.com/tubone24/switchbot-hub/internal/store"
)

// Notifier posts a notification. Implemented by notify.Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// Alerter periodically evaluates each weather device's latest samples
// against the rule families: rain onset, wind tiers, temperature swing,
// and pressure swing.
type Alerter struct {
	store     *store.Store
	notifier  Notifier
	cooldowns Cooldowns
	cfg       config.AlertsConfig

	now func() time.Time // stubbed in tests
}

// New creates an alerter.
func New(st *store.Store, notifier Notifier, cooldowns Cooldowns, cfg config.AlertsConfig) *Alerter {
	return &Alerter{
		store:     st,
		notifier:  notifier,
		cooldowns: cooldowns,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run evaluates once at startup and then on every interval tick until the
// context is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	interval := a.cfg.Interval.Std()
	slog.Info("alerter started", "interval", interval, "cooldown", a.cfg.Cooldown.Std())

	a.Evaluate(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("alerter stopped")
			return ctx.Err()
		case <-ticker.C:
			a.Evaluate(ctx)
		}
	}
}

// Evaluate runs all rules over every known weather device. A failure on
// one device is logged and the rest still run.
func (a *Alerter) Evaluate(ctx context.Context) {
	devices, err := a.store.WeatherDevices()
	if err != nil {
		slog.Error("listing weather devices failed", "error", err)
		return
	}

	for _, dev := range devices {
		if err := a.evaluateDevice(ctx, dev); err != nil {
			slog.Error("alert evaluation failed", "device_id", dev.DeviceID, "error", err)
		}
	}
}

func (a *Alerter) evaluateDevice(ctx context.Context, dev store.WeatherDevice) error {
	samples, err := a.store.LatestWeatherSamples(dev.DeviceID, 2)
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}

	current := samples[0]
	var previous *model.WeatherSample
	if len(samples) > 1 {
		previous = &samples[1]
	}

	if current.IsOutdoor {
		a.checkRain(ctx, current, previous)
		a.checkWind(ctx, current)
		a.checkTemperature(ctx, current)
	}
	a.checkPressure(ctx, current)
	return nil
}

// checkRain fires when rain appears after a dry reading. Only the onset
// alerts; continuing rain stays quiet until the cooldown expires and it
// stops raining in between.
func (a *Alerter) checkRain(ctx context.Context, current model.WeatherSample, previous *model.WeatherSample) {
	if !a.cooldowns.Ready(model.AlertRain, current.DeviceID, a.now()) {
		return
	}
	if current.Rain == nil || *current.Rain <= 0 {
		return
	}
	if previous != nil && previous.Rain != nil && *previous.Rain > 0 {
		return
	}

	msg := fmt.Sprintf("Rain started: %.1f mm/h", *current.Rain)
	if current.Rain1h != nil {
		msg += fmt.Sprintf(" (last hour: %.1f mm)", *current.Rain1h)
	}
	a.fire(ctx, model.AlertRain, model.SeverityInfo, current, "Rain detected", msg)
}

// checkWind fires the highest matching tier on the stronger of sustained
// wind and gusts.
func (a *Alerter) checkWind(ctx context.Context, current model.WeatherSample) {
	if !a.cooldowns.Ready(model.AlertWind, current.DeviceID, a.now()) {
		return
	}
	if current.WindStrength == nil && current.GustStrength == nil {
		return
	}

	speed := 0.0
	if current.WindStrength != nil {
		speed = *current.WindStrength
	}
	if current.GustStrength != nil && *current.GustStrength > speed {
		speed = *current.GustStrength
	}

	var severity, label string
	switch {
	case speed >= a.cfg.WindDanger:
		severity, label = model.SeverityDanger, "Dangerous wind"
	case speed >= a.cfg.WindWarning:
		severity, label = model.SeverityWarning, "Strong wind"
	case speed >= a.cfg.WindInfo:
		severity, label = model.SeverityInfo, "Wind picking up"
	default:
		return
	}

	msg := fmt.Sprintf("%s: %.1f km/h", label, speed)
	if current.GustStrength != nil {
		msg += fmt.Sprintf(" (gusts %.1f km/h)", *current.GustStrength)
	}
	a.fire(ctx, model.AlertWind, severity, current, label, msg)
}

// checkTemperature compares the current reading with the sample nearest to
// 24 hours ago. Warming and cooling share one cooldown bucket so a swinging
// day cannot alternate alerts.
func (a *Alerter) checkTemperature(ctx context.Context, current model.WeatherSample) {
	if !a.cooldowns.Ready(model.AlertTemperature, current.DeviceID, a.now()) {
		return
	}
	if current.Temperature == nil {
		return
	}

	ref, err := a.store.WeatherSampleNear(current.DeviceID, current.RecordedAt.Add(-24*time.Hour), 3*time.Hour)
	if err != nil {
		slog.Error("temperature reference lookup failed", "device_id", current.DeviceID, "error", err)
		return
	}
	if ref == nil || ref.Temperature == nil {
		return
	}

	delta := *current.Temperature - *ref.Temperature
	abs := math.Abs(delta)

	var severity string
	switch {
	case abs >= a.cfg.TempWarning:
		severity = model.SeverityWarning
	case abs >= a.cfg.TempInfo:
		severity = model.SeverityInfo
	default:
		return
	}

	direction := "warmer"
	if delta < 0 {
		direction = "colder"
	}
	title := "Temperature change"
	msg := fmt.Sprintf("%.1f C, %.1f C %s than this time yesterday", *current.Temperature, abs, direction)
	a.fire(ctx, model.AlertTemperature, severity, current, title, msg)
}

// checkPressure compares with the sample nearest to 6 hours ago. A reading
// below the low-pressure line gets an extra annotation regardless of trend
// severity.
func (a *Alerter) checkPressure(ctx context.Context, current model.WeatherSample) {
	if !a.cooldowns.Ready(model.AlertPressure, current.DeviceID, a.now()) {
		return
	}
	if current.Pressure == nil {
		return
	}

	ref, err := a.store.WeatherSampleNear(current.DeviceID, current.RecordedAt.Add(-6*time.Hour), 1*time.Hour)
	if err != nil {
		slog.Error("pressure reference lookup failed", "device_id", current.DeviceID, "error", err)
		return
	}
	if ref == nil || ref.Pressure == nil {
		return
	}

	delta := *current.Pressure - *ref.Pressure
	abs := math.Abs(delta)

	var severity string
	switch {
	case abs >= a.cfg.PressureDanger:
		severity = model.SeverityDanger
	case abs >= a.cfg.PressureWarning:
		severity = model.SeverityWarning
	case abs >= a.cfg.PressureInfo:
		severity = model.SeverityInfo
	default:
		return
	}

	direction := "rising"
	if delta < 0 {
		direction = "falling"
	}
	msg := fmt.Sprintf("Pressure %s: %.1f hPa (%+.1f hPa over 6h)", direction, *current.Pressure, delta)
	if *current.Pressure < a.cfg.PressureLow {
		msg += fmt.Sprintf(" - low pressure, below %.0f hPa", a.cfg.PressureLow)
	}
	a.fire(ctx, model.AlertPressure, severity, current, "Pressure change", msg)
}

// fire stamps the cooldown, records the alert, and posts it. The stamp
// happens first so a notification failure still starts the quiet period.
func (a *Alerter) fire(ctx context.Context, alertType model.AlertType, severity string, sample model.WeatherSample, title, message string) {
	now := a.now()
	a.cooldowns.Stamp(alertType, sample.DeviceID, now)

	if err := a.store.InsertAlert(now.Unix(), string(alertType), sample.DeviceID, sample.DeviceName, message, severity); err != nil {
		slog.Error("recording alert failed", "alert_type", alertType, "device_id", sample.DeviceID, "error", err)
	}

	a.notifier.Notify(ctx, model.Notification{
		Channel:    model.ChannelAlert,
		AlertType:  alertType,
		Severity:   severity,
		Title:      title,
		Message:    message,
		DeviceID:   sample.DeviceID,
		DeviceName: sample.DeviceName,
		Timestamp:  now,
		Fields: map[string]string{
			"Station": sample.DeviceName,
		},
	})

	slog.Info("alert fired",
		"alert_type", alertType,
		"severity", severity,
		"device_id", sample.DeviceID,
		"message", message)
}
