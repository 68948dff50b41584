package store

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig defines how long to keep data in each table family.
type RetentionConfig struct {
	HistoryDays int // device_history, default 30
	SampleDays  int // sensor_samples + weather_samples, default 7
	AlertDays   int // alert_log, default 30
}

// DefaultRetention returns the default retention periods.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		HistoryDays: 30,
		SampleDays:  7,
		AlertDays:   30,
	}
}

// Pruner periodically removes old rows from the store.
type Pruner struct {
	store     *Store
	retention RetentionConfig
	interval  time.Duration
}

// NewPruner creates a pruner with the given retention config.
func NewPruner(store *Store, retention RetentionConfig) *Pruner {
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  1 * time.Hour,
	}
}

// Run starts the pruner loop. It blocks until the context is cancelled,
// running one final prune on the way out so a shutdown always leaves the
// database trimmed.
func (p *Pruner) Run(ctx context.Context) error {
	slog.Info("pruner started", "interval", p.interval)

	p.Prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Prune()
			slog.Info("pruner stopped")
			return ctx.Err()
		case <-ticker.C:
			p.Prune()
		}
	}
}

// Prune runs a single retention pass over all tables.
func (p *Pruner) Prune() {
	jobs := []struct {
		name string
		fn   func(int) (int64, error)
		days int
	}{
		{"device_history", p.store.PruneHistory, p.retention.HistoryDays},
		{"samples", p.store.PruneSamples, p.retention.SampleDays},
		{"alert_log", p.store.PruneAlerts, p.retention.AlertDays},
	}

	for _, j := range jobs {
		if j.days <= 0 {
			continue
		}
		rows, err := j.fn(j.days)
		if err != nil {
			slog.Error("pruning failed", "table", j.name, "error", err)
			continue
		}
		if rows > 0 {
			slog.Info("pruned old data", "table", j.name, "rows", rows)
		}
	}
}
