package notify

import (
	"context"
	"log/slog"

	"github.com/tubone24/switchbot-hub/internal/model"
)

// Dispatcher fans a notification out to all configured providers. Delivery
// is best-effort: a provider failure is logged and the rest still run.
type Dispatcher struct {
	providers []Provider
}

// NewDispatcher creates a dispatcher over the given providers.
func NewDispatcher(providers ...Provider) *Dispatcher {
	return &Dispatcher{providers: providers}
}

// Notify sends n through every provider.
func (d *Dispatcher) Notify(ctx context.Context, n model.Notification) {
	for _, p := range d.providers {
		if err := p.Send(ctx, n); err != nil {
			slog.Error("notification failed",
				"provider", p.Name(),
				"channel", n.Channel,
				"title", n.Title,
				"error", err)
			continue
		}
		slog.Debug("notification sent", "provider", p.Name(), "channel", n.Channel, "title", n.Title)
	}
}
