// Package notify delivers formatted notifications to chat transports.
package notify

import (
	"context"

	"github.com/tubone24/switchbot-hub/internal/model"
)

// Provider sends notifications through a specific transport. Delivery
// failures are logged by callers and never retried synchronously.
type Provider interface {
	Name() string
	Send(ctx context.Context, n model.Notification) error
}
