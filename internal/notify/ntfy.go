package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tubone24/switchbot-hub/internal/model"
)

// NtfyProvider sends notifications to an ntfy server. Each channel maps to
// its own topic under a common prefix so subscribers can pick which streams
// to follow.
type NtfyProvider struct {
	server string
	prefix string
	client *http.Client
}

// NewNtfy creates an ntfy provider posting to server with per-channel
// topics named "<prefix>-<channel>".
func NewNtfy(server, prefix string) *NtfyProvider {
	return &NtfyProvider{
		server: strings.TrimSuffix(server, "/"),
		prefix: prefix,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *NtfyProvider) Name() string { return "ntfy" }

// Send posts the notification body as plain text with ntfy metadata headers.
func (n *NtfyProvider) Send(ctx context.Context, notif model.Notification) error {
	topic := n.prefix
	if notif.Channel != "" {
		topic = n.prefix + "-" + notif.Channel
	}
	url := fmt.Sprintf("%s/%s", n.server, topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(notif.Message))
	if err != nil {
		return fmt.Errorf("ntfy: build request: %w", err)
	}
	req.Header.Set("Title", notif.Title)
	req.Header.Set("Priority", ntfyPriority(notif.Severity))
	if tags := ntfyTags(notif); tags != "" {
		req.Header.Set("Tags", tags)
	}
	if notif.ImageURL != "" {
		req.Header.Set("Attach", notif.ImageURL)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func ntfyPriority(severity string) string {
	switch severity {
	case model.SeverityDanger:
		return "urgent"
	case model.SeverityWarning:
		return "high"
	default:
		return "default"
	}
}

func ntfyTags(notif model.Notification) string {
	switch notif.AlertType {
	case model.AlertRain:
		return "cloud_with_rain"
	case model.AlertWind:
		return "dash"
	case model.AlertTemperature:
		return "thermometer"
	case model.AlertPressure:
		return "chart_with_downwards_trend"
	}
	if notif.Channel == model.ChannelSecurity {
		return "lock"
	}
	return ""
}
