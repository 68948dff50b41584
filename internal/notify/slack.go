package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tubone24/switchbot-hub/internal/model"
)

// SlackProvider sends notifications to Slack incoming webhooks, one webhook
// URL per channel key. Payloads carry a plain-text fallback plus Block Kit
// blocks for rich rendering.
type SlackProvider struct {
	webhooks map[string]string // channel key -> incoming webhook URL
	client   *http.Client
}

// NewSlack creates a Slack provider. Channels without a configured webhook
// URL are dropped silently at send time (the channel is simply not wired).
func NewSlack(webhooks map[string]string) *SlackProvider {
	return &SlackProvider{
		webhooks: webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackProvider) Name() string { return "slack" }

// Send posts the notification to the webhook configured for its channel.
func (s *SlackProvider) Send(ctx context.Context, n model.Notification) error {
	url, ok := s.webhooks[n.Channel]
	if !ok || url == "" {
		return fmt.Errorf("slack: no webhook configured for channel %q", n.Channel)
	}

	payload := slackPayload{
		Text:   fallbackText(n),
		Blocks: buildBlocks(n),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("slack: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: send: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return validateResponse(resp.StatusCode, respBody)
}

// validateResponse checks for Slack's soft-failure pattern: incoming
// webhooks answer plain-text "ok" on success and a short error string
// (sometimes with HTTP 200) otherwise.
func validateResponse(statusCode int, body []byte) error {
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("slack: unexpected status %d: %s", statusCode, strings.TrimSpace(string(body)))
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "ok" {
		return nil
	}
	return fmt.Errorf("slack: API error: %s", trimmed)
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type     string       `json:"type"`
	Text     *slackText   `json:"text,omitempty"`
	Fields   []*slackText `json:"fields,omitempty"`
	Elements []*slackText `json:"elements,omitempty"`
	ImageURL string       `json:"image_url,omitempty"`
	AltText  string       `json:"alt_text,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func fallbackText(n model.Notification) string {
	if n.Severity != "" && n.Severity != model.SeverityInfo {
		return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(n.Severity), n.Title, n.Message)
	}
	return fmt.Sprintf("%s: %s", n.Title, n.Message)
}

func buildBlocks(n model.Notification) []slackBlock {
	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: n.Title, Emoji: true},
		},
	}

	var fields []*slackText
	if n.DeviceName != "" {
		fields = append(fields, &slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Device:*\n%s", n.DeviceName)})
	}
	for _, k := range sortedFieldKeys(n.Fields) {
		fields = append(fields, &slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", k, n.Fields[k])})
	}
	if len(fields) > 0 {
		blocks = append(blocks, slackBlock{Type: "section", Fields: fields})
	}

	if n.Message != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("```%s```", n.Message)},
		})
	}

	if n.ImageURL != "" {
		blocks = append(blocks, slackBlock{
			Type:     "image",
			ImageURL: n.ImageURL,
			AltText:  n.Title,
		})
	}

	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	blocks = append(blocks, slackBlock{
		Type: "context",
		Elements: []*slackText{
			{Type: "mrkdwn", Text: fmt.Sprintf("Updated at: %s", ts.Format("2006-01-02 15:04:05"))},
		},
	})

	return blocks
}

func sortedFieldKeys(fields map[string]string) []string {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// Deterministic field order keeps messages and tests stable.
	sort.Strings(keys)
	return keys
}
