package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/tubone24/switchbot-hub/internal/model"
)

// webhookEvent is the SwitchBot push envelope. The context block's shape
// varies by device type, so it stays an open map and becomes the status
// field bag.
type webhookEvent struct {
	EventType    string         `mapstructure:"eventType"`
	EventVersion string         `mapstructure:"eventVersion"`
	Context      map[string]any `mapstructure:"context"`
}

// handleWebhook accepts vendor push events. The contract with the vendor
// is: 400 only for malformed JSON, 200 for anything that parsed — a
// processing failure on our side must not make the vendor retry or
// disable the webhook.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		slog.Warn("malformed webhook payload", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	reading, err := parseWebhookEvent(raw)
	if err != nil {
		slog.Warn("unusable webhook event", "error", err)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := s.sink.Ingest(r.Context(), reading); err != nil {
		slog.Error("webhook ingest failed", "mac", reading.DeviceMAC, "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseWebhookEvent extracts the device identity and status bag from a
// decoded push event.
func parseWebhookEvent(raw map[string]any) (model.Reading, error) {
	var event webhookEvent
	if err := mapstructure.Decode(raw, &event); err != nil {
		return model.Reading{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(event.Context) == 0 {
		return model.Reading{}, fmt.Errorf("event has no context block")
	}

	mac, _ := event.Context["deviceMac"].(string)
	if mac == "" {
		return model.Reading{}, fmt.Errorf("event has no deviceMac")
	}
	deviceType, _ := event.Context["deviceType"].(string)

	at := time.Now().UTC()
	if ms, ok := event.Context["timeOfSample"].(float64); ok && ms > 0 {
		at = time.UnixMilli(int64(ms)).UTC()
	}

	// Identity and timestamp ride along in the context block but are carried
	// on the reading itself. Left in the status bag they would make a webhook
	// reading diff against the same device's polled state.
	status := make(model.Status, len(event.Context))
	for k, v := range event.Context {
		switch k {
		case "deviceMac", "deviceType", "timeOfSample":
			continue
		}
		status[k] = v
	}

	return model.Reading{
		Source:    model.SourceWebhook,
		Vendor:    model.VendorSwitchBot,
		DeviceMAC: mac,
		Type:      deviceType,
		Status:    status,
		Time:      at,
	}, nil
}
