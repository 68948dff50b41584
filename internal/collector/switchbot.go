package collector

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tubone24/switchbot-hub/internal/model"
)

const switchBotBaseURL = "https://api.switch-bot.com/v1.1"

// switchBotOK is the vendor's in-body success code. Anything else is an
// API-level failure even when the HTTP status is 200.
const switchBotOK = 100

// SwitchBotClient talks to the SwitchBot v1.1 cloud API with HMAC-signed
// requests.
type SwitchBotClient struct {
	token   string
	secret  string
	baseURL string
	client  *http.Client
}

// NewSwitchBotClient creates a client with the given open token and secret.
func NewSwitchBotClient(token, secret string) *SwitchBotClient {
	return &SwitchBotClient{
		token:   token,
		secret:  secret,
		baseURL: switchBotBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type switchBotResponse struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`
}

// SwitchBotDevice is one entry from the device list endpoint.
type SwitchBotDevice struct {
	DeviceID    string `json:"deviceId"`
	DeviceName  string `json:"deviceName"`
	DeviceType  string `json:"deviceType"`
	HubDeviceID string `json:"hubDeviceId"`
}

// sign produces the v1.1 request signature headers: the signature is
// base64(HMAC-SHA256(secret, token + t + nonce)) with t in milliseconds.
func (c *SwitchBotClient) sign(req *http.Request) {
	t := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := uuid.NewString()

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(c.token + t + nonce))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", c.token)
	req.Header.Set("t", t)
	req.Header.Set("nonce", nonce)
	req.Header.Set("sign", signature)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
}

func (c *SwitchBotClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("switchbot: marshal body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("switchbot: build request: %w", err)
	}
	c.sign(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("switchbot: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("switchbot: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	var parsed switchBotResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("switchbot: decode response: %w", err)
	}
	if parsed.StatusCode != switchBotOK {
		return nil, &APIError{Vendor: model.VendorSwitchBot, Code: parsed.StatusCode, Message: parsed.Message}
	}
	return parsed.Body, nil
}

// Devices lists all devices bound to the account. Infrared remotes are not
// included; they carry no pollable state.
func (c *SwitchBotClient) Devices(ctx context.Context) ([]SwitchBotDevice, error) {
	body, err := c.do(ctx, http.MethodGet, "/devices", nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		DeviceList []SwitchBotDevice `json:"deviceList"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("switchbot: decode device list: %w", err)
	}
	return parsed.DeviceList, nil
}

// Status fetches the current status of one device as an open field bag.
func (c *SwitchBotClient) Status(ctx context.Context, deviceID string) (model.Status, error) {
	body, err := c.do(ctx, http.MethodGet, "/devices/"+deviceID+"/status", nil)
	if err != nil {
		return nil, err
	}
	var status model.Status
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("switchbot: decode status: %w", err)
	}
	return status, nil
}

// SetupWebhook registers url to receive push events for all devices.
func (c *SwitchBotClient) SetupWebhook(ctx context.Context, url string) error {
	payload := map[string]string{
		"action":     "setupWebhook",
		"url":        url,
		"deviceList": "ALL",
	}
	_, err := c.do(ctx, http.MethodPost, "/webhook/setupWebhook", payload)
	return err
}

// QueryWebhook returns the webhook URLs currently registered.
func (c *SwitchBotClient) QueryWebhook(ctx context.Context) ([]string, error) {
	payload := map[string]string{"action": "queryUrl"}
	body, err := c.do(ctx, http.MethodPost, "/webhook/queryWebhook", payload)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		URLs []string `json:"urls"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("switchbot: decode webhook urls: %w", err)
	}
	return parsed.URLs, nil
}

// EnsureWebhook registers url unless it is already present. Called once at
// startup when a public URL is configured.
func (c *SwitchBotClient) EnsureWebhook(ctx context.Context, url string) error {
	existing, err := c.QueryWebhook(ctx)
	if err != nil {
		// A fresh account has no webhook configured and the query endpoint
		// reports that as an error. Fall through to registration.
		slog.Debug("webhook query failed, attempting setup", "error", err)
	}
	for _, u := range existing {
		if u == url {
			slog.Info("webhook already registered", "url", url)
			return nil
		}
	}
	if err := c.SetupWebhook(ctx, url); err != nil {
		return fmt.Errorf("register webhook: %w", err)
	}
	slog.Info("webhook registered", "url", url)
	return nil
}

// SwitchBotCollector polls the device list and each device's status.
type SwitchBotCollector struct {
	client   *SwitchBotClient
	interval time.Duration
}

// NewSwitchBotCollector creates the poller.
func NewSwitchBotCollector(client *SwitchBotClient, interval time.Duration) *SwitchBotCollector {
	return &SwitchBotCollector{client: client, interval: interval}
}

func (s *SwitchBotCollector) ID() string              { return model.VendorSwitchBot }
func (s *SwitchBotCollector) Interval() time.Duration { return s.interval }

// Poll lists devices and fetches each one's status. A single device failing
// does not abort the batch; it is logged and skipped.
func (s *SwitchBotCollector) Poll(ctx context.Context) ([]model.Reading, error) {
	devices, err := s.client.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	now := time.Now().UTC()
	readings := make([]model.Reading, 0, len(devices))
	for _, dev := range devices {
		status, err := s.client.Status(ctx, dev.DeviceID)
		if err != nil {
			slog.Warn("device status failed",
				"device_id", dev.DeviceID,
				"device_name", dev.DeviceName,
				"error", err)
			continue
		}
		readings = append(readings, model.Reading{
			Source:   model.SourcePoll,
			Vendor:   model.VendorSwitchBot,
			DeviceID: dev.DeviceID,
			Name:     dev.DeviceName,
			Type:     dev.DeviceType,
			Status:   status,
			Time:     now,
		})
	}
	return readings, nil
}
