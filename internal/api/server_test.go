package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubone24/switchbot-hub/internal/change"
	"github.com/tubone24/switchbot-hub/internal/model"
	"github.com/tubone24/switchbot-hub/internal/registry"
	"github.com/tubone24/switchbot-hub/internal/store"
)

type fakeSink struct {
	readings []model.Reading
	err      error
}

func (f *fakeSink) Ingest(_ context.Context, reading model.Reading) error {
	f.readings = append(f.readings, reading)
	return f.err
}

func newTestServer(t *testing.T) (*Server, *store.Store, *registry.Registry, *fakeSink) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	sink := &fakeSink{}
	return New(":0", "/switchbot/webhook", st, reg, sink), st, reg, sink
}

func TestWebhookMalformedJSON(t *testing.T) {
	server, _, _, sink := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/switchbot/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sink.readings)
}

func TestWebhookValidEvent(t *testing.T) {
	server, _, _, sink := newTestServer(t)

	payload := `{
		"eventType": "changeReport",
		"eventVersion": "1",
		"context": {
			"deviceType": "WoContact",
			"deviceMac": "AA:BB:CC:DD:EE:FF",
			"detectionState": "DETECTED",
			"timeOfSample": 1756500000000
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/switchbot/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.readings, 1)

	reading := sink.readings[0]
	assert.Equal(t, model.SourceWebhook, reading.Source)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", reading.DeviceMAC)
	assert.Equal(t, "WoContact", reading.Type)
	assert.Equal(t, "DETECTED", reading.Status["detectionState"])
	assert.Equal(t, time.UnixMilli(1756500000000).UTC(), reading.Time)
}

func TestWebhookStatusMatchesPolledState(t *testing.T) {
	// A webhook and a poll reporting the same metrics describe the same
	// device state: the envelope-only keys in the context block must not
	// make the two representations diff against each other.
	server, _, _, sink := newTestServer(t)

	payload := `{
		"eventType": "changeReport",
		"eventVersion": "1",
		"context": {
			"deviceType": "WoMeter",
			"deviceMac": "AA:BB:CC:DD:EE:FF",
			"temperature": 23.4,
			"humidity": 55,
			"battery": 90,
			"scale": "CELSIUS",
			"timeOfSample": 1756500000000
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/switchbot/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.readings, 1)
	status := sink.readings[0].Status
	for _, key := range []string{"deviceMac", "deviceType", "timeOfSample"} {
		_, present := status[key]
		assert.False(t, present, "envelope key %s must not reach the status bag", key)
	}

	pollStatus := model.Status{
		"deviceId":    "AABBCCDDEEFF",
		"deviceType":  "WoMeter",
		"hubDeviceId": "HUB1",
		"temperature": 23.4,
		"humidity":    55.0,
		"battery":     90.0,
		"version":     "V3.3",
	}
	assert.False(t, change.HasChanged(pollStatus, status),
		"identical metrics via webhook are not a change")
	assert.False(t, change.HasChanged(status, pollStatus),
		"the next unchanged poll is not a change either")
}

func TestWebhookMissingContextStill200(t *testing.T) {
	server, _, _, sink := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/switchbot/webhook", strings.NewReader(`{"eventType":"changeReport"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "parsed but unusable events must not trigger vendor retries")
	assert.Empty(t, sink.readings)
}

func TestWebhookIngestFailureStill200(t *testing.T) {
	server, _, _, sink := newTestServer(t)
	sink.err = fmt.Errorf("db locked")

	payload := `{"eventType":"changeReport","context":{"deviceMac":"AA:BB:CC:DD:EE:FF"}}`
	req := httptest.NewRequest(http.MethodPost, "/switchbot/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	server, _, reg, _ := newTestServer(t)
	reg.Update(model.DeviceState{DeviceID: "dev1", DeviceName: "Front Door"})
	reg.SetLastPoll("switchbot", time.Now())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["devices"])
}

func TestDevicesEndpoint(t *testing.T) {
	server, _, reg, _ := newTestServer(t)
	reg.Update(model.DeviceState{DeviceID: "dev1", DeviceName: "Front Door", DeviceType: "Contact Sensor"})

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var devices []model.DeviceState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "dev1", devices[0].DeviceID)
}

func TestHistoryEndpoint(t *testing.T) {
	server, st, _, _ := newTestServer(t)
	_, err := st.SaveState("dev1", "Front Door", "Contact Sensor",
		model.Status{"openState": "close"}, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/dev1/history", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var events []model.HistoryEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 1)
}

func TestHistoryEndpointBadLimit(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/dev1/history?limit=-5", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummaryEndpoint(t *testing.T) {
	server, st, _, _ := newTestServer(t)
	temp := 22.5
	_, err := st.AppendSensorSample(model.SensorSample{
		DeviceID:    "dev1",
		DeviceName:  "Living Room",
		RecordedAt:  time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Temperature: &temp,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/summary/dev1?date=2026-08-30", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summary model.DailySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Count)
}

func TestSummaryEndpointInvalidDate(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/summary/dev1?date=yesterday", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummaryEndpointNoData(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/summary/dev1?date=2026-01-01", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
