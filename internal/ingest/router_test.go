package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubone24/switchbot-hub/internal/model"
	"github.com/tubone24/switchbot-hub/internal/registry"
	"github.com/tubone24/switchbot-hub/internal/store"
)

type fakeNotifier struct {
	sent []model.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n model.Notification) {
	f.sent = append(f.sent, n)
}

func newTestRouter(t *testing.T, ignore, polling []string) (*Router, *store.Store, *registry.Registry, *fakeNotifier) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	notifier := &fakeNotifier{}
	return NewRouter(st, reg, notifier, ignore, polling), st, reg, notifier
}

func contactReading(deviceID, state string) model.Reading {
	return model.Reading{
		Source:   model.SourcePoll,
		Vendor:   model.VendorSwitchBot,
		DeviceID: deviceID,
		Name:     "Front Door",
		Type:     "Contact Sensor",
		Status:   model.Status{"openState": state, "battery": 95},
		Time:     time.Now().UTC(),
	}
}

func TestIngestFirstSeenNotifies(t *testing.T) {
	r, st, reg, notifier := newTestRouter(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, r.Ingest(ctx, contactReading("dev1", "close")))

	state, err := st.GetState("dev1")
	require.NoError(t, err)
	require.NotNil(t, state)

	_, ok := reg.Get("dev1")
	assert.True(t, ok)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, model.ChannelSecurity, notifier.sent[0].Channel)
	assert.Contains(t, notifier.sent[0].Message, "New device detected")
}

func TestIngestIdempotent(t *testing.T) {
	r, _, _, notifier := newTestRouter(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, r.Ingest(ctx, contactReading("dev1", "close")))
	require.NoError(t, r.Ingest(ctx, contactReading("dev1", "close")))

	assert.Len(t, notifier.sent, 1, "unchanged reading must not notify again")
}

func TestIngestChangeNotifiesDiff(t *testing.T) {
	r, _, _, notifier := newTestRouter(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, r.Ingest(ctx, contactReading("dev1", "close")))
	require.NoError(t, r.Ingest(ctx, contactReading("dev1", "open")))

	require.Len(t, notifier.sent, 2)
	assert.Contains(t, notifier.sent[1].Message, "openState: close -> open")
}

func TestIngestOtherCategoryPersistsWithoutNotify(t *testing.T) {
	r, st, _, notifier := newTestRouter(t, nil, nil)

	require.NoError(t, r.Ingest(context.Background(), model.Reading{
		Source:   model.SourcePoll,
		Vendor:   model.VendorSwitchBot,
		DeviceID: "bot1",
		Name:     "Coffee switch",
		Type:     "Bot",
		Status:   model.Status{"power": "on"},
	}))

	state, err := st.GetState("bot1")
	require.NoError(t, err)
	assert.NotNil(t, state)
	assert.Empty(t, notifier.sent)
}

func TestIngestIgnoredDevice(t *testing.T) {
	// Ignore entries match by name substring, case-insensitive.
	r, st, _, notifier := newTestRouter(t, []string{"front"}, nil)

	require.NoError(t, r.Ingest(context.Background(), contactReading("dev1", "close")))

	state, err := st.GetState("dev1")
	require.NoError(t, err)
	assert.Nil(t, state, "ignored devices are not persisted")
	assert.Empty(t, notifier.sent)
}

func TestIngestMeterRecordsSample(t *testing.T) {
	r, st, _, _ := newTestRouter(t, nil, nil)
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.Ingest(context.Background(), model.Reading{
		Source:   model.SourcePoll,
		Vendor:   model.VendorSwitchBot,
		DeviceID: "meter1",
		Name:     "Living Room",
		Type:     "MeterPro(CO2)",
		Status:   model.Status{"temperature": 23.4, "humidity": 55.0, "CO2": 600.0, "battery": 88.0},
		Time:     at,
	}))

	samples, err := st.SensorSeries("meter1", "2026-08-30")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 23.4, *samples[0].Temperature)
	assert.Equal(t, 55.0, *samples[0].Humidity)
	assert.Equal(t, 600, *samples[0].CO2)
	assert.Equal(t, 88, *samples[0].Battery)
}

func TestIngestWebhookRoutedDevicePollStaysQuiet(t *testing.T) {
	// With a polling list configured, devices not on it are webhook-routed:
	// their poll readings persist but never notify.
	r, st, _, notifier := newTestRouter(t, nil, []string{"bedroom"})
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.Ingest(context.Background(), model.Reading{
		Source:   model.SourcePoll,
		Vendor:   model.VendorSwitchBot,
		DeviceID: "meter1",
		Name:     "Living Room",
		Type:     "Meter",
		Status:   model.Status{"temperature": 23.4},
		Time:     at,
	}))

	state, err := st.GetState("meter1")
	require.NoError(t, err)
	assert.NotNil(t, state)

	samples, err := st.SensorSeries("meter1", "2026-08-30")
	require.NoError(t, err)
	assert.Len(t, samples, 1, "samples are recorded regardless of routing")

	assert.Empty(t, notifier.sent)

	// The webhook remains authoritative for the same device.
	require.NoError(t, r.Ingest(context.Background(), model.Reading{
		Source:   model.SourceWebhook,
		Vendor:   model.VendorSwitchBot,
		DeviceID: "meter1",
		Name:     "Living Room",
		Type:     "Meter",
		Status:   model.Status{"temperature": 25.0},
		Time:     at.Add(time.Minute),
	}))
	assert.Len(t, notifier.sent, 1)
}

func TestIngestPollingDeviceNotifies(t *testing.T) {
	r, _, _, notifier := newTestRouter(t, nil, []string{"living"})

	require.NoError(t, r.Ingest(context.Background(), model.Reading{
		Source:   model.SourcePoll,
		Vendor:   model.VendorSwitchBot,
		DeviceID: "meter1",
		Name:     "Living Room",
		Type:     "Meter",
		Status:   model.Status{"temperature": 23.4},
		Time:     time.Now().UTC(),
	}))

	assert.Len(t, notifier.sent, 1)
}

func TestIngestWeatherReading(t *testing.T) {
	r, st, _, _ := newTestRouter(t, nil, nil)
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	temp := 18.5

	require.NoError(t, r.Ingest(context.Background(), model.Reading{
		Source:   model.SourcePoll,
		Vendor:   model.VendorNetatmo,
		DeviceID: "mod1",
		Name:     "Outdoor",
		Type:     "NAModule1",
		Status:   model.Status{"module_type": "NAModule1", "reachable": true},
		Weather: &model.WeatherSample{
			DeviceID:    "mod1",
			DeviceName:  "Outdoor",
			ModuleType:  "NAModule1",
			IsOutdoor:   true,
			RecordedAt:  at,
			Temperature: &temp,
		},
		Time: at,
	}))

	samples, err := st.LatestWeatherSamples("mod1", 1)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, temp, *samples[0].Temperature)

	state, err := st.GetState("mod1")
	require.NoError(t, err)
	assert.NotNil(t, state, "weather modules get state rows too")
}

func TestIngestWeatherDriftNotifiesOnce(t *testing.T) {
	// Weather metrics drift on every poll. They belong in the time series,
	// not in per-poll change notifications: only the first-seen announcement
	// (and later health changes) reach a channel.
	r, st, _, notifier := newTestRouter(t, nil, nil)
	ctx := context.Background()
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	weatherReading := func(temp float64, at time.Time) model.Reading {
		return model.Reading{
			Source:   model.SourcePoll,
			Vendor:   model.VendorNetatmo,
			DeviceID: "mod1",
			Name:     "Outdoor",
			Type:     "NAModule1",
			Status:   model.Status{"module_type": "NAModule1", "reachable": true, "battery_percent": 64},
			Weather: &model.WeatherSample{
				DeviceID:    "mod1",
				DeviceName:  "Outdoor",
				ModuleType:  "NAModule1",
				IsOutdoor:   true,
				RecordedAt:  at,
				Temperature: &temp,
			},
			Time: at,
		}
	}

	require.NoError(t, r.Ingest(ctx, weatherReading(15.0, at)))
	require.NoError(t, r.Ingest(ctx, weatherReading(17.5, at.Add(10*time.Minute))))

	assert.Len(t, notifier.sent, 1, "metric drift must not notify on every poll")

	samples, err := st.LatestWeatherSamples("mod1", 5)
	require.NoError(t, err)
	assert.Len(t, samples, 2, "every poll still feeds the time series")
}

func TestIngestWebhookResolvesMAC(t *testing.T) {
	r, st, _, _ := newTestRouter(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, r.Ingest(ctx, contactReading("AABBCCDDEEFF", "close")))

	require.NoError(t, r.Ingest(ctx, model.Reading{
		Source:    model.SourceWebhook,
		Vendor:    model.VendorSwitchBot,
		DeviceMAC: "AA:BB:CC:DD:EE:FF",
		Type:      "Contact Sensor",
		Status:    model.Status{"openState": "open", "battery": 95},
		Time:      time.Now().UTC(),
	}))

	state, err := st.GetState("AABBCCDDEEFF")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "open", state.Status["openState"])
	assert.Equal(t, "Front Door", state.DeviceName, "name carried over from the known device")
}

func TestIngestWebhookUnknownMACPlaceholder(t *testing.T) {
	r, st, _, _ := newTestRouter(t, nil, nil)

	require.NoError(t, r.Ingest(context.Background(), model.Reading{
		Source:    model.SourceWebhook,
		Vendor:    model.VendorSwitchBot,
		DeviceMAC: "11:22:33:44:55:66",
		Status:    model.Status{"detectionState": "DETECTED"},
		Time:      time.Now().UTC(),
	}))

	state, err := st.GetState("webhook-112233445566")
	require.NoError(t, err)
	require.NotNil(t, state, "unresolved webhook events still get recorded")
	assert.Contains(t, state.DeviceName, "11:22:33:44:55:66")
}
