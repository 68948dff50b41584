package chart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubone24/switchbot-hub/internal/model"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func testSamples(n int) []model.SensorSample {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	samples := make([]model.SensorSample, n)
	for i := range samples {
		samples[i] = model.SensorSample{
			DeviceID:    "dev1",
			DeviceName:  "Living Room",
			RecordedAt:  base.Add(time.Duration(i) * time.Minute),
			Temperature: fptr(20 + float64(i%5)),
			Humidity:    fptr(50),
			CO2:         iptr(500),
		}
	}
	return samples
}

func TestRenderDaily(t *testing.T) {
	var got createRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chart/create", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(createResponse{Success: true, URL: "https://quickchart.io/chart/render/xyz"})
	}))
	defer server.Close()

	renderer := NewRendererWithBaseURL(server.URL)
	url, err := renderer.RenderDaily(context.Background(), "Living Room - 2026-08-30", testSamples(10))
	require.NoError(t, err)
	assert.Equal(t, "https://quickchart.io/chart/render/xyz", url)

	assert.Equal(t, "line", got.Chart.Type)
	assert.Len(t, got.Chart.Data.Labels, 10)
	require.Len(t, got.Chart.Data.Datasets, 3)
	assert.Equal(t, "Living Room - 2026-08-30", got.Chart.Options.Title.Text)
}

func TestRenderDailyEmpty(t *testing.T) {
	renderer := NewRenderer()
	_, err := renderer.RenderDaily(context.Background(), "x", nil)
	assert.Error(t, err)
}

func TestRenderDailyAPIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createResponse{Success: false})
	}))
	defer server.Close()

	renderer := NewRendererWithBaseURL(server.URL)
	_, err := renderer.RenderDaily(context.Background(), "x", testSamples(3))
	assert.Error(t, err)
}

func TestDownsample(t *testing.T) {
	samples := testSamples(300)

	out := downsample(samples, maxPoints)
	assert.LessOrEqual(t, len(out), maxPoints+1)
	assert.Equal(t, samples[0].RecordedAt, out[0].RecordedAt)
	assert.Equal(t, samples[len(samples)-1].RecordedAt, out[len(out)-1].RecordedAt, "last point retained")

	short := testSamples(5)
	assert.Len(t, downsample(short, maxPoints), 5, "short series untouched")
}
