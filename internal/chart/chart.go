// Package chart renders sensor time series into shareable chart images via
// the QuickChart API.
package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tubone24/switchbot-hub/internal/model"
)

const defaultBaseURL = "https://quickchart.io"

// maxPoints caps the number of samples per rendered chart. Longer series
// are downsampled by stride so a full day of minute-level data stays
// readable.
const maxPoints = 96

// Renderer posts Chart.js configs to QuickChart's short-URL endpoint and
// returns hosted image URLs. Rendering is best-effort: callers treat a
// failure as "no image" and send the notification anyway.
type Renderer struct {
	baseURL string
	client  *http.Client
}

// NewRenderer creates a renderer against the public QuickChart API.
func NewRenderer() *Renderer {
	return &Renderer{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// NewRendererWithBaseURL creates a renderer against a custom QuickChart
// instance. Used by tests and self-hosted deployments.
func NewRendererWithBaseURL(baseURL string) *Renderer {
	r := NewRenderer()
	r.baseURL = baseURL
	return r
}

type createRequest struct {
	Chart           chartConfig `json:"chart"`
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	BackgroundColor string      `json:"backgroundColor"`
}

type createResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

type chartConfig struct {
	Type    string       `json:"type"`
	Data    chartData    `json:"data"`
	Options chartOptions `json:"options"`
}

type chartData struct {
	Labels   []string  `json:"labels"`
	Datasets []dataset `json:"datasets"`
}

type dataset struct {
	Label       string     `json:"label"`
	Data        []*float64 `json:"data"`
	BorderColor string     `json:"borderColor"`
	YAxisID     string     `json:"yAxisID"`
	Fill        bool       `json:"fill"`
	Tension     float64    `json:"tension"`
}

type chartOptions struct {
	Title  chartTitle           `json:"title"`
	Scales map[string]chartAxis `json:"scales"`
}

type chartTitle struct {
	Display bool   `json:"display"`
	Text    string `json:"text"`
}

type chartAxis struct {
	Type     string         `json:"type,omitempty"`
	Position string         `json:"position,omitempty"`
	Title    chartAxisTitle `json:"title"`
	Grid     *chartAxisGrid `json:"grid,omitempty"`
}

type chartAxisTitle struct {
	Display bool   `json:"display"`
	Text    string `json:"text"`
}

type chartAxisGrid struct {
	DrawOnChartArea bool `json:"drawOnChartArea"`
}

// RenderDaily renders a day of indoor sensor samples as a two-axis line
// chart (temperature/humidity left, CO2 right) and returns the hosted
// image URL.
func (r *Renderer) RenderDaily(ctx context.Context, title string, samples []model.SensorSample) (string, error) {
	if len(samples) == 0 {
		return "", fmt.Errorf("chart: no data points")
	}
	samples = downsample(samples, maxPoints)

	labels := make([]string, len(samples))
	temps := make([]*float64, len(samples))
	humids := make([]*float64, len(samples))
	co2s := make([]*float64, len(samples))
	for i, p := range samples {
		labels[i] = p.RecordedAt.Local().Format("15:04")
		temps[i] = p.Temperature
		humids[i] = p.Humidity
		if p.CO2 != nil {
			v := float64(*p.CO2)
			co2s[i] = &v
		}
	}

	cfg := chartConfig{
		Type: "line",
		Data: chartData{
			Labels: labels,
			Datasets: []dataset{
				{Label: "Temperature (C)", Data: temps, BorderColor: "rgb(255, 99, 132)", YAxisID: "y", Tension: 0.3},
				{Label: "Humidity (%)", Data: humids, BorderColor: "rgb(54, 162, 235)", YAxisID: "y", Tension: 0.3},
				{Label: "CO2 (ppm)", Data: co2s, BorderColor: "rgb(75, 192, 120)", YAxisID: "y1", Tension: 0.3},
			},
		},
		Options: chartOptions{
			Title: chartTitle{Display: true, Text: title},
			Scales: map[string]chartAxis{
				"y": {
					Position: "left",
					Title:    chartAxisTitle{Display: true, Text: "Temperature / Humidity"},
				},
				"y1": {
					Position: "right",
					Title:    chartAxisTitle{Display: true, Text: "CO2 (ppm)"},
					Grid:     &chartAxisGrid{DrawOnChartArea: false},
				},
			},
		},
	}

	return r.create(ctx, cfg)
}

// create posts the config to /chart/create and returns the short URL.
func (r *Renderer) create(ctx context.Context, cfg chartConfig) (string, error) {
	payload := createRequest{
		Chart:           cfg,
		Width:           800,
		Height:          400,
		BackgroundColor: "white",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("chart: marshal config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chart/create", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chart: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chart: create: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chart: unexpected status %d", resp.StatusCode)
	}

	var created createResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("chart: decode response: %w", err)
	}
	if !created.Success || created.URL == "" {
		return "", fmt.Errorf("chart: API reported failure")
	}
	return created.URL, nil
}

// downsample keeps at most max points by taking every n-th sample. The last
// point is always retained so the chart ends at the freshest reading.
func downsample(samples []model.SensorSample, max int) []model.SensorSample {
	if len(samples) <= max {
		return samples
	}
	stride := (len(samples) + max - 1) / max
	out := make([]model.SensorSample, 0, max+1)
	for i := 0; i < len(samples); i += stride {
		out = append(out, samples[i])
	}
	last := samples[len(samples)-1]
	if !out[len(out)-1].RecordedAt.Equal(last.RecordedAt) {
		out = append(out, last)
	}
	return out
}
