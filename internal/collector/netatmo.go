package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/tubone24/switchbot-hub/internal/model"
)

const netatmoBaseURL = "https://api.netatmo.com"

// outdoorModuleTypes marks the Netatmo module types mounted outside:
// outdoor thermo/hygro, wind gauge, and rain gauge.
var outdoorModuleTypes = map[string]bool{
	"NAModule1": true,
	"NAModule2": true,
	"NAModule3": true,
}

// netatmoCredentials is the on-disk token file. Netatmo rotates refresh
// tokens on every grant, so the latest one must survive restarts.
type netatmoCredentials struct {
	RefreshToken string `json:"refresh_token"`
}

// LoadNetatmoRefreshToken reads the rotated refresh token from the
// credentials file. Returns empty when the file does not exist yet.
func LoadNetatmoRefreshToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var creds netatmoCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parse credentials: %w", err)
	}
	return creds.RefreshToken, nil
}

// NetatmoClient talks to the Netatmo weather API using the refresh-token
// OAuth2 grant.
type NetatmoClient struct {
	source   oauth2.TokenSource
	client   *http.Client
	baseURL  string
	credFile string
	lastSeen string // refresh token already persisted
}

// NewNetatmoClient creates a client. When credFile is non-empty the rotated
// refresh token is written back to it after every token exchange.
func NewNetatmoClient(ctx context.Context, clientID, clientSecret, refreshToken, credFile string) *NetatmoClient {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: netatmoBaseURL + "/oauth2/token",
		},
	}
	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return &NetatmoClient{
		source:   source,
		client:   oauth2.NewClient(ctx, source),
		baseURL:  netatmoBaseURL,
		credFile: credFile,
		lastSeen: refreshToken,
	}
}

// persistRotatedToken writes the refresh token to the credentials file when
// the vendor handed out a new one.
func (c *NetatmoClient) persistRotatedToken() {
	if c.credFile == "" {
		return
	}
	token, err := c.source.Token()
	if err != nil || token.RefreshToken == "" || token.RefreshToken == c.lastSeen {
		return
	}
	data, err := json.Marshal(netatmoCredentials{RefreshToken: token.RefreshToken})
	if err != nil {
		return
	}
	if err := os.WriteFile(c.credFile, data, 0o600); err != nil {
		slog.Warn("persisting netatmo credentials failed", "path", c.credFile, "error", err)
		return
	}
	c.lastSeen = token.RefreshToken
	slog.Debug("netatmo refresh token rotated")
}

type netatmoStationsResponse struct {
	Body struct {
		Devices []netatmoStation `json:"devices"`
	} `json:"body"`
	Status string `json:"status"`
}

type netatmoStation struct {
	ID            string            `json:"_id"`
	StationName   string            `json:"station_name"`
	ModuleName    string            `json:"module_name"`
	Type          string            `json:"type"`
	DashboardData *netatmoDashboard `json:"dashboard_data"`
	Modules       []netatmoModule   `json:"modules"`
}

type netatmoModule struct {
	ID             string            `json:"_id"`
	ModuleName     string            `json:"module_name"`
	Type           string            `json:"type"`
	BatteryPercent *int              `json:"battery_percent"`
	DashboardData  *netatmoDashboard `json:"dashboard_data"`
}

// netatmoDashboard mirrors the vendor's dashboard_data block. Field names
// follow the API's capitalization.
type netatmoDashboard struct {
	TimeUTC      int64    `json:"time_utc"`
	Temperature  *float64 `json:"Temperature"`
	Humidity     *float64 `json:"Humidity"`
	CO2          *int     `json:"CO2"`
	Pressure     *float64 `json:"Pressure"`
	Noise        *int     `json:"Noise"`
	WindStrength *float64 `json:"WindStrength"`
	WindAngle    *float64 `json:"WindAngle"`
	GustStrength *float64 `json:"GustStrength"`
	Rain         *float64 `json:"Rain"`
	SumRain1     *float64 `json:"sum_rain_1"`
	SumRain24    *float64 `json:"sum_rain_24"`
}

// StationsData fetches and flattens getstationsdata: the base station plus
// every module become individual readings carrying a weather sample.
func (c *NetatmoClient) StationsData(ctx context.Context) ([]model.Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/getstationsdata", nil)
	if err != nil {
		return nil, fmt.Errorf("netatmo: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("netatmo: getstationsdata: %w", err)
	}
	defer resp.Body.Close()
	c.persistRotatedToken()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Vendor: model.VendorNetatmo, Code: resp.StatusCode, Message: resp.Status}
	}

	var parsed netatmoStationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("netatmo: decode response: %w", err)
	}

	var readings []model.Reading
	for _, station := range parsed.Body.Devices {
		readings = append(readings, flattenModule(
			station.ID, station.ModuleName, station.Type, station.StationName,
			nil, station.DashboardData))
		for _, mod := range station.Modules {
			readings = append(readings, flattenModule(
				mod.ID, mod.ModuleName, mod.Type, station.StationName,
				mod.BatteryPercent, mod.DashboardData))
		}
	}
	return readings, nil
}

// flattenModule converts one station or module into a reading. A module
// with no dashboard data (unreachable, battery dead) still yields a reading
// so its state row stays current, but without a weather sample.
func flattenModule(id, name, modType, stationName string, battery *int, dash *netatmoDashboard) model.Reading {
	sampledAt := time.Now().UTC()
	if dash != nil && dash.TimeUTC > 0 {
		sampledAt = time.Unix(dash.TimeUTC, 0).UTC()
	}

	sample := &model.WeatherSample{
		DeviceID:       id,
		DeviceName:     name,
		StationName:    stationName,
		ModuleType:     modType,
		IsOutdoor:      outdoorModuleTypes[modType],
		RecordedAt:     sampledAt,
		BatteryPercent: battery,
	}
	if dash != nil {
		sample.Temperature = dash.Temperature
		sample.Humidity = dash.Humidity
		sample.CO2 = dash.CO2
		sample.Pressure = dash.Pressure
		sample.Noise = dash.Noise
		sample.WindStrength = dash.WindStrength
		sample.WindAngle = dash.WindAngle
		sample.GustStrength = dash.GustStrength
		sample.Rain = dash.Rain
		sample.Rain1h = dash.SumRain1
		sample.Rain24h = dash.SumRain24
	}

	return model.Reading{
		Source:   model.SourcePoll,
		Vendor:   model.VendorNetatmo,
		DeviceID: id,
		Name:     name,
		Type:     modType,
		Status:   statusFromSample(sample, dash != nil),
		Weather:  sample,
		Time:     sampledAt,
	}
}

// statusFromSample builds the state-tracking field bag for a weather
// module. The measured metrics live in the weather time series only: a
// status bag of continuously drifting floats would register a change on
// every poll. What remains is the slow-moving health state worth
// announcing, reachability and battery.
func statusFromSample(s *model.WeatherSample, reachable bool) model.Status {
	status := model.Status{
		"module_type": s.ModuleType,
		"reachable":   reachable,
	}
	if s.BatteryPercent != nil {
		status["battery_percent"] = *s.BatteryPercent
	}
	return status
}

// NetatmoCollector polls the weather station on an interval.
type NetatmoCollector struct {
	client   *NetatmoClient
	interval time.Duration
}

// NewNetatmoCollector creates the poller.
func NewNetatmoCollector(client *NetatmoClient, interval time.Duration) *NetatmoCollector {
	return &NetatmoCollector{client: client, interval: interval}
}

func (n *NetatmoCollector) ID() string              { return model.VendorNetatmo }
func (n *NetatmoCollector) Interval() time.Duration { return n.interval }

func (n *NetatmoCollector) Poll(ctx context.Context) ([]model.Reading, error) {
	return n.client.StationsData(ctx)
}
