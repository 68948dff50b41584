// Package model defines all shared domain types for switchbot-hub.
package model

import "time"

// Status is the open field bag a vendor reports for a device. Shapes vary
// by vendor and device type; unknown keys pass through to persistence.
type Status map[string]any

// Source identifies how a reading arrived.
type Source string

const (
	SourcePoll    Source = "poll"
	SourceWebhook Source = "webhook"
)

// Vendor identifiers.
const (
	VendorSwitchBot = "switchbot"
	VendorNetatmo   = "netatmo"
)

// Category is the closed classification used to route device changes to
// notification channels.
type Category string

const (
	CategorySecurity          Category = "security"
	CategoryAtmosphereIndoor  Category = "atmosphere_indoor"
	CategoryAtmosphereOutdoor Category = "atmosphere_outdoor"
	CategoryWind              Category = "wind"
	CategoryRain              Category = "rain"
	CategoryOther             Category = "other"
)

// Notification channel keys, one per category of message.
const (
	ChannelSecurity   = "security"
	ChannelAtmosphere = "atmosphere-update"
	ChannelGraph      = "atmosphere-graph"
	ChannelAlert      = "outdoor-alert"
)

// AlertType identifies one alert rule family. Each family has its own
// cooldown bucket.
type AlertType string

const (
	AlertRain        AlertType = "rain"
	AlertWind        AlertType = "wind"
	AlertTemperature AlertType = "temperature"
	AlertPressure    AlertType = "pressure"
)

// Alert severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityDanger  = "danger"
)

// DeviceState is the authoritative current snapshot of one device.
type DeviceState struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	DeviceType string    `json:"device_type"`
	Status     Status    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HistoryEvent is one append-only record of a state change.
type HistoryEvent struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	DeviceType string    `json:"device_type"`
	Status     Status    `json:"status"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SensorSample is one time-series row for a SwitchBot sensor device.
// Only populated metrics are non-nil.
type SensorSample struct {
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	RecordedAt  time.Time `json:"recorded_at"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	CO2         *int      `json:"co2,omitempty"`
	Battery     *int      `json:"battery,omitempty"`
}

// HasMetrics reports whether any sensor metric is populated. Battery alone
// does not count; a battery level without a reading is not a sample.
func (s SensorSample) HasMetrics() bool {
	return s.Temperature != nil || s.Humidity != nil || s.CO2 != nil
}

// WeatherSample is one time-series row for a Netatmo station module.
// Only populated metrics are non-nil.
type WeatherSample struct {
	DeviceID       string    `json:"device_id"`
	DeviceName     string    `json:"device_name"`
	StationName    string    `json:"station_name"`
	ModuleType     string    `json:"module_type"`
	IsOutdoor      bool      `json:"is_outdoor"`
	RecordedAt     time.Time `json:"recorded_at"`
	Temperature    *float64  `json:"temperature,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	CO2            *int      `json:"co2,omitempty"`
	Pressure       *float64  `json:"pressure,omitempty"`
	Noise          *int      `json:"noise,omitempty"`
	WindStrength   *float64  `json:"wind_strength,omitempty"`
	WindAngle      *float64  `json:"wind_angle,omitempty"`
	GustStrength   *float64  `json:"gust_strength,omitempty"`
	Rain           *float64  `json:"rain,omitempty"`
	Rain1h         *float64  `json:"rain_1h,omitempty"`
	Rain24h        *float64  `json:"rain_24h,omitempty"`
	BatteryPercent *int      `json:"battery_percent,omitempty"`
}

// HasMetrics reports whether any weather metric is populated.
func (s WeatherSample) HasMetrics() bool {
	return s.Temperature != nil || s.Humidity != nil || s.CO2 != nil ||
		s.Pressure != nil || s.Noise != nil || s.WindStrength != nil ||
		s.GustStrength != nil || s.Rain != nil
}

// Reading is one vendor-reported snapshot of a device, from either a
// scheduled poll or a pushed webhook event.
type Reading struct {
	Source    Source
	Vendor    string
	DeviceID  string // vendor-native ID; empty for webhook events
	DeviceMAC string // MAC-shaped ID carried by webhook payloads
	Name      string
	Type      string
	Status    Status
	Weather   *WeatherSample // set for weather-station readings
	Time      time.Time
}

// Notification is a structured message bound for a chat channel.
type Notification struct {
	Channel    string            `json:"channel"`
	AlertType  AlertType         `json:"alert_type,omitempty"`
	Severity   string            `json:"severity"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	DeviceID   string            `json:"device_id,omitempty"`
	DeviceName string            `json:"device_name,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	ImageURL   string            `json:"image_url,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// MetricSummary holds min/max/avg for one metric over a day.
type MetricSummary struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
	Avg *float64 `json:"avg"`
}

// DailySummary is the per-device daily aggregate used by graph reports.
type DailySummary struct {
	Date        string        `json:"date"`
	Count       int           `json:"count"`
	Temperature MetricSummary `json:"temperature"`
	Humidity    MetricSummary `json:"humidity"`
	CO2         MetricSummary `json:"co2"`
}
