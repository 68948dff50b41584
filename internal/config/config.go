// Package config loads and validates the YAML configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML decoding of values like "30s",
// "5m", "1h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	DBPath    string          `yaml:"db_path"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
	SwitchBot SwitchBotConfig `yaml:"switchbot"`
	Netatmo   NetatmoConfig   `yaml:"netatmo"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Slack     SlackConfig     `yaml:"slack"`
	Ntfy      NtfyConfig      `yaml:"ntfy"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Report    ReportConfig    `yaml:"report"`
	Retention RetentionConfig `yaml:"retention"`
}

// SwitchBotConfig configures the SwitchBot cloud API poller.
type SwitchBotConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Token        string   `yaml:"token"`
	Secret       string   `yaml:"secret"`
	PollInterval Duration `yaml:"poll_interval"`
}

// NetatmoConfig configures the Netatmo weather station poller.
type NetatmoConfig struct {
	Enabled         bool     `yaml:"enabled"`
	ClientID        string   `yaml:"client_id"`
	ClientSecret    string   `yaml:"client_secret"`
	RefreshToken    string   `yaml:"refresh_token"`
	CredentialsFile string   `yaml:"credentials_file"`
	PollInterval    Duration `yaml:"poll_interval"`
}

// WebhookConfig configures the inbound SwitchBot webhook endpoint.
type WebhookConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	PublicURL string `yaml:"public_url"`
}

// SlackConfig holds one incoming webhook URL per notification channel.
type SlackConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Webhooks      map[string]string `yaml:"webhooks"`
	NotifyErrors  bool              `yaml:"notify_errors"`
	NotifyStartup bool              `yaml:"notify_startup"`
}

// NtfyConfig configures the optional ntfy transport.
type NtfyConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Server      string `yaml:"server"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// MonitorConfig tunes change detection and device filtering.
type MonitorConfig struct {
	IgnoreDevices  []string `yaml:"ignore_devices"`
	PollingDevices []string `yaml:"polling_devices"`
}

// AlertsConfig tunes the weather alert evaluator.
type AlertsConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Cooldown Duration `yaml:"cooldown"`

	WindInfo    float64 `yaml:"wind_info"`
	WindWarning float64 `yaml:"wind_warning"`
	WindDanger  float64 `yaml:"wind_danger"`

	TempInfo    float64 `yaml:"temp_info"`
	TempWarning float64 `yaml:"temp_warning"`

	PressureInfo    float64 `yaml:"pressure_info"`
	PressureWarning float64 `yaml:"pressure_warning"`
	PressureDanger  float64 `yaml:"pressure_danger"`
	PressureLow     float64 `yaml:"pressure_low"`
}

// ReportConfig configures the periodic graph report.
type ReportConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
}

// RetentionConfig sets how many days of each table family to keep.
type RetentionConfig struct {
	HistoryDays int `yaml:"history_days"`
	SampleDays  int `yaml:"sample_days"`
	AlertDays   int `yaml:"alert_days"`
}

var envPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// Load reads, env-expands, decodes, and validates the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Listen:    ":8090",
		DBPath:    "switchbot-hub.db",
		LogLevel:  "info",
		LogFormat: "text",
		SwitchBot: SwitchBotConfig{
			PollInterval: Duration(5 * time.Minute),
		},
		Netatmo: NetatmoConfig{
			PollInterval: Duration(10 * time.Minute),
		},
		Webhook: WebhookConfig{
			Path: "/switchbot/webhook",
		},
		Slack: SlackConfig{
			NotifyErrors:  true,
			NotifyStartup: true,
		},
		Ntfy: NtfyConfig{
			Server:      "https://ntfy.sh",
			TopicPrefix: "switchbot-hub",
		},
		Alerts: AlertsConfig{
			Enabled:  true,
			Interval: Duration(5 * time.Minute),
			Cooldown: Duration(1 * time.Hour),

			WindInfo:    36,
			WindWarning: 54,
			WindDanger:  72,

			TempInfo:    2,
			TempWarning: 5,

			PressureInfo:    4,
			PressureWarning: 6,
			PressureDanger:  10,
			PressureLow:     1000,
		},
		Report: ReportConfig{
			Interval: Duration(24 * time.Hour),
		},
		Retention: RetentionConfig{
			HistoryDays: 30,
			SampleDays:  7,
			AlertDays:   30,
		},
	}
}

// Validate checks for required fields and consistent values.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}

	if c.SwitchBot.Enabled {
		if c.SwitchBot.Token == "" || c.SwitchBot.Secret == "" {
			return fmt.Errorf("switchbot: token and secret are required when enabled")
		}
		if c.SwitchBot.PollInterval.Std() <= 0 {
			return fmt.Errorf("switchbot: poll_interval must be positive")
		}
	}

	if c.Netatmo.Enabled {
		if c.Netatmo.ClientID == "" || c.Netatmo.ClientSecret == "" {
			return fmt.Errorf("netatmo: client_id and client_secret are required when enabled")
		}
		if c.Netatmo.RefreshToken == "" && c.Netatmo.CredentialsFile == "" {
			return fmt.Errorf("netatmo: refresh_token or credentials_file is required when enabled")
		}
		if c.Netatmo.PollInterval.Std() <= 0 {
			return fmt.Errorf("netatmo: poll_interval must be positive")
		}
	}

	if c.Webhook.Enabled && c.Webhook.Path == "" {
		return fmt.Errorf("webhook: path is required when enabled")
	}

	if c.Slack.Enabled && len(c.Slack.Webhooks) == 0 {
		return fmt.Errorf("slack: at least one webhook URL is required when enabled")
	}

	if c.Ntfy.Enabled {
		if c.Ntfy.Server == "" {
			return fmt.Errorf("ntfy: server is required when enabled")
		}
		if c.Ntfy.TopicPrefix == "" {
			return fmt.Errorf("ntfy: topic_prefix is required when enabled")
		}
	}

	if c.Alerts.Enabled {
		if c.Alerts.Interval.Std() <= 0 {
			return fmt.Errorf("alerts: interval must be positive")
		}
		if c.Alerts.Cooldown.Std() < 0 {
			return fmt.Errorf("alerts: cooldown must not be negative")
		}
		if !(c.Alerts.WindInfo <= c.Alerts.WindWarning && c.Alerts.WindWarning <= c.Alerts.WindDanger) {
			return fmt.Errorf("alerts: wind thresholds must be ordered info <= warning <= danger")
		}
		if c.Alerts.TempInfo > c.Alerts.TempWarning {
			return fmt.Errorf("alerts: temp thresholds must be ordered info <= warning")
		}
		if !(c.Alerts.PressureInfo <= c.Alerts.PressureWarning && c.Alerts.PressureWarning <= c.Alerts.PressureDanger) {
			return fmt.Errorf("alerts: pressure thresholds must be ordered info <= warning <= danger")
		}
	}

	if c.Report.Enabled && c.Report.Interval.Std() <= 0 {
		return fmt.Errorf("report: interval must be positive")
	}

	return nil
}
