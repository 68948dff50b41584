// Command switchbot-hub is a home monitoring daemon: it polls SwitchBot and
// Netatmo cloud APIs, receives SwitchBot push webhooks, tracks device state
// changes in SQLite, evaluates weather alert rules, and posts notifications
// to Slack and ntfy channels.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tubone24/switchbot-hub/internal/alerter"
	"github.com/tubone24/switchbot-hub/internal/api"
	"github.com/tubone24/switchbot-hub/internal/chart"
	"github.com/tubone24/switchbot-hub/internal/collector"
	"github.com/tubone24/switchbot-hub/internal/config"
	"github.com/tubone24/switchbot-hub/internal/ingest"
	"github.com/tubone24/switchbot-hub/internal/model"
	"github.com/tubone24/switchbot-hub/internal/notify"
	"github.com/tubone24/switchbot-hub/internal/registry"
	"github.com/tubone24/switchbot-hub/internal/report"
	"github.com/tubone24/switchbot-hub/internal/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("switchbot-hub", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("switchbot-hub starting", "version", version, "listen", cfg.Listen)

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	reg := registry.New()
	states, err := st.AllStates()
	if err != nil {
		return fmt.Errorf("load device states: %w", err)
	}
	reg.Load(states)
	slog.Info("device registry seeded", "devices", len(states))

	dispatcher := buildDispatcher(cfg)
	router := ingest.NewRouter(st, reg, dispatcher, cfg.Monitor.IgnoreDevices, cfg.Monitor.PollingDevices)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.SwitchBot.Enabled {
		client := collector.NewSwitchBotClient(cfg.SwitchBot.Token, cfg.SwitchBot.Secret)
		if cfg.Webhook.Enabled && cfg.Webhook.PublicURL != "" {
			if err := client.EnsureWebhook(ctx, cfg.Webhook.PublicURL+cfg.Webhook.Path); err != nil {
				slog.Error("webhook registration failed", "error", err)
			}
		}
		sb := collector.NewSwitchBotCollector(client, cfg.SwitchBot.PollInterval.Std())
		runner := collector.NewRunner(sb, router, reg)
		if cfg.Slack.NotifyErrors {
			runner.NotifyErrors(dispatcher)
		}
		g.Go(func() error { return runner.Run(ctx) })
	}

	if cfg.Netatmo.Enabled {
		refreshToken := cfg.Netatmo.RefreshToken
		if cfg.Netatmo.CredentialsFile != "" {
			if saved, err := collector.LoadNetatmoRefreshToken(cfg.Netatmo.CredentialsFile); err != nil {
				slog.Warn("reading netatmo credentials failed", "error", err)
			} else if saved != "" {
				refreshToken = saved
			}
		}
		client := collector.NewNetatmoClient(ctx,
			cfg.Netatmo.ClientID, cfg.Netatmo.ClientSecret,
			refreshToken, cfg.Netatmo.CredentialsFile)
		na := collector.NewNetatmoCollector(client, cfg.Netatmo.PollInterval.Std())
		runner := collector.NewRunner(na, router, reg)
		if cfg.Slack.NotifyErrors {
			runner.NotifyErrors(dispatcher)
		}
		g.Go(func() error { return runner.Run(ctx) })
	}

	if cfg.Alerts.Enabled {
		cooldowns := alerter.NewCooldowns(cfg.Alerts.Cooldown.Std())
		al := alerter.New(st, dispatcher, cooldowns, cfg.Alerts)
		g.Go(func() error { return al.Run(ctx) })
	}

	if cfg.Report.Enabled {
		rep := report.New(st, chart.NewRenderer(), dispatcher, cfg.Report.Interval.Std())
		g.Go(func() error { return rep.Run(ctx) })
	}

	pruner := store.NewPruner(st, store.RetentionConfig{
		HistoryDays: cfg.Retention.HistoryDays,
		SampleDays:  cfg.Retention.SampleDays,
		AlertDays:   cfg.Retention.AlertDays,
	})
	g.Go(func() error { return pruner.Run(ctx) })

	webhookPath := ""
	if cfg.Webhook.Enabled {
		webhookPath = cfg.Webhook.Path
	}
	server := api.New(cfg.Listen, webhookPath, st, reg, router)
	g.Go(func() error { return server.Run(ctx) })

	if cfg.Slack.NotifyStartup {
		dispatcher.Notify(ctx, model.Notification{
			Channel:   model.ChannelAtmosphere,
			Severity:  model.SeverityInfo,
			Title:     "switchbot-hub started",
			Message:   fmt.Sprintf("version %s, %d devices known", version, len(states)),
			Timestamp: time.Now(),
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && cfg.Slack.NotifyErrors {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		dispatcher.Notify(notifyCtx, model.Notification{
			Channel:   model.ChannelAtmosphere,
			Severity:  model.SeverityDanger,
			Title:     "switchbot-hub stopped",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
	}
	return err
}

// buildDispatcher assembles the enabled notification providers. With none
// enabled the dispatcher is an empty fan-out and notifications are dropped.
func buildDispatcher(cfg *config.Config) *notify.Dispatcher {
	var providers []notify.Provider
	if cfg.Slack.Enabled {
		providers = append(providers, notify.NewSlack(cfg.Slack.Webhooks))
	}
	if cfg.Ntfy.Enabled {
		providers = append(providers, notify.NewNtfy(cfg.Ntfy.Server, cfg.Ntfy.TopicPrefix))
	}
	if len(providers) == 0 {
		slog.Warn("no notification providers enabled")
	}
	return notify.NewDispatcher(providers...)
}
