package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"infra-alert/internal/alert"
	"infra-alert/internal/config"
	"infra-alert/internal/logging"
	"infra-alert/internal/notification"
	"infra-alert/internal/source"
	"infra-alert/internal/web"
)

// app holds the long-lived components built from one config.
type app struct {
	manager *alert.Manager
	monitor *source.Monitor
	engine  *alert.Engine
	web     *web.Server
}

func newApp(cfg *config.Config) (*app, error) {
	settings, err := settingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	ev, err := source.NewEvaluator(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	src, err := source.New(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	router := notification.BuildChannels(cfg.Notifications)
	if len(cfg.Alerts.Recipients) == 0 {
		logging.Warnf("no alert recipients configured, notifications are disabled")
	}
	for _, r := range cfg.Alerts.Recipients {
		if name, _ := notification.SplitRecipient(r); !contains(router.Names(), name) {
			logging.Warnf("recipient %q uses unconfigured channel %q", r, name)
		}
	}
	dispatcher := alert.NewDispatcher(router, cfg.Alerts.Recipients, cfg.Alerts.GetDeliveryTimeout())

	m := alert.NewManager(settings, dispatcher)
	mon := source.NewMonitor(src, ev, cfg.Source.GetTimeout())
	return &app{
		manager: m,
		monitor: mon,
		engine:  alert.NewEngine(cfg, m, mon),
		web:     web.NewServer(cfg.Web, m, mon),
	}, nil
}

// serve runs the engine until ctx is cancelled or the web server fails.
// The web server and the config watcher are optional: either one returning
// early does not stop alerting.
func (a *app) serve(ctx context.Context, configPath string) error {
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	g.Go(func() error { return a.web.Start(gctx) })
	g.Go(func() error {
		if err := config.Watch(gctx, configPath, a.reload); err != nil {
			logging.Warnf("config hot reload disabled: %v", err)
		}
		return nil
	})
	err := g.Wait()

	a.engine.Stop()
	logging.Infof("infra-alert stopped")
	return err
}

func settingsFromConfig(cfg *config.Config) (alert.Settings, error) {
	level, err := alert.ParseSeverity(cfg.Alerts.MinLevel)
	if err != nil {
		return alert.Settings{}, fmt.Errorf("alerts.minLevel: %w", err)
	}
	return alert.Settings{
		MinLevel:     level,
		Cooldown:     cfg.Alerts.GetCooldown(),
		Grouping:     cfg.Alerts.GroupingEnabled(),
		HistoryLimit: cfg.Alerts.HistoryLimit,
		BatchWindow:  cfg.Alerts.GetBatchWindow(),
		BatchQuorum:  cfg.Alerts.BatchQuorum,
	}, nil
}

// reload applies the hot-reloadable part of a new config. Source, rules,
// channels and scheduling need a restart.
func (a *app) reload(cfg *config.Config) {
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	s, err := settingsFromConfig(cfg)
	if err != nil {
		logging.Errorf("config reload: %v", err)
		return
	}
	a.manager.SetMinimumLevel(s.MinLevel)
	a.manager.SetCooldownSeconds(int(s.Cooldown.Seconds()))
	a.manager.SetGroupingEnabled(s.Grouping)
	a.manager.SetRecipients(cfg.Alerts.Recipients)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
