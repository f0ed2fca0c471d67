package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"

	"infra-alert/internal/logging"
)

// Change is one hot-reloadable setting that differs between two configs.
type Change struct {
	Field string
	Old   string
	New   string
}

// Diff compares two configs. hot lists the settings a running service
// applies in place; restart names the sections that only take effect
// after a restart.
func Diff(old, cur *Config) (hot []Change, restart []string) {
	add := func(field, o, n string) {
		if o != n {
			hot = append(hot, Change{Field: field, Old: o, New: n})
		}
	}
	add("logging.level", old.Logging.Level, cur.Logging.Level)
	add("logging.format", old.Logging.Format, cur.Logging.Format)
	add("alerts.minLevel", old.Alerts.MinLevel, cur.Alerts.MinLevel)
	add("alerts.cooldown", old.Alerts.GetCooldown().String(), cur.Alerts.GetCooldown().String())
	add("alerts.grouping", fmt.Sprint(old.Alerts.GroupingEnabled()), fmt.Sprint(cur.Alerts.GroupingEnabled()))
	if !slices.Equal(old.Alerts.Recipients, cur.Alerts.Recipients) {
		add("alerts.recipients", strings.Join(old.Alerts.Recipients, ","), strings.Join(cur.Alerts.Recipients, ","))
	}

	sections := []struct {
		name     string
		old, cur any
	}{
		{"source", old.Source, cur.Source},
		{"scheduler", old.Scheduler, cur.Scheduler},
		{"rules", old.Rules, cur.Rules},
		{"notifications", old.Notifications, cur.Notifications},
		{"web", old.Web, cur.Web},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.cur) {
			restart = append(restart, s.name)
		}
	}
	oa, ca := old.Alerts, cur.Alerts
	if oa.HistoryLimit != ca.HistoryLimit || oa.BatchQuorum != ca.BatchQuorum ||
		oa.GetHistoryMaxAge() != ca.GetHistoryMaxAge() || oa.GetBatchWindow() != ca.GetBatchWindow() ||
		oa.GetDeliveryTimeout() != ca.GetDeliveryTimeout() {
		restart = append(restart, "alerts")
	}
	return hot, restart
}

// Watch reloads path whenever it changes and hands the new Config to
// onChange. Runs until ctx is cancelled.
//
// 监听的是配置文件所在目录：编辑器常用“写临时文件再 rename”的方式保存，
// 直接监听文件的话 rename 之后 watch 就丢了。
// 解析失败或内容没有变化时不回调。
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	target := filepath.Clean(path)
	prev, err := Load(target)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	logging.Infof("watching config for changes: %s", target)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(target)
			if err != nil {
				logging.Errorf("config reload failed, keeping previous config: %v", err)
				continue
			}
			hot, restart := Diff(prev, cfg)
			if len(hot) == 0 && len(restart) == 0 {
				continue
			}
			prev = cfg

			fields := map[string]any{"path": target}
			for _, c := range hot {
				fields[c.Field] = c.Old + " -> " + c.New
			}
			logging.WithFields(fields).Info("config reloaded")
			if len(restart) > 0 {
				logging.Warnf("config sections changed but need a restart to apply: %s", strings.Join(restart, ", "))
			}
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Errorf("config watcher error: %v", err)
		}
	}
}
