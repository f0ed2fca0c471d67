package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-alert/internal/alert"
	"infra-alert/internal/config"
)

const sampleConfig = `
source:
  provider: static
  servers:
    - name: db-1
      cpu: 97
    - name: web-1
      status: offline
alerts:
  minLevel: warning
  cooldown: 120s
  recipients: ["console"]
`

func TestNewAppAndReload(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleConfig), false)
	require.NoError(t, err)

	a, err := newApp(cfg)
	require.NoError(t, err)
	s := a.manager.Settings()
	assert.Equal(t, alert.SeverityWarning, s.MinLevel)
	assert.Equal(t, 2*time.Minute, s.Cooldown)
	assert.True(t, s.Grouping)

	off := false
	cfg.Alerts.MinLevel = "critical"
	cfg.Alerts.Cooldown = "30s"
	cfg.Alerts.Grouping = &off
	cfg.Alerts.Recipients = []string{"console", "telegram:42"}
	a.reload(cfg)

	s = a.manager.Settings()
	assert.Equal(t, alert.SeverityCritical, s.MinLevel)
	assert.Equal(t, 30*time.Second, s.Cooldown)
	assert.False(t, s.Grouping)
	assert.Equal(t, []string{"console", "telegram:42"}, a.manager.Recipients())

	// 非法配置不生效
	cfg.Alerts.MinLevel = "fatal"
	cfg.Alerts.Cooldown = "1s"
	a.reload(cfg)
	assert.Equal(t, 30*time.Second, a.manager.Settings().Cooldown)

	// 0s 表示关闭冷却，不能被默认值覆盖
	cfg.Alerts.MinLevel = "warning"
	cfg.Alerts.Cooldown = "0s"
	a.reload(cfg)
	assert.Equal(t, time.Duration(0), a.manager.Settings().Cooldown)
}

func TestServeRunsUntilCancelled(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleConfig), false)
	require.NoError(t, err)
	require.False(t, cfg.Web.Enabled)
	a, err := newApp(cfg)
	require.NoError(t, err)

	// web 关闭且配置目录不存在，热加载无法启动，服务仍需一直运行
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, filepath.Join(t.TempDir(), "missing", "config.yaml")) }()

	select {
	case err := <-done:
		t.Fatalf("serve returned before cancel: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestSettingsFromConfigRejectsBadLevel(t *testing.T) {
	cfg, err := config.Parse([]byte("alerts:\n  minLevel: loud\n"), false)
	require.NoError(t, err)
	_, err = settingsFromConfig(cfg)
	assert.ErrorIs(t, err, alert.ErrUnknownSeverity)
}

func TestCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check", "--config", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "config ok: source=static servers=2 containers=0 rules=10 alerts=2 recipients=1")
}
