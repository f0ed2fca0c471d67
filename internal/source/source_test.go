package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-alert/internal/alert"
	"infra-alert/internal/config"
	eswrap "infra-alert/internal/elasticsearch"
)

func f64(v float64) *float64 { return &v }

func TestSnapshotCloneIsDeep(t *testing.T) {
	snap := Snapshot{
		Servers:    []Server{{Name: "db-1", Status: NodeOK, CPU: f64(40)}},
		Containers: []Container{{Name: "api", State: ContainerRunning}},
	}
	cp := snap.Clone()
	*snap.Servers[0].CPU = 99
	snap.Servers[0].Name = "changed"
	snap.Containers[0].State = ContainerError

	assert.Equal(t, 40.0, *cp.Servers[0].CPU)
	assert.Equal(t, "db-1", cp.Servers[0].Name)
	assert.Equal(t, ContainerRunning, cp.Containers[0].State)
}

func TestParseStates(t *testing.T) {
	assert.Equal(t, ContainerRunning, ParseContainerState("Up 2 hours"))
	assert.Equal(t, ContainerStopped, ParseContainerState("Exited (0) 3 hours ago"))
	assert.Equal(t, ContainerStopped, ParseContainerState("stopped"))
	assert.Equal(t, ContainerRestarting, ParseContainerState("Restarting (1) 5 seconds ago"))
	assert.Equal(t, ContainerError, ParseContainerState("dead"))

	assert.Equal(t, NodeOffline, ParseNodeStatus("OFFLINE"))
	assert.Equal(t, NodeOK, ParseNodeStatus(""))

	assert.Equal(t, "2h", uptimeFromStatus("Up 2 hours"))
	assert.Equal(t, "1h ago", uptimeFromStatus("Exited (0) About an hour ago"))
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(config.SourceConfig{
		Servers: []config.ServerConfig{
			{Name: "db-1", CPU: f64(97)},
			{Name: "web-1", Status: "offline"},
		},
		Containers: []config.ContainerConfig{{Name: "app-worker", State: "stopped", Uptime: "2h ago"}},
	})
	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Servers, 2)
	assert.Equal(t, NodeCritical, snap.Servers[0].Status)
	assert.Equal(t, NodeOffline, snap.Servers[1].Status)
	assert.Equal(t, ContainerStopped, snap.Containers[0].State)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultRules(t *testing.T) {
	ev, err := NewEvaluator(nil)
	require.NoError(t, err)

	alerts := ev.Evaluate(Snapshot{
		Servers: []Server{
			{Name: "db-1", Status: NodeCritical, CPU: f64(97), Mem: f64(50), Disk: f64(86)},
			{Name: "web-1", Status: NodeOffline},
			{Name: "api-1", Status: NodeOK, CPU: f64(20)},
		},
		Containers: []Container{
			{Name: "app-worker", State: ContainerStopped, Uptime: "2h ago"},
			{Name: "api", State: ContainerRunning},
		},
	})

	assert.ElementsMatch(t, []alert.Alert{
		{Level: alert.SeverityCritical, Message: "CPU 97%", Source: "db-1"},
		{Level: alert.SeverityWarning, Message: "Disk 86%", Source: "db-1"},
		{Level: alert.SeverityCritical, Message: "Server offline", Source: "web-1"},
		{Level: alert.SeverityWarning, Message: "Container stopped (2h ago)", Source: "app-worker"},
	}, alerts)
}

func TestCustomRules(t *testing.T) {
	ev, err := NewEvaluator([]config.RuleConfig{
		{Name: "busy", Target: "server", Level: "info", When: `cpu > 50`, Message: `name + " busy at " + pct(cpu)`},
		{Name: "restarts", Target: "container", Level: "warning", When: `state == "restarting"`},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"busy", "restarts"}, ev.Rules())

	alerts := ev.Evaluate(Snapshot{
		Servers:    []Server{{Name: "db-1", CPU: f64(61.4)}},
		Containers: []Container{{Name: "api", State: ContainerRestarting}},
	})
	require.Len(t, alerts, 2)
	assert.Equal(t, "db-1 busy at 61%", alerts[0].Message)
	assert.Equal(t, alert.SeverityInfo, alerts[0].Level)
	assert.Equal(t, "restarts", alerts[1].Message)
}

func TestInvalidRules(t *testing.T) {
	_, err := NewEvaluator([]config.RuleConfig{
		{Name: "bad-target", Target: "disk", Level: "warning", When: "true"},
		{Name: "bad-level", Target: "server", Level: "fatal", When: "true"},
		{Name: "not-bool", Target: "server", Level: "warning", When: "cpu"},
		{Name: "unknown-var", Target: "container", Level: "warning", When: `cpu > 1`},
	})
	require.Error(t, err)
	for _, name := range []string{"bad-target", "bad-level", "not-bool", "unknown-var"} {
		assert.Contains(t, err.Error(), name)
	}
}

type stubSource struct {
	snap  Snapshot
	err   error
	delay time.Duration
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Snapshot(ctx context.Context) (Snapshot, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	return s.snap, s.err
}

func TestMonitorProduce(t *testing.T) {
	ev, err := NewEvaluator(nil)
	require.NoError(t, err)
	src := &stubSource{snap: Snapshot{Servers: []Server{{Name: "db-1", CPU: f64(95)}}}}
	m := NewMonitor(src, ev, time.Second)

	_, ok := m.Latest()
	assert.False(t, ok)

	alerts, err := m.Produce(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "CPU 95%", alerts[0].Message)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, "db-1", latest.Servers[0].Name)

	src.err = errors.New("gateway down")
	_, err = m.Produce(context.Background())
	require.Error(t, err)
	assert.Error(t, m.LastError())
	latest, ok = m.Latest()
	assert.True(t, ok, "failed poll keeps previous snapshot")
	assert.Equal(t, 95.0, *latest.Servers[0].CPU)
}

func TestMonitorTimeout(t *testing.T) {
	ev, _ := NewEvaluator(nil)
	m := NewMonitor(&stubSource{delay: time.Second}, ev, 20*time.Millisecond)
	_, err := m.Produce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

const searchBody = `{
  "aggregations": {
    "hosts": {"buckets": [
      {"key": "db-1", "cpu": {"value": 0.97}, "mem": {"value": 0.5}, "disk": {"value": null}},
      {"key": "api-1", "cpu": {"value": 0.1}, "mem": {"value": 0.2}, "disk": {"value": 0.3}}
    ]},
    "containers": {"buckets": [
      {"key": "app-worker", "latest": {"hits": {"hits": [
        {"_source": {"docker": {"container": {"status": "Exited (1) 2 hours ago"}}}}
      ]}}}
    ]}
  }
}`

func TestElasticSource(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, "/_search") {
			_, _ = w.Write([]byte(`{"version":{"number":"8.13.0"}}`))
			return
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	cfg := config.SourceConfig{
		Provider: "elasticsearch",
		Servers:  []config.ServerConfig{{Name: "db-1"}, {Name: "web-1"}},
		Elasticsearch: config.ElasticsearchConfig{
			Addresses: []string{srv.URL},
			Index:     "metricbeat-*",
			Window:    "2m",
		},
	}
	client, err := eswrap.NewClient(cfg.Provider, cfg.Elasticsearch)
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()))

	src := NewElasticSource(client, cfg)
	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Contains(t, gotBody, `"now-120s"`)
	assert.Contains(t, gotBody, "host.name")

	require.Len(t, snap.Servers, 3)
	byName := map[string]Server{}
	for _, s := range snap.Servers {
		byName[s.Name] = s
	}
	assert.InDelta(t, 97.0, *byName["db-1"].CPU, 0.001)
	assert.Nil(t, byName["db-1"].Disk)
	assert.Equal(t, NodeCritical, byName["db-1"].Status)
	assert.Equal(t, NodeOK, byName["api-1"].Status)
	assert.Equal(t, NodeOffline, byName["web-1"].Status)

	require.Len(t, snap.Containers, 1)
	assert.Equal(t, ContainerStopped, snap.Containers[0].State)
	assert.Equal(t, "2h ago", snap.Containers[0].Uptime)
}

func TestElasticSourceSearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	cfg := config.SourceConfig{Elasticsearch: config.ElasticsearchConfig{Addresses: []string{srv.URL}, Index: "metricbeat-*"}}
	client, err := eswrap.NewClient("elasticsearch", cfg.Elasticsearch)
	require.NoError(t, err)
	_, err = NewElasticSource(client, cfg).Snapshot(context.Background())
	assert.Error(t, err)
}

func TestNewSourceProviders(t *testing.T) {
	src, err := New(config.SourceConfig{Provider: "static"})
	require.NoError(t, err)
	assert.Equal(t, "static", src.Name())

	_, err = New(config.SourceConfig{Provider: "elasticsearch"})
	assert.Error(t, err, "no addresses")

	_, err = New(config.SourceConfig{Provider: "prometheus"})
	assert.Error(t, err)
}
