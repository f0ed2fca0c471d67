package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"infra-alert/internal/config"
	eswrap "infra-alert/internal/elasticsearch"
)

// ElasticSource reads Metricbeat documents: system metricsets per host and
// the docker container metricset. Expected servers that reported nothing
// within the window are marked offline.
type ElasticSource struct {
	client   *eswrap.Client
	index    string
	window   time.Duration
	expected []string
	now      func() time.Time
}

func NewElasticSource(client *eswrap.Client, cfg config.SourceConfig) *ElasticSource {
	expected := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if s.Name != "" {
			expected = append(expected, s.Name)
		}
	}
	return &ElasticSource{
		client:   client,
		index:    cfg.Elasticsearch.Index,
		window:   cfg.Elasticsearch.GetWindow(),
		expected: expected,
		now:      time.Now,
	}
}

func (s *ElasticSource) Name() string { return s.client.Provider() }

func (s *ElasticSource) Snapshot(ctx context.Context) (Snapshot, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(s.query()); err != nil {
		return Snapshot{}, fmt.Errorf("encode query: %w", err)
	}

	res, err := s.client.Search(ctx, s.index, &buf)
	if err != nil {
		return Snapshot{}, fmt.Errorf("search %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return Snapshot{}, fmt.Errorf("search %s: %s", s.index, res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return Snapshot{}, fmt.Errorf("decode search response: %w", err)
	}
	return s.build(parsed), nil
}

func (s *ElasticSource) query() map[string]any {
	return map[string]any{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{
						"range": map[string]any{
							"@timestamp": map[string]any{
								"gte": fmt.Sprintf("now-%ds", int(s.window.Seconds())),
								"lt":  "now",
							},
						},
					},
				},
			},
		},
		"aggs": map[string]any{
			"hosts": map[string]any{
				"terms": map[string]any{"field": "host.name", "size": 1000},
				"aggs": map[string]any{
					"cpu":  map[string]any{"max": map[string]any{"field": "system.cpu.total.norm.pct"}},
					"mem":  map[string]any{"max": map[string]any{"field": "system.memory.actual.used.pct"}},
					"disk": map[string]any{"max": map[string]any{"field": "system.filesystem.used.pct"}},
				},
			},
			"containers": map[string]any{
				"terms": map[string]any{"field": "container.name", "size": 1000},
				"aggs": map[string]any{
					"latest": map[string]any{
						"top_hits": map[string]any{
							"size":    1,
							"sort":    []any{map[string]any{"@timestamp": map[string]any{"order": "desc"}}},
							"_source": []string{"docker.container.status", "container.status"},
						},
					},
				},
			},
		},
	}
}

type searchResponse struct {
	Aggregations struct {
		Hosts struct {
			Buckets []struct {
				Key  string   `json:"key"`
				CPU  aggValue `json:"cpu"`
				Mem  aggValue `json:"mem"`
				Disk aggValue `json:"disk"`
			} `json:"buckets"`
		} `json:"hosts"`
		Containers struct {
			Buckets []struct {
				Key    string `json:"key"`
				Latest struct {
					Hits struct {
						Hits []struct {
							Source struct {
								Docker struct {
									Container struct {
										Status string `json:"status"`
									} `json:"container"`
								} `json:"docker"`
								Container struct {
									Status string `json:"status"`
								} `json:"container"`
							} `json:"_source"`
						} `json:"hits"`
					} `json:"hits"`
				} `json:"latest"`
			} `json:"buckets"`
		} `json:"containers"`
	} `json:"aggregations"`
}

type aggValue struct {
	Value *float64 `json:"value"`
}

// percent converts Metricbeat's 0..1 ratios.
func (v aggValue) percent() *float64 {
	if v.Value == nil {
		return nil
	}
	p := *v.Value * 100
	return &p
}

func (s *ElasticSource) build(r searchResponse) Snapshot {
	snap := Snapshot{CollectedAt: s.now()}
	seen := make(map[string]bool)
	for _, b := range r.Aggregations.Hosts.Buckets {
		srv := Server{
			Name: b.Key,
			CPU:  b.CPU.percent(),
			Mem:  b.Mem.percent(),
			Disk: b.Disk.percent(),
		}
		srv.Status = deriveStatus(srv.CPU, srv.Mem, srv.Disk)
		snap.Servers = append(snap.Servers, srv)
		seen[b.Key] = true
	}
	for _, name := range s.expected {
		if !seen[name] {
			snap.Servers = append(snap.Servers, Server{Name: name, Status: NodeOffline})
		}
	}
	sort.SliceStable(snap.Servers, func(i, j int) bool { return snap.Servers[i].Name < snap.Servers[j].Name })

	for _, b := range r.Aggregations.Containers.Buckets {
		c := Container{Name: b.Key, State: ContainerError}
		if hits := b.Latest.Hits.Hits; len(hits) > 0 {
			status := hits[0].Source.Docker.Container.Status
			if status == "" {
				status = hits[0].Source.Container.Status
			}
			c.State = ParseContainerState(status)
			c.Uptime = uptimeFromStatus(status)
		}
		snap.Containers = append(snap.Containers, c)
	}
	return snap
}

// uptimeFromStatus turns "Up 2 hours" into "2h" and "Exited (0) 3 hours ago" into "3h ago".
func uptimeFromStatus(status string) string {
	parts := strings.Fields(status)
	if len(parts) > 1 && parts[0] == "Up" {
		return compactDuration(parts[1:])
	}
	for i, p := range parts {
		if p == "ago" && i >= 2 {
			return compactDuration(parts[i-2:i]) + " ago"
		}
	}
	return ""
}

func compactDuration(words []string) string {
	if len(words) > 0 && words[0] == "About" {
		words = words[1:]
	}
	if len(words) < 2 {
		return strings.Join(words, " ")
	}
	n := words[0]
	if n == "a" || n == "an" {
		n = "1"
	}
	if _, err := strconv.Atoi(n); err != nil {
		return strings.Join(words, " ")
	}
	return n + words[1][:1]
}
