package source

import (
	"context"
	"fmt"
	"time"

	"infra-alert/internal/config"
	eswrap "infra-alert/internal/elasticsearch"
)

// Source yields the current state of the monitored environment.
type Source interface {
	Name() string
	Snapshot(ctx context.Context) (Snapshot, error)
}

// New builds the source selected by cfg.Provider.
func New(cfg config.SourceConfig) (Source, error) {
	switch cfg.Provider {
	case "", "static":
		return NewStaticSource(cfg), nil
	case eswrap.ProviderElasticsearch, eswrap.ProviderOpenSearch:
		client, err := eswrap.NewClient(cfg.Provider, cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		return NewElasticSource(client, cfg), nil
	default:
		return nil, fmt.Errorf("unknown source provider %q", cfg.Provider)
	}
}

// StaticSource serves servers and containers declared in config. It is the
// manual mode: nothing is discovered, the operator lists what exists.
type StaticSource struct {
	servers    []Server
	containers []Container
	now        func() time.Time
}

func NewStaticSource(cfg config.SourceConfig) *StaticSource {
	s := &StaticSource{now: time.Now}
	for _, sc := range cfg.Servers {
		srv := Server{
			Name: sc.Name,
			CPU:  clonePct(sc.CPU),
			Mem:  clonePct(sc.Mem),
			Disk: clonePct(sc.Disk),
		}
		if sc.Status != "" {
			srv.Status = ParseNodeStatus(sc.Status)
		} else {
			srv.Status = deriveStatus(srv.CPU, srv.Mem, srv.Disk)
		}
		s.servers = append(s.servers, srv)
	}
	for _, cc := range cfg.Containers {
		s.containers = append(s.containers, Container{
			Name:   cc.Name,
			State:  ParseContainerState(cc.State),
			Uptime: cc.Uptime,
		})
	}
	return s
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Servers: s.servers, Containers: s.containers, CollectedAt: s.now()}
	return snap.Clone(), nil
}
