// Package source collects server and container state and turns it into
// candidate alerts.
package source

import (
	"strings"
	"time"
)

type NodeStatus string

const (
	NodeOK       NodeStatus = "ok"
	NodeWarning  NodeStatus = "warning"
	NodeCritical NodeStatus = "critical"
	NodeOffline  NodeStatus = "offline"
)

type ContainerState string

const (
	ContainerRunning    ContainerState = "running"
	ContainerStopped    ContainerState = "stopped"
	ContainerRestarting ContainerState = "restarting"
	ContainerError      ContainerState = "error"
)

// Server is one host. Percentages are nil when the host did not report them.
type Server struct {
	Name   string     `json:"name"`
	Status NodeStatus `json:"status"`
	CPU    *float64   `json:"cpu,omitempty"`
	Mem    *float64   `json:"mem,omitempty"`
	Disk   *float64   `json:"disk,omitempty"`
}

type Container struct {
	Name   string         `json:"name"`
	State  ContainerState `json:"state"`
	Uptime string         `json:"uptime,omitempty"`
}

// Snapshot is what one poll observed. Ticks work on a Clone so later polls
// never change what a running evaluation sees.
type Snapshot struct {
	Servers     []Server    `json:"servers"`
	Containers  []Container `json:"containers"`
	CollectedAt time.Time   `json:"collectedAt"`
}

func (s Snapshot) Clone() Snapshot {
	out := Snapshot{CollectedAt: s.CollectedAt}
	if s.Servers != nil {
		out.Servers = make([]Server, len(s.Servers))
		for i, srv := range s.Servers {
			srv.CPU = clonePct(srv.CPU)
			srv.Mem = clonePct(srv.Mem)
			srv.Disk = clonePct(srv.Disk)
			out.Servers[i] = srv
		}
	}
	if s.Containers != nil {
		out.Containers = append([]Container(nil), s.Containers...)
	}
	return out
}

func clonePct(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ParseNodeStatus maps free-form status strings; unknown values read as ok.
func ParseNodeStatus(s string) NodeStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offline", "down":
		return NodeOffline
	case "critical":
		return NodeCritical
	case "warning", "warn", "degraded":
		return NodeWarning
	}
	return NodeOK
}

// ParseContainerState accepts docker status words ("exited", "Up 2 hours").
func ParseContainerState(s string) ContainerState {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "running" || strings.HasPrefix(v, "up"):
		if strings.Contains(v, "restarting") {
			return ContainerRestarting
		}
		return ContainerRunning
	case v == "restarting" || strings.HasPrefix(v, "restarting"):
		return ContainerRestarting
	case v == "stopped" || v == "exited" || strings.HasPrefix(v, "exited") || v == "created":
		return ContainerStopped
	}
	return ContainerError
}

// deriveStatus grades an online host from its worst reported percentage.
func deriveStatus(values ...*float64) NodeStatus {
	status := NodeOK
	for _, v := range values {
		if v == nil {
			continue
		}
		switch {
		case *v >= 90:
			return NodeCritical
		case *v >= 80:
			status = NodeWarning
		}
	}
	return status
}
