package alert

import (
	"sync"
	"time"
)

// Group accumulates records sharing a (level, source) key between flushes.
type Group struct {
	Key       string
	Members   []Record
	LastFlush *time.Time
	Pending   int
}

// Flush is what a group hands to the dispatcher.
type Flush struct {
	Key            string
	Representative Record
	Count          int
	Members        []Record
}

// FlushDecision is the result of Ingest; Flush is nil when the group keeps batching.
type FlushDecision struct {
	Flush *Flush
}

// Grouper batches non-critical alerts per key. Critical alerts and the
// first alert of a never-flushed key always flush immediately.
type Grouper struct {
	mu     sync.Mutex
	window time.Duration
	quorum int
	groups map[string]*Group
}

func NewGrouper(window time.Duration, quorum int) *Grouper {
	if quorum < 1 {
		quorum = 1
	}
	return &Grouper{
		window: window,
		quorum: quorum,
		groups: make(map[string]*Group),
	}
}

func (g *Grouper) Ingest(rec Record, now time.Time) FlushDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := rec.GroupKey()
	grp, ok := g.groups[key]
	if !ok {
		grp = &Group{Key: key}
		g.groups[key] = grp
	}
	grp.Members = append(grp.Members, rec)
	grp.Pending++

	if !g.shouldFlush(grp, rec.Level, now) {
		return FlushDecision{}
	}

	members := grp.Members
	flushed := now
	grp.Members = nil
	grp.Pending = 0
	grp.LastFlush = &flushed

	return FlushDecision{Flush: &Flush{
		Key:            key,
		Representative: Representative(members),
		Count:          len(members),
		Members:        members,
	}}
}

func (g *Grouper) shouldFlush(grp *Group, level Severity, now time.Time) bool {
	switch {
	case level == SeverityCritical:
		return true
	case grp.LastFlush == nil:
		return true
	default:
		return now.Sub(*grp.LastFlush) >= g.window && grp.Pending >= g.quorum
	}
}

// Snapshot returns a copy of the group for key.
func (g *Grouper) Snapshot(key string) (Group, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, ok := g.groups[key]
	if !ok {
		return Group{}, false
	}
	cp := Group{Key: grp.Key, Pending: grp.Pending}
	cp.Members = append([]Record(nil), grp.Members...)
	if grp.LastFlush != nil {
		t := *grp.LastFlush
		cp.LastFlush = &t
	}
	return cp, true
}

// PendingTotal counts members waiting across all groups.
func (g *Grouper) PendingTotal() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, grp := range g.groups {
		n += grp.Pending
	}
	return n
}

// Representative picks the most severe member, keeping the first seen on ties.
func Representative(members []Record) Record {
	var best Record
	for i, m := range members {
		if i == 0 || m.Level > best.Level {
			best = m
		}
	}
	return best
}
