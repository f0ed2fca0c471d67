package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"infra-alert/internal/alert"
	"infra-alert/internal/logging"
)

// Monitor polls a Source, evaluates the rules and remembers the last good
// snapshot for the status endpoint. It implements alert.Producer.
type Monitor struct {
	src     Source
	eval    *Evaluator
	timeout time.Duration

	mu     sync.RWMutex
	latest *Snapshot
	err    error
}

var _ alert.Producer = (*Monitor)(nil)

func NewMonitor(src Source, eval *Evaluator, timeout time.Duration) *Monitor {
	return &Monitor{src: src, eval: eval, timeout: timeout}
}

// Produce takes a fresh snapshot and returns the alerts it triggers. A
// failed or timed-out poll returns an error and leaves Latest unchanged.
func (m *Monitor) Produce(ctx context.Context) ([]alert.Alert, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	snap, err := m.src.Snapshot(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		return nil, fmt.Errorf("%s snapshot: %w", m.src.Name(), err)
	}

	frozen := snap.Clone()
	m.mu.Lock()
	m.latest = &frozen
	m.err = nil
	m.mu.Unlock()

	alerts := m.eval.Evaluate(frozen)
	logging.Debugf("%s snapshot: %d servers, %d containers, %d candidate alerts",
		m.src.Name(), len(frozen.Servers), len(frozen.Containers), len(alerts))
	return alerts, nil
}

// Latest returns a copy of the last successful snapshot.
func (m *Monitor) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Snapshot{}, false
	}
	return m.latest.Clone(), true
}

// LastError is the error of the most recent poll, nil after a success.
func (m *Monitor) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *Monitor) SourceName() string {
	return m.src.Name()
}
