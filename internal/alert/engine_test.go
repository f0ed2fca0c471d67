package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-alert/internal/config"
)

// scriptedProducer returns the queued batches in order, then empty batches.
type scriptedProducer struct {
	mu      sync.Mutex
	batches [][]Alert
	err     error
}

func (p *scriptedProducer) Produce(ctx context.Context) ([]Alert, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if len(p.batches) == 0 {
		return nil, nil
	}
	b := p.batches[0]
	p.batches = p.batches[1:]
	return b, nil
}

func newTestEngine(p Producer, m *Manager) *Engine {
	return NewEngine(&config.Config{}, m, p)
}

func TestEngineSourceErrorSkipsTick(t *testing.T) {
	ch := &fakeChannel{}
	m := newTestManager(ch, newClock())
	e := newTestEngine(&scriptedProducer{err: errors.New("connection refused")}, m)

	_, err := e.RunTick(context.Background(), TriggerMetrics)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.Empty(t, m.History(0))
	assert.Empty(t, ch.Sent())
}

func TestEngineMetricsTickProcessesAllAndPrunes(t *testing.T) {
	ch := &fakeChannel{}
	clock := newClock()
	m := newTestManager(ch, clock)
	p := &scriptedProducer{batches: [][]Alert{
		{
			{Level: SeverityWarning, Message: "Memory 85%", Source: "web-1"},
			{Level: SeverityCritical, Message: "CPU 97%", Source: "db-1"},
		},
	}}
	e := newTestEngine(p, m)

	sum, err := e.RunTick(context.Background(), TriggerMetrics)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 2, sum.Dispatched)
	assert.Len(t, m.History(0), 2)

	clock.Set(25 * time.Hour)
	_, err = e.RunTick(context.Background(), TriggerMetrics)
	require.NoError(t, err)
	assert.Empty(t, m.History(0))
}

func TestEngineCriticalTickOnlyCritical(t *testing.T) {
	ch := &fakeChannel{}
	m := newTestManager(ch, newClock())
	p := &scriptedProducer{batches: [][]Alert{
		{
			{Level: SeverityWarning, Message: "Memory 85%", Source: "web-1"},
			{Level: SeverityCritical, Message: "CPU 97%", Source: "db-1"},
		},
	}}
	e := newTestEngine(p, m)

	sum, err := e.RunTick(context.Background(), TriggerCritical)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	h := m.History(0)
	require.Len(t, h, 1)
	assert.Equal(t, SeverityCritical, h[0].Level)
}

func TestEngineCriticalClearsWhenResolved(t *testing.T) {
	ch := &fakeChannel{}
	m := newTestManager(ch, newClock())
	p := &scriptedProducer{batches: [][]Alert{
		{{Level: SeverityCritical, Message: "CPU 97%", Source: "db-1"}},
		{{Level: SeverityWarning, Message: "CPU 85%", Source: "db-1"}},
	}}
	e := newTestEngine(p, m)
	ctx := context.Background()

	_, err := e.RunTick(ctx, TriggerCritical)
	require.NoError(t, err)
	_, active := m.dispatcher.ActiveCritical("r1")
	require.True(t, active)

	_, err = e.RunTick(ctx, TriggerCritical)
	require.NoError(t, err)
	_, ok := m.LastCritical()
	assert.False(t, ok)
	_, active = m.dispatcher.ActiveCritical("r1")
	assert.False(t, active)
	assert.Equal(t, []string{"r1:m1"}, ch.Deleted())
}

func TestEngineCriticalClearsAfterAcknowledgeAll(t *testing.T) {
	ch := &fakeChannel{}
	m := newTestManager(ch, newClock())
	p := &scriptedProducer{batches: [][]Alert{
		{{Level: SeverityCritical, Message: "CPU 97%", Source: "db-1"}},
	}}
	e := newTestEngine(p, m)
	ctx := context.Background()

	_, err := e.RunTick(ctx, TriggerCritical)
	require.NoError(t, err)
	m.AcknowledgeAll()

	_, err = e.RunTick(ctx, TriggerCritical)
	require.NoError(t, err)
	_, active := m.dispatcher.ActiveCritical("r1")
	assert.False(t, active)
	assert.Equal(t, []string{"r1:m1"}, ch.Deleted())
}

func TestEngineDeliveryFailureStreak(t *testing.T) {
	ch := &fakeChannel{failFor: map[string]error{"r1": errors.New("network unreachable")}}
	clock := newClock()
	m := newTestManager(ch, clock)
	p := &scriptedProducer{}
	e := newTestEngine(p, m)
	ctx := context.Background()

	for i, msg := range []string{"CPU 97%", "Memory 96%", "Disk 95%"} {
		p.batches = append(p.batches, []Alert{{Level: SeverityCritical, Message: msg, Source: "db-1"}})
		_, err := e.RunTick(ctx, TriggerMetrics)
		require.NoError(t, err)
		assert.Equal(t, i+1, e.DeliveryFailureStreak())
	}

	// 空 tick 不影响计数
	_, err := e.RunTick(ctx, TriggerMetrics)
	require.NoError(t, err)
	assert.Equal(t, 3, e.DeliveryFailureStreak())

	ch.mu.Lock()
	ch.failFor = nil
	ch.mu.Unlock()
	p.batches = append(p.batches, []Alert{{Level: SeverityCritical, Message: "Swap 90%", Source: "db-1"}})
	_, err = e.RunTick(ctx, TriggerMetrics)
	require.NoError(t, err)
	assert.Equal(t, 0, e.DeliveryFailureStreak())
}

func TestEngineStartStop(t *testing.T) {
	m := newTestManager(&fakeChannel{}, newClock())
	e := newTestEngine(&scriptedProducer{}, m)
	require.NoError(t, e.Start(context.Background()))
	assert.Len(t, e.cron.Entries(), 2)
	e.Stop()
}
