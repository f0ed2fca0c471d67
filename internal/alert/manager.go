package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"infra-alert/internal/logging"
	"infra-alert/internal/metrics"
)

// Settings are the tunables of the pipeline.
type Settings struct {
	MinLevel     Severity
	Cooldown     time.Duration
	Grouping     bool
	HistoryLimit int
	BatchWindow  time.Duration
	BatchQuorum  int
}

func DefaultSettings() Settings {
	return Settings{
		MinLevel:     SeverityWarning,
		Cooldown:     300 * time.Second,
		Grouping:     true,
		HistoryLimit: DefaultHistoryLimit,
		BatchWindow:  30 * time.Second,
		BatchQuorum:  3,
	}
}

// Disposition is what happened to one processed alert.
type Disposition string

const (
	Suppressed Disposition = "suppressed"
	Batched    Disposition = "batched"
	Dispatched Disposition = "dispatched"
)

// Result describes the processing of one alert.
type Result struct {
	Record      Record
	Disposition Disposition
	Reason      string
	Flush       *Flush
	Outcome     *Outcome
}

// TickSummary aggregates the results of a batch of alerts.
type TickSummary struct {
	Processed  int
	Suppressed int
	Batched    int
	Dispatched int
	Sent       int
	Failures   []Delivery
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns all alert state: the cooldown table (Filter), the groups,
// the history and the dispatcher. Create one at startup and pass it to
// every trigger. Process calls are serialized; acknowledgement and
// settings calls do not wait for in-flight deliveries.
type Manager struct {
	pipeline sync.Mutex

	filter     *Filter
	groups     *Grouper
	history    *History
	dispatcher *Dispatcher
	grouping   atomic.Bool
	now        func() time.Time
}

func NewManager(s Settings, d *Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		filter:     NewFilter(s.MinLevel, s.Cooldown),
		groups:     NewGrouper(s.BatchWindow, s.BatchQuorum),
		history:    NewHistory(s.HistoryLimit),
		dispatcher: d,
		now:        time.Now,
	}
	m.grouping.Store(s.Grouping)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Process records a, then notifies through the single or grouped path if the
// filter admits it. Cooldown and notified state are updated after delivery
// has been attempted, whatever its outcome.
func (m *Manager) Process(ctx context.Context, a Alert) Result {
	m.pipeline.Lock()
	defer m.pipeline.Unlock()

	now := m.now()
	rec := m.history.Record(a, now)
	metrics.AlertsIngested.WithLabelValues(rec.Level.String()).Inc()
	metrics.HistorySize.Set(float64(m.history.Len()))

	if reason, ok := m.filter.Check(a, now); !ok {
		metrics.AlertsSuppressed.WithLabelValues(reason).Inc()
		logging.Debugf("alert %s skipped (%s)", rec.ID, reason)
		return Result{Record: rec, Disposition: Suppressed, Reason: reason}
	}

	if !m.grouping.Load() {
		out := m.dispatcher.SendSingle(ctx, rec)
		metrics.Flushes.WithLabelValues("single").Inc()
		m.markSent(now, rec)
		rec.NotificationSent = true
		return Result{Record: rec, Disposition: Dispatched, Outcome: &out}
	}

	decision := m.groups.Ingest(rec, now)
	metrics.PendingGrouped.Set(float64(m.groups.PendingTotal()))
	if decision.Flush == nil {
		return Result{Record: rec, Disposition: Batched}
	}

	fl := decision.Flush
	out := m.dispatcher.SendGroup(ctx, fl.Representative, fl.Count, fl.Members)
	metrics.Flushes.WithLabelValues("group").Inc()
	m.markSent(now, fl.Members...)
	for i := range fl.Members {
		fl.Members[i].NotificationSent = true
	}
	fl.Representative.NotificationSent = true
	rec.NotificationSent = true
	return Result{Record: rec, Disposition: Dispatched, Flush: fl, Outcome: &out}
}

// ProcessAll runs Process over alerts in order and summarizes the tick.
func (m *Manager) ProcessAll(ctx context.Context, alerts []Alert) TickSummary {
	var sum TickSummary
	for _, a := range alerts {
		res := m.Process(ctx, a)
		sum.Processed++
		switch res.Disposition {
		case Suppressed:
			sum.Suppressed++
		case Batched:
			sum.Batched++
		case Dispatched:
			sum.Dispatched++
			if res.Outcome != nil {
				sum.Sent += res.Outcome.Sent
				sum.Failures = append(sum.Failures, res.Outcome.Failures...)
			}
		}
	}
	return sum
}

func (m *Manager) markSent(now time.Time, recs ...Record) {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		m.filter.MarkSent(r.CooldownKey(), now)
		ids = append(ids, r.ID)
	}
	m.history.MarkNotified(ids...)
}

// ClearCritical is called once a critical condition is no longer observed:
// it retracts the sticky critical messages and drops the last-critical pointer.
// Sticky messages are retracted even when the pointer is already gone
// (AcknowledgeAll drops the pointer but the messages stay visible).
func (m *Manager) ClearCritical(ctx context.Context) int {
	m.pipeline.Lock()
	defer m.pipeline.Unlock()

	last, hadLast := m.history.LastCritical()
	if !hadLast && !m.dispatcher.HasActiveCritical() {
		return 0
	}
	removed := m.dispatcher.ClearCritical(ctx)
	m.history.ClearLastCritical()
	logging.WithFields(map[string]any{
		"alert":   last.ID,
		"source":  last.Source,
		"removed": removed,
	}).Info("critical condition cleared")
	return removed
}

// CriticalPending reports whether a critical condition still needs clearing.
func (m *Manager) CriticalPending() bool {
	if _, ok := m.history.LastCritical(); ok {
		return true
	}
	return m.dispatcher.HasActiveCritical()
}

func (m *Manager) LastCritical() (Record, bool) {
	return m.history.LastCritical()
}

func (m *Manager) Acknowledge(id string) bool {
	ok := m.history.Acknowledge(id)
	if ok {
		logging.Infof("alert %s acknowledged", id)
	}
	return ok
}

func (m *Manager) AcknowledgeAll() int {
	n := m.history.AcknowledgeAll()
	logging.Infof("acknowledged %d alerts", n)
	return n
}

func (m *Manager) ActiveAlerts() []Record {
	return m.history.Active()
}

func (m *Manager) History(limit int) []Record {
	return m.history.Recent(limit)
}

func (m *Manager) Get(id string) (Record, bool) {
	return m.history.Get(id)
}

// Prune drops history older than maxAge.
func (m *Manager) Prune(maxAge time.Duration) int {
	n := m.history.PruneOlderThan(maxAge, m.now())
	metrics.HistorySize.Set(float64(m.history.Len()))
	if n > 0 {
		logging.Debugf("pruned %d alerts older than %s", n, maxAge)
	}
	return n
}

func (m *Manager) SetMinimumLevel(level Severity) {
	m.filter.SetMinimumLevel(level)
	logging.Infof("alert min level changed: %s", level)
}

func (m *Manager) SetCooldownSeconds(seconds int) {
	m.filter.SetCooldown(time.Duration(seconds) * time.Second)
	logging.Infof("alert cooldown changed: %ds", seconds)
}

func (m *Manager) SetGroupingEnabled(enabled bool) {
	m.grouping.Store(enabled)
	logging.Infof("alert grouping enabled: %t", enabled)
}

func (m *Manager) SetRecipients(recipients []string) {
	m.dispatcher.SetRecipients(recipients)
	logging.Infof("alert recipients changed: %d", len(recipients))
}

func (m *Manager) Recipients() []string {
	return m.dispatcher.Recipients()
}

// Settings reports the live values of the runtime tunables.
func (m *Manager) Settings() Settings {
	return Settings{
		MinLevel:     m.filter.MinimumLevel(),
		Cooldown:     m.filter.Cooldown(),
		Grouping:     m.grouping.Load(),
		HistoryLimit: m.history.Limit(),
		BatchWindow:  m.groups.window,
		BatchQuorum:  m.groups.quorum,
	}
}

// Filter exposes the cooldown table for inspection.
func (m *Manager) Filter() *Filter {
	return m.filter
}
