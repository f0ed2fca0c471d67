package alert

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"infra-alert/internal/config"
	"infra-alert/internal/logging"
	"infra-alert/internal/metrics"
)

// ErrSourceUnavailable marks a tick skipped because the producer failed.
var ErrSourceUnavailable = errors.New("source unavailable")

// failureStreakAlert is how many consecutive ticks with only failed
// deliveries it takes before the engine logs at error level.
const failureStreakAlert = 3

// Trigger names the scheduled job that started a tick.
type Trigger string

const (
	TriggerMetrics  Trigger = "metrics"
	TriggerCritical Trigger = "critical"
)

// Engine drives the Manager from two cron jobs: a metrics poll that feeds
// every produced alert, and a faster critical recheck.
type Engine struct {
	manager  *Manager
	producer Producer

	cron     *cron.Cron
	location *time.Location

	metricsEvery  time.Duration
	criticalEvery time.Duration
	sourceTimeout time.Duration
	historyMaxAge time.Duration

	failedTicks atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(cfg *config.Config, m *Manager, p Producer) *Engine {
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logging.Warnf("unknown timezone %q, using local: %v", cfg.Scheduler.Timezone, err)
		loc = time.Local
	}
	cronLog := cron.PrintfLogger(logging.Logger())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cronLog)),
	)
	return &Engine{
		manager:       m,
		producer:      p,
		cron:          c,
		location:      loc,
		metricsEvery:  cfg.Scheduler.GetMetricsInterval(),
		criticalEvery: cfg.Scheduler.GetCriticalRecheckInterval(),
		sourceTimeout: cfg.Source.GetTimeout(),
		historyMaxAge: cfg.Alerts.GetHistoryMaxAge(),
	}
}

// Start registers both jobs and starts the scheduler. Ticks run under ctx
// until Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	jobs := []struct {
		trigger Trigger
		every   time.Duration
	}{
		{TriggerMetrics, e.metricsEvery},
		{TriggerCritical, e.criticalEvery},
	}
	for _, j := range jobs {
		trigger := j.trigger
		spec := "@every " + j.every.String()
		if _, err := e.cron.AddFunc(spec, func() { e.runScheduled(trigger) }); err != nil {
			return fmt.Errorf("add cron for %s: %w", trigger, err)
		}
		logging.Infof("trigger registered: %s %s (tz=%s)", trigger, spec, e.location)
	}
	e.cron.Start()
	return nil
}

// Stop waits for running ticks to return.
func (e *Engine) Stop() {
	stopped := e.cron.Stop()
	if e.cancel != nil {
		e.cancel()
	}
	<-stopped.Done()
}

func (e *Engine) runScheduled(trigger Trigger) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.Ticks.WithLabelValues(string(trigger), "panic").Inc()
			logging.Errorf("panic in %s tick: %v", trigger, rec)
		}
	}()
	sum, err := e.RunTick(e.ctx, trigger)
	if err != nil {
		logging.Warnf("%s tick skipped: %v", trigger, err)
		return
	}
	if sum.Processed > 0 {
		logging.WithFields(map[string]any{
			"trigger":    trigger,
			"processed":  sum.Processed,
			"suppressed": sum.Suppressed,
			"batched":    sum.Batched,
			"dispatched": sum.Dispatched,
			"sent":       sum.Sent,
			"failed":     len(sum.Failures),
		}).Debug("tick done")
	}
}

// RunTick runs one tick synchronously. A producer error skips the tick
// and leaves all state untouched.
func (e *Engine) RunTick(ctx context.Context, trigger Trigger) (TickSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	pctx, cancel := context.WithTimeout(ctx, e.sourceTimeout)
	alerts, err := e.producer.Produce(pctx)
	cancel()
	if err != nil {
		metrics.SourceErrors.Inc()
		metrics.Ticks.WithLabelValues(string(trigger), "skipped").Inc()
		return TickSummary{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var sum TickSummary
	switch trigger {
	case TriggerCritical:
		critical := make([]Alert, 0, len(alerts))
		for _, a := range alerts {
			if a.Level == SeverityCritical {
				critical = append(critical, a)
			}
		}
		if len(critical) == 0 {
			if e.manager.CriticalPending() {
				e.manager.ClearCritical(ctx)
			}
			break
		}
		sum = e.manager.ProcessAll(ctx, critical)
	default:
		sum = e.manager.ProcessAll(ctx, alerts)
		e.manager.Prune(e.historyMaxAge)
	}
	e.trackDelivery(trigger, sum)
	metrics.Ticks.WithLabelValues(string(trigger), "ok").Inc()
	return sum, nil
}

// trackDelivery counts consecutive ticks in which every attempted delivery
// failed. Ticks that attempted nothing leave the streak alone.
func (e *Engine) trackDelivery(trigger Trigger, sum TickSummary) {
	if sum.Sent > 0 {
		e.failedTicks.Store(0)
		return
	}
	if len(sum.Failures) == 0 {
		return
	}
	n := e.failedTicks.Add(1)
	if n >= failureStreakAlert {
		logging.Errorf("all deliveries failed for %d consecutive ticks (trigger=%s failures=%d)", n, trigger, len(sum.Failures))
	}
}

// DeliveryFailureStreak reports the current run of ticks with only failed deliveries.
func (e *Engine) DeliveryFailureStreak() int {
	return int(e.failedTicks.Load())
}
