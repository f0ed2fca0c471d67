package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"infra-alert/internal/logging"
	"infra-alert/internal/metrics"
	"infra-alert/internal/notification"
)

const DefaultDeliveryTimeout = 10 * time.Second

// Delivery is the result of one attempt to one recipient.
type Delivery struct {
	Recipient string
	Handle    notification.Handle
	Err       error
}

// Outcome summarizes one dispatch across all recipients.
type Outcome struct {
	BatchID   string
	Attempted int
	Sent      int
	Failures  []Delivery
}

func (o Outcome) OK() bool {
	return len(o.Failures) == 0
}

// Dispatcher fans a notification out to every configured recipient. Each
// recipient is attempted independently and the call returns only after all
// attempts settle. At most one critical message per recipient stays visible:
// the previous one is deleted before a new critical is sent.
type Dispatcher struct {
	channel notification.Channel
	timeout time.Duration

	mu         sync.Mutex
	recipients []string
	sticky     map[string]notification.Handle
}

func NewDispatcher(ch notification.Channel, recipients []string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Dispatcher{
		channel:    ch,
		timeout:    timeout,
		recipients: append([]string(nil), recipients...),
		sticky:     make(map[string]notification.Handle),
	}
}

func (d *Dispatcher) Recipients() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.recipients...)
}

// SetRecipients replaces the recipient list. Sticky handles of removed
// recipients are forgotten.
func (d *Dispatcher) SetRecipients(recipients []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recipients = append([]string(nil), recipients...)
	keep := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		keep[r] = struct{}{}
	}
	for r := range d.sticky {
		if _, ok := keep[r]; !ok {
			delete(d.sticky, r)
		}
	}
}

func (d *Dispatcher) SendSingle(ctx context.Context, rec Record) Outcome {
	return d.deliver(ctx, messageFor(rec, 1))
}

func (d *Dispatcher) SendGroup(ctx context.Context, rep Record, count int, members []Record) Outcome {
	if len(members) > 1 {
		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.ID)
		}
		logging.Debugf("group %s flushing members %v", rep.GroupKey(), ids)
	}
	return d.deliver(ctx, messageFor(rep, count))
}

// ClearCritical deletes every recipient's active critical message. Failures
// are logged and otherwise ignored.
func (d *Dispatcher) ClearCritical(ctx context.Context) int {
	d.mu.Lock()
	active := d.sticky
	d.sticky = make(map[string]notification.Handle)
	d.mu.Unlock()

	removed := 0
	for recipient, h := range active {
		if err := d.remove(ctx, recipient, h); err == nil {
			removed++
		}
	}
	return removed
}

// ActiveCritical returns the tracked critical handle for recipient.
func (d *Dispatcher) ActiveCritical(recipient string) (notification.Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.sticky[recipient]
	return h, ok
}

// HasActiveCritical reports whether any recipient still shows a critical message.
func (d *Dispatcher) HasActiveCritical() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sticky) > 0
}

func (d *Dispatcher) deliver(ctx context.Context, msg notification.Message) Outcome {
	out := Outcome{BatchID: uuid.NewString()}
	recipients := d.Recipients()
	if len(recipients) == 0 {
		return out
	}

	start := time.Now()
	results := make([]Delivery, len(recipients))
	var g errgroup.Group
	for i, r := range recipients {
		i, r := i, r
		g.Go(func() error {
			results[i] = d.deliverOne(ctx, r, msg)
			return nil
		})
	}
	_ = g.Wait()
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

	out.Attempted = len(results)
	for _, res := range results {
		if res.Err != nil {
			metrics.Deliveries.WithLabelValues("error").Inc()
			out.Failures = append(out.Failures, res)
			logging.WithFields(map[string]any{
				"batch":     out.BatchID,
				"recipient": res.Recipient,
				"alert":     msg.ID,
			}).Warnf("delivery failed: %v", res.Err)
			continue
		}
		metrics.Deliveries.WithLabelValues("ok").Inc()
		out.Sent++
	}
	logging.WithFields(map[string]any{
		"batch":  out.BatchID,
		"alert":  msg.ID,
		"level":  msg.Level,
		"source": msg.Source,
		"count":  msg.Count,
		"sent":   out.Sent,
		"failed": len(out.Failures),
	}).Info("notification dispatched")
	return out
}

func (d *Dispatcher) deliverOne(ctx context.Context, recipient string, msg notification.Message) Delivery {
	if msg.Critical() {
		if prev, ok := d.takeSticky(recipient); ok {
			_ = d.remove(ctx, recipient, prev)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	h, err := d.channel.Send(sendCtx, recipient, msg)
	if err != nil {
		return Delivery{Recipient: recipient, Err: err}
	}
	if msg.Critical() {
		d.mu.Lock()
		d.sticky[recipient] = h
		d.mu.Unlock()
	}
	return Delivery{Recipient: recipient, Handle: h}
}

func (d *Dispatcher) takeSticky(recipient string) (notification.Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.sticky[recipient]
	if ok {
		delete(d.sticky, recipient)
	}
	return h, ok
}

func (d *Dispatcher) remove(ctx context.Context, recipient string, h notification.Handle) error {
	delCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err := d.channel.Delete(delCtx, recipient, h)
	if err != nil && !errors.Is(err, notification.ErrDeleteUnsupported) {
		logging.Debugf("remove previous critical for %s: %v", recipient, err)
	}
	return err
}

func messageFor(rec Record, count int) notification.Message {
	return notification.Message{
		ID:        rec.ID,
		Level:     rec.Level.String(),
		Text:      rec.Message,
		Source:    rec.Source,
		Count:     count,
		Timestamp: rec.Timestamp,
	}
}
