package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-alert/internal/notification"
)

func TestDispatcherNoRecipientsIsNoop(t *testing.T) {
	ch := &fakeChannel{}
	d := NewDispatcher(ch, nil, time.Second)
	out := d.SendSingle(context.Background(), rec("ALR-0001", SeverityCritical, "db-1", "CPU 97%"))
	assert.Equal(t, 0, out.Attempted)
	assert.True(t, out.OK())
	assert.Empty(t, ch.Events())
}

func TestDispatcherPartialFailure(t *testing.T) {
	boom := errors.New("chat not found")
	ch := &fakeChannel{failFor: map[string]error{"b": boom}}
	d := NewDispatcher(ch, []string{"a", "b", "c"}, time.Second)

	out := d.SendSingle(context.Background(), rec("ALR-0001", SeverityWarning, "web-1", "Mem 85%"))
	assert.NotEmpty(t, out.BatchID)
	assert.Equal(t, 3, out.Attempted)
	assert.Equal(t, 2, out.Sent)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "b", out.Failures[0].Recipient)
	assert.ErrorIs(t, out.Failures[0].Err, boom)
	assert.False(t, out.OK())
}

func TestDispatcherGroupMessageCarriesCount(t *testing.T) {
	ch := &fakeChannel{}
	d := NewDispatcher(ch, []string{"a"}, time.Second)
	rep := rec("ALR-0002", SeverityWarning, "api-2", "Disk 82%")
	d.SendGroup(context.Background(), rep, 3, []Record{rep, rep, rep})

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 3, sent[0].Msg.Count)
	assert.Equal(t, "ALR-0002", sent[0].Msg.ID)
	assert.Equal(t, "warning", sent[0].Msg.Level)
}

func TestDispatcherStickyCritical(t *testing.T) {
	ch := &fakeChannel{}
	d := NewDispatcher(ch, []string{"r1"}, time.Second)
	ctx := context.Background()

	d.SendSingle(ctx, rec("ALR-0001", SeverityCritical, "db-1", "CPU 97%"))
	h, ok := d.ActiveCritical("r1")
	require.True(t, ok)
	assert.Equal(t, notification.Handle("m1"), h)

	// 非 critical 不影响置顶消息
	d.SendSingle(ctx, rec("ALR-0002", SeverityWarning, "db-1", "Mem 85%"))
	h, _ = d.ActiveCritical("r1")
	assert.Equal(t, notification.Handle("m1"), h)

	d.SendSingle(ctx, rec("ALR-0003", SeverityCritical, "db-1", "Disk 95%"))
	assert.Equal(t, []string{"send:r1", "send:r1", "delete:r1:m1", "send:r1"}, ch.Events())
	h, _ = d.ActiveCritical("r1")
	assert.Equal(t, notification.Handle("m3"), h)
}

func TestDispatcherStickyDeleteErrorIgnored(t *testing.T) {
	ch := &fakeChannel{deleteErr: errors.New("message to delete not found")}
	d := NewDispatcher(ch, []string{"r1"}, time.Second)
	ctx := context.Background()

	d.SendSingle(ctx, rec("ALR-0001", SeverityCritical, "db-1", "CPU 97%"))
	out := d.SendSingle(ctx, rec("ALR-0002", SeverityCritical, "db-1", "CPU 98%"))
	assert.True(t, out.OK())
	h, _ := d.ActiveCritical("r1")
	assert.Equal(t, notification.Handle("m2"), h)
}

func TestDispatcherFailedCriticalLeavesNoHandle(t *testing.T) {
	ch := &fakeChannel{}
	d := NewDispatcher(ch, []string{"r1"}, time.Second)
	ctx := context.Background()
	d.SendSingle(ctx, rec("ALR-0001", SeverityCritical, "db-1", "CPU 97%"))

	ch.failFor = map[string]error{"r1": errors.New("down")}
	d.SendSingle(ctx, rec("ALR-0002", SeverityCritical, "db-1", "CPU 98%"))
	_, ok := d.ActiveCritical("r1")
	assert.False(t, ok)
	assert.Equal(t, []string{"r1:m1"}, ch.Deleted())
}

func TestDispatcherTimeout(t *testing.T) {
	ch := &fakeChannel{block: true}
	d := NewDispatcher(ch, []string{"slow"}, 20*time.Millisecond)

	start := time.Now()
	out := d.SendSingle(context.Background(), rec("ALR-0001", SeverityWarning, "s", "m"))
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, out.Failures, 1)
	assert.ErrorIs(t, out.Failures[0].Err, context.DeadlineExceeded)
}

func TestDispatcherClearCritical(t *testing.T) {
	ch := &fakeChannel{}
	d := NewDispatcher(ch, []string{"r1", "r2"}, time.Second)
	ctx := context.Background()
	d.SendSingle(ctx, rec("ALR-0001", SeverityCritical, "db-1", "CPU 97%"))

	assert.Equal(t, 2, d.ClearCritical(ctx))
	assert.Len(t, ch.Deleted(), 2)
	_, ok := d.ActiveCritical("r1")
	assert.False(t, ok)
	assert.Equal(t, 0, d.ClearCritical(ctx))
}

func TestDispatcherSetRecipientsForgetsRemoved(t *testing.T) {
	ch := &fakeChannel{}
	d := NewDispatcher(ch, []string{"r1", "r2"}, time.Second)
	d.SendSingle(context.Background(), rec("ALR-0001", SeverityCritical, "db-1", "CPU 97%"))

	d.SetRecipients([]string{"r2", "r3"})
	assert.Equal(t, []string{"r2", "r3"}, d.Recipients())
	_, ok := d.ActiveCritical("r1")
	assert.False(t, ok)
	_, ok = d.ActiveCritical("r2")
	assert.True(t, ok)
}
