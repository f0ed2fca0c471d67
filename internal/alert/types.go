package alert

import (
	"context"
	"time"
)

// cooldownPrefixLen is how much of the message participates in the cooldown key.
const cooldownPrefixLen = 20

// Alert is a candidate produced by threshold evaluation.
type Alert struct {
	Level   Severity `json:"level"`
	Message string   `json:"message"`
	Source  string   `json:"source"`
}

// Record is an alert as kept in history.
type Record struct {
	ID               string    `json:"id"`
	Level            Severity  `json:"level"`
	Message          string    `json:"message"`
	Source           string    `json:"source"`
	Timestamp        time.Time `json:"timestamp"`
	Acknowledged     bool      `json:"acknowledged"`
	NotificationSent bool      `json:"notificationSent"`
}

func (a Alert) CooldownKey() string {
	return cooldownKey(a.Level, a.Source, a.Message)
}

func (a Alert) GroupKey() string {
	return a.Level.String() + ":" + a.Source
}

func (r Record) Alert() Alert {
	return Alert{Level: r.Level, Message: r.Message, Source: r.Source}
}

func (r Record) CooldownKey() string {
	return cooldownKey(r.Level, r.Source, r.Message)
}

func (r Record) GroupKey() string {
	return r.Alert().GroupKey()
}

func cooldownKey(level Severity, source, message string) string {
	prefix := message
	if runes := []rune(message); len(runes) > cooldownPrefixLen {
		prefix = string(runes[:cooldownPrefixLen])
	}
	return level.String() + ":" + source + ":" + prefix
}

// Producer yields the candidate alerts for one tick. An error means the
// source was unavailable and the tick must be skipped.
type Producer interface {
	Produce(ctx context.Context) ([]Alert, error)
}
