package alert

import (
	"sync"
	"time"
)

// Filter gates alerts by minimum severity and per-key cooldown. The cooldown
// table only moves forward through MarkSent, so it reflects the last send
// rather than the last sighting.
type Filter struct {
	mu       sync.RWMutex
	minLevel Severity
	cooldown time.Duration
	lastSent map[string]time.Time
}

func NewFilter(minLevel Severity, cooldown time.Duration) *Filter {
	return &Filter{
		minLevel: minLevel,
		cooldown: cooldown,
		lastSent: make(map[string]time.Time),
	}
}

// Admit reports whether a should proceed to notification. It has no side effects.
func (f *Filter) Admit(a Alert, now time.Time) bool {
	_, ok := f.Check(a, now)
	return ok
}

// Check is Admit with the rejection reason ("level" or "cooldown").
func (f *Filter) Check(a Alert, now time.Time) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !a.Level.AtLeast(f.minLevel) {
		return "level", false
	}
	if last, ok := f.lastSent[a.CooldownKey()]; ok && now.Sub(last) < f.cooldown {
		return "cooldown", false
	}
	return "", true
}

// MarkSent stamps the cooldown key as notified at now.
func (f *Filter) MarkSent(key string, now time.Time) {
	f.mu.Lock()
	f.lastSent[key] = now
	f.mu.Unlock()
}

// LastSent returns the last notification instant for key.
func (f *Filter) LastSent(key string) (time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.lastSent[key]
	return t, ok
}

func (f *Filter) SetMinimumLevel(level Severity) {
	f.mu.Lock()
	f.minLevel = level
	f.mu.Unlock()
}

func (f *Filter) SetCooldown(d time.Duration) {
	if d < 0 {
		d = 0
	}
	f.mu.Lock()
	f.cooldown = d
	f.mu.Unlock()
}

func (f *Filter) MinimumLevel() Severity {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.minLevel
}

func (f *Filter) Cooldown() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cooldown
}
