package api

import (
	"sync"
	"sync/atomic"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	// AlertRefreshStorm fires when refresh calls arrive faster than a
	// well-behaved client population would send them, usually a client
	// that does not coalesce concurrent refreshes.
	AlertRefreshStorm AlertType = "refresh_storm"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// Stats are cumulative request counters.
type Stats struct {
	Logins          int64 `json:"logins"`
	LoginFailures   int64 `json:"login_failures"`
	RefreshCalls    int64 `json:"refresh_calls"`
	RefreshFailures int64 `json:"refresh_failures"`
}

// metricsCollector keeps cumulative counters and sliding window counters
// for anomaly detection.
type metricsCollector struct {
	logins          atomic.Int64
	loginFailures   atomic.Int64
	refreshCalls    atomic.Int64
	refreshFailures atomic.Int64

	mu sync.Mutex

	// Sliding window for login failures.
	loginWindowTimes []time.Time
	loginWindow      time.Duration
	loginThreshold   int

	// Sliding window for refresh calls.
	refreshWindowTimes []time.Time
	refreshWindow      time.Duration
	refreshThreshold   int

	alertFn AlertFunc
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultRefreshWindow         = 10 * time.Second
	defaultRefreshThreshold      = 100
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		loginWindow:      defaultLoginFailureWindow,
		loginThreshold:   defaultLoginFailureThreshold,
		refreshWindow:    defaultRefreshWindow,
		refreshThreshold: defaultRefreshThreshold,
		alertFn:          alertFn,
	}
}

func (m *metricsCollector) stats() Stats {
	return Stats{
		Logins:          m.logins.Load(),
		LoginFailures:   m.loginFailures.Load(),
		RefreshCalls:    m.refreshCalls.Load(),
		RefreshFailures: m.refreshFailures.Load(),
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil {
		return
	}
	switch event {
	case AuditLoginSuccess:
		m.logins.Add(1)
	case AuditLoginFailure:
		m.loginFailures.Add(1)
		m.observe(&m.loginWindowTimes, m.loginWindow, m.loginThreshold, AlertLoginFailureSpike, "login failure rate exceeds threshold")
	case AuditRefreshFailure:
		m.refreshFailures.Add(1)
	}
}

// recordRefresh counts a call to the refresh endpoint, successful or not.
func (m *metricsCollector) recordRefresh() {
	m.refreshCalls.Add(1)
	m.observe(&m.refreshWindowTimes, m.refreshWindow, m.refreshThreshold, AlertRefreshStorm, "refresh call rate exceeds threshold")
}

func (m *metricsCollector) observe(times *[]time.Time, window time.Duration, threshold int, alert AlertType, msg string) {
	if m.alertFn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	*times = append(*times, now)
	*times = trimWindow(*times, now, window)

	if len(*times) >= threshold {
		m.alertFn(AlertEvent{
			Type:      alert,
			Message:   msg,
			Count:     len(*times),
			Threshold: threshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		*times = (*times)[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
