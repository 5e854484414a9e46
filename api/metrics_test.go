package api

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectAlerts() (*[]AlertEvent, AlertFunc) {
	var mu sync.Mutex
	var alerts []AlertEvent
	return &alerts, func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	}
}

func TestLoginFailureSpikeAlert(t *testing.T) {
	alerts, fn := collectAlerts()
	collector := newMetricsCollector(fn)
	collector.loginThreshold = 5

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	assert.Empty(t, *alerts, "no alert below threshold")

	collector.recordEvent(AuditLoginFailure)
	require.Len(t, *alerts, 1)
	assert.Equal(t, AlertLoginFailureSpike, (*alerts)[0].Type)
	assert.Equal(t, 5, (*alerts)[0].Count)
	assert.Equal(t, int64(5), collector.stats().LoginFailures)
}

func TestRefreshStormAlert(t *testing.T) {
	alerts, fn := collectAlerts()
	collector := newMetricsCollector(fn)
	collector.refreshThreshold = 3

	collector.recordRefresh()
	collector.recordRefresh()
	assert.Empty(t, *alerts)

	collector.recordRefresh()
	require.Len(t, *alerts, 1)
	assert.Equal(t, AlertRefreshStorm, (*alerts)[0].Type)

	// The window resets after an alert.
	collector.recordRefresh()
	assert.Len(t, *alerts, 1)
	assert.Equal(t, int64(4), collector.stats().RefreshCalls)
}

func TestMetricsWithoutAlertFunc(t *testing.T) {
	collector := newMetricsCollector(nil)
	collector.recordEvent(AuditLoginSuccess)
	collector.recordEvent(AuditRefreshFailure)
	collector.recordRefresh()
	assert.Equal(t, Stats{Logins: 1, RefreshCalls: 1, RefreshFailures: 1}, collector.stats())
}
