package api

import (
	"net/http"

	"github.com/rs/zerolog"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditLogout           AuditEvent = "logout"
	AuditTokenRefreshed   AuditEvent = "token_refreshed"
	AuditRefreshFailure   AuditEvent = "refresh_failure"
)

// auditLogger writes structured security audit entries and feeds the
// metrics collector.
type auditLogger struct {
	logger  zerolog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger zerolog.Logger, metrics *metricsCollector) *auditLogger {
	return &auditLogger{
		logger:  logger.With().Str("component", "audit").Logger(),
		metrics: metrics,
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, fields func(*zerolog.Event)) {
	e := al.logger.Info().
		Str("event", string(event)).
		Str("remote_addr", r.RemoteAddr)
	if fields != nil {
		fields(e)
	}
	e.Msg("audit")
	al.metrics.recordEvent(event)
}

// logEvent records an event for a known user and session. Tokens are never
// logged; the session ID identifies the refresh session.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, username, sessionID string) {
	al.log(event, r, func(e *zerolog.Event) {
		e.Str("username", username).Str("session_id", sessionID)
	})
}

// logFailure records a failed authentication step.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string) {
	al.log(event, r, func(e *zerolog.Event) {
		e.Str("reason", reason)
	})
}
