package authcore

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event types.
const (
	AuditLoginSuccess        = "login_success"
	AuditLoginFailure        = "login_failure"
	AuditSessionRestored     = "session_restored"
	AuditRememberCompromised = "remember_token_compromised"
	AuditLogout              = "logout"
	AuditLogoutAll           = "logout_all"
	AuditAccountCreated      = "account_created"
	AuditPasswordChanged     = "password_changed"
	AuditUsernameChanged     = "username_changed"
	AuditTOTPEnabled         = "totp_enabled"
	AuditTOTPDisabled        = "totp_disabled"
	AuditAccountDisabled     = "account_disabled"
	AuditAccountEnabled      = "account_enabled"
	AuditAccountDeleted      = "account_deleted"
	AuditRateLimited         = "rate_limited"
	AuditCSRFRejected        = "csrf_rejected"
)

// AuditEvent is one security-relevant fact. It never carries secrets:
// no passwords, session ids, TOTP keys or remember secrets.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	RequestID string            `json:"request_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events. Emit runs on a background worker.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// audit hands ev to the sink on the task runner so a slow sink never holds
// up the request.
func (e *Engine) audit(ctx context.Context, ev AuditEvent) {
	if e.auditSink == nil {
		return
	}
	if _, ok := e.auditSink.(NoOpSink); ok {
		return
	}
	ev.Timestamp = e.now().UTC()
	if rc, ok := RequestContextFrom(ctx); ok {
		ev.RequestID = rc.RequestID
		ev.IP = rc.ClientIP
		if ev.ActorID == "" && rc.Session != nil {
			ev.ActorID = rc.Session.UserID()
		}
	}
	sink := e.auditSink
	e.tasks.Go(ctx, "audit-"+ev.EventType, func(ctx context.Context) error {
		sink.Emit(ctx, ev)
		return nil
	})
}

func auditError(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError(err); ok {
		return e.Source + "/" + e.ID
	}
	return "unexpected"
}
