package authcore

import (
	"context"
	"time"
)

const (
	auditEventSignupSuccess      = "signup_success"
	auditEventSignupDuplicate    = "signup_duplicate"
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventLoginRateLimited   = "login_rate_limited"
	auditEventRefreshSuccess     = "refresh_success"
	auditEventRefreshInvalid     = "refresh_invalid"
	auditEventRefreshRateLimited = "refresh_rate_limited"
	auditEventReuseDetected      = "refresh_reuse_detected"
	auditEventSignOut            = "signout"
	auditEventSignOutAll         = "signout_all"
	auditEventPasswordChanged    = "password_changed"
	auditEventPasswordChangeFail = "password_change_failure"
	auditEventUserDeleted        = "user_deleted"
	auditEventSweep              = "expired_records_swept"
)

// emitAudit queues one event. Metadata is built lazily so disabled auditing
// pays no allocation cost.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	recordID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		RecordID:  recordID,
		IP:        ClientIP(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}

	e.audit.emit(ctx, event)
}
