package authcore

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/corvak/authcore/internal/rate"
	"github.com/corvak/authcore/password"
	"github.com/corvak/authcore/token"
	"github.com/google/uuid"
)

// Engine is the session state machine. It orchestrates the adapter, the
// token codec, and the credential hasher; all methods are safe for concurrent
// use. Build one with [New].
type Engine struct {
	config  Config
	adapter Adapter
	codec   *token.Codec
	hasher  *password.Hasher
	limiter *rate.Limiter
	metrics *Metrics
	audit   *auditDispatcher
	now     func() time.Time
}

// Close drains and stops the audit dispatcher. The engine must not be used
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.close()
}

// AuditDropped reports audit events shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.droppedCount()
}

// MetricsSnapshot copies the current metric values for export.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// CreateUser signs up a new identity and opens its first session. The
// (method, identifier) pair must be unused; the password, when given, is
// hashed before anything is persisted.
func (e *Engine) CreateUser(ctx context.Context, input CreateUserInput) (*SessionResult, error) {
	if e == nil || e.adapter == nil {
		return nil, ErrEngineNotReady
	}
	if input.Method == "" || input.Identifier == "" {
		return nil, errors.New("method and identifier are required")
	}

	existing, err := e.adapter.GetUserByIdentifier(ctx, input.Method, input.Identifier)
	if err != nil {
		return nil, adapterErr(err)
	}
	if existing != nil {
		e.metricInc(MetricSignupDuplicate)
		e.emitAudit(ctx, auditEventSignupDuplicate, false, "", "", ErrDuplicateIdentifier, func() map[string]string {
			return map[string]string{"method": input.Method, "identifier": input.Identifier}
		})
		return nil, ErrDuplicateIdentifier
	}

	binding := AuthBinding{Method: input.Method, Identifier: input.Identifier}
	if input.Password != "" {
		hash, err := e.hasher.Hash(input.Password)
		if err != nil {
			return nil, err
		}
		binding.PasswordHash = hash
	}

	now := e.now()
	user := User{
		ID:       uuid.NewString(),
		Bindings: []AuthBinding{binding},
		Data:     input.Data,
	}
	record := e.newRecord(user.ID, now)

	userID, err := e.adapter.CreateUser(ctx, user, record)
	if err != nil {
		// The uniqueness pre-check races with concurrent sign-ups; the
		// adapter's constraint is authoritative.
		if errors.Is(err, ErrDuplicateIdentifier) {
			e.metricInc(MetricSignupDuplicate)
			e.emitAudit(ctx, auditEventSignupDuplicate, false, "", "", ErrDuplicateIdentifier, nil)
			return nil, ErrDuplicateIdentifier
		}
		return nil, adapterErr(err)
	}
	user.ID = userID

	result, err := e.issueSession(user, record, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSignupSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSignupSuccess, true, user.ID, record.ID, nil, func() map[string]string {
		return map[string]string{"method": input.Method}
	})
	return result, nil
}

// AuthenticateUser verifies credentials and opens a fresh token family. Prior
// families are left untouched; a stolen refresh token does not gain life from
// its owner logging in again. Unknown identifier and wrong password are
// indistinguishable to the caller.
func (e *Engine) AuthenticateUser(ctx context.Context, method, identifier, pass string) (*SessionResult, error) {
	if e == nil || e.adapter == nil {
		return nil, ErrEngineNotReady
	}
	ip := ClientIP(ctx)

	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, method, identifier, ip); errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{"method": method, "identifier": identifier}
			})
			return nil, ErrLoginRateLimited
		} else if err != nil {
			// A throttle backend outage must not lock every account out.
			log.Print("authcore: login throttle check failed")
		}
	}

	user, err := e.adapter.GetUserByIdentifier(ctx, method, identifier)
	if err != nil {
		return nil, adapterErr(err)
	}
	if user == nil {
		return nil, e.loginFailure(ctx, method, identifier, "", "user_not_found")
	}

	binding, ok := user.Binding(method)
	if !ok {
		return nil, e.loginFailure(ctx, method, identifier, user.ID, "binding_not_found")
	}

	switch {
	case binding.PasswordHash == "":
		// Passwordless binding: the caller authenticated the user elsewhere
		// and must not supply a password here.
		if pass != "" {
			return nil, e.loginFailure(ctx, method, identifier, user.ID, "unexpected_password")
		}
	case pass == "":
		return nil, e.loginFailure(ctx, method, identifier, user.ID, "empty_password")
	default:
		match, err := e.hasher.Verify(pass, binding.PasswordHash)
		if err != nil {
			if errors.Is(err, password.ErrCorrupt) {
				return nil, ErrCorruptCredential
			}
			return nil, err
		}
		if !match {
			return nil, e.loginFailure(ctx, method, identifier, user.ID, "password_mismatch")
		}
	}

	if e.limiter != nil {
		// Limiter reset is best-effort; a Redis hiccup must not fail a login.
		if err := e.limiter.ResetLogin(ctx, method, identifier, ip); err != nil {
			log.Print("authcore: login limiter reset failed")
		}
	}

	now := e.now()
	record, err := e.adapter.CreateRefreshRecord(ctx, user.ID, now.Add(e.config.RefreshTokenTTL))
	if err != nil {
		return nil, adapterErr(err)
	}

	result, err := e.issueSession(*user, record, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, record.ID, nil, func() map[string]string {
		return map[string]string{"method": method}
	})
	return result, nil
}

// RefreshSession exchanges a live refresh token for a new access/refresh
// pair. The presented token's record is marked ROTATED and a new ACTIVE
// record replaces it; exactly one of two racing calls wins. A token whose
// record is already superseded is treated as stolen: every session of the
// owning user is revoked before ErrReuseDetected is returned.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken string) (*SessionResult, error) {
	if e == nil || e.adapter == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.codec.Verify(refreshToken, token.UseRefresh, e.now())
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrInvalidToken, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return nil, ErrInvalidToken
	}

	if e.limiter != nil {
		if err := e.limiter.CheckRefresh(ctx, claims.RID); errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, claims.UID, claims.RID, ErrRefreshRateLimited, nil)
			return nil, ErrRefreshRateLimited
		} else if err != nil {
			log.Print("authcore: refresh throttle check failed")
		}
	}

	record, err := e.adapter.GetRefreshRecord(ctx, claims.RID)
	if err != nil {
		return nil, adapterErr(err)
	}
	if record == nil || record.State != StateActive {
		// Signed token without a live record: either it was already rotated
		// and is being replayed, or the store lost the row. Both read as
		// theft; burn the user's whole session set.
		return nil, e.reuseDetected(ctx, claims.UID, claims.RID)
	}
	if record.UserID != claims.UID {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.UID, claims.RID, ErrInvalidToken, func() map[string]string {
			return map[string]string{"reason": "user_mismatch"}
		})
		return nil, ErrInvalidToken
	}

	now := e.now()
	if !record.ExpiresAt.IsZero() && !now.Before(record.ExpiresAt) {
		// Store expiry can lag the JWT expiry when config changed between
		// issuance and refresh. Retire the record and reject.
		if _, err := e.adapter.TransitionRefreshRecord(ctx, record.ID, StateActive, StateRevoked); err != nil {
			return nil, adapterErr(err)
		}
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricSessionInvalidated)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.UID, claims.RID, ErrInvalidToken, func() map[string]string {
			return map[string]string{"reason": "record_expired"}
		})
		return nil, ErrInvalidToken
	}

	won, err := e.adapter.TransitionRefreshRecord(ctx, record.ID, StateActive, StateRotated)
	if err != nil {
		return nil, adapterErr(err)
	}
	if !won {
		// Lost the compare-and-set. The record left ACTIVE between the read
		// above and now, so this call is indistinguishable from a replay.
		return nil, e.reuseDetected(ctx, claims.UID, claims.RID)
	}

	next, err := e.adapter.CreateRefreshRecord(ctx, record.UserID, now.Add(e.config.RefreshTokenTTL))
	if err != nil {
		return nil, adapterErr(err)
	}

	user, err := e.resolveUser(ctx, record.UserID)
	if err != nil {
		return nil, err
	}

	result, err := e.issueSession(user, next, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, record.UserID, next.ID, nil, func() map[string]string {
		return map[string]string{"rotated_from": record.ID}
	})
	return result, nil
}

// InvalidateSession signs out the session behind a refresh token. Revoking an
// already-dead record is not an error; sign-out is idempotent.
func (e *Engine) InvalidateSession(ctx context.Context, refreshToken string) error {
	if e == nil || e.adapter == nil {
		return ErrEngineNotReady
	}

	claims, err := e.codec.Verify(refreshToken, token.UseRefresh, e.now())
	if err != nil {
		return ErrInvalidToken
	}

	revoked, err := e.adapter.TransitionRefreshRecord(ctx, claims.RID, StateActive, StateRevoked)
	if err != nil {
		return adapterErr(err)
	}

	e.metricInc(MetricSignOut)
	if revoked {
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditEventSignOut, true, claims.UID, claims.RID, nil, nil)
	return nil
}

// InvalidateUserSessions revokes every refresh record the user owns. Access
// tokens already in flight stay valid until their own expiry.
func (e *Engine) InvalidateUserSessions(ctx context.Context, userID string) error {
	if e == nil || e.adapter == nil {
		return ErrEngineNotReady
	}
	if err := e.adapter.RevokeAllForUser(ctx, userID); err != nil {
		return adapterErr(err)
	}
	e.metricInc(MetricSignOutAll)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventSignOutAll, true, userID, "", nil, nil)
	return nil
}

// DeleteUser removes the user from the store. The adapter cascade-revokes all
// of the user's refresh records as part of the same call.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	if e == nil || e.adapter == nil {
		return ErrEngineNotReady
	}
	if err := e.adapter.DeleteUser(ctx, userID); err != nil {
		return adapterErr(err)
	}
	e.metricInc(MetricUserDeleted)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventUserDeleted, true, userID, "", nil, nil)
	return nil
}

// ChangePassword swaps the hash behind a password binding after verifying the
// old password, then revokes all of the user's sessions. Requires an adapter
// implementing CredentialUpdater.
func (e *Engine) ChangePassword(ctx context.Context, method, identifier, oldPassword, newPassword string) error {
	if e == nil || e.adapter == nil {
		return ErrEngineNotReady
	}
	updater, ok := e.adapter.(CredentialUpdater)
	if !ok {
		return ErrNotSupported
	}
	if newPassword == "" {
		return errors.New("new password is required")
	}
	if newPassword == oldPassword {
		return errors.New("new password must differ from the old password")
	}

	user, err := e.adapter.GetUserByIdentifier(ctx, method, identifier)
	if err != nil {
		return adapterErr(err)
	}
	if user == nil {
		return ErrInvalidCredentials
	}
	binding, ok := user.Binding(method)
	if !ok || binding.PasswordHash == "" {
		return ErrInvalidCredentials
	}

	match, err := e.hasher.Verify(oldPassword, binding.PasswordHash)
	if err != nil {
		if errors.Is(err, password.ErrCorrupt) {
			return ErrCorruptCredential
		}
		return err
	}
	if !match {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFail, false, user.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "old_password_mismatch"}
		})
		return ErrInvalidCredentials
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := updater.UpdatePasswordHash(ctx, user.ID, method, newHash); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFail, false, user.ID, "", err, func() map[string]string {
			return map[string]string{"reason": "update_hash_failed"}
		})
		return adapterErr(err)
	}

	// A changed password orphans every outstanding session on purpose.
	if err := e.adapter.RevokeAllForUser(ctx, user.ID); err != nil {
		return adapterErr(err)
	}
	e.metricInc(MetricSessionInvalidated)

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, method, identifier, ClientIP(ctx)); err != nil {
			log.Print("authcore: login limiter reset failed after password change")
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChanged, true, user.ID, "", nil, nil)
	return nil
}

// SweepExpired deletes refresh records whose expiry has passed and returns
// how many were removed. Requires an adapter implementing ExpirySweeper.
func (e *Engine) SweepExpired(ctx context.Context) (int64, error) {
	if e == nil || e.adapter == nil {
		return 0, ErrEngineNotReady
	}
	sweeper, ok := e.adapter.(ExpirySweeper)
	if !ok {
		return 0, ErrNotSupported
	}
	n, err := sweeper.DeleteExpiredRecords(ctx, e.now())
	if err != nil {
		return 0, adapterErr(err)
	}
	if n > 0 {
		e.metrics.Add(MetricRecordsSwept, uint64(n))
	}
	e.emitAudit(ctx, auditEventSweep, true, "", "", nil, func() map[string]string {
		return map[string]string{"deleted": strconv.FormatInt(n, 10)}
	})
	return n, nil
}

func (e *Engine) loginFailure(ctx context.Context, method, identifier, userID, reason string) error {
	if e.limiter != nil {
		if err := e.limiter.RecordLoginFailure(ctx, method, identifier, ClientIP(ctx)); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, auditEventLoginRateLimited, false, userID, "", ErrLoginRateLimited, nil)
				return ErrLoginRateLimited
			}
			log.Print("authcore: login failure tracking failed")
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"method": method, "identifier": identifier, "reason": reason}
	})
	return ErrInvalidCredentials
}

// reuseDetected revokes the user's full session set and reports the replay.
// The revocation runs before the error returns so the caller cannot observe a
// window where sibling sessions still work.
func (e *Engine) reuseDetected(ctx context.Context, userID, recordID string) error {
	if err := e.adapter.RevokeAllForUser(ctx, userID); err != nil {
		e.emitAudit(ctx, auditEventReuseDetected, false, userID, recordID, err, func() map[string]string {
			return map[string]string{"reason": "revocation_failed"}
		})
		return adapterErr(err)
	}
	e.metricInc(MetricRefreshReuseDetected)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventReuseDetected, false, userID, recordID, ErrReuseDetected, nil)
	return ErrReuseDetected
}

func (e *Engine) newRecord(userID string, now time.Time) RefreshRecord {
	return RefreshRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     StateActive,
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.RefreshTokenTTL),
	}
}

func (e *Engine) issueSession(user User, record RefreshRecord, now time.Time) (*SessionResult, error) {
	access, err := e.codec.IssueAccess(user.ID, now)
	if err != nil {
		return nil, err
	}
	refresh, err := e.codec.IssueRefresh(record.ID, user.ID, now)
	if err != nil {
		return nil, err
	}
	return &SessionResult{
		User:         user.Sanitized(),
		AccessToken:  access,
		RefreshToken: refresh,
		Cookies:      e.sessionCookies(access, refresh),
	}, nil
}

func (e *Engine) resolveUser(ctx context.Context, userID string) (User, error) {
	if lookup, ok := e.adapter.(UserLookup); ok {
		user, err := lookup.GetUserByID(ctx, userID)
		if err != nil {
			return User{}, adapterErr(err)
		}
		if user != nil {
			return *user, nil
		}
	}
	return User{ID: userID}, nil
}
