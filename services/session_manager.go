package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/utils"
)

// refreshLeeway is how long before access-token expiry a session is refreshed.
const refreshLeeway = time.Minute

// SessionManager owns the lifecycle of admin sessions: it starts one after a successful
// sign-in, renews its access token while the session lasts and tears it down on sign-out
// or when the token can no longer be renewed.
type SessionManager struct {
	client    backend.Client
	store     SessionStore
	ttl       time.Duration
	now       func() time.Time
	refreshes singleflight.Group
}

func NewSessionManager(client backend.Client, store SessionStore, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{client: client, store: store, ttl: ttl, now: time.Now}
}

// Begin assigns a fresh id to sess and stores it for the configured TTL. A session without
// a refresh token cannot outlive its access token, so its TTL is capped at the token expiry.
func (m *SessionManager) Begin(ctx context.Context, sess *models.Session) (*models.Session, error) {
	sess.ID = uuid.NewString()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = m.now()
	}
	ttl := m.remaining(sess)
	if !sess.ExpiresAt.IsZero() && sess.RefreshToken == "" {
		if left := sess.ExpiresAt.Sub(m.now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return nil, ErrNoSession
	}
	if err := m.store.Save(ctx, sess, ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

// remaining is what is left of the session lifetime counted from its creation.
func (m *SessionManager) remaining(sess *models.Session) time.Duration {
	return sess.CreatedAt.Add(m.ttl).Sub(m.now())
}

// Get returns the live session for id. An access token close to expiry is refreshed once;
// a session whose token is expired and cannot be refreshed is torn down and reported as ErrNoSession.
func (m *SessionManager) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, ErrNoSession
	}
	sess, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if m.remaining(sess) <= 0 {
		m.teardown(ctx, sess)
		return nil, ErrNoSession
	}
	if sess.ExpiresAt.IsZero() || now.Before(sess.ExpiresAt.Add(-refreshLeeway)) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		if sess.Expired(now) {
			m.teardown(ctx, sess)
			return nil, ErrNoSession
		}
		return sess, nil
	}

	renewed, err := m.refresh(ctx, sess)
	if err != nil {
		if sess.Expired(now) {
			utils.Sugar.Infow("session refresh failed, signing out", "user_id", sess.UserID, "error", err)
			m.teardown(ctx, sess)
			return nil, ErrNoSession
		}
		utils.Sugar.Warnw("session refresh failed, token still valid", "user_id", sess.UserID, "error", err)
		return sess, nil
	}
	return renewed, nil
}

// refresh renews the access token of sess and stores the result. Concurrent requests on
// the same session share one backend call.
func (m *SessionManager) refresh(ctx context.Context, sess *models.Session) (*models.Session, error) {
	v, err, _ := m.refreshes.Do(sess.ID, func() (interface{}, error) {
		renewed, err := m.client.Refresh(ctx, sess)
		if err != nil {
			return nil, err
		}
		renewed.ID = sess.ID
		renewed.Role = sess.Role
		renewed.CreatedAt = sess.CreatedAt
		ttl := m.remaining(renewed)
		if ttl <= 0 {
			return nil, backend.ErrSessionExpired
		}
		if err := m.store.Save(ctx, renewed, ttl); err != nil {
			return nil, err
		}
		utils.Sugar.Debugw("session refreshed", "user_id", renewed.UserID, "expires_at", renewed.ExpiresAt)
		return renewed, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Session), nil
}

// End signs the session out of the backend and forgets it. Unknown ids are a no-op.
func (m *SessionManager) End(ctx context.Context, id string) error {
	sess, err := m.store.Load(ctx, id)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	m.teardown(ctx, sess)
	return nil
}

func (m *SessionManager) teardown(ctx context.Context, sess *models.Session) {
	if err := m.store.Delete(ctx, sess.ID); err != nil {
		utils.Sugar.Warnw("failed to delete session", "user_id", sess.UserID, "error", err)
	}
	if err := m.client.SignOut(ctx, sess); err != nil {
		utils.Sugar.Warnw("backend sign-out failed", "user_id", sess.UserID, "error", err)
	}
}
