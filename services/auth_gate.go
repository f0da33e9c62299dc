package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/utils"
)

const (
	OpSignIn       = "sign in"
	OpStartSession = "start session"

	rollbackTimeout = 10 * time.Second
)

// AuthGate admits a user to the admin area only after both the credential check and the
// role lookup succeed within their deadlines.
type AuthGate struct {
	client         backend.Client
	sessions       *SessionManager
	adminRole      string
	authTimeout    time.Duration
	profileTimeout time.Duration
}

func NewAuthGate(client backend.Client, sessions *SessionManager, c config.AppConfig) *AuthGate {
	role := c.AdminRole
	if role == "" {
		role = models.RoleAdmin
	}
	return &AuthGate{
		client:         client,
		sessions:       sessions,
		adminRole:      role,
		authTimeout:    secondsOr(c.AuthTimeoutSec, 15),
		profileTimeout: secondsOr(c.ProfileTimeoutSec, 10),
	}
}

func secondsOr(sec, def int) time.Duration {
	if sec <= 0 {
		sec = def
	}
	return time.Duration(sec) * time.Second
}

// Login verifies credentials and the admin role, then starts a session.
// Any failure after the credential check signs the new backend session out again.
func (g *AuthGate) Login(ctx context.Context, email, password string) (*models.Session, error) {
	email = strings.TrimSpace(email)

	sess, err := raceDeadline(ctx, g.authTimeout,
		func(ctx context.Context) (*models.Session, error) {
			return g.client.Authenticate(ctx, email, password)
		},
		g.rollback,
	)
	switch {
	case isDeadline(err):
		return nil, &AuthError{Kind: Timeout, Stage: StageCredentials, Err: err}
	case errors.Is(err, backend.ErrInvalidCredentials):
		return nil, &AuthError{Kind: InvalidCredentials, Stage: StageCredentials}
	case err != nil:
		return nil, &BackendError{Op: OpSignIn, Err: err}
	case sess == nil || sess.UserID == "":
		return nil, &AuthError{Kind: InvalidCredentials, Stage: StageCredentials}
	}

	profile, err := raceDeadline(ctx, g.profileTimeout,
		func(ctx context.Context) (*models.Profile, error) {
			return g.client.GetProfile(ctx, sess, sess.UserID)
		},
		nil,
	)
	if err != nil {
		g.rollback(sess)
		switch {
		case isDeadline(err):
			return nil, &AuthError{Kind: Timeout, Stage: StageProfile, Err: err}
		case errors.Is(err, context.Canceled):
			return nil, &BackendError{Op: OpSignIn, Err: err}
		}
		return nil, &AuthError{Kind: ProfileLookupFailed, Stage: StageProfile, Err: err}
	}
	if !profile.HasRole(g.adminRole) {
		g.rollback(sess)
		utils.Sugar.Infow("non-admin sign-in refused", "user_id", sess.UserID)
		return nil, &AuthError{Kind: Unauthorized, Stage: StageProfile}
	}

	sess.Role = profile.Role
	started, err := g.sessions.Begin(ctx, sess)
	if err != nil {
		g.rollback(sess)
		return nil, &BackendError{Op: OpStartSession, Err: err}
	}
	utils.Sugar.Infow("admin signed in", "user_id", started.UserID)
	return started, nil
}

// Logout ends the session identified by sid.
func (g *AuthGate) Logout(ctx context.Context, sid string) error {
	return g.sessions.End(ctx, sid)
}

// rollback signs a backend session out. It runs detached from the request context so a
// cancelled request still leaves nothing behind.
func (g *AuthGate) rollback(sess *models.Session) {
	if sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	if err := g.client.SignOut(ctx, sess); err != nil {
		utils.Sugar.Warnw("sign-out rollback failed", "user_id", sess.UserID, "error", err)
	}
}

// raceDeadline runs call under a deadline. If the deadline wins, the call's eventual
// result is handed to late (when set) and never returned.
func raceDeadline[T any](ctx context.Context, d time.Duration, call func(context.Context) (T, error), late func(T)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		cancel()
		return r.val, r.err
	case <-ctx.Done():
		err := ctx.Err()
		cancel()
		if late != nil {
			go func() {
				if r := <-done; r.err == nil {
					late(r.val)
				}
			}()
		}
		var zero T
		return zero, err
	}
}

// isDeadline is true only for an expired deadline. A cancelled caller is not a timeout.
func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
