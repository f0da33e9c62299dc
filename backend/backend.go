// Package backend adapts the hosted backend-as-a-service (auth, tables, object storage and
// realtime change feeds) behind one contract, with a self-hosted implementation of the same
// contract for development and single-box deployments.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/utils"
)

var (
	// ErrInvalidCredentials is returned when the email/password pair is rejected.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSessionExpired is returned when the access token is no longer accepted.
	ErrSessionExpired = errors.New("session expired")
	// ErrNotConfigured is returned by features disabled through configuration.
	ErrNotConfigured = errors.New("backend not configured")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (status %d, code %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// ChangeType enumerates row change kinds delivered by a subscription.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent notifies that a row of Table changed. Consumers re-fetch rather than patch.
type ChangeEvent struct {
	Table    string
	Type     ChangeType
	RecordID string
	At       time.Time
}

// Subscription is a live change feed. Events is closed after Unsubscribe returns
// or when the underlying connection is lost.
type Subscription interface {
	Events() <-chan ChangeEvent
	Unsubscribe() error
}

// ProfileFields lists the profile columns an update may touch; nil pointers are left alone.
type ProfileFields struct {
	FullName  *string
	UpdatedAt time.Time
}

// PostFields lists the post columns an update may touch; nil pointers are left alone.
type PostFields struct {
	Published *bool
	UpdatedAt time.Time
}

// Client is the backend contract. Every data call runs under the caller's session;
// a nil session means anonymous access.
type Client interface {
	Authenticate(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context, sess *models.Session) error
	// Refresh trades the session's refresh token for a new access token. The returned
	// session carries the new tokens; ErrSessionExpired means the refresh token is spent.
	Refresh(ctx context.Context, sess *models.Session) (*models.Session, error)
	UpdatePassword(ctx context.Context, sess *models.Session, newPassword string) error

	GetProfile(ctx context.Context, sess *models.Session, userID string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, sess *models.Session, userID string, fields ProfileFields) error

	ListPosts(ctx context.Context, sess *models.Session, includeUnpublished bool) ([]models.Post, error)
	GetPost(ctx context.Context, sess *models.Session, id string) (*models.Post, error)
	GetPostBySlug(ctx context.Context, sess *models.Session, slug string) (*models.Post, error)
	UpdatePost(ctx context.Context, sess *models.Session, id string, fields PostFields) error
	// DeletePost succeeds when the row is already gone.
	DeletePost(ctx context.Context, sess *models.Session, id string) error

	// DeleteStorageObjects treats keys that do not exist as removed.
	DeleteStorageObjects(ctx context.Context, sess *models.Session, bucket string, keys []string) error

	Subscribe(ctx context.Context, sess *models.Session, table string) (Subscription, error)
}

// FromConfig builds the client selected by BackendDriver.
func FromConfig(c config.AppConfig) (Client, error) {
	switch c.BackendDriver {
	case config.BackendSupabase, "":
		return NewSupabase(c), nil
	case config.BackendDirect:
		gdb := config.InitDatabase(DirectModels()...)
		return NewDirect(gdb, c, NewBroker(utils.GetRedis())), nil
	default:
		return nil, fmt.Errorf("unknown backend driver %q", c.BackendDriver)
	}
}

// renewed copies sess with the tokens of fresh. A refresh token is kept when none was reissued.
func renewed(sess, fresh *models.Session) *models.Session {
	out := *sess
	out.AccessToken = fresh.AccessToken
	out.ExpiresAt = fresh.ExpiresAt
	if fresh.RefreshToken != "" {
		out.RefreshToken = fresh.RefreshToken
	}
	return &out
}

func sessionToken(sess *models.Session) string {
	if sess == nil {
		return ""
	}
	return sess.AccessToken
}
