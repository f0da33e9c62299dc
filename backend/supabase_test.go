package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/models"
)

func newTestSupabase(t *testing.T, h http.HandlerFunc) *Supabase {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewSupabase(config.AppConfig{
		SupabaseURL:             srv.URL,
		SupabaseAnonKey:         "anon-key",
		PostsTable:              "blogs",
		ProfilesTable:           "user_profiles",
		RealtimeEventsPerSecond: 10,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSupabaseAuthenticate(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Unix()
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ada@example.com", body["email"])
		assert.Equal(t, "secret12", body["password"])

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "user-token",
			"refresh_token": "refresh",
			"token_type":    "bearer",
			"expires_at":    expiresAt,
			"user":          map[string]string{"id": "u-1", "email": "ada@example.com"},
		})
	})

	sess, err := s.Authenticate(context.Background(), "ada@example.com", "secret12")
	require.NoError(t, err)
	assert.Equal(t, "u-1", sess.UserID)
	assert.Equal(t, "ada@example.com", sess.Email)
	assert.Equal(t, "user-token", sess.AccessToken)
	assert.Equal(t, expiresAt, sess.ExpiresAt.Unix())
}

func TestSupabaseAuthenticateRefusals(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        map[string]interface{}
		wantInvalid bool
	}{
		{
			name:        "legacy invalid grant",
			status:      http.StatusBadRequest,
			body:        map[string]interface{}{"error": "invalid_grant", "error_description": "Invalid login credentials"},
			wantInvalid: true,
		},
		{
			name:        "invalid credentials code",
			status:      http.StatusBadRequest,
			body:        map[string]interface{}{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"},
			wantInvalid: true,
		},
		{
			name:        "numeric code only",
			status:      http.StatusBadRequest,
			body:        map[string]interface{}{"code": 400, "msg": "Invalid login credentials"},
			wantInvalid: true,
		},
		{
			name:   "email not confirmed",
			status: http.StatusBadRequest,
			body:   map[string]interface{}{"code": 400, "error_code": "email_not_confirmed", "msg": "Email not confirmed"},
		},
		{
			name:   "legacy email not confirmed",
			status: http.StatusBadRequest,
			body:   map[string]interface{}{"error": "invalid_grant", "error_description": "Email not confirmed"},
		},
		{
			name:   "validation failure",
			status: http.StatusBadRequest,
			body:   map[string]interface{}{"code": 400, "error_code": "validation_failed", "msg": "missing email or phone"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := s.Authenticate(context.Background(), "ada@example.com", "wrong")
			require.Error(t, err)
			if tt.wantInvalid {
				assert.ErrorIs(t, err, ErrInvalidCredentials)
				return
			}
			assert.NotErrorIs(t, err, ErrInvalidCredentials)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
		})
	}
}

func TestSupabaseRefresh(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Unix()
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["refresh_token"] != "refresh-1" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token: Refresh Token Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "token-2",
			"refresh_token": "refresh-2",
			"expires_at":    expiresAt,
			"user":          map[string]string{"id": "u-1", "email": "ada@example.com"},
		})
	})

	old := &models.Session{ID: "sid", UserID: "u-1", Role: "admin", AccessToken: "token-1", RefreshToken: "refresh-1", ExpiresAt: time.Now()}
	sess, err := s.Refresh(context.Background(), old)
	require.NoError(t, err)
	assert.Equal(t, "sid", sess.ID)
	assert.Equal(t, "admin", sess.Role)
	assert.Equal(t, "token-2", sess.AccessToken)
	assert.Equal(t, "refresh-2", sess.RefreshToken)
	assert.Equal(t, expiresAt, sess.ExpiresAt.Unix())
	assert.Equal(t, "token-1", old.AccessToken)

	_, err = s.Refresh(context.Background(), &models.Session{RefreshToken: "spent"})
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = s.Refresh(context.Background(), &models.Session{AccessToken: "token-1"})
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSupabaseListPosts(t *testing.T) {
	sess := &models.Session{UserID: "u-1", AccessToken: "user-token"}

	tests := []struct {
		name               string
		sess               *models.Session
		includeUnpublished bool
		wantAuth           string
		wantPublished      string
	}{
		{name: "drafts included", sess: sess, includeUnpublished: true, wantAuth: "Bearer user-token"},
		{name: "published only", sess: nil, includeUnpublished: false, wantAuth: "Bearer anon-key", wantPublished: "eq.true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/rest/v1/blogs", r.URL.Path)
				assert.Equal(t, "created_at.desc", r.URL.Query().Get("order"))
				assert.Equal(t, tt.wantPublished, r.URL.Query().Get("published"))
				assert.Equal(t, tt.wantAuth, r.Header.Get("Authorization"))
				writeJSON(w, http.StatusOK, []map[string]interface{}{
					{"id": "p-2", "title": "Second", "published": true, "images": []string{}},
					{"id": "p-1", "title": "First", "published": false, "images": []string{"https://x/storage/v1/object/public/images/a.png"}},
				})
			})

			posts, err := s.ListPosts(context.Background(), tt.sess, tt.includeUnpublished)
			require.NoError(t, err)
			require.Len(t, posts, 2)
			assert.Equal(t, "p-2", posts[0].ID)
			assert.Len(t, posts[1].Images, 1)
		})
	}
}

func TestSupabaseUpdatePost(t *testing.T) {
	published := true
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("patches the row", func(t *testing.T) {
		s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, "eq.p-1", r.URL.Query().Get("id"))
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, true, body["published"])
			assert.Equal(t, "2024-05-01T12:00:00Z", body["updated_at"])
			writeJSON(w, http.StatusOK, []map[string]string{{"id": "p-1"}})
		})
		err := s.UpdatePost(context.Background(), &models.Session{AccessToken: "t"}, "p-1", PostFields{Published: &published, UpdatedAt: at})
		assert.NoError(t, err)
	})

	t.Run("missing row", func(t *testing.T) {
		s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []map[string]string{})
		})
		err := s.UpdatePost(context.Background(), &models.Session{AccessToken: "t"}, "gone", PostFields{Published: &published, UpdatedAt: at})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSupabaseDeleteStorageObjects(t *testing.T) {
	var calls int
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/storage/v1/object/images", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"prefixes":["a.png","b.png"]}`, string(raw))
		writeJSON(w, http.StatusNotFound, map[string]string{"statusCode": "404", "error": "not_found", "message": "Object not found"})
	})

	err := s.DeleteStorageObjects(context.Background(), &models.Session{AccessToken: "t"}, "images", []string{"a.png", "b.png"})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)

	assert.NoError(t, s.DeleteStorageObjects(context.Background(), nil, "images", nil))
	assert.Equal(t, 1, calls)
}

func TestSupabaseErrors(t *testing.T) {
	t.Run("expired token", func(t *testing.T) {
		s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "PGRST301", "message": "JWT expired"})
		})
		_, err := s.GetProfile(context.Background(), &models.Session{AccessToken: "old"}, "u-1")
		assert.ErrorIs(t, err, ErrSessionExpired)
	})

	t.Run("server failure", func(t *testing.T) {
		s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "XX000", "message": "boom"})
		})
		err := s.DeletePost(context.Background(), &models.Session{AccessToken: "t"}, "p-1")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
		assert.Equal(t, "XX000", apiErr.Code)
		assert.Equal(t, "boom", apiErr.Message)
	})

	t.Run("missing profile", func(t *testing.T) {
		s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []map[string]string{})
		})
		_, err := s.GetProfile(context.Background(), &models.Session{AccessToken: "t"}, "u-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSupabaseSignOutIgnoresExpiredSession(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/logout", r.URL.Path)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
	})
	assert.NoError(t, s.SignOut(context.Background(), &models.Session{AccessToken: "old"}))
	assert.NoError(t, s.SignOut(context.Background(), nil))
}

func TestSupabasePlaceholderDisablesRealtime(t *testing.T) {
	s := NewSupabase(config.AppConfig{SupabaseURL: "https://placeholder.supabase.co", SupabaseAnonKey: "placeholder-key"})

	sub, err := s.Subscribe(context.Background(), nil, "blogs")
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	_, open := <-sub.Events()
	assert.False(t, open)
	assert.NoError(t, sub.Unsubscribe())
}
