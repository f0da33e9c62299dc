package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticSessions map[string]*models.Session

func (s staticSessions) Get(_ context.Context, id string) (*models.Session, error) {
	if id == "broken" {
		return nil, errors.New("redis down")
	}
	sess, ok := s[id]
	if !ok {
		return nil, services.ErrNoSession
	}
	return sess, nil
}

func protectedRouter() *gin.Engine {
	sessions := staticSessions{
		"admin-sid":  {ID: "admin-sid", UserID: "u-1", Role: models.RoleAdmin},
		"reader-sid": {ID: "reader-sid", UserID: "u-2", Role: "user"},
	}
	r := gin.New()
	r.GET("/admin", SessionRequired(sessions, "rw_session"), AdminRequired(models.RoleAdmin), func(c *gin.Context) {
		sess, _ := CurrentSession(c)
		c.String(http.StatusOK, sess.UserID+"/"+CurrentSessionID(c))
	})
	return r
}

func TestSessionRequired(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		cookie   string
		wantCode int
		wantBody string
	}{
		{name: "cookie", cookie: "admin-sid", wantCode: http.StatusOK, wantBody: "u-1/admin-sid"},
		{name: "bearer", header: "Bearer admin-sid", wantCode: http.StatusOK, wantBody: "u-1/admin-sid"},
		{name: "missing", wantCode: http.StatusUnauthorized, wantBody: `"code":40101`},
		{name: "bad scheme", header: "Basic abc", wantCode: http.StatusUnauthorized, wantBody: `"code":40102`},
		{name: "unknown", cookie: "nope", wantCode: http.StatusUnauthorized, wantBody: "Session expired - please sign in again"},
		{name: "store failure", header: "Bearer broken", wantCode: http.StatusServiceUnavailable, wantBody: `"code":50301`},
		{name: "not admin", cookie: "reader-sid", wantCode: http.StatusForbidden, wantBody: "Admin access required"},
	}
	r := protectedRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "rw_session", Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(4)
	r := gin.New()
	r.POST("/login", l.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	assert.Equal(t, 0, l.Sweep(time.Now()))
	assert.Equal(t, 1, l.Sweep(time.Now().Add(10*time.Minute)))
}

func TestPageViewCounterMemory(t *testing.T) {
	pv := NewPageViewCounter(nil)
	r := gin.New()
	r.Use(pv.Recorder())
	r.GET("/blog/:slug", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/posts", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/blog/hello", "/blog/hello", "/api/v1/posts", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	paths, total := pv.Day(context.Background(), time.Now())
	require.Equal(t, int64(2), total)
	assert.Equal(t, map[string]int64{"/blog/hello": 2}, paths)

	assert.Equal(t, 0, pv.Sweep(time.Now()))
	assert.Equal(t, 1, pv.Sweep(time.Now().Add(9*24*time.Hour)))
}
