package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/services"
	"github.com/myrightwindow/rightwindow/utils"
)

const (
	// ContextSessionKey stores the resolved *models.Session inside Gin context.
	ContextSessionKey = "session"
	// ContextSessionIDKey stores the opaque session id the request presented.
	ContextSessionIDKey = "session_id"
)

// SessionResolver looks a session up by its opaque id.
type SessionResolver interface {
	Get(ctx context.Context, id string) (*models.Session, error)
}

// SessionRequired resolves the session from the cookie named cookieName or from an
// "Authorization: Bearer <session id>" header.
func SessionRequired(sessions SessionResolver, cookieName string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sid, code, msg := sessionID(ctx, cookieName)
		if sid == "" {
			utils.Abort(ctx, http.StatusUnauthorized, code, msg)
			return
		}

		sess, err := sessions.Get(ctx.Request.Context(), sid)
		switch {
		case errors.Is(err, services.ErrNoSession):
			utils.Abort(ctx, http.StatusUnauthorized, 40104, services.UserMessage(err))
			return
		case err != nil:
			utils.Sugar.Errorw("session lookup failed", "error", err)
			utils.Abort(ctx, http.StatusServiceUnavailable, 50301, "session store unavailable")
			return
		}

		ctx.Set(ContextSessionKey, sess)
		ctx.Set(ContextSessionIDKey, sid)
		ctx.Next()
	}
}

// AdminRequired refuses sessions whose role is not role. It must run after SessionRequired.
func AdminRequired(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sess, ok := CurrentSession(ctx)
		if !ok {
			utils.Abort(ctx, http.StatusUnauthorized, 40101, "session missing")
			return
		}
		if sess.Role != role {
			utils.Abort(ctx, http.StatusForbidden, 40301, "Unauthorized: Admin access required")
			return
		}
		ctx.Next()
	}
}

// CurrentSession returns the session stored by SessionRequired.
func CurrentSession(ctx *gin.Context) (*models.Session, bool) {
	v, ok := ctx.Get(ContextSessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*models.Session)
	return sess, ok && sess != nil
}

// CurrentSessionID returns the session id stored by SessionRequired.
func CurrentSessionID(ctx *gin.Context) string {
	return ctx.GetString(ContextSessionIDKey)
}

func sessionID(ctx *gin.Context, cookieName string) (string, int, string) {
	if authHeader := ctx.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", 40102, "invalid authorization header format"
		}
		sid := strings.TrimSpace(parts[1])
		if sid == "" {
			return "", 40103, "empty bearer token"
		}
		return sid, 0, ""
	}
	if sid, err := ctx.Cookie(cookieName); err == nil && sid != "" {
		return sid, 0, ""
	}
	return "", 40101, "session missing"
}
