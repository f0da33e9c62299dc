package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/middleware"
	"github.com/myrightwindow/rightwindow/services"
	"github.com/myrightwindow/rightwindow/utils"
)

// AuthController handles admin sign-in and sign-out.
type AuthController struct {
	gate       *services.AuthGate
	cookieName string
	secure     bool
	ttl        time.Duration
}

func NewAuthController(gate *services.AuthGate, c config.AppConfig) *AuthController {
	ttl := time.Duration(c.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthController{gate: gate, cookieName: c.SessionCookieName, secure: c.SecureCookies, ttl: ttl}
}

type sessionView struct {
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login checks credentials and the admin role, then sets the session cookie.
// Repeated credential failures from one address earn a temporary ban.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "email and password are required")
		return
	}

	ip := ctx.ClientIP()
	if utils.LoginIsBanned(ip) {
		utils.Error(ctx, http.StatusTooManyRequests, 42902, "too many failed sign-in attempts, try again later")
		return
	}

	sess, err := a.gate.Login(ctx.Request.Context(), req.Email, req.Password)
	if err != nil {
		var authErr *services.AuthError
		if errors.As(err, &authErr) && authErr.Kind == services.InvalidCredentials {
			if n := utils.LoginFailRecord(ip); n > 1 {
				utils.Sugar.Infow("repeated sign-in failure", "ip", ip, "failures", n)
			}
		}
		respondServiceError(ctx, err, 50202)
		return
	}
	utils.LoginFailReset(ip)

	maxAge := a.ttl
	if !sess.ExpiresAt.IsZero() && sess.RefreshToken == "" {
		if left := time.Until(sess.ExpiresAt); left < maxAge {
			maxAge = left
		}
	}
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(a.cookieName, sess.ID, int(maxAge.Seconds()), "/", "", a.secure, true)

	utils.Success(ctx, sessionView{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Email:     sess.Email,
		Role:      sess.Role,
		ExpiresAt: sess.ExpiresAt,
	})
}

// Logout ends the current session and clears the cookie.
func (a *AuthController) Logout(ctx *gin.Context) {
	sid := middleware.CurrentSessionID(ctx)
	if err := a.gate.Logout(ctx.Request.Context(), sid); err != nil {
		utils.Sugar.Warnw("logout failed", "error", err)
		utils.Error(ctx, http.StatusServiceUnavailable, 50301, "session store unavailable")
		return
	}
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(a.cookieName, "", -1, "/", "", a.secure, true)
	utils.SuccessMessage(ctx, "signed out", nil)
}

// Me describes the current session.
func (a *AuthController) Me(ctx *gin.Context) {
	sess, ok := requireSession(ctx)
	if !ok {
		return
	}
	utils.Success(ctx, sessionView{
		UserID:    sess.UserID,
		Email:     sess.Email,
		Role:      sess.Role,
		ExpiresAt: sess.ExpiresAt,
	})
}
