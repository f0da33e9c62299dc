package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/middleware"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/services"
	"github.com/myrightwindow/rightwindow/utils"
)

// respondServiceError maps a workflow error onto a status, an error code and the
// operator-facing message. fallbackCode is used for plain backend failures.
func respondServiceError(ctx *gin.Context, err error, fallbackCode int) {
	status, code := classify(err, fallbackCode)
	msg := services.UserMessage(err)
	if code == 40104 {
		msg = services.UserMessage(services.ErrNoSession)
	}
	if status >= http.StatusInternalServerError {
		utils.Sugar.Warnw("request failed", "path", ctx.FullPath(), "error", err)
	}
	utils.Error(ctx, status, code, msg)
}

func classify(err error, fallbackCode int) (int, int) {
	var authErr *services.AuthError
	if errors.As(err, &authErr) {
		switch authErr.Kind {
		case services.InvalidCredentials:
			return http.StatusUnauthorized, 40110
		case services.Timeout:
			return http.StatusGatewayTimeout, 50401
		case services.Unauthorized:
			return http.StatusForbidden, 40310
		default:
			return http.StatusBadGateway, 50201
		}
	}
	var valErr *services.ValidationError
	var partial *services.PartialDeleteError
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest, 40020
	case errors.Is(err, services.ErrDeleteCancelled):
		return http.StatusConflict, 40901
	case errors.Is(err, services.ErrNoSession), errors.Is(err, backend.ErrSessionExpired):
		return http.StatusUnauthorized, 40104
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, services.ErrUnknownPost):
		return http.StatusNotFound, 40410
	case errors.As(err, &partial):
		return http.StatusInternalServerError, 50010
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden {
		return http.StatusForbidden, 40320
	}
	return http.StatusBadGateway, fallbackCode
}

func requireSession(ctx *gin.Context) (*models.Session, bool) {
	sess, ok := middleware.CurrentSession(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40101, "session missing")
	}
	return sess, ok
}
