package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/myrightwindow/rightwindow/services"
	"github.com/myrightwindow/rightwindow/utils"
)

// SettingsController reads and updates the signed-in admin's account.
type SettingsController struct {
	settings *services.SettingsService
}

func NewSettingsController(settings *services.SettingsService) *SettingsController {
	return &SettingsController{settings: settings}
}

// GetSettings returns the account email and display name.
func (s *SettingsController) GetSettings(ctx *gin.Context) {
	sess, ok := requireSession(ctx)
	if !ok {
		return
	}
	account, err := s.settings.Load(ctx.Request.Context(), sess)
	if err != nil {
		respondServiceError(ctx, err, 50220)
		return
	}
	utils.Success(ctx, account)
}

// UpdateSettings applies a password and/or display name change.
func (s *SettingsController) UpdateSettings(ctx *gin.Context) {
	sess, ok := requireSession(ctx)
	if !ok {
		return
	}
	var in services.SettingsInput
	if err := ctx.ShouldBindJSON(&in); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return
	}

	res, err := s.settings.Apply(ctx.Request.Context(), sess, &in)
	if err != nil {
		var valErr *services.ValidationError
		if errors.As(err, &valErr) {
			respondServiceError(ctx, err, 50221)
			return
		}
		// a password change that went through before the failure stays reported
		status, code := classify(err, 50221)
		utils.Respond(ctx, status, code, services.UserMessage(err), res)
		return
	}
	utils.SuccessMessage(ctx, res.Message, res)
}
