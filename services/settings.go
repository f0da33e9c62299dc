package services

import (
	"context"
	"strings"
	"time"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/utils"
)

const (
	MsgBothUpdated     = "Profile and password updated successfully!"
	MsgPasswordUpdated = "Password updated successfully! You can use it on next login."
	MsgProfileUpdated  = "Profile updated successfully!"
	MsgNoChanges       = "No changes were made"
)

// SettingsInput is one submission of the account settings form. Apply clears the password
// fields once the new password has been accepted.
type SettingsInput struct {
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
	DisplayName     string `json:"full_name"`
}

// SettingsResult reports which parts of a submission were applied.
type SettingsResult struct {
	PasswordUpdated bool   `json:"password_updated"`
	ProfileUpdated  bool   `json:"profile_updated"`
	Message         string `json:"message"`
}

// AccountSettings is the read-only view of the signed-in account.
type AccountSettings struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// SettingsService updates the display name and password of the signed-in admin.
type SettingsService struct {
	client backend.Client
	now    func() time.Time
}

func NewSettingsService(client backend.Client) *SettingsService {
	return &SettingsService{client: client, now: time.Now}
}

// Load reads the account's display name.
func (s *SettingsService) Load(ctx context.Context, sess *models.Session) (*AccountSettings, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	profile, err := s.client.GetProfile(ctx, sess, sess.UserID)
	if err != nil {
		return nil, &BackendError{Op: OpLoadProfile, Err: err}
	}
	return &AccountSettings{Email: sess.Email, FullName: profile.FullName}, nil
}

// Apply runs the password change and then the name change, each only when requested.
// The first failure stops the submission; a change applied before it stays applied.
func (s *SettingsService) Apply(ctx context.Context, sess *models.Session, in *SettingsInput) (*SettingsResult, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	res := &SettingsResult{}

	if in.NewPassword != "" || in.ConfirmPassword != "" {
		password, err := validatePassword(in.NewPassword, in.ConfirmPassword)
		if err != nil {
			return res, err
		}
		if err := s.client.UpdatePassword(ctx, sess, password); err != nil {
			return res, &BackendError{Op: OpUpdatePassword, Err: err}
		}
		in.NewPassword, in.ConfirmPassword = "", ""
		res.PasswordUpdated = true
		utils.Sugar.Infow("account password changed", "user_id", sess.UserID)
	}

	if name := strings.TrimSpace(in.DisplayName); name != "" {
		err := s.client.UpdateProfile(ctx, sess, sess.UserID, backend.ProfileFields{FullName: &name, UpdatedAt: s.now().UTC()})
		if err != nil {
			res.Message = resultMessage(res)
			return res, &BackendError{Op: OpUpdateProfile, Err: err}
		}
		res.ProfileUpdated = true
	}

	res.Message = resultMessage(res)
	return res, nil
}

func validatePassword(newPassword, confirmPassword string) (string, error) {
	p := strings.TrimSpace(newPassword)
	c := strings.TrimSpace(confirmPassword)
	switch {
	case p == "" || c == "":
		return "", &ValidationError{Field: "password", Message: "Both password fields are required"}
	case p != c:
		return "", &ValidationError{Field: "confirm_password", Message: "Passwords do not match"}
	case !utils.PasswordLongEnough(p):
		return "", &ValidationError{Field: "password", Message: "Password must be at least 8 characters"}
	}
	return p, nil
}

func resultMessage(r *SettingsResult) string {
	switch {
	case r.PasswordUpdated && r.ProfileUpdated:
		return MsgBothUpdated
	case r.PasswordUpdated:
		return MsgPasswordUpdated
	case r.ProfileUpdated:
		return MsgProfileUpdated
	default:
		return MsgNoChanges
	}
}
