package services

import (
	"errors"
	"fmt"
)

// AuthFailure classifies why a sign-in attempt was refused.
type AuthFailure int

const (
	InvalidCredentials AuthFailure = iota + 1
	Timeout
	ProfileLookupFailed
	Unauthorized
)

// AuthStage names the step of sign-in that failed.
type AuthStage string

const (
	StageCredentials AuthStage = "credentials"
	StageProfile     AuthStage = "profile"
)

// AuthError is returned by AuthGate.Login. No session survives an AuthError.
type AuthError struct {
	Kind  AuthFailure
	Stage AuthStage
	Err   error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.message(), e.Err)
	}
	return e.message()
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) message() string {
	switch e.Kind {
	case InvalidCredentials:
		return "Invalid login credentials"
	case Timeout:
		if e.Stage == StageProfile {
			return "Profile check timeout - please try again"
		}
		return "Login timeout - please try again"
	case ProfileLookupFailed:
		return "Failed to verify admin access"
	case Unauthorized:
		return "Unauthorized: Admin access required"
	default:
		return "Login failed"
	}
}

// ValidationError reports input rejected before any backend call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// BackendError wraps a failed backend call with the operation that issued it.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *BackendError) Unwrap() error { return e.Err }

// PartialDeleteError means storage objects of a post were removed but its row was not.
// The post may now reference missing files.
type PartialDeleteError struct {
	PostID  string
	Removed []string
	Err     error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("post %s: storage objects removed but row deletion failed: %v", e.PostID, e.Err)
}

func (e *PartialDeleteError) Unwrap() error { return e.Err }

var (
	// ErrDeleteCancelled is returned when the confirmation step declines.
	ErrDeleteCancelled = errors.New("delete cancelled")
	// ErrNoSession is returned when a workflow runs without a live session.
	ErrNoSession = errors.New("no active session")
)

// Operations reported in BackendError.Op and used to prefix user messages.
const (
	OpListPosts      = "list posts"
	OpLoadPost       = "load blog"
	OpTogglePublish  = "update blog"
	OpDeletePost     = "delete blog"
	OpUpdatePassword = "update password"
	OpUpdateProfile  = "update profile"
	OpLoadProfile    = "load profile"
)

// UserMessage converts a workflow error into the text shown to the operator.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.message()
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return "Error: " + valErr.Message
	}
	var partial *PartialDeleteError
	if errors.As(err, &partial) {
		return "Error deleting blog: " + cause(partial.Err) + " (files were already removed)"
	}
	if errors.Is(err, ErrDeleteCancelled) {
		return "Delete cancelled"
	}
	if errors.Is(err, ErrNoSession) {
		return "Session expired - please sign in again"
	}
	if errors.Is(err, ErrFeedLost) {
		return "Live updates interrupted - reconnecting"
	}
	var beErr *BackendError
	if errors.As(err, &beErr) {
		switch beErr.Op {
		case OpDeletePost:
			return "Error deleting blog: " + cause(beErr.Err)
		case OpTogglePublish:
			return "Error updating blog: " + cause(beErr.Err)
		case OpUpdatePassword, OpUpdateProfile:
			return "Error: " + cause(beErr.Err)
		default:
			return "Error: " + beErr.Op + " failed: " + cause(beErr.Err)
		}
	}
	return "Error: " + err.Error()
}

func cause(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
