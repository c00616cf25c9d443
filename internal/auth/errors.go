package auth

import "errors"

// Error is a user-facing authentication failure with a stable code.
// Every Error maps to HTTP 401.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

var (
	ErrMissingToken       = &Error{Code: "missing_token", Message: "refresh token is required"}
	ErrInvalidToken       = &Error{Code: "invalid_token", Message: "refresh token is invalid or expired"}
	ErrUserNotFound       = &Error{Code: "user_not_found", Message: "no active session matches this refresh token"}
	ErrRefreshExpired     = &Error{Code: "refresh_expired", Message: "session has expired, please sign in again"}
	ErrInvalidCredentials = &Error{Code: "invalid_credentials", Message: "email or password is incorrect"}
	ErrUnauthorized       = &Error{Code: "unauthorized", Message: "a valid access token is required"}
)

// AsError extracts the authentication error from a wrapped chain.
func AsError(err error) (*Error, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}
