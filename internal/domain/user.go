package domain

import "time"

// User owns subscriptions and the rotating refresh credential.
type User struct {
	ID               string
	Name             string
	Email            string
	PasswordHash     string
	RefreshJTI       *string
	RefreshExpiresAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RefreshExpired reports whether the server-side refresh credential has
// lapsed. A user without an expiry stamp has no usable credential.
func (u *User) RefreshExpired(now time.Time) bool {
	if u == nil || u.RefreshExpiresAt == nil {
		return true
	}
	return !now.Before(*u.RefreshExpiresAt)
}
