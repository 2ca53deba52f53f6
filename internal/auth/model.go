package auth

import "time"

type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	DisplayName         string
	AvatarURL           *string
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (u *User) IsLocked() bool {
	if u.LockedUntil == nil {
		return false
	}
	return time.Now().UTC().Before(*u.LockedUntil)
}

// CanLogin is computed, never stored: active and not currently locked.
func (u *User) CanLogin() bool {
	return u.IsActive && !u.IsLocked()
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
