package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_CanLogin(t *testing.T) {
	t.Run("active unlocked user can log in", func(t *testing.T) {
		u := &User{IsActive: true}
		assert.False(t, u.IsLocked())
		assert.True(t, u.CanLogin())
	})

	t.Run("future lockout blocks login", func(t *testing.T) {
		lockedUntil := time.Now().UTC().Add(30 * time.Minute)
		u := &User{IsActive: true, LockedUntil: &lockedUntil}

		assert.True(t, u.IsLocked())
		assert.False(t, u.CanLogin())
	})

	t.Run("elapsed lockout unlocks without any write", func(t *testing.T) {
		lockedUntil := time.Now().UTC().Add(-time.Second)
		u := &User{IsActive: true, FailedLoginAttempts: 5, LockedUntil: &lockedUntil}

		assert.False(t, u.IsLocked())
		assert.True(t, u.CanLogin())
	})

	t.Run("inactive user cannot log in even unlocked", func(t *testing.T) {
		u := &User{IsActive: false}
		assert.False(t, u.CanLogin())
	})
}
