package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_TokenState(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.False(t, (&User{}).TokenExpired(now), "missing expiry counts as valid")
	assert.True(t, (&User{TokenExpiry: &past}).TokenExpired(now))
	assert.True(t, (&User{TokenExpiry: &now}).TokenExpired(now))
	assert.False(t, (&User{TokenExpiry: &future}).TokenExpired(now))

	assert.False(t, (&User{AccessToken: "a"}).HasCredentials())
	assert.True(t, (&User{AccessToken: "a", RefreshToken: "r"}).HasCredentials())
}
