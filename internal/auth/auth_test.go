package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	svc := NewService("test-secret")

	t.Run("should round-trip a valid token", func(t *testing.T) {
		token, err := svc.IssueToken("ops", RoleAdmin, time.Hour)
		require.NoError(t, err)

		claims, err := svc.VerifyToken(token)
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, claims.Role)
		assert.Equal(t, "ops", claims.Subject)
	})

	t.Run("should accept a Bearer prefix", func(t *testing.T) {
		token, err := svc.IssueToken("ops", RoleScheduler, time.Hour)
		require.NoError(t, err)

		_, err = svc.VerifyToken("Bearer " + token)
		assert.NoError(t, err)
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		token, err := svc.IssueToken("ops", RoleAdmin, -time.Minute)
		require.NoError(t, err)

		_, err = svc.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		other := NewService("other-secret")
		token, err := other.IssueToken("ops", RoleAdmin, time.Hour)
		require.NoError(t, err)

		_, err = svc.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		_, err := svc.VerifyToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRequireRewardRun(t *testing.T) {
	assert.NoError(t, (&Claims{Role: RoleAdmin}).RequireRewardRun())
	assert.NoError(t, (&Claims{Role: RoleScheduler}).RequireRewardRun())
	assert.ErrorIs(t, (&Claims{Role: "viewer"}).RequireRewardRun(), ErrForbidden)
}
