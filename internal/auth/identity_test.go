package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIdentity(t *testing.T) {
	userID := uuid.New()

	t.Run("valid claims", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims:  jwt.RegisteredClaims{Subject: userID.String()},
			PreferredUsername: "alice",
		}
		id, err := ResolveIdentity(claims)
		require.NoError(t, err)
		assert.Equal(t, userID, id.UserID)
		assert.Equal(t, "alice", id.Username)
	})

	t.Run("subject not a UUID", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims:  jwt.RegisteredClaims{Subject: "not-a-uuid"},
			PreferredUsername: "alice",
		}
		_, err := ResolveIdentity(claims)
		assert.ErrorIs(t, err, ErrMissingSubject)
	})

	t.Run("missing subject", func(t *testing.T) {
		claims := &Claims{PreferredUsername: "alice"}
		_, err := ResolveIdentity(claims)
		assert.ErrorIs(t, err, ErrMissingSubject)
	})

	t.Run("missing username", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()},
		}
		_, err := ResolveIdentity(claims)
		assert.ErrorIs(t, err, ErrMissingUsername)
	})
}
