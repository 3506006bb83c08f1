package auth

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Identity is a stable reference to an authenticated user, independent of
// display name and of any connection.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

var (
	// ErrMissingSubject means the token carried no usable subject claim.
	ErrMissingSubject = errors.New("subject claim missing or not a valid UUID")
	// ErrMissingUsername means the token carried no preferred_username claim.
	ErrMissingUsername = errors.New("preferred_username claim missing")
)

// ResolveIdentity extracts the stable user id and display name from verified
// claims. Resolution failure aborts connection establishment: a connection
// without a full identity is never registered.
func ResolveIdentity(claims *Claims) (Identity, error) {
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %q", ErrMissingSubject, claims.Subject)
	}
	if claims.PreferredUsername == "" {
		return Identity{}, ErrMissingUsername
	}
	return Identity{UserID: userID, Username: claims.PreferredUsername}, nil
}
