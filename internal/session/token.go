package session

import (
	"github.com/google/uuid"
)

// NewToken allocates a fresh, unguessable session token.
func NewToken() string {
	return uuid.NewString()
}

// validToken reports whether s has the shape of a token issued by NewToken.
func validToken(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
