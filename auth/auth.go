// Package auth defines the authentication contract the transport handler
// depends on. Implementations validate bearer tokens and yield the principal
// a session gets bound to.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized indicates missing or invalid credentials.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates valid credentials without the required
// scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// UserInfo is an authenticated principal. Implementations are lightweight
// and safe for concurrent use.
type UserInfo interface {
	// UserID returns the principal's unique identifier.
	UserID() string
	// Claims unmarshals the principal's claims into ref.
	Claims(ref any) error
}

// Authenticator validates a bearer token. Invalid credentials return an
// error wrapping ErrUnauthorized.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}
