package sessions

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned by hosts when a session ID is unknown or has
// expired.
var ErrSessionNotFound = errors.New("sessions: session not found")

// Metadata is the persisted representation of a session. RouteValues holds
// the named route parameters captured when the connection was established;
// they are immutable for the session's lifetime, which is what lets filtering
// run once at session start and never again.
type Metadata struct {
	SessionID       string            `json:"session_id"`
	UserID          string            `json:"user_id"`
	ProtocolVersion string            `json:"protocol_version,omitempty"`
	Client          ClientInfo        `json:"client,omitempty"`
	RouteValues     map[string]string `json:"route_values,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	TTL             time.Duration     `json:"ttl,omitempty"`
}

// SessionHost persists session metadata and transports per-session ordered
// messages. Implementations MUST be safe for concurrent use across sessions;
// per-session ordering of published messages MUST be preserved.
type SessionHost interface {
	// SaveSession stores metadata for a new session. Hosts SHOULD expire the
	// record after meta.TTL when it is non-zero.
	SaveSession(ctx context.Context, meta Metadata) error
	// LoadSession returns the stored metadata, or ErrSessionNotFound.
	LoadSession(ctx context.Context, sessionID string) (Metadata, error)
	// DeleteSession removes the session and its message stream. Deleting an
	// unknown session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// PublishSession appends data to the session's ordered stream and returns
	// the assigned event ID. Publishing to an unknown, expired or deleted
	// session returns ErrSessionNotFound; it MUST NOT recreate the session.
	PublishSession(ctx context.Context, sessionID string, data []byte) (eventID string, err error)
	// SubscribeSession delivers messages after lastEventID (empty = new only)
	// to handler until ctx ends or handler errors. Unknown sessions return
	// ErrSessionNotFound.
	SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler MessageHandlerFunc) error
}
