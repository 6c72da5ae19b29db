package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidSession indicates the session does not exist, has expired, or is
// not bound to the presenting user.
var ErrInvalidSession = errors.New("sessions: invalid session")

// Manager creates and loads sessions on top of a SessionHost.
type Manager struct {
	host SessionHost
	ttl  time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionTTL sets the idle TTL applied to created sessions. Zero means
// host-defined (typically no expiry for the in-memory host).
func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.ttl = ttl }
}

// NewManager builds a session manager. A nil host is a configuration error
// and is rejected here, at startup, rather than surfacing mid-session.
func NewManager(host SessionHost, opts ...ManagerOption) (*Manager, error) {
	if host == nil {
		return nil, fmt.Errorf("sessions: host is required")
	}
	m := &Manager{host: host}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SessionOption configures session creation.
type SessionOption func(*Metadata)

// WithProtocolVersion records the negotiated protocol version.
func WithProtocolVersion(v string) SessionOption {
	return func(md *Metadata) { md.ProtocolVersion = v }
}

// WithClientInfo records the connecting client's identity.
func WithClientInfo(info ClientInfo) SessionOption {
	return func(md *Metadata) { md.Client = info }
}

// WithRouteValues records the named route parameters captured from the
// connection (e.g. the category path segment). The map is copied.
func WithRouteValues(values map[string]string) SessionOption {
	return func(md *Metadata) {
		if len(values) == 0 {
			return
		}
		md.RouteValues = make(map[string]string, len(values))
		for k, v := range values {
			md.RouteValues[k] = v
		}
	}
}

// CreateSession mints a new session bound to userID and persists its
// metadata.
func (m *Manager) CreateSession(ctx context.Context, userID string, opts ...SessionOption) (Session, error) {
	md := Metadata{
		SessionID: uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		TTL:       m.ttl,
	}
	for _, opt := range opts {
		opt(&md)
	}
	if err := m.host.SaveSession(ctx, md); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return &session{meta: md, host: m.host}, nil
}

// LoadSession resolves an existing session and verifies it belongs to userID.
func (m *Manager) LoadSession(ctx context.Context, sessionID, userID string) (Session, error) {
	md, err := m.host.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if md.UserID != userID {
		return nil, ErrInvalidSession
	}
	return &session{meta: md, host: m.host}, nil
}

// DeleteSession removes a session and its stream.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.host.DeleteSession(ctx, sessionID)
}

var (
	_ Session      = (*session)(nil)
	_ RouteCarrier = (*session)(nil)
)

type session struct {
	meta Metadata
	host SessionHost
}

func (s *session) SessionID() string       { return s.meta.SessionID }
func (s *session) UserID() string          { return s.meta.UserID }
func (s *session) ProtocolVersion() string { return s.meta.ProtocolVersion }

func (s *session) RouteParam(name string) (string, bool) {
	v, ok := s.meta.RouteValues[name]
	return v, ok
}

func (s *session) ConsumeMessages(ctx context.Context, lastEventID string, handler MessageHandlerFunc) error {
	return s.host.SubscribeSession(ctx, s.meta.SessionID, lastEventID, handler)
}

func (s *session) WriteMessage(ctx context.Context, msg []byte) error {
	_, err := s.host.PublishSession(ctx, s.meta.SessionID, msg)
	return err
}
