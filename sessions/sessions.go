// Package sessions defines the session abstraction the category-routed server
// is built on. A Session is created once per client connection at initialize
// time and carries the identity, negotiated protocol version and routing
// values captured from the connection. Hosts persist session metadata and
// provide ordered per-session messaging so deployments can span multiple
// nodes.
package sessions

import "context"

// Session represents a negotiated MCP session. Implementations MUST be safe
// for concurrent use.
type Session interface {
	SessionID() string
	UserID() string
	// ProtocolVersion is the MCP protocol version negotiated at initialize.
	ProtocolVersion() string

	// ConsumeMessages replays and then follows the session's ordered message
	// stream, starting after lastEventID (empty means only new messages).
	ConsumeMessages(ctx context.Context, lastEventID string, handler MessageHandlerFunc) error
	// WriteMessage appends a message to the session's stream.
	WriteMessage(ctx context.Context, msg []byte) error
}

// RouteCarrier is implemented by sessions that were established through a
// routed endpoint. RouteParam returns the captured value of a named route
// parameter; ok is false when the connection did not carry that parameter.
type RouteCarrier interface {
	RouteParam(name string) (value string, ok bool)
}

// MessageHandlerFunc handles ordered messages from a session stream. A
// non-nil error terminates the subscription with that error.
type MessageHandlerFunc func(ctx context.Context, msgID string, msg []byte) error

// ClientInfo records the client identity supplied at initialize, kept for
// logging only.
type ClientInfo struct {
	Name    string
	Version string
}
