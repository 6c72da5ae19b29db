package mcpservice

import (
	"context"

	"github.com/routeview/mcp-routing-go/mcp"
	"github.com/routeview/mcp-routing-go/sessions"
)

// ServerOption configures the ServerCapabilities built by NewServer.
// Options apply in order; options that wrap previously configured
// capabilities (such as WithCategoryRouting) must come after the options
// that set them.
type ServerOption func(*server)

type server struct {
	staticInfo   *mcp.ImplementationInfo
	infoProvider func(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)

	staticProtocolVersion string

	staticInstructions   *string
	instructionsProvider func(ctx context.Context, session sessions.Session) (string, bool, error)

	toolsProvider     func(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error)
	promptsProvider   func(ctx context.Context, session sessions.Session) (PromptsCapability, bool, error)
	resourcesProvider func(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error)
}

// NewServer assembles a ServerCapabilities from functional options. Static
// values and per-session providers can be mixed freely; a capability with
// neither is simply absent.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets static implementation info.
func WithServerInfo(name, version string) ServerOption {
	info := mcp.ImplementationInfo{Name: name, Version: version}
	return func(s *server) { s.staticInfo = &info }
}

// WithServerInfoProvider sets a per-session provider for implementation info.
func WithServerInfoProvider(fn func(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)) ServerOption {
	return func(s *server) { s.infoProvider = fn }
}

// WithPreferredProtocolVersion sets the protocol version the server prefers
// during negotiation.
func WithPreferredProtocolVersion(version string) ServerOption {
	return func(s *server) { s.staticProtocolVersion = version }
}

// WithInstructions sets static instructions returned at initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *server) { s.staticInstructions = &instr }
}

// WithInstructionsProvider sets a per-session provider for instructions.
func WithInstructionsProvider(fn func(ctx context.Context, session sessions.Session) (string, bool, error)) ServerOption {
	return func(s *server) { s.instructionsProvider = fn }
}

// WithToolsCapability wires a tools capability used for all sessions. A
// *ToolsContainer can be passed directly.
func WithToolsCapability(cap ToolsCapability) ServerOption {
	return func(s *server) {
		s.toolsProvider = func(context.Context, sessions.Session) (ToolsCapability, bool, error) {
			return cap, cap != nil, nil
		}
	}
}

// WithToolsProvider wires a per-session tools capability provider.
func WithToolsProvider(fn func(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error)) ServerOption {
	return func(s *server) { s.toolsProvider = fn }
}

// WithPromptsCapability wires a prompts capability used for all sessions. A
// *PromptsContainer can be passed directly.
func WithPromptsCapability(cap PromptsCapability) ServerOption {
	return func(s *server) {
		s.promptsProvider = func(context.Context, sessions.Session) (PromptsCapability, bool, error) {
			return cap, cap != nil, nil
		}
	}
}

// WithPromptsProvider wires a per-session prompts capability provider.
func WithPromptsProvider(fn func(ctx context.Context, session sessions.Session) (PromptsCapability, bool, error)) ServerOption {
	return func(s *server) { s.promptsProvider = fn }
}

// WithResourcesCapability wires a resources capability used for all sessions.
// A *ResourcesContainer or *FSResources can be passed directly.
func WithResourcesCapability(cap ResourcesCapability) ServerOption {
	return func(s *server) {
		s.resourcesProvider = func(context.Context, sessions.Session) (ResourcesCapability, bool, error) {
			return cap, cap != nil, nil
		}
	}
}

// WithResourcesProvider wires a per-session resources capability provider.
func WithResourcesProvider(fn func(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error)) ServerOption {
	return func(s *server) { s.resourcesProvider = fn }
}

// GetServerInfo implements ServerCapabilities.
func (s *server) GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error) {
	if s.infoProvider != nil {
		return s.infoProvider(ctx, session)
	}
	if s.staticInfo != nil {
		return *s.staticInfo, nil
	}
	return mcp.ImplementationInfo{}, nil
}

// GetPreferredProtocolVersion implements ServerCapabilities.
func (s *server) GetPreferredProtocolVersion(ctx context.Context) (string, bool, error) {
	if s.staticProtocolVersion != "" {
		return s.staticProtocolVersion, true, nil
	}
	return "", false, nil
}

// GetInstructions implements ServerCapabilities.
func (s *server) GetInstructions(ctx context.Context, session sessions.Session) (string, bool, error) {
	if s.instructionsProvider != nil {
		return s.instructionsProvider(ctx, session)
	}
	if s.staticInstructions != nil {
		return *s.staticInstructions, true, nil
	}
	return "", false, nil
}

// GetToolsCapability implements ServerCapabilities.
func (s *server) GetToolsCapability(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error) {
	if s.toolsProvider == nil {
		return nil, false, nil
	}
	return s.toolsProvider(ctx, session)
}

// GetPromptsCapability implements ServerCapabilities.
func (s *server) GetPromptsCapability(ctx context.Context, session sessions.Session) (PromptsCapability, bool, error) {
	if s.promptsProvider == nil {
		return nil, false, nil
	}
	return s.promptsProvider(ctx, session)
}

// GetResourcesCapability implements ServerCapabilities.
func (s *server) GetResourcesCapability(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error) {
	if s.resourcesProvider == nil {
		return nil, false, nil
	}
	return s.resourcesProvider(ctx, session)
}
