// Package mcpservice exposes the building blocks for assembling an MCP
// server: capability interfaces discovered per session by the transport
// handler, container types that hold tools, prompts and resources, and the
// category routing layer that narrows what a session can see based on the
// route it connected through.
//
// Conventions used throughout this package:
//   - Capability discovery returns (cap, ok, err). ok == false means the
//     capability is absent for the session; err is reserved for failures
//     while determining support. A present-but-empty capability still
//     returns ok == true.
//   - Every method takes a context.Context and MUST honor cancellation.
//   - The sessions.Session value is the unit of isolation. Capability
//     implementations decide visibility per session and MUST be safe for
//     concurrent use.
//   - Pagination uses Page[T]; a nil cursor requests the first page.
package mcpservice

import (
	"context"

	"github.com/routeview/mcp-routing-go/mcp"
	"github.com/routeview/mcp-routing-go/sessions"
)

// ServerCapabilities is the root interface the transport handler drives. It
// is consulted once at initialize to advertise capabilities and again on each
// request to resolve the capability serving it.
type ServerCapabilities interface {
	// GetServerInfo returns the implementation info surfaced in initialize
	// results. It may be called repeatedly and should be cheap.
	GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)

	// GetPreferredProtocolVersion returns the server's preferred protocol
	// version. When ok is false the handler negotiates from the client's
	// requested version.
	GetPreferredProtocolVersion(ctx context.Context) (version string, ok bool, err error)

	// GetInstructions returns optional instructions included in the
	// initialize result. ok == false omits the field.
	GetInstructions(ctx context.Context, session sessions.Session) (instructions string, ok bool, err error)

	// GetToolsCapability returns the tools surface for the session, or
	// ok == false when the server does not serve tools to it.
	GetToolsCapability(ctx context.Context, session sessions.Session) (cap ToolsCapability, ok bool, err error)

	// GetPromptsCapability returns the prompts surface for the session, or
	// ok == false when the server does not serve prompts to it.
	GetPromptsCapability(ctx context.Context, session sessions.Session) (cap PromptsCapability, ok bool, err error)

	// GetResourcesCapability returns the resources surface for the session,
	// or ok == false when the server does not serve resources to it.
	GetResourcesCapability(ctx context.Context, session sessions.Session) (cap ResourcesCapability, ok bool, err error)
}

// ToolsCapability is the per-session tools surface. Implementations may be
// shared across sessions or scoped to one; either way they MUST be safe for
// concurrent use.
type ToolsCapability interface {
	// ListTools returns a page of the tools visible to the session. A nil
	// cursor requests the first page.
	ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes a named tool. Tools outside the session's view MUST
	// be treated as unknown.
	CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

	// GetListChangedCapability returns optional listChanged support. The
	// handler uses ok to decide whether to advertise it.
	GetListChangedCapability(ctx context.Context, session sessions.Session) (cap ToolListChangedCapability, ok bool, err error)
}

// NotifyToolsChangedFunc is invoked when the session's tool list changes.
type NotifyToolsChangedFunc func(ctx context.Context, session sessions.Session)

// ToolListChangedCapability registers a callback fired when the tool list
// changes. Register respects ctx cancellation to stop delivery.
type ToolListChangedCapability interface {
	Register(ctx context.Context, session sessions.Session, fn NotifyToolsChangedFunc) (ok bool, err error)
}

// PromptsCapability is the per-session prompts surface.
type PromptsCapability interface {
	// ListPrompts returns a page of the prompts visible to the session.
	ListPrompts(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Prompt], error)

	// GetPrompt materializes a named prompt. Prompts outside the session's
	// view MUST be treated as unknown.
	GetPrompt(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error)

	// GetListChangedCapability returns optional listChanged support.
	GetListChangedCapability(ctx context.Context, session sessions.Session) (cap PromptListChangedCapability, ok bool, err error)
}

// NotifyPromptsChangedFunc is invoked when the session's prompt list changes.
type NotifyPromptsChangedFunc func(ctx context.Context, session sessions.Session)

// PromptListChangedCapability registers a callback fired when the prompt list
// changes.
type PromptListChangedCapability interface {
	Register(ctx context.Context, session sessions.Session, fn NotifyPromptsChangedFunc) (ok bool, err error)
}

// ResourcesCapability is the per-session resources surface.
type ResourcesCapability interface {
	// ListResources returns a page of the resources visible to the session.
	ListResources(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Resource], error)

	// ListResourceTemplates returns a page of the resource templates visible
	// to the session.
	ListResourceTemplates(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error)

	// ReadResource returns the contents of a resource URI. URIs outside the
	// session's view MUST be treated as unknown.
	ReadResource(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error)

	// GetListChangedCapability returns optional listChanged support.
	GetListChangedCapability(ctx context.Context, session sessions.Session) (cap ResourceListChangedCapability, ok bool, err error)
}

// NotifyResourcesChangedFunc is invoked when the session's resource list
// changes. uri names the changed resource when known; the empty string means
// a general list change.
type NotifyResourcesChangedFunc func(ctx context.Context, session sessions.Session, uri string)

// ResourceListChangedCapability registers a callback fired when the resource
// list changes.
type ResourceListChangedCapability interface {
	Register(ctx context.Context, session sessions.Session, fn NotifyResourcesChangedFunc) (ok bool, err error)
}
