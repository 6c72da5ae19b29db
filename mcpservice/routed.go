package mcpservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/routeview/mcp-routing-go/mcp"
	"github.com/routeview/mcp-routing-go/routing"
	"github.com/routeview/mcp-routing-go/sessions"
)

// ToolDefSource is implemented by tools capabilities that expose their defs
// with routing tags. *ToolsContainer implements it; capabilities that do not
// are treated as holding only uncategorized items.
type ToolDefSource interface {
	Defs() []ToolDef
}

// PromptDefSource is the prompts counterpart of ToolDefSource.
type PromptDefSource interface {
	Defs() []PromptDef
}

// ResourceDefSource is the resources counterpart of ToolDefSource.
type ResourceDefSource interface {
	Defs() []ResourceDef
	TemplateDefs() []ResourceTemplateDef
}

// WithCategoryRouting narrows each session's view of tools, prompts and
// resources to the category the session connected through. The category is
// read once per session from the route parameter named by opts.RouteParam
// (sessions carry it via sessions.RouteCarrier); because route values are
// immutable for a session's lifetime, the view is stable for as long as the
// underlying containers are.
//
// Visibility follows routing.IsVisible: a categorized item is visible only
// on its categories' routes, an uncategorized item according to
// opts.Uncategorized. Items hidden from a session are absent from its lists
// and unknown to call, get and read dispatch. Capabilities that do not
// expose tagged defs are treated as all-uncategorized and are shown or
// hidden wholesale.
//
// This option wraps the capabilities configured before it, so it must come
// after WithToolsCapability and friends in the option list.
func WithCategoryRouting(opts routing.Options) ServerOption {
	opts = opts.Normalized()
	return func(s *server) {
		if prior := s.toolsProvider; prior != nil {
			s.toolsProvider = func(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error) {
				cap, ok, err := prior(ctx, session)
				if err != nil || !ok {
					return nil, ok, err
				}
				return routeTools(cap, session, opts), true, nil
			}
		}
		if prior := s.promptsProvider; prior != nil {
			s.promptsProvider = func(ctx context.Context, session sessions.Session) (PromptsCapability, bool, error) {
				cap, ok, err := prior(ctx, session)
				if err != nil || !ok {
					return nil, ok, err
				}
				return routePrompts(cap, session, opts), true, nil
			}
		}
		if prior := s.resourcesProvider; prior != nil {
			s.resourcesProvider = func(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error) {
				cap, ok, err := prior(ctx, session)
				if err != nil || !ok {
					return nil, ok, err
				}
				return routeResources(cap, session, opts), true, nil
			}
		}
	}
}

// routeValue extracts the session's requested category. routed is false for
// sessions that did not arrive through a categorized route, including
// sessions that carry no route values at all.
func routeValue(session sessions.Session, param string) (requested string, routed bool) {
	rc, ok := session.(sessions.RouteCarrier)
	if !ok {
		return "", false
	}
	v, ok := rc.RouteParam(param)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func routeTools(cap ToolsCapability, session sessions.Session, opts routing.Options) ToolsCapability {
	requested, routed := routeValue(session, opts.RouteParam)
	if !routed && opts.PassthroughWhenUnrouted {
		return cap
	}
	src, tagged := cap.(ToolDefSource)
	if !tagged {
		if routing.IsVisible(routing.CategorySet{}, requested, opts) {
			return cap
		}
		return &routedTools{src: cap, hidden: true}
	}
	return &routedTools{src: cap, defs: src, requested: requested, opts: opts}
}

// routedTools is the filtered per-session tools view. The visible subset is
// derived from the live def set on each use so container mutations stay
// coherent with listChanged notifications.
type routedTools struct {
	src       ToolsCapability
	defs      ToolDefSource
	requested string
	opts      routing.Options
	hidden    bool
}

func (t *routedTools) visible() []ToolDef {
	if t.hidden || t.defs == nil {
		return nil
	}
	all := t.defs.Defs()
	out := make([]ToolDef, 0, len(all))
	for _, d := range all {
		if routing.IsVisible(routing.ResolveCategories(d.Tags), t.requested, t.opts) {
			out = append(out, d)
		}
	}
	return out
}

func (t *routedTools) ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error) {
	defs := t.visible()
	all := make([]mcp.Tool, len(defs))
	for i, d := range defs {
		all[i] = d.Descriptor
	}
	return pageOf(all, cursor, defaultPageSize), nil
}

func (t *routedTools) CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	for _, d := range t.visible() {
		if d.Descriptor.Name == req.Name {
			if d.Handler == nil {
				return nil, fmt.Errorf("tool not found: %s", req.Name)
			}
			return d.Handler(ctx, session, req)
		}
	}
	// Hidden tools are indistinguishable from unknown ones.
	return nil, fmt.Errorf("tool not found: %s", req.Name)
}

func (t *routedTools) GetListChangedCapability(ctx context.Context, session sessions.Session) (ToolListChangedCapability, bool, error) {
	// A wholesale-hidden view never shows items, so it advertises no
	// listChanged capability either.
	if t.hidden {
		return nil, false, nil
	}
	return t.src.GetListChangedCapability(ctx, session)
}

func routePrompts(cap PromptsCapability, session sessions.Session, opts routing.Options) PromptsCapability {
	requested, routed := routeValue(session, opts.RouteParam)
	if !routed && opts.PassthroughWhenUnrouted {
		return cap
	}
	src, tagged := cap.(PromptDefSource)
	if !tagged {
		if routing.IsVisible(routing.CategorySet{}, requested, opts) {
			return cap
		}
		return &routedPrompts{src: cap, hidden: true}
	}
	return &routedPrompts{src: cap, defs: src, requested: requested, opts: opts}
}

type routedPrompts struct {
	src       PromptsCapability
	defs      PromptDefSource
	requested string
	opts      routing.Options
	hidden    bool
}

func (p *routedPrompts) visible() []PromptDef {
	if p.hidden || p.defs == nil {
		return nil
	}
	all := p.defs.Defs()
	out := make([]PromptDef, 0, len(all))
	for _, d := range all {
		if routing.IsVisible(routing.ResolveCategories(d.Tags), p.requested, p.opts) {
			out = append(out, d)
		}
	}
	return out
}

func (p *routedPrompts) ListPrompts(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Prompt], error) {
	defs := p.visible()
	all := make([]mcp.Prompt, len(defs))
	for i, d := range defs {
		all[i] = d.Descriptor
	}
	return pageOf(all, cursor, defaultPageSize), nil
}

func (p *routedPrompts) GetPrompt(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid prompt request: missing name")
	}
	for _, d := range p.visible() {
		if d.Descriptor.Name == req.Name {
			if d.Handler == nil {
				return nil, fmt.Errorf("prompt not found: %s", req.Name)
			}
			return d.Handler(ctx, session, req)
		}
	}
	return nil, fmt.Errorf("prompt not found: %s", req.Name)
}

func (p *routedPrompts) GetListChangedCapability(ctx context.Context, session sessions.Session) (PromptListChangedCapability, bool, error) {
	if p.hidden {
		return nil, false, nil
	}
	return p.src.GetListChangedCapability(ctx, session)
}

func routeResources(cap ResourcesCapability, session sessions.Session, opts routing.Options) ResourcesCapability {
	requested, routed := routeValue(session, opts.RouteParam)
	if !routed && opts.PassthroughWhenUnrouted {
		return cap
	}
	src, tagged := cap.(ResourceDefSource)
	if !tagged {
		if routing.IsVisible(routing.CategorySet{}, requested, opts) {
			return cap
		}
		return &routedResources{src: cap, hidden: true}
	}
	return &routedResources{src: cap, defs: src, requested: requested, opts: opts}
}

type routedResources struct {
	src       ResourcesCapability
	defs      ResourceDefSource
	requested string
	opts      routing.Options
	hidden    bool
}

func (r *routedResources) visible() []ResourceDef {
	if r.hidden || r.defs == nil {
		return nil
	}
	all := r.defs.Defs()
	out := make([]ResourceDef, 0, len(all))
	for _, d := range all {
		if routing.IsVisible(routing.ResolveCategories(d.Tags), r.requested, r.opts) {
			out = append(out, d)
		}
	}
	return out
}

func (r *routedResources) visibleTemplates() []ResourceTemplateDef {
	if r.hidden || r.defs == nil {
		return nil
	}
	all := r.defs.TemplateDefs()
	out := make([]ResourceTemplateDef, 0, len(all))
	for _, d := range all {
		if routing.IsVisible(routing.ResolveCategories(d.Tags), r.requested, r.opts) {
			out = append(out, d)
		}
	}
	return out
}

func (r *routedResources) ListResources(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Resource], error) {
	defs := r.visible()
	all := make([]mcp.Resource, len(defs))
	for i, d := range defs {
		all[i] = d.Descriptor
	}
	return pageOf(all, cursor, defaultPageSize), nil
}

func (r *routedResources) ListResourceTemplates(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error) {
	defs := r.visibleTemplates()
	all := make([]mcp.ResourceTemplate, len(defs))
	for i, d := range defs {
		all[i] = d.Descriptor
	}
	return pageOf(all, cursor, defaultPageSize), nil
}

func (r *routedResources) ReadResource(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error) {
	for _, d := range r.visible() {
		if d.Descriptor.URI == uri {
			return r.src.ReadResource(ctx, session, uri)
		}
	}
	return nil, fmt.Errorf("resource not found: %s", uri)
}

func (r *routedResources) GetListChangedCapability(ctx context.Context, session sessions.Session) (ResourceListChangedCapability, bool, error) {
	if r.hidden {
		return nil, false, nil
	}
	return r.src.GetListChangedCapability(ctx, session)
}
