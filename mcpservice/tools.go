package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/routeview/mcp-routing-go/mcp"
	"github.com/routeview/mcp-routing-go/routing"
	"github.com/routeview/mcp-routing-go/sessions"
)

// ToolHandler handles a tool invocation.
type ToolHandler func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// ToolDef pairs a tool descriptor with its handler and the routing tags that
// place it in zero or more categories. A def with no category tags is
// uncategorized.
type ToolDef struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
	Tags       []routing.Tag
}

// Categories returns the tool's resolved category labels in stable order.
func (d ToolDef) Categories() []string { return routing.CategoriesOf(d.Tags) }

// BelongsTo reports whether the tool belongs to the named category under the
// options' case sensitivity.
func (d ToolDef) BelongsTo(label string, opts routing.Options) bool {
	return routing.BelongsTo(d.Tags, label, opts)
}

// ToolRequest carries a tool call's typed arguments plus the raw payload.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	tags                      []routing.Tag
	allowAdditionalProperties bool
}

// WithToolDescription sets the description shown in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolCategory places the tool in the named category. May be repeated
// for multi-category tools.
func WithToolCategory(label string) ToolOption {
	return func(c *toolConfig) { c.tags = append(c.tags, routing.Category(label)) }
}

// WithToolLegacyCategory records a legacy category assignment. It is
// ignored when the tool also carries WithToolCategory.
func WithToolLegacyCategory(label string) ToolOption {
	return func(c *toolConfig) { c.tags = append(c.tags, routing.LegacyCategory(label)) }
}

// WithToolTags appends raw routing tags. Mostly useful when tags are built
// programmatically.
func WithToolTags(tags ...routing.Tag) ToolOption {
	return func(c *toolConfig) { c.tags = append(c.tags, tags...) }
}

// WithToolAllowAdditionalProperties controls unknown-field handling. When
// false (the default) the generated schema sets additionalProperties=false
// and decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a ToolDef from a typed argument struct A. The input schema
// is reflected from A, and the handler decodes arguments before invoking fn
// with a response writer.
func NewTool[A any](name string, fn func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) ToolDef {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectToolInputSchema[A](cfg.allowAdditionalProperties),
	}
	handler := func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 {
			if cfg.allowAdditionalProperties {
				if err := json.Unmarshal(req.Arguments, &a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			} else {
				dec := json.NewDecoder(bytes.NewReader(req.Arguments))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			}
		}
		w := newToolResponseWriter()
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, session, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}
	return ToolDef{Descriptor: desc, Handler: handler, Tags: cfg.tags}
}

// reflectToolInputSchema reflects A into the simplified wire schema. Only
// object schemas map onto tool input; anything else becomes an empty object.
func reflectToolInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}
	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}
	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// ToolsContainer owns a mutable, threadsafe set of tool defs. It implements
// ToolsCapability directly and ChangeSubscriber for listChanged support, so
// it can be passed straight to WithToolsCapability.
type ToolsContainer struct {
	mu   sync.RWMutex
	defs []ToolDef

	notifier ChangeNotifier
	pageSize int
}

// NewToolsContainer builds a container holding defs.
func NewToolsContainer(defs ...ToolDef) *ToolsContainer {
	tc := &ToolsContainer{pageSize: defaultPageSize}
	tc.Replace(context.Background(), defs...)
	return tc
}

// ProvideTools lets the container act as its own per-session provider. An
// empty container is present-but-empty, not absent.
func (tc *ToolsContainer) ProvideTools(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error) {
	return tc, true, nil
}

// SetPageSize adjusts the ListTools page size. Non-positive values are
// ignored.
func (tc *ToolsContainer) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	tc.mu.Lock()
	tc.pageSize = n
	tc.mu.Unlock()
}

// Defs returns a copy of the current defs in declaration order.
func (tc *ToolsContainer) Defs() []ToolDef {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]ToolDef, len(tc.defs))
	copy(out, tc.defs)
	return out
}

// Replace atomically swaps the entire tool set. Later defs win on duplicate
// names.
func (tc *ToolsContainer) Replace(_ context.Context, defs ...ToolDef) {
	tc.mu.Lock()
	tc.defs = append(tc.defs[:0], defs...)
	tc.mu.Unlock()
	go func() { _ = tc.notifier.Notify(context.Background()) }()
}

// Add registers a tool unless its name is already taken. Reports whether it
// was added.
func (tc *ToolsContainer) Add(_ context.Context, def ToolDef) bool {
	if def.Descriptor.Name == "" {
		return false
	}
	tc.mu.Lock()
	for _, d := range tc.defs {
		if d.Descriptor.Name == def.Descriptor.Name {
			tc.mu.Unlock()
			return false
		}
	}
	tc.defs = append(tc.defs, def)
	tc.mu.Unlock()
	go func() { _ = tc.notifier.Notify(context.Background()) }()
	return true
}

// Remove deletes a tool by name. Reports whether anything was removed.
func (tc *ToolsContainer) Remove(_ context.Context, name string) bool {
	tc.mu.Lock()
	n := 0
	removed := false
	for _, d := range tc.defs {
		if d.Descriptor.Name == name {
			removed = true
			continue
		}
		tc.defs[n] = d
		n++
	}
	tc.defs = tc.defs[:n]
	tc.mu.Unlock()
	if removed {
		go func() { _ = tc.notifier.Notify(context.Background()) }()
	}
	return removed
}

// Subscriber implements ChangeSubscriber.
func (tc *ToolsContainer) Subscriber() <-chan struct{} { return tc.notifier.Subscriber() }

// ListTools implements ToolsCapability.
func (tc *ToolsContainer) ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error) {
	tc.mu.RLock()
	all := make([]mcp.Tool, len(tc.defs))
	for i, d := range tc.defs {
		all[i] = d.Descriptor
	}
	size := tc.pageSize
	tc.mu.RUnlock()
	return pageOf(all, cursor, size), nil
}

// CallTool implements ToolsCapability.
func (tc *ToolsContainer) CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	var h ToolHandler
	tc.mu.RLock()
	for _, d := range tc.defs {
		if d.Descriptor.Name == req.Name {
			h = d.Handler
			break
		}
	}
	tc.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("tool not found: %s", req.Name)
	}
	return h(ctx, session, req)
}

// GetListChangedCapability implements ToolsCapability; containers always
// support listChanged.
func (tc *ToolsContainer) GetListChangedCapability(ctx context.Context, session sessions.Session) (ToolListChangedCapability, bool, error) {
	return toolsListChangedFromSubscriber{sub: tc}, true, nil
}

type toolsListChangedFromSubscriber struct{ sub ChangeSubscriber }

func (t toolsListChangedFromSubscriber) Register(ctx context.Context, session sessions.Session, fn NotifyToolsChangedFunc) (bool, error) {
	if t.sub == nil || fn == nil {
		return false, nil
	}
	ch := t.sub.Subscriber()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				fn(ctx, session)
			}
		}
	}()
	return true, nil
}

// TextResult builds a single-text-block tool result.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
}

// Errorf builds an isError tool result with a formatted message.
func Errorf(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
