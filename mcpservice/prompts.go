package mcpservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/routeview/mcp-routing-go/mcp"
	"github.com/routeview/mcp-routing-go/routing"
	"github.com/routeview/mcp-routing-go/sessions"
)

// PromptHandler materializes a prompt get request into messages.
type PromptHandler func(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error)

// PromptDef pairs a prompt descriptor with its handler and routing tags.
type PromptDef struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
	Tags       []routing.Tag
}

// Categories returns the prompt's resolved category labels in stable order.
func (d PromptDef) Categories() []string { return routing.CategoriesOf(d.Tags) }

// BelongsTo reports whether the prompt belongs to the named category under
// the options' case sensitivity.
func (d PromptDef) BelongsTo(label string, opts routing.Options) bool {
	return routing.BelongsTo(d.Tags, label, opts)
}

// PromptOption configures NewPrompt.
type PromptOption func(*promptConfig)

type promptConfig struct {
	description string
	arguments   []mcp.PromptArgument
	tags        []routing.Tag
}

// WithPromptDescription sets the description shown in listings.
func WithPromptDescription(desc string) PromptOption {
	return func(c *promptConfig) { c.description = desc }
}

// WithPromptArgument declares an argument the prompt accepts.
func WithPromptArgument(name, desc string, required bool) PromptOption {
	return func(c *promptConfig) {
		c.arguments = append(c.arguments, mcp.PromptArgument{Name: name, Description: desc, Required: required})
	}
}

// WithPromptCategory places the prompt in the named category. May be
// repeated.
func WithPromptCategory(label string) PromptOption {
	return func(c *promptConfig) { c.tags = append(c.tags, routing.Category(label)) }
}

// WithPromptLegacyCategory records a legacy category assignment, ignored
// when WithPromptCategory is also present.
func WithPromptLegacyCategory(label string) PromptOption {
	return func(c *promptConfig) { c.tags = append(c.tags, routing.LegacyCategory(label)) }
}

// NewPrompt builds a PromptDef.
func NewPrompt(name string, fn PromptHandler, opts ...PromptOption) PromptDef {
	cfg := promptConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return PromptDef{
		Descriptor: mcp.Prompt{Name: name, Description: cfg.description, Arguments: cfg.arguments},
		Handler:    fn,
		Tags:       cfg.tags,
	}
}

// PromptsContainer owns a mutable, threadsafe set of prompt defs. It
// implements PromptsCapability directly and ChangeSubscriber for listChanged
// support.
type PromptsContainer struct {
	mu   sync.RWMutex
	defs []PromptDef

	notifier ChangeNotifier
	pageSize int
}

// NewPromptsContainer builds a container holding defs.
func NewPromptsContainer(defs ...PromptDef) *PromptsContainer {
	pc := &PromptsContainer{pageSize: defaultPageSize}
	pc.Replace(context.Background(), defs...)
	return pc
}

// ProvidePrompts lets the container act as its own per-session provider.
func (pc *PromptsContainer) ProvidePrompts(ctx context.Context, session sessions.Session) (PromptsCapability, bool, error) {
	return pc, true, nil
}

// Defs returns a copy of the current defs in declaration order.
func (pc *PromptsContainer) Defs() []PromptDef {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	out := make([]PromptDef, len(pc.defs))
	copy(out, pc.defs)
	return out
}

// Replace atomically swaps the entire prompt set.
func (pc *PromptsContainer) Replace(_ context.Context, defs ...PromptDef) {
	pc.mu.Lock()
	pc.defs = append(pc.defs[:0], defs...)
	pc.mu.Unlock()
	go func() { _ = pc.notifier.Notify(context.Background()) }()
}

// Add registers a prompt unless its name is already taken.
func (pc *PromptsContainer) Add(_ context.Context, def PromptDef) bool {
	if def.Descriptor.Name == "" {
		return false
	}
	pc.mu.Lock()
	for _, d := range pc.defs {
		if d.Descriptor.Name == def.Descriptor.Name {
			pc.mu.Unlock()
			return false
		}
	}
	pc.defs = append(pc.defs, def)
	pc.mu.Unlock()
	go func() { _ = pc.notifier.Notify(context.Background()) }()
	return true
}

// Remove deletes a prompt by name.
func (pc *PromptsContainer) Remove(_ context.Context, name string) bool {
	pc.mu.Lock()
	n := 0
	removed := false
	for _, d := range pc.defs {
		if d.Descriptor.Name == name {
			removed = true
			continue
		}
		pc.defs[n] = d
		n++
	}
	pc.defs = pc.defs[:n]
	pc.mu.Unlock()
	if removed {
		go func() { _ = pc.notifier.Notify(context.Background()) }()
	}
	return removed
}

// Subscriber implements ChangeSubscriber.
func (pc *PromptsContainer) Subscriber() <-chan struct{} { return pc.notifier.Subscriber() }

// ListPrompts implements PromptsCapability.
func (pc *PromptsContainer) ListPrompts(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Prompt], error) {
	pc.mu.RLock()
	all := make([]mcp.Prompt, len(pc.defs))
	for i, d := range pc.defs {
		all[i] = d.Descriptor
	}
	size := pc.pageSize
	pc.mu.RUnlock()
	return pageOf(all, cursor, size), nil
}

// GetPrompt implements PromptsCapability.
func (pc *PromptsContainer) GetPrompt(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid prompt request: missing name")
	}
	var h PromptHandler
	pc.mu.RLock()
	for _, d := range pc.defs {
		if d.Descriptor.Name == req.Name {
			h = d.Handler
			break
		}
	}
	pc.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("prompt not found: %s", req.Name)
	}
	return h(ctx, session, req)
}

// GetListChangedCapability implements PromptsCapability.
func (pc *PromptsContainer) GetListChangedCapability(ctx context.Context, session sessions.Session) (PromptListChangedCapability, bool, error) {
	return promptsListChangedFromSubscriber{sub: pc}, true, nil
}

type promptsListChangedFromSubscriber struct{ sub ChangeSubscriber }

func (p promptsListChangedFromSubscriber) Register(ctx context.Context, session sessions.Session, fn NotifyPromptsChangedFunc) (bool, error) {
	if p.sub == nil || fn == nil {
		return false, nil
	}
	ch := p.sub.Subscriber()
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
