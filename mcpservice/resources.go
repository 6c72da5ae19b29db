package mcpservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/routeview/mcp-routing-go/mcp"
	"github.com/routeview/mcp-routing-go/routing"
	"github.com/routeview/mcp-routing-go/sessions"
)

// ResourceReadFunc produces the contents for a resource read.
type ResourceReadFunc func(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error)

// ResourceDef pairs a resource descriptor with its contents and routing
// tags. Read is consulted when set; otherwise Contents is returned as-is.
type ResourceDef struct {
	Descriptor mcp.Resource
	Contents   []mcp.ResourceContents
	Read       ResourceReadFunc
	Tags       []routing.Tag
}

// Categories returns the resource's resolved category labels in stable order.
func (d ResourceDef) Categories() []string { return routing.CategoriesOf(d.Tags) }

// BelongsTo reports whether the resource belongs to the named category under
// the options' case sensitivity.
func (d ResourceDef) BelongsTo(label string, opts routing.Options) bool {
	return routing.BelongsTo(d.Tags, label, opts)
}

// ResourceTemplateDef pairs a resource template descriptor with routing
// tags.
type ResourceTemplateDef struct {
	Descriptor mcp.ResourceTemplate
	Tags       []routing.Tag
}

// TextResource builds a static text resource def.
func TextResource(uri, name, mimeType, text string, tags ...routing.Tag) ResourceDef {
	return ResourceDef{
		Descriptor: mcp.Resource{URI: uri, Name: name, MimeType: mimeType},
		Contents:   []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Text: text}},
		Tags:       tags,
	}
}

// ResourcesContainer owns a mutable, threadsafe set of resource and template
// defs. It implements ResourcesCapability directly and ChangeSubscriber for
// listChanged support.
type ResourcesContainer struct {
	mu        sync.RWMutex
	defs      []ResourceDef
	templates []ResourceTemplateDef

	notifier ChangeNotifier
	pageSize int
}

// NewResourcesContainer builds a container holding defs.
func NewResourcesContainer(defs ...ResourceDef) *ResourcesContainer {
	rc := &ResourcesContainer{pageSize: defaultPageSize}
	rc.Replace(context.Background(), defs...)
	return rc
}

// ProvideResources lets the container act as its own per-session provider.
func (rc *ResourcesContainer) ProvideResources(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error) {
	return rc, true, nil
}

// Defs returns a copy of the current resource defs in declaration order.
func (rc *ResourcesContainer) Defs() []ResourceDef {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]ResourceDef, len(rc.defs))
	copy(out, rc.defs)
	return out
}

// TemplateDefs returns a copy of the current template defs in declaration
// order.
func (rc *ResourcesContainer) TemplateDefs() []ResourceTemplateDef {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]ResourceTemplateDef, len(rc.templates))
	copy(out, rc.templates)
	return out
}

// Replace atomically swaps the entire resource set.
func (rc *ResourcesContainer) Replace(_ context.Context, defs ...ResourceDef) {
	rc.mu.Lock()
	rc.defs = append(rc.defs[:0], defs...)
	rc.mu.Unlock()
	go func() { _ = rc.notifier.Notify(context.Background()) }()
}

// ReplaceTemplates atomically swaps the entire template set.
func (rc *ResourcesContainer) ReplaceTemplates(_ context.Context, defs ...ResourceTemplateDef) {
	rc.mu.Lock()
	rc.templates = append(rc.templates[:0], defs...)
	rc.mu.Unlock()
	go func() { _ = rc.notifier.Notify(context.Background()) }()
}

// Add registers a resource unless its URI is already taken.
func (rc *ResourcesContainer) Add(_ context.Context, def ResourceDef) bool {
	if def.Descriptor.URI == "" {
		return false
	}
	rc.mu.Lock()
	for _, d := range rc.defs {
		if d.Descriptor.URI == def.Descriptor.URI {
			rc.mu.Unlock()
			return false
		}
	}
	rc.defs = append(rc.defs, def)
	rc.mu.Unlock()
	go func() { _ = rc.notifier.Notify(context.Background()) }()
	return true
}

// Remove deletes a resource by URI.
func (rc *ResourcesContainer) Remove(_ context.Context, uri string) bool {
	rc.mu.Lock()
	n := 0
	removed := false
	for _, d := range rc.defs {
		if d.Descriptor.URI == uri {
			removed = true
			continue
		}
		rc.defs[n] = d
		n++
	}
	rc.defs = rc.defs[:n]
	rc.mu.Unlock()
	if removed {
		go func() { _ = rc.notifier.Notify(context.Background()) }()
	}
	return removed
}

// Subscriber implements ChangeSubscriber.
func (rc *ResourcesContainer) Subscriber() <-chan struct{} { return rc.notifier.Subscriber() }

// ListResources implements ResourcesCapability.
func (rc *ResourcesContainer) ListResources(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Resource], error) {
	rc.mu.RLock()
	all := make([]mcp.Resource, len(rc.defs))
	for i, d := range rc.defs {
		all[i] = d.Descriptor
	}
	size := rc.pageSize
	rc.mu.RUnlock()
	return pageOf(all, cursor, size), nil
}

// ListResourceTemplates implements ResourcesCapability.
func (rc *ResourcesContainer) ListResourceTemplates(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error) {
	rc.mu.RLock()
	all := make([]mcp.ResourceTemplate, len(rc.templates))
	for i, d := range rc.templates {
		all[i] = d.Descriptor
	}
	size := rc.pageSize
	rc.mu.RUnlock()
	return pageOf(all, cursor, size), nil
}

// ReadResource implements ResourcesCapability.
func (rc *ResourcesContainer) ReadResource(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error) {
	var def ResourceDef
	found := false
	rc.mu.RLock()
	for _, d := range rc.defs {
		if d.Descriptor.URI == uri {
			def = d
			found = true
			break
		}
	}
	rc.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	if def.Read != nil {
		return def.Read(ctx, session, uri)
	}
	out := make([]mcp.ResourceContents, len(def.Contents))
	copy(out, def.Contents)
	return out, nil
}

// GetListChangedCapability implements ResourcesCapability.
func (rc *ResourcesContainer) GetListChangedCapability(ctx context.Context, session sessions.Session) (ResourceListChangedCapability, bool, error) {
	return resourcesListChangedFromSubscriber{sub: rc}, true, nil
}

type resourcesListChangedFromSubscriber struct{ sub ChangeSubscriber }

func (r resourcesListChangedFromSubscriber) Register(ctx context.Context, session sessions.Session, fn NotifyResourcesChangedFunc) (bool, error) {
	if r.sub == nil || fn == nil {
		return false, nil
	}
	ch := r.sub.Subscriber()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				fn(ctx, session, "")
			}
		}
	}()
	return true, nil
}
