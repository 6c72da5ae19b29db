package mcpservice

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	"github.com/routeview/mcp-routing-go/mcp"
	"github.com/routeview/mcp-routing-go/routing"
	"github.com/routeview/mcp-routing-go/sessions"
)

// FSResources serves the files under an OS directory as resources. The name
// of a file's top-level subdirectory becomes its category, so a tree like
//
//	docs/
//	  analytics/usage.md
//	  ops/runbook.md
//	  readme.md
//
// yields two categorized resources and one uncategorized one. The directory
// is watched with fsnotify; additions, removals and renames refresh the
// resource set and fire listChanged.
//
// FSResources implements ResourcesCapability, ResourceDefSource and
// ChangeSubscriber, so it composes with WithCategoryRouting like any
// container.
type FSResources struct {
	root    string // absolute
	baseURI string
	log     *slog.Logger

	mu   sync.RWMutex
	defs []ResourceDef

	notifier ChangeNotifier
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// FSOption configures NewFSResources.
type FSOption func(*FSResources)

// WithFSBaseURI sets the URI prefix for served resources. A resource URI is
// the prefix followed by the file's slash-separated path relative to the
// root. Defaults to "fs://".
func WithFSBaseURI(base string) FSOption {
	return func(r *FSResources) {
		if base != "" && !strings.HasSuffix(base, "/") {
			base += "/"
		}
		r.baseURI = base
	}
}

// WithFSLogger sets the logger used for watch diagnostics. Defaults to
// slog.Default().
func WithFSLogger(log *slog.Logger) FSOption {
	return func(r *FSResources) { r.log = log }
}

// NewFSResources scans root and begins watching it. Callers own the returned
// value and should Close it when done.
func NewFSResources(root string, opts ...FSOption) (*FSResources, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", abs)
	}

	r := &FSResources{root: abs, baseURI: "fs://", done: make(chan struct{})}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if err := r.rescan(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start watcher: %w", err)
	}
	r.watcher = w
	if err := r.watchTree(); err != nil {
		_ = w.Close()
		return nil, err
	}
	go r.run()
	return r, nil
}

// Close stops the watcher and releases subscribers.
func (r *FSResources) Close() error {
	close(r.done)
	r.notifier.Close()
	return r.watcher.Close()
}

// ProvideResources lets FSResources act as its own per-session provider.
func (r *FSResources) ProvideResources(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error) {
	return r, true, nil
}

func (r *FSResources) watchTree() error {
	return filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return r.watcher.Add(p)
		}
		return nil
	})
}

func (r *FSResources) run() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := r.watcher.Add(ev.Name); err != nil {
						r.log.Debug("watch new directory", slog.String("path", ev.Name), slog.String("err", err.Error()))
					}
				}
			}
			if err := r.rescan(); err != nil {
				r.log.Debug("rescan resources", slog.String("err", err.Error()))
				continue
			}
			_ = r.notifier.Notify(context.Background())
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Debug("watch resources", slog.String("err", err.Error()))
		}
	}
}

// rescan rebuilds the def set from the directory tree. Hidden files and
// directories are skipped. Files are ordered by relative path so listings
// are stable across rescans.
func (r *FSResources) rescan() error {
	var rels []string
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != r.root {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(rels)

	defs := make([]ResourceDef, 0, len(rels))
	for _, rel := range rels {
		defs = append(defs, r.defFor(rel))
	}
	r.mu.Lock()
	r.defs = defs
	r.mu.Unlock()
	return nil
}

func (r *FSResources) defFor(rel string) ResourceDef {
	uri := r.baseURI + rel
	mimeType := mime.TypeByExtension(filepath.Ext(rel))
	var tags []routing.Tag
	if dir, _, ok := strings.Cut(rel, "/"); ok {
		tags = []routing.Tag{routing.Category(dir)}
	}
	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	return ResourceDef{
		Descriptor: mcp.Resource{URI: uri, Name: rel, MimeType: mimeType},
		Read: func(ctx context.Context, _ sessions.Session, uri string) ([]mcp.ResourceContents, error) {
			data, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("resource not found: %s", uri)
			}
			rc := mcp.ResourceContents{URI: uri, MimeType: mimeType}
			if utf8.Valid(data) {
				rc.Text = string(data)
			} else {
				rc.Blob = base64.StdEncoding.EncodeToString(data)
			}
			return []mcp.ResourceContents{rc}, nil
		},
		Tags: tags,
	}
}

// Defs implements ResourceDefSource.
func (r *FSResources) Defs() []ResourceDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResourceDef, len(r.defs))
	copy(out, r.defs)
	return out
}

// TemplateDefs implements ResourceDefSource. Directory trees have no
// templates.
func (r *FSResources) TemplateDefs() []ResourceTemplateDef { return nil }

// Subscriber implements ChangeSubscriber.
func (r *FSResources) Subscriber() <-chan struct{} { return r.notifier.Subscriber() }

// ListResources implements ResourcesCapability.
func (r *FSResources) ListResources(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Resource], error) {
	defs := r.Defs()
	all := make([]mcp.Resource, len(defs))
	for i, d := range defs {
		all[i] = d.Descriptor
	}
	return pageOf(all, cursor, defaultPageSize), nil
}

// ListResourceTemplates implements ResourcesCapability.
func (r *FSResources) ListResourceTemplates(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error) {
	return NewPage[mcp.ResourceTemplate](nil), nil
}

// ReadResource implements ResourcesCapability.
func (r *FSResources) ReadResource(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error) {
	r.mu.RLock()
	var read ResourceReadFunc
	for _, d := range r.defs {
		if d.Descriptor.URI == uri {
			read = d.Read
			break
		}
	}
	r.mu.RUnlock()
	if read == nil {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	return read(ctx, session, uri)
}

// GetListChangedCapability implements ResourcesCapability.
func (r *FSResources) GetListChangedCapability(ctx context.Context, session sessions.Session) (ResourceListChangedCapability, bool, error) {
	return resourcesListChangedFromSubscriber{sub: r}, true, nil
}
