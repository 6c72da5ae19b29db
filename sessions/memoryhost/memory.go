// Package memoryhost provides an in-process sessions.SessionHost suitable for
// single-node servers and tests. Metadata and message streams live on the Go
// heap; nothing survives a restart.
package memoryhost

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/routeview/mcp-routing-go/sessions"
)

// Host is an in-memory implementation of sessions.SessionHost.
type Host struct {
	mu       sync.Mutex
	sessions map[string]*sessionData
	counter  atomic.Int64
}

type sessionData struct {
	mu        sync.Mutex
	meta      sessions.Metadata
	hasMeta   bool
	expiresAt time.Time // zero means no expiry
	deleted   bool
	msgs      []message
	wake      chan struct{} // closed and replaced on every publish/delete
}

type message struct {
	id   string
	data []byte
}

// New returns an empty host.
func New() *Host {
	return &Host{sessions: make(map[string]*sessionData)}
}

func (h *Host) ensure(sessionID string) *sessionData {
	h.mu.Lock()
	defer h.mu.Unlock()
	sd, ok := h.sessions[sessionID]
	if !ok {
		sd = &sessionData{wake: make(chan struct{})}
		h.sessions[sessionID] = sd
	}
	return sd
}

// lookup resolves an existing session without creating one. Publish and
// subscribe go through here so a deleted session is never resurrected by a
// late writer.
func (h *Host) lookup(sessionID string) (*sessionData, error) {
	h.mu.Lock()
	sd, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if !sd.hasMeta || sd.deleted {
		return nil, sessions.ErrSessionNotFound
	}
	if !sd.expiresAt.IsZero() && time.Now().After(sd.expiresAt) {
		sd.deleted = true
		return nil, sessions.ErrSessionNotFound
	}
	return sd, nil
}

// SaveSession implements sessions.SessionHost.
func (h *Host) SaveSession(ctx context.Context, meta sessions.Metadata) error {
	sd := h.ensure(meta.SessionID)
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.meta = meta
	sd.hasMeta = true
	sd.deleted = false
	if meta.TTL > 0 {
		sd.expiresAt = time.Now().Add(meta.TTL)
	} else {
		sd.expiresAt = time.Time{}
	}
	return nil
}

// LoadSession implements sessions.SessionHost.
func (h *Host) LoadSession(ctx context.Context, sessionID string) (sessions.Metadata, error) {
	h.mu.Lock()
	sd, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return sessions.Metadata{}, sessions.ErrSessionNotFound
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if !sd.hasMeta || sd.deleted {
		return sessions.Metadata{}, sessions.ErrSessionNotFound
	}
	if !sd.expiresAt.IsZero() && time.Now().After(sd.expiresAt) {
		sd.deleted = true
		return sessions.Metadata{}, sessions.ErrSessionNotFound
	}
	return sd.meta, nil
}

// DeleteSession implements sessions.SessionHost.
func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	sd, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	sd.mu.Lock()
	sd.deleted = true
	close(sd.wake)
	sd.wake = make(chan struct{})
	sd.mu.Unlock()
	return nil
}

// PublishSession implements sessions.SessionHost. Publishing to an unknown,
// expired or deleted session returns sessions.ErrSessionNotFound.
func (h *Host) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	sd, err := h.lookup(sessionID)
	if err != nil {
		return "", err
	}
	evID := strconv.FormatInt(h.counter.Add(1), 10)

	sd.mu.Lock()
	if sd.deleted {
		sd.mu.Unlock()
		return "", sessions.ErrSessionNotFound
	}
	sd.msgs = append(sd.msgs, message{id: evID, data: append([]byte(nil), data...)})
	close(sd.wake)
	sd.wake = make(chan struct{})
	sd.mu.Unlock()

	return evID, nil
}

// SubscribeSession implements sessions.SessionHost. It replays messages after
// lastEventID and then follows the stream until ctx ends, the handler errors,
// or the session is deleted.
func (h *Host) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunc) error {
	sd, err := h.lookup(sessionID)
	if err != nil {
		return err
	}

	sd.mu.Lock()
	next := len(sd.msgs)
	if lastEventID != "" {
		found := false
		for i := range sd.msgs {
			if sd.msgs[i].id == lastEventID {
				next = i + 1
				found = true
				break
			}
		}
		if !found {
			sd.mu.Unlock()
			return fmt.Errorf("memoryhost: last event id %q not found", lastEventID)
		}
	}
	sd.mu.Unlock()

	for {
		sd.mu.Lock()
		if sd.deleted {
			sd.mu.Unlock()
			return nil
		}
		var pending []message
		if next < len(sd.msgs) {
			pending = sd.msgs[next:len(sd.msgs):len(sd.msgs)]
			next = len(sd.msgs)
		}
		wake := sd.wake
		sd.mu.Unlock()

		for _, m := range pending {
			if err := handler(ctx, m.id, m.data); err != nil {
				return err
			}
		}
		if len(pending) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}
