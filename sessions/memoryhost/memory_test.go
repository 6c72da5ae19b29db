package memoryhost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/routeview/mcp-routing-go/sessions"
)

func saveTestSession(t *testing.T, h *Host, id string) {
	t.Helper()
	err := h.SaveSession(context.Background(), sessions.Metadata{
		SessionID: id,
		UserID:    "u1",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
}

func TestPublishToUnknownSession(t *testing.T) {
	h := New()
	if _, err := h.PublishSession(context.Background(), "nope", []byte(`{}`)); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("PublishSession err = %v, want ErrSessionNotFound", err)
	}
	if len(h.sessions) != 0 {
		t.Fatalf("publish created a session entry: %d entries", len(h.sessions))
	}
}

func TestPublishAfterDeleteDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	h := New()
	saveTestSession(t, h, "s1")

	if _, err := h.PublishSession(ctx, "s1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("PublishSession before delete: %v", err)
	}
	if err := h.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if _, err := h.PublishSession(ctx, "s1", []byte(`{"a":2}`)); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("PublishSession after delete err = %v, want ErrSessionNotFound", err)
	}

	h.mu.Lock()
	n := len(h.sessions)
	h.mu.Unlock()
	if n != 0 {
		t.Fatalf("deleted session was recreated: %d entries", n)
	}
}

func TestSubscribeAfterDelete(t *testing.T) {
	ctx := context.Background()
	h := New()
	saveTestSession(t, h, "s1")
	if err := h.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	err := h.SubscribeSession(ctx, "s1", "", func(context.Context, string, []byte) error {
		t.Fatal("handler called for deleted session")
		return nil
	})
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("SubscribeSession err = %v, want ErrSessionNotFound", err)
	}
}

func TestPublishToExpiredSession(t *testing.T) {
	ctx := context.Background()
	h := New()
	saveTestSession(t, h, "s1")

	h.mu.Lock()
	sd := h.sessions["s1"]
	h.mu.Unlock()
	sd.mu.Lock()
	sd.expiresAt = time.Now().Add(-time.Second)
	sd.mu.Unlock()

	if _, err := h.PublishSession(ctx, "s1", []byte(`{}`)); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("PublishSession to expired session err = %v, want ErrSessionNotFound", err)
	}
}
