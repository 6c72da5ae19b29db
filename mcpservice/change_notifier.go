package mcpservice

import (
	"context"
	"sync"
)

// ChangeNotifier is a small in-process pub-sub used by containers to signal
// that their item set changed, which drives listChanged notifications to
// connected clients.
type ChangeNotifier struct {
	mu          sync.Mutex
	subscribers []chan struct{}
	closed      bool
}

// ChangeSubscriber is implemented by anything that can hand out change
// signal channels, typically a container embedding a ChangeNotifier.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

// Notify signals all subscribers. Delivery is best-effort: a subscriber that
// has not drained its previous signal is skipped rather than blocked on.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return nil
	}
	for _, ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscriber returns a channel that receives a signal for each Notify. The
// channel is buffered with capacity 1 so notifiers never block.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{}, 1)
	cn.subscribers = append(cn.subscribers, ch)
	return ch
}

// Close closes all subscriber channels. Further Notify calls are no-ops and
// further Subscriber calls return an already-closed channel.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	subs := cn.subscribers
	cn.subscribers = nil
	closed := cn.closed
	cn.closed = true
	cn.mu.Unlock()
	if closed {
		return
	}
	for _, ch := range subs {
		close(ch)
	}
}
