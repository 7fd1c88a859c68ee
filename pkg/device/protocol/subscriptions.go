package protocol

import (
	"context"
	"fmt"
	"sync"

	"github.com/urmzd/plugd/pkg/device/hardware"
)

// subscription is the shared state of one endpoint. ready is closed once
// the hardware subscribe returned; err is its result.
type subscription struct {
	holders int
	ready   chan struct{}
	err     error
}

// SubscriptionTracker refcounts hardware notification subscriptions per
// endpoint. The first Acquire subscribes and the last Release unsubscribes.
// Acquirers that arrive while the first subscribe is in flight wait for it
// and share its result.
type SubscriptionTracker struct {
	mu   sync.Mutex
	subs map[hardware.Endpoint]*subscription
}

func (t *SubscriptionTracker) Acquire(ctx context.Context, hw *hardware.Hardware, ep hardware.Endpoint) error {
	t.mu.Lock()
	if t.subs == nil {
		t.subs = make(map[hardware.Endpoint]*subscription)
	}
	if sub, ok := t.subs[ep]; ok {
		sub.holders++
		t.mu.Unlock()
		return t.wait(ctx, sub)
	}
	sub := &subscription{holders: 1, ready: make(chan struct{})}
	t.subs[ep] = sub
	t.mu.Unlock()

	err := hw.Subscribe(ctx, ep)

	t.mu.Lock()
	sub.err = err
	if err != nil && t.subs[ep] == sub {
		delete(t.subs, ep)
	}
	close(sub.ready)
	t.mu.Unlock()
	return err
}

// wait blocks until the in-flight subscribe for sub finishes. A failed
// subscribe already dropped every holder with the endpoint entry.
func (t *SubscriptionTracker) wait(ctx context.Context, sub *subscription) error {
	select {
	case <-sub.ready:
		return sub.err
	case <-ctx.Done():
		t.mu.Lock()
		sub.holders--
		t.mu.Unlock()
		return ctx.Err()
	}
}

// Hold counts a subscription made directly on the hardware, typically
// during identify, as one holder of ep.
func (t *SubscriptionTracker) Hold(ep hardware.Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs == nil {
		t.subs = make(map[hardware.Endpoint]*subscription)
	}
	if sub, ok := t.subs[ep]; ok {
		sub.holders++
		return
	}
	ready := make(chan struct{})
	close(ready)
	t.subs[ep] = &subscription{holders: 1, ready: ready}
}

func (t *SubscriptionTracker) Release(ctx context.Context, hw *hardware.Hardware, ep hardware.Endpoint) error {
	t.mu.Lock()
	sub, ok := t.subs[ep]
	if !ok || sub.holders == 0 {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotSubscribed, ep)
	}
	sub.holders--
	last := sub.holders == 0
	if last {
		delete(t.subs, ep)
	}
	t.mu.Unlock()

	if !last {
		return nil
	}
	return hw.Unsubscribe(ctx, ep)
}

// Count returns the number of holders of ep.
func (t *SubscriptionTracker) Count(ep hardware.Endpoint) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subs[ep]; ok {
		return sub.holders
	}
	return 0
}
