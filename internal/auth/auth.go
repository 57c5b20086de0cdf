// Package auth owns the client-side session lifecycle of the admin console.
//
// It provides:
//   - Store: the single source of truth for "is a user logged in", kept in
//     sync with the ephemeral and durable storage tiers
//   - ExpirationBroadcaster: turns provider rejections into one forced logout
//     and an AuthEvent for every subscriber
//
// The bearer token is opaque. Nothing here verifies or interprets it beyond
// an optional, display-only expiry hint (see TokenExpiry).
//
// State machine:
//
//	Unauthenticated --(Initialize ok | Establish)--> Authenticated
//	Authenticated   --(Destroy | ExpireAt)--------> Unauthenticated
//
// Renewal happens inside Authenticated and is not a transition.
package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StateChange is delivered to Store subscribers on every transition.
type StateChange struct {
	Authenticated bool
	Epoch         uint64
	// Reason is "initialize", "establish", "logout" or "expired".
	Reason string
}

const subscriberBuffer = 16

// fanout is a small non-blocking pub/sub used by Store and
// ExpirationBroadcaster. Slow subscribers lose events instead of stalling
// the publisher.
type fanout[T any] struct {
	mu   sync.RWMutex
	subs map[string]chan T
}

func newFanout[T any]() *fanout[T] {
	return &fanout[T]{subs: make(map[string]chan T)}
}

// subscribe registers a channel that is closed once ctx is done. A goroutine
// waits for that, so ctx must eventually be cancelled.
func (f *fanout[T]) subscribe(ctx context.Context) <-chan T {
	id := uuid.New().String()
	ch := make(chan T, subscriberBuffer)

	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.unsubscribe(id)
	}()
	return ch
}

func (f *fanout[T]) unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// publish returns the number of subscribers that received v.
func (f *fanout[T]) publish(v T) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	delivered := 0
	for _, ch := range f.subs {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}
