package auth

import (
	"context"

	"github.com/felixgeelhaar/kbadmin/internal/log"
)

// AuthEvent signals that the provider rejected the session and it has been
// torn down. It carries no payload.
type AuthEvent struct{}

// ExpirationBroadcaster converts provider rejections into at most one forced
// logout per session. Any number of concurrent requests may report the same
// rejection; only the first one that actually tears the session down is
// published to subscribers.
type ExpirationBroadcaster struct {
	store  *Store
	events *fanout[AuthEvent]
	logger *log.Logger
}

// NewExpirationBroadcaster creates a broadcaster over store.
func NewExpirationBroadcaster(store *Store, logger *log.Logger) *ExpirationBroadcaster {
	if logger == nil {
		logger = log.Nop()
	}
	return &ExpirationBroadcaster{
		store:  store,
		events: newFanout[AuthEvent](),
		logger: logger.Component("expiration"),
	}
}

// Emit reports a rejection observed by a request issued at epoch. It returns
// true when this call ended the session.
func (b *ExpirationBroadcaster) Emit(epoch uint64) bool {
	if !b.store.ExpireAt(epoch) {
		b.logger.Debug("ignoring redundant expiration", "epoch", epoch)
		return false
	}

	n := b.events.publish(AuthEvent{})
	b.logger.Warn("session expired by provider", "subscribers", n)
	return true
}

// Subscribe delivers an AuthEvent for every forced logout until ctx is done.
// ctx must be cancellable; the subscription lives until it is.
func (b *ExpirationBroadcaster) Subscribe(ctx context.Context) <-chan AuthEvent {
	return b.events.subscribe(ctx)
}

