package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirationBroadcaster_SingleTeardownForConcurrentRejections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTiers().store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, true))
	_, epoch := s.Token()

	b := NewExpirationBroadcaster(s, nil)
	events := b.Subscribe(ctx)

	const requests = 20
	var teardowns atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Emit(epoch) {
				teardowns.Add(1)
			}
		}()
	}
	wg.Wait()

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("expected one auth event")
	}

	select {
	case <-events:
		t.Fatal("expected exactly one auth event")
	default:
	}

	assert.Equal(t, int32(1), teardowns.Load())
	assert.False(t, s.IsAuthenticated())
}

func TestExpirationBroadcaster_StaleEmitKeepsNewSession(t *testing.T) {
	s := newTiers().store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, false))
	_, oldEpoch := s.Token()

	require.NoError(t, s.Establish(Session{Token: "tok-2", Profile: adminProfile}, false))

	b := NewExpirationBroadcaster(s, nil)
	assert.False(t, b.Emit(oldEpoch))
	assert.True(t, s.IsAuthenticated())
}

func TestExpirationBroadcaster_SecondEmitIsRedundant(t *testing.T) {
	s := newTiers().store()
	b := NewExpirationBroadcaster(s, nil)

	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, false))
	_, epoch := s.Token()
	assert.True(t, b.Emit(epoch))
	assert.False(t, b.Emit(epoch))
	assert.False(t, b.Emit(s.Epoch()), "nothing left to expire")
}

func TestExpirationBroadcaster_EveryListenerNotified(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTiers().store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, false))

	b := NewExpirationBroadcaster(s, nil)
	first := b.Subscribe(ctx)
	second := b.Subscribe(ctx)

	require.True(t, b.Emit(s.Epoch()))

	for _, ch := range []<-chan AuthEvent{first, second} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("listener not notified")
		}
	}
}
