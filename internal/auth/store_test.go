package auth

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/storage"
)

var adminProfile = Profile{UID: "u-1", Username: "admin1", Email: "admin@acme.test", Role: "admin", TenantID: "acme"}

type tiers struct {
	eph *storage.MemoryBackend
	dur *storage.MemoryBackend
}

func newTiers() tiers {
	return tiers{eph: storage.NewMemoryBackend(), dur: storage.NewMemoryBackend()}
}

func (tr tiers) store() *Store {
	return NewStore(storage.NewAdapter("test", tr.eph, tr.dur), nil)
}

// reopen simulates a new terminal: the ephemeral tier is gone, the durable
// tier survives.
func (tr tiers) reopen() tiers {
	return tiers{eph: storage.NewMemoryBackend(), dur: tr.dur}
}

func (tr tiers) adapter() *storage.Adapter {
	return storage.NewAdapter("test", tr.eph, tr.dur)
}

func TestStore_InitializeEmpty(t *testing.T) {
	s := newTiers().store()
	assert.True(t, s.Loading())

	assert.False(t, s.Initialize(context.Background()))
	assert.False(t, s.Loading())
	assert.False(t, s.IsAuthenticated())

	select {
	case <-s.Ready():
	default:
		t.Fatal("ready channel should be closed after initialize")
	}
}

func TestStore_EstablishWithRememberSurvivesRestart(t *testing.T) {
	tr := newTiers()
	s := tr.store()
	s.Initialize(context.Background())

	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, true))
	assert.True(t, s.Remembered())
	assert.True(t, tr.adapter().Has(storage.Ephemeral))
	assert.True(t, tr.adapter().Has(storage.Durable))

	reopened := tr.reopen()
	restarted := reopened.store()
	require.True(t, restarted.Initialize(context.Background()))

	sess, ok := restarted.Current()
	require.True(t, ok)
	assert.Equal(t, "tok-1", sess.Token)
	assert.Equal(t, adminProfile, sess.Profile)
	assert.True(t, restarted.Remembered())
	assert.True(t, reopened.adapter().Has(storage.Ephemeral), "durable restore should populate ephemeral tier")
}

func TestStore_EstablishWithoutRememberDoesNotSurviveReopen(t *testing.T) {
	tr := newTiers()
	s := tr.store()
	s.Initialize(context.Background())

	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, false))
	assert.False(t, tr.adapter().Has(storage.Durable))
	assert.False(t, s.Remembered())
	assert.False(t, s.RememberPreference())

	// Same terminal: restored from the ephemeral tier.
	same := tr.store()
	assert.True(t, same.Initialize(context.Background()))

	// New terminal: nothing to restore.
	fresh := tr.reopen().store()
	assert.False(t, fresh.Initialize(context.Background()))
}

func TestStore_EstablishWithoutRememberClearsPreviousDurable(t *testing.T) {
	tr := newTiers()
	s := tr.store()
	require.NoError(t, s.Establish(Session{Token: "old", Profile: adminProfile}, true))
	require.NoError(t, s.Establish(Session{Token: "new", Profile: adminProfile}, false))

	assert.False(t, tr.adapter().Has(storage.Durable))
}

func TestStore_EstablishRejectsIncompleteSession(t *testing.T) {
	tr := newTiers()
	s := tr.store()

	err := s.Establish(Session{Profile: adminProfile}, true)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	err = s.Establish(Session{Token: "t", Profile: Profile{UID: "u"}}, true)
	require.Error(t, err)

	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, 0, tr.eph.Len())
	assert.Equal(t, 0, tr.dur.Len())
}

func TestStore_DestroyThenInitializeIsUnauthenticated(t *testing.T) {
	tr := newTiers()
	s := tr.store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, true))

	assert.True(t, s.Destroy())
	assert.False(t, s.IsAuthenticated())

	restarted := tr.store()
	assert.False(t, restarted.Initialize(context.Background()))
	assert.False(t, tr.reopen().store().Initialize(context.Background()))
}

func TestStore_DestroyIsIdempotent(t *testing.T) {
	s := newTiers().store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, false))

	assert.True(t, s.Destroy())
	epoch := s.Epoch()

	assert.False(t, s.Destroy())
	assert.False(t, s.Destroy())
	assert.Equal(t, epoch, s.Epoch(), "no-op destroy must not advance the epoch")
}

func TestStore_DestroyKeepsRememberPreference(t *testing.T) {
	s := newTiers().store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, true))
	s.Destroy()

	assert.True(t, s.RememberPreference())
}

func TestStore_RenewPreservesProfile(t *testing.T) {
	s := newTiers().store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, false))

	renewed, err := s.Renew("tok-2")
	require.NoError(t, err)
	assert.True(t, renewed)

	sess, _ := s.Current()
	assert.Equal(t, "tok-2", sess.Token)
	assert.Equal(t, adminProfile, sess.Profile)
}

func TestStore_RenewIsNotATransition(t *testing.T) {
	s := newTiers().store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, false))
	epoch := s.Epoch()

	_, err := s.Renew("tok-2")
	require.NoError(t, err)
	assert.Equal(t, epoch, s.Epoch())

	renewed, err := s.Renew("tok-2")
	require.NoError(t, err)
	assert.False(t, renewed, "same token is not a renewal")

	renewed, err = s.Renew("")
	require.NoError(t, err)
	assert.False(t, renewed)
}

func TestStore_RenewUpdatesBothTiersWhenRemembered(t *testing.T) {
	tr := newTiers()
	s := tr.store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, true))

	_, err := s.Renew("tok-2")
	require.NoError(t, err)

	for _, tier := range storage.Tiers {
		rec, ok := tr.adapter().Read(tier)
		require.True(t, ok, tier.String())
		assert.Equal(t, "tok-2", rec.Token, tier.String())

		var p Profile
		require.NoError(t, json.Unmarshal(rec.Profile, &p))
		assert.Equal(t, adminProfile, p)
	}

	restarted := tr.reopen().store()
	require.True(t, restarted.Initialize(context.Background()))
	token, _ := restarted.Token()
	assert.Equal(t, "tok-2", token)
}

func TestStore_RenewDoesNotTouchAbsentDurableTier(t *testing.T) {
	tr := newTiers()
	s := tr.store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, false))

	_, err := s.Renew("tok-2")
	require.NoError(t, err)
	assert.False(t, tr.adapter().Has(storage.Durable))
}

func TestStore_RenewWithoutSessionIsNoop(t *testing.T) {
	tr := newTiers()
	s := tr.store()

	renewed, err := s.Renew("tok-x")
	require.NoError(t, err)
	assert.False(t, renewed)
	assert.Equal(t, 0, tr.eph.Len())
}

func TestStore_StaleRenewalDoesNotResurrect(t *testing.T) {
	tr := newTiers()
	s := tr.store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, true))

	_, epoch := s.Token()
	s.Destroy()

	renewed, err := s.RenewAt(epoch, "tok-2")
	require.NoError(t, err)
	assert.False(t, renewed)
	assert.False(t, s.IsAuthenticated())
	assert.False(t, tr.adapter().Has(storage.Ephemeral))
	assert.False(t, tr.adapter().Has(storage.Durable))
}

func TestStore_StaleRenewalDoesNotOverwriteNewSession(t *testing.T) {
	s := newTiers().store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, false))
	_, oldEpoch := s.Token()

	require.NoError(t, s.Establish(Session{Token: "tok-b", Profile: adminProfile}, false))

	renewed, err := s.RenewAt(oldEpoch, "tok-2")
	require.NoError(t, err)
	assert.False(t, renewed)

	token, _ := s.Token()
	assert.Equal(t, "tok-b", token)
}

func TestStore_ExpireAtStaleEpochIsNoop(t *testing.T) {
	s := newTiers().store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, false))
	_, oldEpoch := s.Token()

	require.NoError(t, s.Establish(Session{Token: "tok-b", Profile: adminProfile}, false))

	assert.False(t, s.ExpireAt(oldEpoch), "rejection of a replaced session must not log out the new one")
	assert.True(t, s.IsAuthenticated())
}

func TestStore_InitializeClearsCorruptRecords(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tr tiers)
	}{
		{
			name: "garbage ephemeral",
			setup: func(tr tiers) {
				require.NoError(t, tr.adapter().Write(storage.Durable, storage.Record{Token: "t", Profile: json.RawMessage(`{"uid":"u","role":"admin"}`)}))
				require.NoError(t, tr.eph.Put("session-test", []byte("not json")))
			},
		},
		{
			name: "token without profile",
			setup: func(tr tiers) {
				require.NoError(t, tr.dur.Put("session-test", []byte(`{"token":"t"}`)))
			},
		},
		{
			name: "profile without role",
			setup: func(tr tiers) {
				require.NoError(t, tr.adapter().Write(storage.Ephemeral, storage.Record{Token: "t", Profile: json.RawMessage(`{"uid":"u"}`)}))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTiers()
			tt.setup(tr)

			s := tr.store()
			assert.False(t, s.Initialize(context.Background()))

			assert.False(t, tr.adapter().Has(storage.Ephemeral))
			assert.False(t, tr.adapter().Has(storage.Durable))
		})
	}
}

func TestStore_InitializeRunsOnce(t *testing.T) {
	tr := newTiers()
	s := tr.store()
	assert.False(t, s.Initialize(context.Background()))

	require.NoError(t, tr.adapter().Write(storage.Ephemeral, storage.Record{Token: "late", Profile: json.RawMessage(`{"uid":"u","role":"admin"}`)}))
	assert.False(t, s.Initialize(context.Background()))
}

func TestStore_EstablishBeforeInitializeWins(t *testing.T) {
	tr := newTiers()
	require.NoError(t, tr.adapter().Write(storage.Ephemeral, storage.Record{Token: "stored", Profile: json.RawMessage(`{"uid":"u","role":"admin"}`)}))

	s := tr.store()
	require.NoError(t, s.Establish(Session{Token: "fresh", Profile: adminProfile}, false))
	assert.False(t, s.Loading())

	require.True(t, s.Initialize(context.Background()))
	token, _ := s.Token()
	assert.Equal(t, "fresh", token)
}

func TestStore_Subscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTiers().store()
	changes := s.Subscribe(ctx)

	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, false))
	s.Destroy()

	first := <-changes
	assert.True(t, first.Authenticated)
	assert.Equal(t, "establish", first.Reason)

	second := <-changes
	assert.False(t, second.Authenticated)
	assert.Equal(t, "logout", second.Reason)
	assert.Greater(t, second.Epoch, first.Epoch)

	cancel()
	select {
	case _, open := <-changes:
		assert.False(t, open, "channel should close on cancel")
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestStore_ConcurrentExpiryTearsDownOnce(t *testing.T) {
	s := newTiers().store()
	require.NoError(t, s.Establish(Session{Token: "tok-1", Profile: adminProfile}, true))
	_, epoch := s.Token()

	var teardowns atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ExpireAt(epoch) {
				teardowns.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), teardowns.Load())
	assert.False(t, s.IsAuthenticated())
}

func TestStore_RenewLeavesOtherShellsRememberedSession(t *testing.T) {
	durable := storage.NewMemoryBackend()
	shellA := tiers{eph: storage.NewMemoryBackend(), dur: durable}
	shellB := tiers{eph: storage.NewMemoryBackend(), dur: durable}

	a := shellA.store()
	require.NoError(t, a.Establish(Session{Token: "tok-x", Profile: adminProfile}, false))

	boss := Profile{UID: "u-2", Username: "boss", Role: "superuser", TenantID: "acme"}
	b := shellB.store()
	require.NoError(t, b.Establish(Session{Token: "tok-y", Profile: boss}, true))

	renewed, err := a.Renew("tok-x2")
	require.NoError(t, err)
	assert.True(t, renewed)
	assert.False(t, a.Remembered())

	rec, ok := shellA.adapter().Read(storage.Ephemeral)
	require.True(t, ok)
	assert.Equal(t, "tok-x2", rec.Token)

	fresh := shellB.reopen().store()
	require.True(t, fresh.Initialize(context.Background()))
	sess, _ := fresh.Current()
	assert.Equal(t, "boss", sess.Profile.Username)
	assert.Equal(t, "tok-y", sess.Token)
}

func TestStore_RememberedSessionDoesNotRenewReplacedDurableRecord(t *testing.T) {
	durable := storage.NewMemoryBackend()
	shellA := tiers{eph: storage.NewMemoryBackend(), dur: durable}
	shellB := tiers{eph: storage.NewMemoryBackend(), dur: durable}

	a := shellA.store()
	require.NoError(t, a.Establish(Session{Token: "tok-x", Profile: adminProfile}, true))

	boss := Profile{UID: "u-2", Username: "boss", Role: "superuser", TenantID: "acme"}
	require.NoError(t, shellB.store().Establish(Session{Token: "tok-y", Profile: boss}, true))

	_, err := a.Renew("tok-x2")
	require.NoError(t, err)

	rec, ok := shellA.adapter().Read(storage.Durable)
	require.True(t, ok)
	assert.Equal(t, "tok-y", rec.Token)
}

func TestStore_RestoreFromEphemeralKeepsRememberedState(t *testing.T) {
	tr := newTiers()
	require.NoError(t, tr.store().Establish(Session{Token: "tok-1", Profile: adminProfile}, true))

	// Same terminal, next command.
	s := tr.store()
	require.True(t, s.Initialize(context.Background()))
	assert.True(t, s.Remembered())

	_, err := s.Renew("tok-2")
	require.NoError(t, err)
	rec, ok := tr.adapter().Read(storage.Durable)
	require.True(t, ok)
	assert.Equal(t, "tok-2", rec.Token)
}

func TestStore_RestoreIgnoresForeignDurableRecord(t *testing.T) {
	durable := storage.NewMemoryBackend()
	shellA := tiers{eph: storage.NewMemoryBackend(), dur: durable}
	shellB := tiers{eph: storage.NewMemoryBackend(), dur: durable}

	require.NoError(t, shellA.store().Establish(Session{Token: "tok-x", Profile: adminProfile}, false))
	boss := Profile{UID: "u-2", Username: "boss", Role: "superuser", TenantID: "acme"}
	require.NoError(t, shellB.store().Establish(Session{Token: "tok-y", Profile: boss}, true))

	a := shellA.store()
	require.True(t, a.Initialize(context.Background()))
	assert.False(t, a.Remembered())
}

func TestStore_ConcurrentRenewalsLeaveTiersConsistent(t *testing.T) {
	tr := newTiers()
	s := tr.store()
	require.NoError(t, s.Establish(Session{Token: "tok-0", Profile: adminProfile}, true))
	_, epoch := s.Token()

	var wg sync.WaitGroup
	for _, token := range []string{"tok-a", "tok-b"} {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			_, err := s.RenewAt(epoch, token)
			assert.NoError(t, err)
		}(token)
	}
	wg.Wait()

	current, _ := s.Token()
	assert.Contains(t, []string{"tok-a", "tok-b"}, current)
	for _, tier := range storage.Tiers {
		rec, ok := tr.adapter().Read(tier)
		require.True(t, ok, tier.String())
		assert.Equal(t, current, rec.Token, tier.String())
	}
}

func TestStore_InitializeWithDoneContextCanRetry(t *testing.T) {
	tr := newTiers()
	require.NoError(t, tr.store().Establish(Session{Token: "tok-1", Profile: adminProfile}, true))

	s := tr.reopen().store()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, s.Initialize(ctx))
	assert.True(t, s.Loading())

	assert.True(t, s.Initialize(context.Background()))
	assert.False(t, s.Loading())
}
