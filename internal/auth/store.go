package auth

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/log"
	"github.com/felixgeelhaar/kbadmin/internal/storage"
)

// Store holds the current session in memory and mirrors it to the storage
// tiers. All methods are safe for concurrent use.
//
// Every transition increments an epoch. Work started under one epoch (an
// in-flight request) can only renew or expire that same session; once the
// epoch moves on its results are discarded.
type Store struct {
	mu       sync.Mutex
	tiers    *storage.Adapter
	current  *Session
	remember bool
	epoch    uint64

	initOnce sync.Once
	ready    chan struct{}
	readyMu  sync.Once

	changes *fanout[StateChange]
	logger  *log.Logger
}

// NewStore creates an unauthenticated store over the given tiers. Call
// Initialize before making any authorization decision.
func NewStore(tiers *storage.Adapter, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Nop()
	}
	return &Store{
		tiers:   tiers,
		ready:   make(chan struct{}),
		changes: newFanout[StateChange](),
		logger:  logger.Component("session"),
	}
}

// Initialize restores a session from storage: the ephemeral tier first,
// then the durable tier. A record is accepted only if both token and
// profile decode; anything partial or corrupt clears both tiers. It runs
// once; later calls return the current state. A ctx that is already done
// leaves the store loading so a later call can still restore.
func (s *Store) Initialize(ctx context.Context) bool {
	if ctx.Err() != nil {
		return s.IsAuthenticated()
	}

	s.initOnce.Do(func() {
		defer s.markReady()

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.current != nil {
			// Establish won the race; nothing to restore.
			return
		}

		sess, fromDurable, ok := s.restore()
		if !ok {
			s.clearTiers()
			s.logger.Debug("no stored session")
			return
		}

		if fromDurable {
			// The session now lives in this terminal session too.
			if err := s.writeTier(storage.Ephemeral, sess); err != nil {
				s.logger.WithError(err).Warn("copying durable session to ephemeral tier")
			}
		}

		s.current = &sess
		// The durable tier is shared by every shell; it only counts as ours
		// when it holds this very token.
		s.remember = fromDurable || s.holds(storage.Durable, sess.Token)
		s.epoch++
		s.logger.Info("session restored", "user", sess.Profile.DisplayName(), "durable", fromDurable)
		s.changes.publish(StateChange{Authenticated: true, Epoch: s.epoch, Reason: "initialize"})
	})

	return s.IsAuthenticated()
}

func (s *Store) restore() (Session, bool, bool) {
	for _, tier := range storage.Tiers {
		rec, status := s.tiers.Lookup(tier)
		switch status {
		case storage.StatusAbsent:
			continue
		case storage.StatusCorrupt:
			s.logger.Debug("corrupt session record", "tier", tier.String())
			return Session{}, false, false
		}

		profile, err := decodeProfile(rec.Profile)
		if err != nil {
			s.logger.Debug("undecodable profile", "tier", tier.String(), "error", err)
			return Session{}, false, false
		}
		return Session{Token: rec.Token, Profile: profile}, tier == storage.Durable, true
	}
	return Session{}, false, false
}

// Establish installs a freshly issued session. The ephemeral tier is always
// written; the durable tier only when remember is true, and is cleared
// otherwise. On a storage failure nothing is kept.
func (s *Store) Establish(sess Session, remember bool) error {
	if sess.Token == "" {
		return errors.New(errors.ErrCodeInvalidInput, "session token is empty")
	}
	if err := sess.Profile.Validate(); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, "invalid session profile", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeTier(storage.Ephemeral, sess); err != nil {
		s.clearTiers()
		return err
	}
	if remember {
		if err := s.writeTier(storage.Durable, sess); err != nil {
			s.clearTiers()
			return err
		}
	} else if err := s.tiers.Clear(storage.Durable); err != nil {
		s.logger.WithError(err).Warn("clearing durable tier")
	}
	if err := s.tiers.WritePreference(remember); err != nil {
		s.logger.WithError(err).Warn("saving remember-me preference")
	}

	s.current = &sess
	s.remember = remember
	s.epoch++
	s.logger.Info("session established", "user", sess.Profile.DisplayName(), "role", sess.Profile.Role, "remember", remember)
	s.changes.publish(StateChange{Authenticated: true, Epoch: s.epoch, Reason: "establish"})
	s.markReady()
	return nil
}

// Renew replaces the token of the current session.
func (s *Store) Renew(token string) (bool, error) {
	return s.RenewAt(s.Epoch(), token)
}

// RenewAt replaces the token of the session that was current at epoch, in
// memory, in the ephemeral tier, and in the durable tier when this session
// was remembered and the durable record is still its own. Another shell's
// remembered session is never overwritten. The profile is untouched. It
// reports false when there is nothing to renew: no session, a newer epoch,
// or the same token.
func (s *Store) RenewAt(epoch uint64, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || epoch != s.epoch || s.current.Token == token {
		return false, nil
	}

	renewed := Session{Token: token, Profile: s.current.Profile}
	err := s.writeTier(storage.Ephemeral, renewed)
	if s.remember && s.holds(storage.Durable, s.current.Token) {
		if derr := s.writeTier(storage.Durable, renewed); derr != nil && err == nil {
			err = derr
		}
	}

	s.current.Token = token
	s.logger.Debug("token renewed", "token", Redact(token), "durable", s.remember)
	return true, err
}

// Destroy logs out locally: memory and both tiers are cleared. It is
// idempotent and reports whether a session was actually torn down.
func (s *Store) Destroy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardown("logout")
}

// ExpireAt destroys the session that was current at epoch. A stale epoch
// (the session was already destroyed or replaced) is a no-op.
func (s *Store) ExpireAt(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return false
	}
	return s.teardown("expired")
}

func (s *Store) teardown(reason string) bool {
	s.clearTiers()

	if s.current == nil {
		return false
	}

	user := s.current.Profile.DisplayName()
	s.current = nil
	s.remember = false
	s.epoch++
	s.logger.Info("session destroyed", "user", user, "reason", reason)
	s.changes.publish(StateChange{Authenticated: false, Epoch: s.epoch, Reason: reason})
	return true
}

// Current returns a copy of the current session.
func (s *Store) Current() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// Token returns the current bearer token and the epoch it belongs to.
func (s *Store) Token() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return "", s.epoch
	}
	return s.current.Token, s.epoch
}

// IsAuthenticated reports whether a session is active.
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Remembered reports whether the active session was persisted durably.
func (s *Store) Remembered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.remember
}

// RememberPreference returns the last remember-me choice, for prefilling
// login forms.
func (s *Store) RememberPreference() bool {
	return s.tiers.ReadPreference()
}

// Epoch returns the current transition counter.
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Loading reports whether initialization has not settled yet.
func (s *Store) Loading() bool {
	select {
	case <-s.ready:
		return false
	default:
		return true
	}
}

// Ready is closed once initialization has settled.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Subscribe delivers state changes until ctx is done. The subscription and
// its goroutine live until then, so ctx must be cancellable.
func (s *Store) Subscribe(ctx context.Context) <-chan StateChange {
	return s.changes.subscribe(ctx)
}

func (s *Store) markReady() {
	s.readyMu.Do(func() { close(s.ready) })
}

func (s *Store) writeTier(tier storage.Tier, sess Session) error {
	profile, err := json.Marshal(sess.Profile)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageWrite, "encoding profile", err)
	}
	return s.tiers.Write(tier, storage.Record{Token: sess.Token, Profile: profile})
}

// holds reports whether tier currently stores a session with token.
func (s *Store) holds(tier storage.Tier, token string) bool {
	rec, status := s.tiers.Lookup(tier)
	return status == storage.StatusOK && rec.Token == token
}

func (s *Store) clearTiers() {
	for _, tier := range storage.Tiers {
		if err := s.tiers.Clear(tier); err != nil {
			s.logger.WithError(err).Warn("clearing tier", "tier", tier.String())
		}
	}
}
