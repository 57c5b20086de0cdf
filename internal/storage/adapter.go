// Package storage is the storage tier adapter: uniform read/write/clear of a
// serialized session record over an ephemeral (per terminal session) and a
// durable (survives restarts) tier.
//
// The adapter holds no business logic. A malformed record is reported as
// absent and its key is cleared.
package storage

import (
	"bytes"
	"encoding/json"
	stderrors "errors"

	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/log"
)

// Tier selects a persistence scope.
type Tier int

const (
	// Ephemeral is cleared when the terminal session ends. Every login writes it.
	Ephemeral Tier = iota
	// Durable survives restarts and is written only with remember-me.
	Durable
)

// Tiers lists every tier in initialization precedence order.
var Tiers = []Tier{Ephemeral, Durable}

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case Ephemeral:
		return "ephemeral"
	case Durable:
		return "durable"
	default:
		return "unknown"
	}
}

// Record is the persisted form of a session: token and profile serialized
// together so a reader never sees one without the other.
type Record struct {
	Token   string          `json:"token"`
	Profile json.RawMessage `json:"profile"`
}

// Valid reports whether both halves are present. The profile must be a JSON
// object.
func (r Record) Valid() bool {
	p := bytes.TrimSpace(r.Profile)
	return r.Token != "" && len(p) > 1 && p[0] == '{' && json.Valid(p)
}

type preference struct {
	Remember bool `json:"remember"`
}

// Adapter reads and writes Records over two Backends.
type Adapter struct {
	backends [2]Backend
	sealers  [2]Sealer
	key      string
	prefKey  string
	logger   *log.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSealer encrypts values written to tier.
func WithSealer(tier Tier, s Sealer) Option {
	return func(a *Adapter) {
		a.sealers[tier] = s
	}
}

// WithLogger sets the adapter logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

// NewAdapter creates an adapter storing records under namespace (see
// Namespace) in the given backends.
func NewAdapter(namespace string, ephemeral, durable Backend, opts ...Option) *Adapter {
	a := &Adapter{
		backends: [2]Backend{ephemeral, durable},
		key:      "session-" + namespace,
		prefKey:  "remember-" + namespace,
		logger:   log.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Component("storage")
	return a
}

// Write stores rec in tier as a single value. Incomplete records are refused.
func (a *Adapter) Write(tier Tier, rec Record) error {
	if !rec.Valid() {
		return errors.New(errors.ErrCodeStorageWrite, "refusing to write incomplete session record")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageWrite, "encoding session record", err)
	}

	if s := a.sealers[tier]; s != nil {
		if data, err = s.Seal(data); err != nil {
			return errors.Wrap(errors.ErrCodeStorageSeal, "sealing session record", err)
		}
	}

	if err := a.backends[tier].Put(a.key, data); err != nil {
		return errors.Wrap(errors.ErrCodeStorageWrite, "writing "+tier.String()+" tier", err)
	}
	return nil
}

// Status describes the outcome of a Lookup.
type Status int

const (
	// StatusAbsent means the tier holds nothing (or could not be read).
	StatusAbsent Status = iota
	// StatusOK means a complete record was read.
	StatusOK
	// StatusCorrupt means a value existed but was malformed; it has been cleared.
	StatusCorrupt
)

// Read returns the record in tier. Absent, unreadable and malformed records
// all return false; malformed ones are also cleared.
func (a *Adapter) Read(tier Tier) (Record, bool) {
	rec, st := a.Lookup(tier)
	return rec, st == StatusOK
}

// Lookup is Read with the reason a record is missing.
func (a *Adapter) Lookup(tier Tier) (Record, Status) {
	data, err := a.backends[tier].Get(a.key)
	if err != nil {
		if !stderrors.Is(err, ErrNotFound) {
			a.logger.Warn("reading session record", "tier", tier.String(), "error", err)
		}
		return Record{}, StatusAbsent
	}

	if s := a.sealers[tier]; s != nil {
		if data, err = s.Open(data); err != nil {
			a.discard(tier, "unseal failed")
			return Record{}, StatusCorrupt
		}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || !rec.Valid() {
		a.discard(tier, "malformed record")
		return Record{}, StatusCorrupt
	}
	return rec, StatusOK
}

// Has reports whether tier currently holds a readable record.
func (a *Adapter) Has(tier Tier) bool {
	_, ok := a.Read(tier)
	return ok
}

// Clear removes the record in tier.
func (a *Adapter) Clear(tier Tier) error {
	if err := a.backends[tier].Delete(a.key); err != nil {
		return errors.Wrap(errors.ErrCodeStorageWrite, "clearing "+tier.String()+" tier", err)
	}
	return nil
}

// WritePreference records the remember-me choice in the durable tier.
func (a *Adapter) WritePreference(remember bool) error {
	data, _ := json.Marshal(preference{Remember: remember}) //nolint:errchkjson // fixed shape
	if err := a.backends[Durable].Put(a.prefKey, data); err != nil {
		return errors.Wrap(errors.ErrCodeStorageWrite, "writing remember-me preference", err)
	}
	return nil
}

// ReadPreference returns the last remember-me choice, false when unset.
func (a *Adapter) ReadPreference() bool {
	data, err := a.backends[Durable].Get(a.prefKey)
	if err != nil {
		return false
	}
	var p preference
	if err := json.Unmarshal(data, &p); err != nil {
		_ = a.backends[Durable].Delete(a.prefKey) //nolint:errcheck // self-heal
		return false
	}
	return p.Remember
}

func (a *Adapter) discard(tier Tier, reason string) {
	a.logger.Debug("discarding session record", "tier", tier.String(), "reason", reason)
	if err := a.backends[tier].Delete(a.key); err != nil {
		a.logger.Warn("clearing malformed record", "tier", tier.String(), "error", err)
	}
}
