/*
store.go - Ledger Store: the single owner of all engine entities

PURPOSE:
  Holds users, tasks, withdrawals, completion records, ledger entries and
  settings in memory, backed by an external Persister. Every component
  receives the same *LedgerStore at construction; there is no ambient
  global state.

KEY INTERFACES:
  Persister:   Load/Save of a whole Snapshot (sqlite, memory, ...)
  LedgerStore: Update (read-modify-write) and View (read-only)
  Tx:          The working copy handed to an Update callback

WRITE DISCIPLINE:
  Update holds the store-wide writer lock for the whole
  read-modify-write-save cycle. Commands for the same user therefore
  never interleave, so two withdrawals can never both read the
  pre-debit balance. Cross-user commands are serialized too, which the
  whole-snapshot Save requires anyway.

ATOMICITY:
  The callback mutates a deep copy of the state. The copy replaces the
  authoritative state only after Persister.Save succeeds:
  - callback returns error -> copy discarded, nothing saved
  - Save fails             -> copy discarded, error returned
  - callback changed nothing (no-op tick, idempotent credit) -> no Save

SHARED DATABASES:
  The server and the admin CLI may open the same database. Every Save
  carries Snapshot.Version; a Persister refuses a snapshot that is not
  exactly one ahead of what it holds (ErrStaleSnapshot). Update then
  reloads the stored snapshot and runs the callback again, so decisions
  are always made against the latest committed state. Refresh picks up
  outside saves between writes.

EVENTS:
  Events recorded on the Tx are delivered to listeners after the commit
  and after the lock is released, so listeners may read the store.

SEE ALSO:
  - store/memory.go: In-memory Persister for tests
  - ../store/sqlite/sqlite.go: SQLite Persister
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PERSISTER - External persistence collaborator
// =============================================================================

// Persister durably stores the full snapshot.
type Persister interface {
	// Load returns the last saved snapshot, or nil when nothing was saved yet.
	Load(ctx context.Context) (*Snapshot, error)

	// Save overwrites the stored snapshot. It returns ErrStaleSnapshot
	// unless snap.Version is one more than the stored version (zero when
	// nothing is stored). Implementations must not retain the pointer
	// after returning.
	Save(ctx context.Context, snap *Snapshot) error
}

// VersionReader is implemented by persisters that can report the stored
// version without loading the whole snapshot.
type VersionReader interface {
	StoredVersion(ctx context.Context) (int64, error)
}

// maxSaveAttempts bounds how often Update reloads after ErrStaleSnapshot.
const maxSaveAttempts = 5

// =============================================================================
// LEDGER STORE
// =============================================================================

// LedgerStore owns all entities. Safe for concurrent use.
type LedgerStore struct {
	mu        sync.RWMutex
	persister Persister
	state     *Snapshot

	now       func() time.Time
	newID     func() string
	listeners []Listener
}

// Option configures a LedgerStore.
type Option func(*LedgerStore)

// WithClock overrides the wall clock. Tests use a fixed clock.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerStore) { s.now = now }
}

// WithIDGenerator overrides id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *LedgerStore) { s.newID = newID }
}

// WithListener registers a listener for committed events.
func WithListener(l Listener) Option {
	return func(s *LedgerStore) { s.listeners = append(s.listeners, l) }
}

// OpenLedgerStore loads the persisted snapshot, or starts an empty one
// with the given default settings when nothing was saved yet.
func OpenLedgerStore(ctx context.Context, p Persister, defaults Settings, opts ...Option) (*LedgerStore, error) {
	s := &LedgerStore{
		persister: p,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}

	snap, err := s.load(ctx, defaults)
	if err != nil {
		return nil, err
	}
	s.state = snap
	return s, nil
}

func (s *LedgerStore) load(ctx context.Context, defaults Settings) (*Snapshot, error) {
	snap, err := s.persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		snap = &Snapshot{Settings: defaults}
	}

	// Older snapshots may predate some settings fields.
	settings, err := snap.Settings.normalize()
	if err != nil {
		return nil, fmt.Errorf("stored settings: %w", err)
	}
	snap.Settings = settings
	return snap, nil
}

// Refresh reloads the state when another process saved since the last
// load or commit. Persisters without VersionReader are never refreshed.
func (s *LedgerStore) Refresh(ctx context.Context) error {
	vr, ok := s.persister.(VersionReader)
	if !ok {
		return nil
	}
	stored, err := vr.StoredVersion(ctx)
	if err != nil {
		return fmt.Errorf("read stored version: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if stored == s.state.Version {
		return nil
	}
	snap, err := s.load(ctx, s.state.Settings)
	if err != nil {
		return err
	}
	s.state = snap
	return nil
}

// Update runs fn against a working copy of the state and commits it.
func (s *LedgerStore) Update(ctx context.Context, fn func(tx *Tx) error) error {
	events, err := s.update(ctx, fn)
	if err != nil {
		return err
	}
	for _, e := range events {
		for _, l := range s.listeners {
			l.OnEvent(e)
		}
	}
	return nil
}

func (s *LedgerStore) update(ctx context.Context, fn func(tx *Tx) error) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; ; attempt++ {
		tx := &Tx{snap: s.state.Clone(), now: s.now(), newID: s.newID}
		if err := fn(tx); err != nil {
			return nil, err
		}
		if !tx.dirty {
			return nil, nil
		}
		tx.snap.Version = s.state.Version + 1

		err := s.persister.Save(ctx, tx.snap)
		if err == nil {
			s.state = tx.snap
			return tx.events, nil
		}
		if !errors.Is(err, ErrStaleSnapshot) || attempt == maxSaveAttempts {
			return nil, fmt.Errorf("save snapshot: %w", err)
		}

		snap, lerr := s.load(ctx, s.state.Settings)
		if lerr != nil {
			return nil, lerr
		}
		s.state = snap
	}
}

// View runs fn against the committed state. fn must not mutate or retain it.
func (s *LedgerStore) View(fn func(snap *Snapshot)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

// Now returns the store's clock reading.
func (s *LedgerStore) Now() time.Time {
	return s.now()
}

// =============================================================================
// TX - Working copy inside Update
// =============================================================================

// Tx is the mutable working copy passed to an Update callback.
type Tx struct {
	snap   *Snapshot
	now    time.Time
	newID  func() string
	dirty  bool
	events []Event
}

// Now is the timestamp shared by every change in this Tx.
func (tx *Tx) Now() time.Time { return tx.now }

// Settings returns the current settings.
func (tx *Tx) Settings() Settings { return tx.snap.Settings }

func (tx *Tx) touch() { tx.dirty = true }

func (tx *Tx) emit(e Event) {
	if e.At.IsZero() {
		e.At = tx.now
	}
	tx.events = append(tx.events, e)
}

func (tx *Tx) user(id UserID) (*User, error) {
	for _, u := range tx.snap.Users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownUser, id)
}

func (tx *Tx) userByName(username string) *User {
	for _, u := range tx.snap.Users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

func (tx *Tx) task(id TaskID) (*Task, error) {
	for _, t := range tx.snap.Tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
}

func (tx *Tx) withdrawal(id WithdrawalID) (*Withdrawal, error) {
	for _, w := range tx.snap.Withdrawals {
		if w.ID == id {
			return w, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownWithdrawal, id)
}

func (tx *Tx) completion(userID UserID, taskID TaskID) *CompletionRecord {
	return findCompletion(tx.snap, userID, taskID)
}

func (tx *Tx) appendEntry(e LedgerEntry) {
	e.ID = EntryID(tx.newID())
	e.CreatedAt = tx.now
	tx.snap.Entries = append(tx.snap.Entries, &e)
	tx.touch()
}

func findCompletion(snap *Snapshot, userID UserID, taskID TaskID) *CompletionRecord {
	for _, r := range snap.Completions {
		if r.UserID == userID && r.TaskID == taskID {
			return r
		}
	}
	return nil
}
