/*
Package sqlite provides a SQLite-backed engine.Persister.

PURPOSE:
  Durably stores the engine's full Snapshot: users (with their active
  session), tasks, completion records, withdrawals, ledger entries and
  settings. The engine keeps the authoritative copy in memory and calls
  Save after every committed change.

SAVE SEMANTICS:
  Save replaces every table's contents inside one SQL transaction. Either
  the whole snapshot is written or none of it is; a failed Save leaves the
  previous snapshot intact and the engine discards its working copy.

LOAD SEMANTICS:
  Load returns nil (not an error) when nothing has been saved yet. The
  meta table records the last save, so an empty database and a saved
  empty snapshot are distinguishable. Load reads every table inside one
  transaction so a concurrent writer is never seen half-way.

VERSIONS:
  meta.version counts saves. The server and the admin CLI can open the
  same file; Save checks the stored version inside its write transaction
  and returns engine.ErrStaleSnapshot when another process saved first.
  Transactions begin IMMEDIATE so the check and the write cannot
  interleave with another writer.

KEY TABLES:
  users:          Accounts, balance and the active session columns
  tasks:          Task catalog
  completions:    One row per (user, task) ever paid
  withdrawals:    Withdrawal requests and decisions
  ledger_entries: Credit/debit/refund history
  settings:       Single row of admin settings
  meta:           Key/value bookkeeping (saved_at, version)

MONEY:
  Amounts are stored as TEXT decimal strings and parsed with
  shopspring/decimal. Floating point is never used for balances.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Single writer at a time
  - Better crash recovery

USAGE:
  db, err := sqlite.New("./data/taskledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer db.Close()

  ledgerStore, err := engine.OpenLedgerStore(ctx, db, engine.DefaultSettings())

SEE ALSO:
  - engine/store.go: Persister interface
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/task-ledger/engine"
)

// Store implements engine.Persister using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ engine.Persister     = (*Store)(nil)
	_ engine.VersionReader = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives as long as its connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		balance TEXT NOT NULL,
		status TEXT NOT NULL,
		session_task_id TEXT,
		session_started_at TEXT,
		session_seconds_remaining INTEGER,
		session_handle TEXT,
		created_at TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		reward TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	-- No foreign keys: users and tasks can be deleted while history stays.
	CREATE TABLE IF NOT EXISTS completions (
		user_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		url TEXT NOT NULL,
		reward TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (user_id, task_id)
	);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		destination_account TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		decided_at TEXT,
		decided_by TEXT,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user
		ON withdrawals(user_id);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status
		ON withdrawals(status);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		reference TEXT,
		idempotency_key TEXT,
		created_at TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user
		ON ledger_entries(user_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_idempotency
		ON ledger_entries(idempotency_key) WHERE idempotency_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		min_withdrawal TEXT NOT NULL,
		max_withdrawal TEXT NOT NULL,
		app_name TEXT NOT NULL,
		logo_url TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SAVE
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Save replaces the stored snapshot atomically. snap.Version must be one
// more than the stored version.
func (s *Store) Save(ctx context.Context, snap *engine.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	stored, err := readVersion(ctx, sqlTx)
	if err != nil {
		return err
	}
	if snap.Version != stored+1 {
		return fmt.Errorf("%w: stored version %d, saving %d", engine.ErrStaleSnapshot, stored, snap.Version)
	}

	for _, table := range []string{"users", "tasks", "completions", "withdrawals", "ledger_entries", "settings"} {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	steps := []func(context.Context, execer, *engine.Snapshot) error{
		saveUsers, saveTasks, saveCompletions, saveWithdrawals, saveEntries, saveSettings,
	}
	for _, step := range steps {
		if err := step(ctx, sqlTx, snap); err != nil {
			return err
		}
	}

	meta := map[string]string{
		"saved_at": formatTime(time.Now().UTC()),
		"version":  strconv.FormatInt(snap.Version, 10),
	}
	for key, value := range meta {
		_, err = sqlTx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value)
		if err != nil {
			return fmt.Errorf("failed to update meta: %w", err)
		}
	}

	return sqlTx.Commit()
}

func saveUsers(ctx context.Context, db execer, snap *engine.Snapshot) error {
	query := `
		INSERT INTO users
		(id, username, password_hash, role, balance, status,
		 session_task_id, session_started_at, session_seconds_remaining, session_handle,
		 created_at, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, u := range snap.Users {
		var (
			taskID, startedAt, handle sql.NullString
			remaining                 sql.NullInt64
		)
		if sess := u.ActiveSession; sess != nil {
			taskID = nullString(string(sess.TaskID))
			startedAt = nullString(formatTime(sess.StartedAt))
			remaining = sql.NullInt64{Int64: int64(sess.SecondsRemaining), Valid: true}
			handle = sql.NullString{String: string(sess.Handle), Valid: true}
		}
		_, err := db.ExecContext(ctx, query,
			u.ID, u.Username, u.PasswordHash, u.Role, u.Balance.String(), u.Status,
			taskID, startedAt, remaining, handle,
			formatTime(u.CreatedAt), i,
		)
		if err != nil {
			return fmt.Errorf("failed to save user %s: %w", u.ID, err)
		}
	}
	return nil
}

func saveTasks(ctx context.Context, db execer, snap *engine.Snapshot) error {
	query := `
		INSERT INTO tasks (id, url, reward, duration_seconds, created_at, updated_at, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for i, t := range snap.Tasks {
		_, err := db.ExecContext(ctx, query,
			t.ID, t.URL, t.Reward.String(), t.DurationSeconds,
			formatTime(t.CreatedAt), formatTime(t.UpdatedAt), i,
		)
		if err != nil {
			return fmt.Errorf("failed to save task %s: %w", t.ID, err)
		}
	}
	return nil
}

func saveCompletions(ctx context.Context, db execer, snap *engine.Snapshot) error {
	query := `
		INSERT INTO completions (user_id, task_id, url, reward, completed_at, position)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for i, r := range snap.Completions {
		_, err := db.ExecContext(ctx, query,
			r.UserID, r.TaskID, r.URL, r.Reward.String(), formatTime(r.CompletedAt), i,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("duplicate completion %s/%s: %w", r.UserID, r.TaskID, engine.ErrAlreadyCompleted)
			}
			return fmt.Errorf("failed to save completion: %w", err)
		}
	}
	return nil
}

func saveWithdrawals(ctx context.Context, db execer, snap *engine.Snapshot) error {
	query := `
		INSERT INTO withdrawals
		(id, user_id, amount, method, destination_account, status,
		 submitted_at, decided_at, decided_by, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, w := range snap.Withdrawals {
		var decidedAt sql.NullString
		if w.DecidedAt != nil {
			decidedAt = nullString(formatTime(*w.DecidedAt))
		}
		_, err := db.ExecContext(ctx, query,
			w.ID, w.UserID, w.Amount.String(), w.Method, w.DestinationAccount, w.Status,
			formatTime(w.SubmittedAt), decidedAt, nullString(string(w.DecidedBy)), i,
		)
		if err != nil {
			return fmt.Errorf("failed to save withdrawal %s: %w", w.ID, err)
		}
	}
	return nil
}

func saveEntries(ctx context.Context, db execer, snap *engine.Snapshot) error {
	query := `
		INSERT INTO ledger_entries
		(id, user_id, kind, amount, reference, idempotency_key, created_at, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, e := range snap.Entries {
		_, err := db.ExecContext(ctx, query,
			e.ID, e.UserID, e.Kind, e.Amount.String(), nullString(e.Reference),
			nullString(e.IdempotencyKey), formatTime(e.CreatedAt), i,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("duplicate ledger entry %q: %w", e.IdempotencyKey, err)
			}
			return fmt.Errorf("failed to save ledger entry: %w", err)
		}
	}
	return nil
}

func saveSettings(ctx context.Context, db execer, snap *engine.Snapshot) error {
	st := snap.Settings
	_, err := db.ExecContext(ctx, `
		INSERT INTO settings (id, min_withdrawal, max_withdrawal, app_name, logo_url)
		VALUES (1, ?, ?, ?, ?)
	`, st.MinWithdrawal.String(), st.MaxWithdrawal.String(), st.AppName, st.LogoURL)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load reads the stored snapshot, or returns nil if nothing was saved.
func (s *Store) Load(ctx context.Context) (*engine.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var savedAt string
	err = sqlTx.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'saved_at'").Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}

	snap := &engine.Snapshot{}
	if snap.Version, err = readVersion(ctx, sqlTx); err != nil {
		return nil, err
	}
	steps := []func(context.Context, queryer, *engine.Snapshot) error{
		loadUsers, loadTasks, loadCompletions, loadWithdrawals, loadEntries, loadSettings,
	}
	for _, step := range steps {
		if err := step(ctx, sqlTx, snap); err != nil {
			return nil, err
		}
	}
	return snap, sqlTx.Commit()
}

// StoredVersion returns the version of the last save, or 0.
func (s *Store) StoredVersion(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readVersion(ctx, s.db)
}

// readVersion treats a missing row as version 0. Databases written before
// versions were recorded start there too.
func readVersion(ctx context.Context, q queryer) (int64, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'version'").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stored version %q: %w", raw, err)
	}
	return v, nil
}

func loadUsers(ctx context.Context, db queryer, snap *engine.Snapshot) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, balance, status,
		       session_task_id, session_started_at, session_seconds_remaining, session_handle,
		       created_at
		FROM users ORDER BY position
	`)
	if err != nil {
		return fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			u                         engine.User
			balance, createdAt        string
			taskID, startedAt, handle sql.NullString
			remaining                 sql.NullInt64
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &balance, &u.Status,
			&taskID, &startedAt, &remaining, &handle, &createdAt); err != nil {
			return fmt.Errorf("failed to scan user: %w", err)
		}
		if u.Balance, err = parseMoney(balance); err != nil {
			return fmt.Errorf("user %s balance: %w", u.ID, err)
		}
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return fmt.Errorf("user %s created_at: %w", u.ID, err)
		}
		if taskID.Valid {
			started, err := parseTime(startedAt.String)
			if err != nil {
				return fmt.Errorf("user %s session_started_at: %w", u.ID, err)
			}
			u.ActiveSession = &engine.TaskSession{
				TaskID:           engine.TaskID(taskID.String),
				StartedAt:        started,
				SecondsRemaining: int(remaining.Int64),
				Handle:           engine.Handle(handle.String),
			}
		}
		snap.Users = append(snap.Users, &u)
	}
	return rows.Err()
}

func loadTasks(ctx context.Context, db queryer, snap *engine.Snapshot) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, reward, duration_seconds, created_at, updated_at
		FROM tasks ORDER BY position
	`)
	if err != nil {
		return fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t                            engine.Task
			reward, createdAt, updatedAt string
		)
		if err := rows.Scan(&t.ID, &t.URL, &reward, &t.DurationSeconds, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("failed to scan task: %w", err)
		}
		if t.Reward, err = parseMoney(reward); err != nil {
			return fmt.Errorf("task %s reward: %w", t.ID, err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return fmt.Errorf("task %s created_at: %w", t.ID, err)
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return fmt.Errorf("task %s updated_at: %w", t.ID, err)
		}
		snap.Tasks = append(snap.Tasks, &t)
	}
	return rows.Err()
}

func loadCompletions(ctx context.Context, db queryer, snap *engine.Snapshot) error {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, task_id, url, reward, completed_at
		FROM completions ORDER BY position
	`)
	if err != nil {
		return fmt.Errorf("failed to query completions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                   engine.CompletionRecord
			reward, completedAt string
		)
		if err := rows.Scan(&r.UserID, &r.TaskID, &r.URL, &reward, &completedAt); err != nil {
			return fmt.Errorf("failed to scan completion: %w", err)
		}
		if r.Reward, err = parseMoney(reward); err != nil {
			return fmt.Errorf("completion reward: %w", err)
		}
		if r.CompletedAt, err = parseTime(completedAt); err != nil {
			return fmt.Errorf("completion completed_at: %w", err)
		}
		snap.Completions = append(snap.Completions, &r)
	}
	return rows.Err()
}

func loadWithdrawals(ctx context.Context, db queryer, snap *engine.Snapshot) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, amount, method, destination_account, status,
		       submitted_at, decided_at, decided_by
		FROM withdrawals ORDER BY position
	`)
	if err != nil {
		return fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			w                    engine.Withdrawal
			amount, submittedAt  string
			decidedAt, decidedBy sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.UserID, &amount, &w.Method, &w.DestinationAccount, &w.Status,
			&submittedAt, &decidedAt, &decidedBy); err != nil {
			return fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		if w.Amount, err = parseMoney(amount); err != nil {
			return fmt.Errorf("withdrawal %s amount: %w", w.ID, err)
		}
		if w.SubmittedAt, err = parseTime(submittedAt); err != nil {
			return fmt.Errorf("withdrawal %s submitted_at: %w", w.ID, err)
		}
		if decidedAt.Valid {
			t, err := parseTime(decidedAt.String)
			if err != nil {
				return fmt.Errorf("withdrawal %s decided_at: %w", w.ID, err)
			}
			w.DecidedAt = &t
		}
		w.DecidedBy = engine.UserID(decidedBy.String)
		snap.Withdrawals = append(snap.Withdrawals, &w)
	}
	return rows.Err()
}

func loadEntries(ctx context.Context, db queryer, snap *engine.Snapshot) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, kind, amount, reference, idempotency_key, created_at
		FROM ledger_entries ORDER BY position
	`)
	if err != nil {
		return fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                 engine.LedgerEntry
			amount, createdAt string
			reference, key    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &amount, &reference, &key, &createdAt); err != nil {
			return fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if e.Amount, err = parseMoney(amount); err != nil {
			return fmt.Errorf("ledger entry %s amount: %w", e.ID, err)
		}
		e.Reference = reference.String
		e.IdempotencyKey = key.String
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return fmt.Errorf("ledger entry %s created_at: %w", e.ID, err)
		}
		snap.Entries = append(snap.Entries, &e)
	}
	return rows.Err()
}

func loadSettings(ctx context.Context, db queryer, snap *engine.Snapshot) error {
	var minW, maxW string
	err := db.QueryRowContext(ctx,
		"SELECT min_withdrawal, max_withdrawal, app_name, logo_url FROM settings WHERE id = 1",
	).Scan(&minW, &maxW, &snap.Settings.AppName, &snap.Settings.LogoURL)
	if errors.Is(err, sql.ErrNoRows) {
		snap.Settings = engine.DefaultSettings()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	if snap.Settings.MinWithdrawal, err = parseMoney(minW); err != nil {
		return fmt.Errorf("min_withdrawal: %w", err)
	}
	if snap.Settings.MaxWithdrawal, err = parseMoney(maxW); err != nil {
		return fmt.Errorf("max_withdrawal: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseMoney(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
