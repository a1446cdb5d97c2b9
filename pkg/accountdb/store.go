package accountdb

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// ErrDuplicate is returned when registering a username that already exists.
var ErrDuplicate = errors.New("accountdb: username already registered")

// ErrNotFound is returned by Get for an unknown username.
var ErrNotFound = errors.New("accountdb: account not found")

// defaultLegacySuffix is the fixed password suffix used by the pre-migration
// account database. Kept only so imported rows stay verifiable; new accounts
// always get a per-account bcrypt salt.
const defaultLegacySuffix = "daddy"

const queryTimeout = 5 * time.Second

// Account is one registered player identity. Immutable after creation.
type Account struct {
	Username     string
	PasswordHash string
	DisplayName  string
}

// Store persists accounts in a SQLite database.
type Store struct {
	db   *sql.DB
	path string

	// LegacySuffix is appended before SHA-256 hashing when verifying rows
	// imported from the old database. Changing it only affects those rows.
	LegacySuffix string
}

// Open opens (or creates) the account database, sets WAL mode and a busy
// timeout, and ensures the accounts table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("accountdb: open %s: %w", path, err)
	}
	// WAL for concurrent readers alongside the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("accountdb: setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("accountdb: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			username      TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			display_name  TEXT NOT NULL,
			created_at    TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("accountdb: creating accounts table: %w", err)
	}
	return &Store{db: db, path: path, LegacySuffix: defaultLegacySuffix}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the filesystem path of the database file.
func (s *Store) Path() string { return s.path }

// Create registers a new account with a bcrypt password hash.
// Returns ErrDuplicate if the username is taken.
func (s *Store) Create(displayName, username, password string) error {
	username = strings.TrimSpace(username)
	displayName = strings.TrimSpace(displayName)
	if username == "" {
		return fmt.Errorf("accountdb: empty username")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("accountdb: hashing password: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, password_hash, display_name) VALUES (?, ?, ?)`,
		username, string(hash), displayName)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, username)
		}
		return fmt.Errorf("accountdb: inserting account: %w", err)
	}
	return nil
}

// CreateLegacy inserts an account whose password hash is already in the old
// SHA-256+suffix hex form. Used by the migration tool only.
func (s *Store) CreateLegacy(displayName, username, legacyHexHash string) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, password_hash, display_name) VALUES (?, ?, ?)`,
		strings.TrimSpace(username), legacyHexHash, strings.TrimSpace(displayName))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, username)
		}
		return fmt.Errorf("accountdb: inserting legacy account: %w", err)
	}
	return nil
}

// Verify checks a username/password pair. Bad credentials are a negative
// result, not an error; the error return is for store failures only.
func (s *Store) Verify(username, password string) (bool, error) {
	acct, err := s.Get(username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if isLegacyHash(acct.PasswordHash) {
		sum := sha256.Sum256([]byte(password + s.LegacySuffix))
		want := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(want), []byte(acct.PasswordHash)) == 1, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) == nil, nil
}

// Get fetches a single account by username.
func (s *Store) Get(username string) (*Account, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	row := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, display_name FROM accounts WHERE username = ?`,
		strings.TrimSpace(username))
	var acct Account
	if err := row.Scan(&acct.Username, &acct.PasswordHash, &acct.DisplayName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
		}
		return nil, fmt.Errorf("accountdb: fetching account: %w", err)
	}
	return &acct, nil
}

// Count returns the number of registered accounts.
func (s *Store) Count() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("accountdb: counting accounts: %w", err)
	}
	return n, nil
}

// isLegacyHash reports whether a stored hash is an old-style SHA-256 hex
// digest rather than a bcrypt hash.
func isLegacyHash(h string) bool {
	if len(h) != 64 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// isUniqueViolation detects a primary-key conflict from the sqlite driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
