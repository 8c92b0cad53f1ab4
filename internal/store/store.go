// Package store provides the embedded, crash-safe transactional engine
// the rest of the service builds on: one sqlite3 database, opened in WAL
// mode, exposing an ordered point table (accounts) and generic multimap
// tables (follows, followers) plus a timestamp multimap (events).
//
// Every mutation goes through Update, which holds a process-wide write
// lock for the lifetime of the closure and commits or rolls back the
// underlying sql.Tx atomically. Reads go through View, which opens a
// read-only transaction and never blocks on a writer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/thesimplekid/contact-group-auth/pkg/logging"
)

// Table identifies one of the multimap tables of string->string edges.
type Table string

const (
	// Follows maps follower -> set of followees.
	Follows Table = "follows"
	// Followers maps followee -> set of followers.
	Followers Table = "followers"
)

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// Store is the embedded transactional engine the graph layer builds on.
type Store struct {
	db     *sql.DB
	dbPath string

	// writeMu is the process-wide exclusive write gate: only one
	// Update call may be in flight at a time, but View never waits on
	// it since sqlite's WAL readers see a private snapshot.
	writeMu sync.Mutex

	log *logging.Logger
}

// New opens (creating if necessary) the store under cfg.DataDir.
func New(cfg *Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "trustgraph.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=off")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// sqlite only supports one writer; readers share the same pool but
	// take their own snapshot, so MaxOpenConns stays uncapped - writers
	// are serialized via writeMu so a second one never blocks inside
	// sqlite itself.
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
		log:    logging.GetDefault().Component("store"),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the on-disk path of the database file.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		pubkey TEXT PRIMARY KEY,
		tier   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS follows (
		follower TEXT NOT NULL,
		followee TEXT NOT NULL,
		PRIMARY KEY (follower, followee)
	);
	CREATE INDEX IF NOT EXISTS idx_follows_follower ON follows(follower);

	CREATE TABLE IF NOT EXISTS followers (
		followee TEXT NOT NULL,
		follower TEXT NOT NULL,
		PRIMARY KEY (followee, follower)
	);
	CREATE INDEX IF NOT EXISTS idx_followers_followee ON followers(followee);

	CREATE TABLE IF NOT EXISTS events (
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		pubkey TEXT NOT NULL,
		ts     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_pubkey_ts ON events(pubkey, ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ReadTx is a consistent snapshot across all four tables, held open for
// the duration of a View call.
type ReadTx struct {
	tx *sql.Tx
}

// WriteTx is an exclusive write transaction; all mutation inside it
// commits or aborts atomically.
type WriteTx struct {
	tx *sql.Tx
}

// View runs fn inside a read-only transaction. The snapshot is dropped
// when fn returns; View never blocks behind a concurrent Update.
func (s *Store) View(fn func(*ReadTx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("storage fault: begin read: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&ReadTx{tx: tx}); err != nil {
		return err
	}
	return nil
}

// Update runs fn inside an exclusive write transaction. If fn returns an
// error the transaction is rolled back and the error is returned as-is;
// otherwise the transaction commits atomically across every table it
// touched.
func (s *Store) Update(fn func(*WriteTx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage fault: begin write: %w", err)
	}

	if err := fn(&WriteTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage fault: commit: %w", err)
	}
	return nil
}

// GetAccount returns the stored tier rank for pubkey, or ok=false if no
// record exists.
func (r *ReadTx) GetAccount(pubkey string) (tier int, ok bool, err error) {
	err = r.tx.QueryRow(`SELECT tier FROM accounts WHERE pubkey = ?`, pubkey).Scan(&tier)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage fault: get account: %w", err)
	}
	return tier, true, nil
}

// PutAccount upserts the tier rank for pubkey.
func (w *WriteTx) PutAccount(pubkey string, tier int) error {
	_, err := w.tx.Exec(`
		INSERT INTO accounts (pubkey, tier) VALUES (?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET tier = excluded.tier
	`, pubkey, tier)
	if err != nil {
		return fmt.Errorf("storage fault: put account: %w", err)
	}
	return nil
}

// DeleteAccount removes the account record for pubkey, if any.
func (w *WriteTx) DeleteAccount(pubkey string) error {
	if _, err := w.tx.Exec(`DELETE FROM accounts WHERE pubkey = ?`, pubkey); err != nil {
		return fmt.Errorf("storage fault: delete account: %w", err)
	}
	return nil
}

// IterateAccounts walks every account record in key order. Used only by
// the admin debug dump.
func (s *Store) IterateAccounts(fn func(pubkey string, tier int) error) error {
	return s.View(func(r *ReadTx) error {
		rows, err := r.tx.Query(`SELECT pubkey, tier FROM accounts ORDER BY pubkey ASC`)
		if err != nil {
			return fmt.Errorf("storage fault: iterate accounts: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var pubkey string
			var tier int
			if err := rows.Scan(&pubkey, &tier); err != nil {
				return fmt.Errorf("storage fault: scan account: %w", err)
			}
			if err := fn(pubkey, tier); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

func (t Table) column() (keyCol, valCol string) {
	switch t {
	case Follows:
		return "follower", "followee"
	case Followers:
		return "followee", "follower"
	default:
		return "", ""
	}
}

// Insert adds value to the multimap entry for key in table. Idempotent.
func (w *WriteTx) Insert(table Table, key, value string) error {
	keyCol, valCol := table.column()
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)`, table, keyCol, valCol)
	if _, err := w.tx.Exec(query, key, value); err != nil {
		return fmt.Errorf("storage fault: insert %s: %w", table, err)
	}
	return nil
}

// Remove deletes value from the multimap entry for key in table.
// Idempotent.
func (w *WriteTx) Remove(table Table, key, value string) error {
	keyCol, valCol := table.column()
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ? AND %s = ?`, table, keyCol, valCol)
	if _, err := w.tx.Exec(query, key, value); err != nil {
		return fmt.Errorf("storage fault: remove %s: %w", table, err)
	}
	return nil
}

// RemoveAll deletes every value stored under key in table.
func (w *WriteTx) RemoveAll(table Table, key string) error {
	keyCol, _ := table.column()
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, keyCol)
	if _, err := w.tx.Exec(query, key); err != nil {
		return fmt.Errorf("storage fault: remove_all %s: %w", table, err)
	}
	return nil
}

// Values returns every value stored under key in table.
func (r *ReadTx) Values(table Table, key string) ([]string, error) {
	keyCol, valCol := table.column()
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, valCol, table, keyCol)
	rows, err := r.tx.Query(query, key)
	if err != nil {
		return nil, fmt.Errorf("storage fault: values %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("storage fault: scan %s: %w", table, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// InsertEvent records an admission timestamp for pubkey. Admissions in
// the same second are stored as separate rows: each one counts toward
// the rate-limit windows.
func (w *WriteTx) InsertEvent(pubkey string, ts int64) error {
	_, err := w.tx.Exec(`INSERT INTO events (pubkey, ts) VALUES (?, ?)`, pubkey, ts)
	if err != nil {
		return fmt.Errorf("storage fault: insert event: %w", err)
	}
	return nil
}

// PruneEvents deletes every timestamp for pubkey older than before.
func (w *WriteTx) PruneEvents(pubkey string, before int64) error {
	if _, err := w.tx.Exec(`DELETE FROM events WHERE pubkey = ? AND ts < ?`, pubkey, before); err != nil {
		return fmt.Errorf("storage fault: prune events: %w", err)
	}
	return nil
}

// Events returns every timestamp recorded for pubkey.
func (r *ReadTx) Events(pubkey string) ([]int64, error) {
	rows, err := r.tx.Query(`SELECT ts FROM events WHERE pubkey = ?`, pubkey)
	if err != nil {
		return nil, fmt.Errorf("storage fault: events: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("storage fault: scan event: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// ClearGraph empties the accounts, follows and followers tables. Events
// are retained so rate-limit history survives a graph rebuild.
func (s *Store) ClearGraph() error {
	return s.Update(func(w *WriteTx) error {
		for _, table := range []string{"accounts", "follows", "followers"} {
			if _, err := w.tx.Exec(fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
				return fmt.Errorf("storage fault: clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func expandPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
