package blob

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema version tracking:
// 1 - blobs table
const currentSchemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blobs (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	data      BLOB NOT NULL,
	modified  INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
) WITHOUT ROWID;
`

// SQLiteStore keeps blobs in one table of a SQLite database.
// Uses WAL mode so readers do not block the single writer.
type SQLiteStore struct {
	db  *sql.DB
	now Clock
}

// OpenSQLite creates or opens the database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: o.now}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Read(namespace, key string) ([]byte, time.Time, error) {
	var (
		data     []byte
		modified int64
	)
	err := s.db.QueryRow(
		`SELECT data, modified FROM blobs WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&data, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("sqlite read %s/%s: %w", namespace, key, err)
	}
	return data, time.Unix(0, modified), nil
}

func (s *SQLiteStore) Write(namespace, key string, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO blobs (namespace, key, data, modified) VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET data = excluded.data, modified = excluded.modified`,
		namespace, key, data, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite write %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(namespace, key string) error {
	if _, err := s.db.Exec(`DELETE FROM blobs WHERE namespace = ? AND key = ?`, namespace, key); err != nil {
		return fmt.Errorf("sqlite delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLiteStore) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
