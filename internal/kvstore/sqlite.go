package kvstore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/bucketgallery/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_store (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL -- RFC3339
);
`

type kvRow struct {
	Key       string `db:"key"`
	Value     string `db:"value"`
	UpdatedAt string `db:"updated_at"`
}

// SqliteStore persists values in a single sqlite table.
type SqliteStore struct {
	db     *sqlx.DB
	dbPath string
}

// OpenSqliteStore opens (or creates) the store at dbPath.
// Use ":memory:" for a throwaway database.
func OpenSqliteStore(dbPath string) (*SqliteStore, error) {
	conn, err := db.Open(db.WithPath(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init kv store schema: %w", err)
	}

	return &SqliteStore{db: conn, dbPath: dbPath}, nil
}

func (s *SqliteStore) GetString(key string) (string, bool, error) {
	if s.db == nil {
		return "", false, ErrClosed
	}

	var value string
	err := s.db.Get(&value, "SELECT value FROM kv_store WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SqliteStore) SetString(key, value string) error {
	if s.db == nil {
		return ErrClosed
	}

	row := kvRow{Key: key, Value: value, UpdatedAt: time.Now().UTC().Format(time.RFC3339)}
	_, err := s.db.NamedExec(`INSERT OR REPLACE INTO kv_store (key, value, updated_at)
	          VALUES (:key, :value, :updated_at)`, row)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SqliteStore) RemoveKey(key string) error {
	if s.db == nil {
		return ErrClosed
	}

	if _, err := s.db.Exec("DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close kv store: %w", err)
	}
	slog.Debug("kv store closed", "path", s.dbPath)
	return nil
}
