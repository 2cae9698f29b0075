package db

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/bucketgallery/internal/utils"
)

const memoryPath = ":memory:"

// pragmas applied to every new connection pool. The cache store is small and
// write-coalesced, so durability is traded for fewer fsyncs.
var defaultPragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA temp_store=MEMORY;",
}

type options struct {
	path            string
	pragmas         []string
	busyTimeout     time.Duration
	maxOpenConns    int
	connMaxLifetime time.Duration
}

// Option configures Open.
type Option func(*options)

// WithPath sets the database file. The default is an in-memory database.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithPragmas replaces the default pragma set.
func WithPragmas(pragmas ...string) Option {
	return func(o *options) {
		o.pragmas = pragmas
	}
}

func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.busyTimeout = d
	}
}

func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		o.maxOpenConns = n
	}
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *options) {
		o.connMaxLifetime = d
	}
}

// Open connects to a sqlite database using the driver selected at build time.
func Open(opts ...Option) (*sqlx.DB, error) {
	o := &options{
		path:         memoryPath,
		pragmas:      defaultPragmas,
		busyTimeout:  5 * time.Second,
		maxOpenConns: 1,
	}
	for _, opt := range opts {
		opt(o)
	}

	dsn := memoryPath
	if o.path != memoryPath {
		if err := utils.EnsureParent(o.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", o.path)
	}

	slog.Debug("db open", "driver", driverID, "path", o.path)
	conn, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if o.maxOpenConns > 0 {
		conn.SetMaxOpenConns(o.maxOpenConns)
	}
	if o.connMaxLifetime > 0 {
		conn.SetConnMaxLifetime(o.connMaxLifetime)
	}

	pragmas := append([]string{}, o.pragmas...)
	if o.busyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout=%d;", o.busyTimeout.Milliseconds()))
	}
	if _, err := conn.Exec(strings.Join(pragmas, "\n")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	return conn, nil
}
