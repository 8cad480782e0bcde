// Package duckdb stores periodic window snapshots in DuckDB.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/windstat/internal/duckdb/migrate"
)

// DefaultQueryTimeout bounds every statement the store issues.
const DefaultQueryTimeout = 30 * time.Second

// Store keeps window snapshot history in a single DuckDB file, or in
// memory when no path is given. Writes hold the lock exclusively.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	logger       *slog.Logger
	queryTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueryTimeout overrides DefaultQueryTimeout. Non-positive values are ignored.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// NewStore opens dbPath, creating parent directories, and brings the schema
// up to date. An empty dbPath opens an in-memory database.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	s := &Store{
		dbPath:       dbPath,
		logger:       slog.Default(),
		queryTimeout: DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "duckdb")

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", dbPath, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()
	if err := migrate.NewRunner(db, s.logger).Run(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the configured path. Empty means in-memory.
func (s *Store) DBPath() string {
	return s.dbPath
}

// QueryTimeout returns the per-statement timeout.
func (s *Store) QueryTimeout() time.Duration {
	return s.queryTimeout
}

// SchemaStatus reports the applied schema version.
func (s *Store) SchemaStatus() (migrate.Status, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()
	return migrate.NewRunner(s.db, nil).Status(ctx)
}

func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.queryTimeout)
}
