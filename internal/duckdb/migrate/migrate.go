// Package migrate applies the embedded history schema to a DuckDB database.
package migrate

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrSchemaTooNew is returned when the database was migrated by a newer
// build than this one.
var ErrSchemaTooNew = errors.New("migrate: database schema is newer than this build")

// Runner applies versioned SQL files named NNN_description.sql in version
// order, each in its own transaction.
type Runner struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunner creates a migration runner for db. A nil logger discards.
func NewRunner(db *sql.DB, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{db: db, logger: logger.With("component", "migrate")}
}

// Status describes the schema version of a database.
type Status struct {
	Current int
	Latest  int
	Pending int
}

type migration struct {
	version int
	name    string
	sql     string
}

func loadMigrations() ([]migration, error) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing embedded migrations: %w", err)
	}

	migs := make([]migration, 0, len(files))
	seen := make(map[int]string, len(files))
	for _, f := range files {
		name := path.Base(f)
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: name must be NNN_description.sql", name)
		}
		ver, err := strconv.Atoi(prefix)
		if err != nil || ver <= 0 {
			return nil, fmt.Errorf("migration %s: invalid version %q", name, prefix)
		}
		if prev, dup := seen[ver]; dup {
			return nil, fmt.Errorf("migration %s: version %d already used by %s", name, ver, prev)
		}
		seen[ver] = name

		data, err := migrations.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		migs = append(migs, migration{version: ver, name: name, sql: string(data)})
	}

	slices.SortFunc(migs, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return migs, nil
}

func (r *Runner) bootstrap(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	if err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}
	return nil
}

func (r *Runner) appliedVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading applied version: %w", err)
	}
	return int(v.Int64), nil
}

// Status reports the applied and latest versions. It creates the
// bookkeeping table when missing but applies nothing.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	if err := r.bootstrap(ctx); err != nil {
		return Status{}, err
	}
	migs, err := loadMigrations()
	if err != nil {
		return Status{}, err
	}
	current, err := r.appliedVersion(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{Current: current}
	for _, m := range migs {
		st.Latest = m.version
		if m.version > current {
			st.Pending++
		}
	}
	return st, nil
}

// Run applies every pending migration. It refuses to touch a database
// whose schema is newer than the embedded migrations.
func (r *Runner) Run(ctx context.Context) error {
	st, err := r.Status(ctx)
	if err != nil {
		return err
	}
	if st.Current > st.Latest {
		return fmt.Errorf("%w: database at version %d, build knows %d", ErrSchemaTooNew, st.Current, st.Latest)
	}
	if st.Pending == 0 {
		return nil
	}

	migs, err := loadMigrations()
	if err != nil {
		return err
	}
	for _, m := range migs {
		if m.version <= st.Current {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return err
		}
		r.logger.Info("applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", m.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("executing %s: %w", m.name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		return fmt.Errorf("recording %s: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.name, err)
	}
	return nil
}
