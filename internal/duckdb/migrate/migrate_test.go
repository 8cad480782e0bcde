package migrate

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
)

const latestVersion = 2

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunCreatesSnapshotTable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if err := NewRunner(db, nil).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, table := range []string{"window_snapshots", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var idx int
	if err := db.QueryRow("SELECT COUNT(*) FROM duckdb_indexes() WHERE index_name = 'idx_window_snapshots_lookup'").Scan(&idx); err != nil {
		t.Fatalf("query indexes: %v", err)
	}
	if idx != 1 {
		t.Errorf("lookup index count = %d, want 1", idx)
	}
}

func TestStatusBeforeAndAfterRun(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(openTestDB(t), nil)

	st, err := r.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st != (Status{Current: 0, Latest: latestVersion, Pending: latestVersion}) {
		t.Errorf("before run: %+v", st)
	}

	if err := r.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	st, err = r.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st != (Status{Current: latestVersion, Latest: latestVersion}) {
		t.Errorf("after run: %+v", st)
	}
}

func TestRunRefusesNewerSchema(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	r := NewRunner(db, nil)

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := db.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", latestVersion+1, "999_future.sql"); err != nil {
		t.Fatalf("insert future version: %v", err)
	}

	if err := r.Run(ctx); !errors.Is(err, ErrSchemaTooNew) {
		t.Fatalf("Run error = %v, want ErrSchemaTooNew", err)
	}
}

func TestLoadMigrationsOrdered(t *testing.T) {
	migs, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migs) != latestVersion {
		t.Fatalf("migrations = %d, want %d", len(migs), latestVersion)
	}
	for i, m := range migs {
		if m.version != i+1 {
			t.Errorf("migrations[%d].version = %d, want %d", i, m.version, i+1)
		}
	}
}
