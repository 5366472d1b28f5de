package database

import (
	"context"
	"embed"
	"testing"
	"testing/fstest"
	"time"
)

// testMigrationsDir is the directory containing test migration files.
const testMigrationsDir = "testdata"

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useTestMigrations points the package at testdata for one test.
func useTestMigrations(t *testing.T) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = testMigrationsFS
	MigrationsDir = testMigrationsDir
}

// openBareHandle opens a fresh file without the kvstore schema.
func openBareHandle(t *testing.T, driver Driver) Handle {
	t.Helper()
	h, err := Open(context.Background(), Config{
		Path:   t.TempDir() + "/migrate.db",
		Driver: driver,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { h.Close() }) //nolint:errcheck // Test cleanup
	return h
}

func tableExists(t *testing.T, h Handle, name string) bool {
	t.Helper()
	rows, err := h.Query(context.Background(),
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	if err != nil {
		t.Fatalf("Query(sqlite_master) error = %v", err)
	}
	return len(rows) == 1
}

// TestMigrate verifies migration application.
func TestMigrate(t *testing.T) {
	useTestMigrations(t)

	forEachDriver(t, func(t *testing.T, driver Driver) {
		h := openBareHandle(t, driver)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := Migrate(ctx, h); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}

		for _, table := range []string{"test_meta", "kvstore"} {
			if !tableExists(t, h, table) {
				t.Errorf("table %s not created", table)
			}
		}

		applied, pending, err := MigrationStatus(ctx, h)
		if err != nil {
			t.Fatalf("MigrationStatus() error = %v", err)
		}
		if len(applied) != 2 {
			t.Errorf("expected 2 applied migrations, got %d", len(applied))
		}
		if len(pending) != 0 {
			t.Errorf("expected 0 pending migrations, got %d", len(pending))
		}
		if len(applied) > 0 && applied[0].AppliedAt.IsZero() {
			t.Error("AppliedAt was not recorded")
		}

		// Running again should be idempotent
		if err := Migrate(ctx, h); err != nil {
			t.Fatalf("second Migrate() error = %v", err)
		}
	})
}

// TestMigrateDown verifies migration rollback.
func TestMigrateDown(t *testing.T) {
	useTestMigrations(t)

	forEachDriver(t, func(t *testing.T, driver Driver) {
		h := openBareHandle(t, driver)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := Migrate(ctx, h); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}

		// Latest first: kvstore goes, test_meta stays.
		if err := MigrateDown(ctx, h); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
		if tableExists(t, h, "kvstore") {
			t.Error("table kvstore should have been dropped")
		}
		if !tableExists(t, h, "test_meta") {
			t.Error("table test_meta should still exist")
		}

		applied, pending, err := MigrationStatus(ctx, h)
		if err != nil {
			t.Fatalf("MigrationStatus() error = %v", err)
		}
		if len(applied) != 1 || len(pending) != 1 {
			t.Errorf("applied/pending = %d/%d, want 1/1", len(applied), len(pending))
		}
	})
}

// TestMigrateNoMigrations verifies behaviour with no migrations.
func TestMigrateNoMigrations(t *testing.T) {
	origFS, origDir := MigrationsFS, MigrationsDir
	defer func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	}()
	MigrationsFS = nil
	MigrationsDir = "."

	h := openBareHandle(t, DriverSQLite3)

	if err := Migrate(context.Background(), h); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
	if err := MigrateDown(context.Background(), h); err != nil {
		t.Fatalf("MigrateDown() with nothing applied error = %v", err)
	}
}

// TestMigrationStatus verifies status reporting before any migration ran.
func TestMigrationStatus(t *testing.T) {
	useTestMigrations(t)

	h := openBareHandle(t, DriverZombiezen)

	applied, pending, err := MigrationStatus(context.Background(), h)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied, got %d", len(applied))
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending, got %d", len(pending))
	}
	if tableExists(t, h, "schema_migrations") {
		t.Error("MigrationStatus() should not create schema_migrations")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     migrationFile
		wantOk   bool
	}{
		{
			filename: "20261017_000000_create_kvstore.up.sql",
			want:     migrationFile{version: "20261017_000000", name: "create_kvstore", up: true},
			wantOk:   true,
		},
		{
			filename: "20261017_000000_create_kvstore.down.sql",
			want:     migrationFile{version: "20261017_000000", name: "create_kvstore"},
			wantOk:   true,
		},
		{
			filename: "20260118_120000_add_ttl_column.up.sql",
			want:     migrationFile{version: "20260118_120000", name: "add_ttl_column", up: true},
			wantOk:   true,
		},
		{filename: "readme.txt"},
		{filename: "20261017_000000_create_kvstore.sql"},
		{filename: "invalid.up.sql"},
		{filename: "20261017_.up.sql"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && got != tt.want {
				t.Errorf("parseMigrationFilename(%q) = %+v, want %+v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/20260201_000000_second.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"m/20260101_000000_first.up.sql":    {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/20260101_000000_first.down.sql":  {Data: []byte("DROP TABLE a;")},
		"m/20260301_000000_orphan.down.sql": {Data: []byte("DROP TABLE c;")},
		"m/notes.md":                        {Data: []byte("ignored")},
	}

	got, err := readMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("readMigrations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("readMigrations() returned %d migrations, want 2", len(got))
	}
	if got[0].Name != "first" || got[1].Name != "second" {
		t.Errorf("order = %s, %s; want first, second", got[0].Name, got[1].Name)
	}
	if got[0].DownSQL != "DROP TABLE a;" {
		t.Errorf("first DownSQL = %q", got[0].DownSQL)
	}
	if got[1].DownSQL != "" {
		t.Errorf("second DownSQL = %q, want empty", got[1].DownSQL)
	}

	none, err := readMigrations(fsys, "missing")
	if err != nil || none != nil {
		t.Errorf("readMigrations(missing) = %v, %v; want nil, nil", none, err)
	}
}
