package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// MigrationsFS holds the migration files. It is set by the migrations
// package at init time so the SQL is compiled into the binary.
//
//	//go:embed *.sql
//	var migrationsFS embed.FS
//
//	func init() {
//	    database.MigrationsFS = migrationsFS
//	    database.MigrationsDir = "."
//	}
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS containing migration files.
var MigrationsDir = "migrations"

// Migration represents a single schema migration.
type Migration struct {
	// Version is extracted from the filename.
	// Format: YYYYMMDD_HHMMSS (e.g., 20261017_000000)
	Version string

	// Name is the description part of the filename.
	Name string

	// UpSQL applies this migration.
	UpSQL string

	// DownSQL reverts this migration. May be empty.
	DownSQL string
}

// MigrationRecord represents a row in the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies all pending migrations through h, oldest first.
//
// Each migration runs in its own BEGIN IMMEDIATE transaction together
// with its schema_migrations record. If migration N fails, 1..N-1 stay
// committed, N is rolled back and later ones are not attempted.
// Re-running Migrate continues from N.
//
// The caller must hold the database write lock.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - h: Open read/write handle
//
// Returns:
//   - error: If any migration fails (that migration is rolled back)
func Migrate(ctx context.Context, h Handle) error {
	if err := createMigrationsTable(ctx, h); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if len(migrations) == 0 {
		return nil
	}

	applied, err := getAppliedMigrations(ctx, h)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	for _, m := range pendingMigrations(migrations, applied) {
		if err := applyMigration(ctx, h, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// MigrateDown rolls back the most recent migration.
// This is primarily for development and testing.
func MigrateDown(ctx context.Context, h Handle) error {
	applied, err := getAppliedMigrations(ctx, h)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == latest.Version {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found in filesystem", latest.Version)
	}
	if migration.DownSQL == "" {
		return fmt.Errorf("migration %s has no down SQL", latest.Version)
	}

	return inTransaction(ctx, h, func() error {
		if err := h.ExecScript(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("executing down SQL: %w", err)
		}
		if err := h.Exec(ctx,
			"DELETE FROM schema_migrations WHERE version = ?",
			migration.Version,
		); err != nil {
			return fmt.Errorf("removing migration record: %w", err)
		}
		return nil
	})
}

// MigrationStatus returns applied and pending migrations.
// The schema_migrations table is not created if absent; every
// migration is then reported as pending.
func MigrationStatus(ctx context.Context, h Handle) (applied []MigrationRecord, pending []Migration, err error) {
	exists, err := migrationsTableExists(ctx, h)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		applied, err = getAppliedMigrations(ctx, h)
		if err != nil {
			return nil, nil, err
		}
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, nil, err
	}

	return applied, pendingMigrations(migrations, applied), nil
}

func pendingMigrations(all []Migration, applied []MigrationRecord) []Migration {
	appliedSet := make(map[string]bool, len(applied))
	for _, m := range applied {
		appliedSet[m.Version] = true
	}

	var pending []Migration
	for _, m := range all {
		if !appliedSet[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending
}

func createMigrationsTable(ctx context.Context, h Handle) error {
	return h.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
}

func migrationsTableExists(ctx context.Context, h Handle) (bool, error) {
	rows, err := h.Query(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	)
	if err != nil {
		return false, fmt.Errorf("checking migrations table: %w", err)
	}
	return len(rows) > 0, nil
}

func getAppliedMigrations(ctx context.Context, h Handle) ([]MigrationRecord, error) {
	rows, err := h.Query(ctx,
		"SELECT version, applied_at FROM schema_migrations ORDER BY version",
	)
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}

	records := make([]MigrationRecord, 0, len(rows))
	for _, row := range rows {
		if len(row) != 2 {
			return nil, fmt.Errorf("unexpected migration row width %d", len(row))
		}
		r := MigrationRecord{Version: row[0]}
		r.AppliedAt, _ = time.Parse(time.RFC3339, row[1]) //nolint:errcheck // Format is controlled
		records = append(records, r)
	}
	return records, nil
}

func applyMigration(ctx context.Context, h Handle, m Migration) error {
	return inTransaction(ctx, h, func() error {
		if err := h.ExecScript(ctx, m.UpSQL); err != nil {
			return fmt.Errorf("executing SQL: %w", err)
		}
		if err := h.Exec(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.Version,
			time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}

// inTransaction runs fn between BEGIN IMMEDIATE and COMMIT, rolling
// back if fn or the commit fails.
func inTransaction(ctx context.Context, h Handle, fn func() error) error {
	if err := h.Exec(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(); err != nil {
		return errors.Join(err, h.Exec(ctx, "ROLLBACK"))
	}
	if err := h.Exec(ctx, "COMMIT"); err != nil {
		return errors.Join(
			fmt.Errorf("committing: %w", err),
			h.Exec(ctx, "ROLLBACK"),
		)
	}
	return nil
}

// loadMigrations reads the registered migration set.
func loadMigrations() ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}
	return readMigrations(MigrationsFS, MigrationsDir)
}

// migrationFile is one parsed migration filename.
type migrationFile struct {
	version string
	name    string
	up      bool
}

// readMigrations pairs the up and down files in dir by version and
// returns them oldest first. A missing dir holds no migrations; a down
// file without an up file is ignored.
func readMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	byVersion := make(map[string]*Migration)
	downs := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}

		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		if !f.up {
			downs[f.version] = string(body)
			continue
		}
		byVersion[f.version] = &Migration{Version: f.version, Name: f.name, UpSQL: string(body)}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for version, m := range byVersion {
		m.DownSQL = downs[version]
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b Migration) int {
		return strings.Compare(a.Version, b.Version)
	})
	return migrations, nil
}

// parseMigrationFilename splits "YYYYMMDD_HHMMSS_name.{up,down}.sql".
func parseMigrationFilename(filename string) (migrationFile, bool) {
	stem, ok := strings.CutSuffix(filename, ".sql")
	if !ok {
		return migrationFile{}, false
	}

	var f migrationFile
	switch {
	case strings.HasSuffix(stem, ".up"):
		stem, f.up = strings.TrimSuffix(stem, ".up"), true
	case strings.HasSuffix(stem, ".down"):
		stem = strings.TrimSuffix(stem, ".down")
	default:
		return migrationFile{}, false
	}

	date, rest, ok := strings.Cut(stem, "_")
	if !ok || date == "" {
		return migrationFile{}, false
	}
	clock, name, _ := strings.Cut(rest, "_")
	if clock == "" {
		return migrationFile{}, false
	}

	f.version = date + "_" + clock
	f.name = name
	if f.name == "" {
		f.name = stem
	}
	return f, true
}
