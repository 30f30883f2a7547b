package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

// useMigrations swaps the migration source for the duration of a test.
func useMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = files
	MigrationsDir = "."
}

func runsMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260301_090000_runs.up.sql": {Data: []byte(
			"CREATE TABLE runs (id TEXT PRIMARY KEY, target TEXT NOT NULL);")},
		"20260301_090000_runs.down.sql": {Data: []byte("DROP TABLE runs;")},
		"20260302_090000_runs_index.up.sql": {Data: []byte(
			"CREATE INDEX idx_runs_target ON runs(target);")},
		"20260302_090000_runs_index.down.sql": {Data: []byte("DROP INDEX idx_runs_target;")},
		"README.md":                           {Data: []byte("not a migration")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("sqlite_master query error = %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, runsMigrations())
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "runs") {
		t.Fatal("table runs not created")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied/pending = %d/%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].Version != "20260301_090000" {
		t.Errorf("first applied = %q, want 20260301_090000", applied[0].Version)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureRollsBackThatMigration(t *testing.T) {
	files := runsMigrations()
	files["20260303_090000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE oops (")}
	useMigrations(t, files)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() with a broken migration should fail")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 {
		t.Errorf("applied/pending = %d/%d, want 2/1", len(applied), len(pending))
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, runsMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Newest first: the index goes, the table stays
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if !tableExists(t, db, "runs") {
		t.Error("table runs dropped by first rollback")
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("second MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "runs") {
		t.Error("table runs should have been dropped")
	}

	applied, _, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %d after rollback, want 0", len(applied))
	}

	// Nothing left to roll back
	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	useMigrations(t, fstest.MapFS{})
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}

	MigrationsFS = nil
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with nil filesystem error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"valid up", "20260301_090000_experiment_runs.up.sql", "20260301_090000", true, true},
		{"valid down", "20260301_090000_experiment_runs.down.sql", "20260301_090000", false, true},
		{"not sql", "readme.txt", "", false, false},
		{"missing direction", "20260301_090000_experiment_runs.sql", "", false, false},
		{"no version", "invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if isUp != tt.wantIsUp {
				t.Errorf("isUp = %v, want %v", isUp, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20260301_090000_experiment_runs.up.sql", "experiment_runs"},
		{"20260301_091500_audit_logs.down.sql", "audit_logs"},
	}

	for _, tt := range tests {
		if got := extractMigrationName(tt.filename); got != tt.want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
