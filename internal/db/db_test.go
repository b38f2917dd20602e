package db

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
)

func openTestDB(t *testing.T, dbPath string) *DB {
	t.Helper()
	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return database
}

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"clips", "exports", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_Pragmas(t *testing.T) {
	database := openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
	defer database.Close()

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
	}
	for _, tt := range tests {
		var got string
		if err := database.Conn().QueryRow("PRAGMA " + tt.pragma).Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s error = %v", tt.pragma, err)
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %s, want %s", tt.pragma, got, tt.want)
		}
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1 := openTestDB(t, dbPath)
	first, err := db1.Migrations(context.Background())
	if err != nil {
		t.Fatalf("Migrations() error = %v", err)
	}
	db1.Close()

	db2 := openTestDB(t, dbPath)
	defer db2.Close()
	second, err := db2.Migrations(context.Background())
	if err != nil {
		t.Fatalf("Migrations() error = %v", err)
	}

	want := []string{"001_initial.sql", "002_clips.sql", "003_exports.sql"}
	if !slices.Equal(first, want) {
		t.Errorf("first open applied %v, want %v", first, want)
	}
	if !slices.Equal(second, want) {
		t.Errorf("second open applied %v, want %v", second, want)
	}
}

func TestNew_ForeignKeysEnforced(t *testing.T) {
	database := openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
	defer database.Close()

	_, err := database.Conn().Exec(`
		INSERT INTO exports (id, clip_id, status, state, progress, created_at, updated_at)
		VALUES ('orphan', 'no-such-clip', 'pending', 'IDLE', 0, datetime('now'), datetime('now'))
	`)
	if err == nil {
		t.Error("insert of export with unknown clip succeeded, want foreign key error")
	}
}

func TestMarkInterruptedExports(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = db1.Conn().Exec(`
		INSERT INTO clips (id, path, display_name, created_at, updated_at)
		VALUES ('clip-1', '/tmp/a.mp4', 'a.mp4', datetime('now'), datetime('now'))
	`)
	if err != nil {
		t.Fatalf("insert clip error = %v", err)
	}
	_, err = db1.Conn().Exec(`
		INSERT INTO exports (id, clip_id, status, state, progress, created_at, updated_at)
		VALUES ('test-export', 'clip-1', 'running', 'RECORDING', 50, datetime('now'), datetime('now')),
		       ('done-export', 'clip-1', 'completed', 'COMPLETE', 100, datetime('now'), datetime('now'))
	`)
	if err != nil {
		t.Fatalf("insert export error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var status, state, errMsg string
	err = db2.Conn().QueryRow("SELECT status, state, error FROM exports WHERE id = 'test-export'").Scan(&status, &state, &errMsg)
	if err != nil {
		t.Fatalf("query export error = %v", err)
	}

	if status != "failed" {
		t.Errorf("export status = %s, want failed", status)
	}
	if state != "FAILED" {
		t.Errorf("export state = %s, want FAILED", state)
	}
	if errMsg != "interrupted by restart" {
		t.Errorf("export error = %s, want 'interrupted by restart'", errMsg)
	}

	var doneStatus string
	if err := db2.Conn().QueryRow("SELECT status FROM exports WHERE id = 'done-export'").Scan(&doneStatus); err != nil {
		t.Fatalf("query completed export error = %v", err)
	}
	if doneStatus != "completed" {
		t.Errorf("completed export status = %s, want completed", doneStatus)
	}
}
