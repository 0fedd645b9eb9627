package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/concordlabs/caucus/pkg/models"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// testDeliberation creates and stores a deliberation for tests.
func testDeliberation(t *testing.T, db *DB, id string) *models.Deliberation {
	t.Helper()
	d := &models.Deliberation{
		ID:             id,
		Question:       "Should the town build a new library?",
		Stage:          models.StageOpinion,
		Capacity:       3,
		CritiqueRounds: 1,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
	if err := db.CreateDeliberation(d); err != nil {
		t.Fatalf("CreateDeliberation failed: %v", err)
	}
	return d
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
}

func TestMigrateIdempotent(t *testing.T) {
	db := setupTestDB(t)
	// A second migration pass must be a no-op.
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}
