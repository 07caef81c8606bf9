package storage

import (
	"context"
	"testing"
)

func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test storage: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestMigrate_Idempotent(t *testing.T) {
	store := createTestStorage(t)

	// A second migration pass must be a no-op.
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Second migration failed: %v", err)
	}
}
