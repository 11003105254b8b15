package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSearchMigrationCoversAllSearchableTables(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "007_search.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	for _, table := range []string{"clients", "projects", "tasks", "tickets"} {
		if !strings.Contains(sqlText, "ALTER TABLE "+table+" ADD COLUMN fts") {
			t.Fatalf("expected generated fts column for %s", table)
		}
		if !strings.Contains(sqlText, table+"_fts_idx ON "+table+" USING GIN (fts)") {
			t.Fatalf("expected GIN index for %s", table)
		}
	}
	if !strings.Contains(sqlText, "GENERATED ALWAYS AS") {
		t.Fatal("expected fts columns to be generated, not trigger-maintained")
	}
}
