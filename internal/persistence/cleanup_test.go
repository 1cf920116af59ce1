package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/novoground/gcs/internal/domain"
)

func TestClearDatabase_ClearsAllTables(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewTelemetryRepo(db)
	if err := repo.CreateSession(ctx, Session{ID: "s-1", StartedAt: time.Now(), Source: "simulated"}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := repo.Insert(ctx, "s-1", domain.Snapshot{Voltage: 4000, Timestamp: time.Now()}); err != nil {
		t.Fatalf("seed telemetry: %v", err)
	}

	if err := repo.CreateSession(ctx, Session{ID: "s-2", StartedAt: time.Now()}); err != nil {
		t.Fatalf("seed empty session: %v", err)
	}

	removed, err := ClearDatabase(ctx, db)
	if err != nil {
		t.Fatalf("clear database: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 sessions removed, got %d", removed)
	}

	tableChecks := []struct {
		name  string
		query string
	}{
		{name: "telemetry", query: "SELECT COUNT(*) FROM telemetry;"},
		{name: "sessions", query: "SELECT COUNT(*) FROM sessions;"},
	}
	for _, table := range tableChecks {
		var count int
		if err := db.QueryRowContext(ctx, table.query).Scan(&count); err != nil {
			t.Fatalf("count rows in %s: %v", table.name, err)
		}
		if count != 0 {
			t.Fatalf("expected %s to be empty after clear, got %d rows", table.name, count)
		}
	}

	if err := repo.CreateSession(ctx, Session{ID: "s-3", StartedAt: time.Now()}); err != nil {
		t.Fatalf("seed after clear: %v", err)
	}
	if err := repo.Insert(ctx, "s-3", domain.Snapshot{Voltage: 4000, Timestamp: time.Now()}); err != nil {
		t.Fatalf("insert after clear: %v", err)
	}
	var id int
	if err := db.QueryRowContext(ctx, "SELECT id FROM telemetry;").Scan(&id); err != nil {
		t.Fatalf("read telemetry id: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected telemetry ids to restart at 1, got %d", id)
	}
}

func TestClearDatabase_NilDB(t *testing.T) {
	if _, err := ClearDatabase(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
