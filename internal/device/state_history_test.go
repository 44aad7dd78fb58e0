package device

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupStateHistoryTestDB creates an in-memory SQLite database with the state_history table.
func setupStateHistoryTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Each connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			health_status TEXT NOT NULL,
			switch_state TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		) STRICT;
		CREATE INDEX idx_state_history_device ON state_history(device_id, created_at DESC);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestRecordStateChange(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)
	state := DeviceState{HealthStatus: HealthOnline, SwitchState: SwitchOn, LastUpdated: at}
	if err := repo.RecordStateChange(ctx, "dev-1", state); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "dev-1", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	entry := entries[0]
	if entry.DeviceID != "dev-1" {
		t.Errorf("DeviceID = %q, want %q", entry.DeviceID, "dev-1")
	}
	if !entry.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %s, want %s", entry.CreatedAt, at)
	}
	if entry.State.HealthStatus != HealthOnline || entry.State.SwitchState != SwitchOn {
		t.Errorf("State = %+v, want online/on", entry.State)
	}
}

func TestRecordStateChange_NormalizesAndDefaultsTime(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	state := DeviceState{HealthStatus: HealthOffline, SwitchState: SwitchOn}
	if err := repo.RecordStateChange(ctx, "dev-1", state); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "dev-1", 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}
	if entries[0].State.SwitchState != SwitchUnknown {
		t.Errorf("SwitchState = %q, want %q for offline device", entries[0].State.SwitchState, SwitchUnknown)
	}
	if entries[0].CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %s, want after %s", entries[0].CreatedAt, before)
	}
}

func TestRecordStateChange_RequiresDeviceID(t *testing.T) {
	repo := NewSQLiteStateHistoryRepository(setupStateHistoryTestDB(t))
	if err := repo.RecordStateChange(context.Background(), "", UnknownState()); err == nil {
		t.Error("RecordStateChange() expected error for empty device id, got nil")
	}
}

func TestGetHistory(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	record := func(id string, sw SwitchState, at time.Time) {
		t.Helper()
		st := DeviceState{HealthStatus: HealthOnline, SwitchState: sw, LastUpdated: at}
		if err := repo.RecordStateChange(ctx, id, st); err != nil {
			t.Fatalf("RecordStateChange() error = %v", err)
		}
	}
	record("dev-1", SwitchOff, now.Add(-2*time.Hour))
	record("dev-1", SwitchOn, now.Add(-1*time.Hour))
	record("dev-1", SwitchOff, now)
	record("dev-2", SwitchOn, now)

	entries, err := repo.GetHistory(ctx, "dev-1", 2)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}
	if !entries[0].CreatedAt.Equal(now) {
		t.Errorf("entry[0] CreatedAt = %s, want %s", entries[0].CreatedAt, now)
	}
	if !entries[1].CreatedAt.Equal(now.Add(-1 * time.Hour)) {
		t.Errorf("entry[1] CreatedAt = %s, want %s", entries[1].CreatedAt, now.Add(-1*time.Hour))
	}
	if entries[1].State.SwitchState != SwitchOn {
		t.Errorf("entry[1] SwitchState = %q, want %q", entries[1].State.SwitchState, SwitchOn)
	}
}

func TestPruneHistory(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	old := DeviceState{HealthStatus: HealthOnline, SwitchState: SwitchOn, LastUpdated: now.Add(-10 * 24 * time.Hour)}
	recent := DeviceState{HealthStatus: HealthOffline, LastUpdated: now.Add(-12 * time.Hour)}
	for _, st := range []DeviceState{old, recent} {
		if err := repo.RecordStateChange(ctx, "dev-1", st); err != nil {
			t.Fatalf("RecordStateChange() error = %v", err)
		}
	}

	deleted, err := repo.PruneHistory(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	entries, err := repo.GetHistory(ctx, "dev-1", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}
	if !entries[0].CreatedAt.Equal(recent.LastUpdated) {
		t.Errorf("remaining CreatedAt = %s, want %s", entries[0].CreatedAt, recent.LastUpdated)
	}
}

func TestPruneHistory_RejectsNonPositive(t *testing.T) {
	repo := NewSQLiteStateHistoryRepository(setupStateHistoryTestDB(t))
	if _, err := repo.PruneHistory(context.Background(), 0); err == nil {
		t.Error("PruneHistory(0) expected error, got nil")
	}
}

func TestParseHistoryTimestamp(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"2026-03-01T12:00:00.250Z", time.Date(2026, 3, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC), false},
		{"2026-03-01T12:00:00Z", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), false},
		{"", time.Time{}, true},
		{"yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseHistoryTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseHistoryTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseHistoryTimestamp(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}
