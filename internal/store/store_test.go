package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("Open(\"\") succeeded")
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if err := s1.SaveMessage(ctx, createTestMessage("r1", "m1", 0, 1)); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	for i := 0; i < 2; i++ {
		s2, err := Open(path)
		if err != nil {
			t.Fatalf("reopen %d failed: %v", i, err)
		}
		msgs, err := s2.RoomMessages(ctx, "r1")
		s2.Close()
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 1 {
			t.Fatalf("reopen %d: got %d messages, want 1", i, len(msgs))
		}
	}
}

func TestOpen_ConnectionSettings(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1", // NORMAL
		"busy_timeout": "5000",
		"foreign_keys": "1",
	} {
		if got := pragma(t, s, name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Memory)
	if err != nil {
		t.Fatalf("Open(Memory) failed: %v", err)
	}
	defer s.Close()

	if err := s.SaveMessage(ctx, createTestMessage("r1", "m1", 0, 1)); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.RoomMessages(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
	if got := pragma(t, s, "journal_mode"); got != "memory" {
		t.Errorf("journal_mode = %q, want memory", got)
	}
}

func TestOpen_SetsSchemaVersion(t *testing.T) {
	s := createTestStore(t)

	version, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if version != latestVersion() {
		t.Errorf("user_version = %d, want %d", version, latestVersion())
	}
}

func TestOpen_MigratesOlderDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	// Roll back to a version 0 layout.
	for _, stmt := range []string{
		"DROP INDEX idx_messages_client_token",
		"PRAGMA user_version = 0",
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	var n int
	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_messages_client_token'",
	).Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Error("client token index was not recreated")
	}
	if got := pragma(t, s, "user_version"); got != "1" {
		t.Errorf("user_version = %s, want 1", got)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, err = Open(path)
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Errorf("Open() error = %v, want newer schema error", err)
	}
}

func TestOpenContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := OpenContext(ctx, filepath.Join(t.TempDir(), "chat.db")); err == nil {
		t.Error("OpenContext() with cancelled context succeeded")
	}
}

func TestClose_ZeroStore(t *testing.T) {
	var nilStore *Store
	if err := nilStore.Close(); err != nil {
		t.Errorf("Close() on nil store = %v", err)
	}
	if err := (&Store{}).Close(); err != nil {
		t.Errorf("Close() on empty store = %v", err)
	}
}
