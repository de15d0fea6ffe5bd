package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/chatsync/internal/chat"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// createTestMessage creates a confirmed text message offset from baseTime.
func createTestMessage(roomID, id string, offset time.Duration, seq int64) chat.Message {
	return chat.Message{
		ID:        id,
		RoomID:    roomID,
		SenderID:  "u1",
		Kind:      chat.KindText,
		Body:      "body " + id,
		CreatedAt: baseTime.Add(offset),
		State:     chat.StateConfirmed,
		Seq:       seq,
	}
}

// pragma reads a PRAGMA value as text.
func pragma(t *testing.T, s *Store, name string) string {
	t.Helper()
	var v string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}
