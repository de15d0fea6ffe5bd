package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/chatsync/internal/chat"
)

const messageColumns = `room_id, id, sender_id, kind, body, created_at, read_count,
	delivery_state, local_ref, client_token, seq`

// SaveMessage inserts or updates a timeline entry.
// Uses ON CONFLICT(room_id, id) DO UPDATE so repeated saves of the same entry
// converge on the latest server fields.
func (s *Store) SaveMessage(ctx context.Context, m chat.Message) error {
	if err := saveMessage(ctx, s.db, m); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// ReplaceMessage swaps the entry stored under oldID for m in one transaction.
// Used when a provisional entry is confirmed under its durable id.
func (s *Store) ReplaceMessage(ctx context.Context, roomID, oldID string, m chat.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace message: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE room_id = ? AND id = ?`, roomID, oldID); err != nil {
		return fmt.Errorf("replace message: delete %s: %w", oldID, err)
	}
	if err := saveMessage(ctx, tx, m); err != nil {
		return fmt.Errorf("replace message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace message: commit: %w", err)
	}
	return nil
}

// DeleteMessage removes a timeline entry. Deleting a missing entry is not an error.
func (s *Store) DeleteMessage(ctx context.Context, roomID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE room_id = ? AND id = ?`, roomID, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// RoomMessages returns the stored timeline of a room in display order.
//
// Returns an empty slice (not nil) if the room has no history.
func (s *Store) RoomMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at ASC, seq ASC, id COLLATE BINARY ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// Rooms returns every room with stored history, sorted by id.
func (s *Store) Rooms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT room_id FROM messages ORDER BY room_id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	rooms := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

// MaxSeq returns the highest insertion stamp stored, or 0 for an empty store.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM messages`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq.Int64, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveMessage(ctx context.Context, db execer, m chat.Message) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, id) DO UPDATE SET
			sender_id = excluded.sender_id,
			kind = excluded.kind,
			body = excluded.body,
			created_at = excluded.created_at,
			read_count = excluded.read_count,
			delivery_state = excluded.delivery_state,
			local_ref = excluded.local_ref,
			client_token = excluded.client_token
	`,
		m.RoomID,
		m.ID,
		m.SenderID,
		string(m.Kind),
		m.Body,
		m.CreatedAt.UnixMilli(),
		m.ReadCount,
		string(m.State),
		m.LocalRef,
		m.ClientToken,
		m.Seq,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (chat.Message, error) {
	var (
		m         chat.Message
		kind      string
		state     string
		createdAt int64
	)
	err := row.Scan(
		&m.RoomID,
		&m.ID,
		&m.SenderID,
		&kind,
		&m.Body,
		&createdAt,
		&m.ReadCount,
		&state,
		&m.LocalRef,
		&m.ClientToken,
		&m.Seq,
	)
	if err != nil {
		return chat.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.Kind = chat.Kind(kind)
	m.State = chat.DeliveryState(state)
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	return m, nil
}
