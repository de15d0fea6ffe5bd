package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event is one entry of the session log.
type Event struct {
	Seq       int64          `json:"seq"`
	SessionID string         `json:"session_id"`
	At        time.Time      `json:"at"`
	Kind      string         `json:"kind"`
	RoomID    string         `json:"room_id,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// AppendEvent adds an entry to the session log. Seq is assigned by the database.
func (s *Store) AppendEvent(ctx context.Context, e Event) error {
	detail := "{}"
	if len(e.Detail) > 0 {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("append event: marshal detail: %w", err)
		}
		detail = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (session_id, at, kind, room_id, message_id, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.SessionID, e.At.UnixMilli(), e.Kind, e.RoomID, e.MessageID, detail)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Events returns the log of one session in append order.
// An empty sessionID returns the log of every session.
func (s *Store) Events(ctx context.Context, sessionID string) ([]Event, error) {
	query := `SELECT seq, session_id, at, kind, room_id, message_id, detail FROM session_events`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e      Event
			at     int64
			detail string
		)
		if err := rows.Scan(&e.Seq, &e.SessionID, &at, &e.Kind, &e.RoomID, &e.MessageID, &detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At = time.UnixMilli(at).UTC()
		if detail != "" && detail != "{}" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal event detail (seq=%d): %w", e.Seq, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Sessions returns the ids of every logged session, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM session_events
		GROUP BY session_id
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
