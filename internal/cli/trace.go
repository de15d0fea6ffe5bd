package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	SessionID string
	Kind      string // optional - filter to one event kind
	Room      string // optional - filter to one room
}

// TraceEvent represents a single event in the session log.
type TraceEvent struct {
	Seq       int64          `json:"seq"`
	AtMS      int64          `json:"at_ms"`
	Kind      string         `json:"kind"`
	RoomID    string         `json:"room_id,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	SessionID string       `json:"session_id"`
	Timeline  []TraceEvent `json:"timeline"`
	Stats     TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the session.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	ByKind      map[string]int `json:"by_kind"`
	Sends       int            `json:"sends"`
	Confirmed   int            `json:"confirmed"`
	Failed      int            `json:"failed"`
	Dropped     int            `json:"dropped"`
	Terminated  bool           `json:"terminated"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show what a session did",
		Long: `Show the event log of a session recorded by "chatsync run".

The log lists every send, confirmation, failure, dropped frame and
connection change in order, followed by summary statistics. Without
--session the most recent session is shown.

Examples:
  chatsync trace --db ./chatsync.db
  chatsync trace --db ./chatsync.db --session 0190f3c2-... --kind confirm
  chatsync trace --db ./chatsync.db --room general --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "session id (default: most recent)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to one event kind")
	cmd.Flags().StringVar(&opts.Room, "room", "", "filter to one room")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	sessionID := opts.SessionID
	if sessionID == "" {
		sessions, err := st.Sessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
		if len(sessions) > 0 {
			sessionID = sessions[len(sessions)-1]
		}
	}

	var events []store.Event
	if sessionID != "" {
		events, err = st.Events(ctx, sessionID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read session log", err)
		}
	}

	if len(events) == 0 {
		if opts.Format == "json" {
			return outputTraceJSON(cmd, TraceResult{
				SessionID: sessionID,
				Timeline:  []TraceEvent{},
				Stats:     TraceStats{ByKind: map[string]int{}},
			})
		}
		if sessionID == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded.")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "No events found for session: %s\n", sessionID)
		}
		return nil
	}

	result := TraceResult{
		SessionID: sessionID,
		Timeline:  buildTimeline(events, opts.Kind, opts.Room),
		Stats:     calculateStats(events),
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result)
}

// buildTimeline converts log entries, applying the optional filters.
// Stats are always computed over the whole log.
func buildTimeline(events []store.Event, kind, room string) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(events))
	for _, e := range events {
		if kind != "" && e.Kind != kind {
			continue
		}
		if room != "" && e.RoomID != room {
			continue
		}
		timeline = append(timeline, TraceEvent{
			Seq:       e.Seq,
			AtMS:      e.At.UnixMilli(),
			Kind:      e.Kind,
			RoomID:    e.RoomID,
			MessageID: e.MessageID,
			Detail:    e.Detail,
		})
	}
	return timeline
}

func calculateStats(events []store.Event) TraceStats {
	stats := TraceStats{TotalEvents: len(events), ByKind: map[string]int{}}
	for _, e := range events {
		stats.ByKind[e.Kind]++
		switch e.Kind {
		case "send":
			stats.Sends++
		case "confirm":
			stats.Confirmed++
		case "send_failed":
			stats.Failed++
		case "dropped":
			stats.Dropped++
		case "terminated":
			stats.Terminated = true
		}
	}
	return stats
}

// outputTraceJSON outputs the trace as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(CLIResponse{
		Status: "ok",
		Data:   result,
	})
}

// outputTraceText outputs the trace in human-readable format.
func outputTraceText(cmd *cobra.Command, result TraceResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Session: %s\n", result.SessionID)
	fmt.Fprintln(w, strings.Repeat("═", 60))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Timeline:")
	fmt.Fprintln(w, strings.Repeat("─", 60))
	for _, event := range result.Timeline {
		line := fmt.Sprintf("  [%d] %-13s", event.Seq, event.Kind)
		if event.RoomID != "" {
			line += " room=" + event.RoomID
		}
		if event.MessageID != "" {
			line += " id=" + event.MessageID
		}
		if len(event.Detail) > 0 {
			line += " " + formatDetail(event.Detail)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Stats:")
	fmt.Fprintln(w, strings.Repeat("─", 60))
	fmt.Fprintf(w, "  Total events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Sends:        %d\n", result.Stats.Sends)
	fmt.Fprintf(w, "  Confirmed:    %d\n", result.Stats.Confirmed)
	fmt.Fprintf(w, "  Failed:       %d\n", result.Stats.Failed)
	fmt.Fprintf(w, "  Dropped:      %d\n", result.Stats.Dropped)
	if result.Stats.Terminated {
		fmt.Fprintln(w, "  Status:       ✗ Terminated")
	} else {
		fmt.Fprintln(w, "  Status:       ✓ Active or closed normally")
	}
	return nil
}

// formatDetail renders detail fields as sorted key=value pairs.
func formatDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return strings.Join(parts, " ")
}
