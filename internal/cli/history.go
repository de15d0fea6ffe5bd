package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// HistoryMessage is one stored message as printed by the history command.
type HistoryMessage struct {
	ID          string `json:"id"`
	Sender      string `json:"sender"`
	Kind        string `json:"kind"`
	Body        string `json:"body"`
	CreatedAtMS int64  `json:"created_at_ms"`
	State       string `json:"state"`
	ReadCount   int    `json:"read_count"`
}

// HistoryResult holds the history output.
type HistoryResult struct {
	Room     string           `json:"room,omitempty"`
	Rooms    []string         `json:"rooms,omitempty"`
	Messages []HistoryMessage `json:"messages,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [room]",
		Short: "Print locally stored room history",
		Long: `Print the room timelines persisted by "chatsync run".

Without a room, lists every room that has stored history. With a room,
prints its timeline in display order, including unconfirmed entries.

Examples:
  chatsync history --db ./chatsync.db
  chatsync history --db ./chatsync.db general --limit 20
  chatsync history --db ./chatsync.db general --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			room := ""
			if len(args) == 1 {
				room = args[0]
			}
			return runHistory(opts, room, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "only print the last N messages")

	return cmd
}

// openExisting opens a database that must already exist. store.Open would
// otherwise create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runHistory(opts *HistoryOptions, room string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if room == "" {
		rooms, err := st.Rooms(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list rooms", err)
		}
		if formatter.JSON() {
			return formatter.Success(HistoryResult{Rooms: rooms})
		}
		if len(rooms) == 0 {
			fmt.Fprintln(formatter.Writer, "No stored rooms.")
			return nil
		}
		for _, r := range rooms {
			fmt.Fprintln(formatter.Writer, r)
		}
		return nil
	}

	msgs, err := st.RoomMessages(ctx, room)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read room history", err)
	}
	if opts.Limit > 0 && len(msgs) > opts.Limit {
		msgs = msgs[len(msgs)-opts.Limit:]
	}
	formatter.VerboseLog("Read %d message(s) from %s", len(msgs), room)

	if formatter.JSON() {
		out := HistoryResult{Room: room, Messages: make([]HistoryMessage, 0, len(msgs))}
		for _, m := range msgs {
			out.Messages = append(out.Messages, historyMessage(m))
		}
		return formatter.Success(out)
	}

	if len(msgs) == 0 {
		fmt.Fprintf(formatter.Writer, "No stored history for room: %s\n", room)
		return nil
	}
	w := formatter.Writer
	fmt.Fprintf(w, "Room %s (%d message(s))\n", room, len(msgs))
	fmt.Fprintln(w, strings.Repeat("─", 40))
	for _, m := range msgs {
		fmt.Fprintln(w, renderMessage(m))
	}
	return nil
}

func historyMessage(m chat.Message) HistoryMessage {
	return HistoryMessage{
		ID:          m.ID,
		Sender:      m.SenderID,
		Kind:        string(m.Kind),
		Body:        m.Body,
		CreatedAtMS: m.CreatedAt.UnixMilli(),
		State:       string(m.State),
		ReadCount:   m.ReadCount,
	}
}
