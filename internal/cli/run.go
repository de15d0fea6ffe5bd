package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/api"
	"github.com/roach88/chatsync/internal/config"
	"github.com/roach88/chatsync/internal/connection"
	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/metrics"
	"github.com/roach88/chatsync/internal/store"
	"github.com/roach88/chatsync/internal/transport"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	EnvFile    string
	Room       string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session against the configured server.

The terminal shows the active room's timeline above a compose field.
Typing reports presence to the room; Enter sends. Esc leaves the compose
field (stopping the typing indicator) so the arrow keys scroll history.
Commands start with "/":

  /join <room>     switch the active room
  /leave           leave the active room
  /image <path>    send a media file (kind detected from content)
  /retry <id>      resend a failed message
  /typing <text>   report compose-field content
  /blur            stop typing
  /fg, /bg         foreground / background the session
  /reconnect       retry the connection after going offline
  /show            reload the active room timeline
  /quit            exit (also Ctrl-C)

Logs go to stderr; redirect it to keep them off the screen.

Example:
  chatsync run --config ./chatsync.yaml --room general
  CHATSYNC_TOKEN=... chatsync run --room general --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "chatsync.yaml", "path to the configuration file")
	cmd.Flags().StringVar(&opts.EnvFile, "env", ".env", "dotenv file with CHATSYNC_* overrides")
	cmd.Flags().StringVar(&opts.Room, "room", "", "room to join on start")

	return cmd
}

// SessionOptions maps the session tunables of a configuration to engine options.
func SessionOptions(cfg *config.Config) []engine.Option {
	s := cfg.Session
	return []engine.Option{
		engine.WithMatchWindow(config.Duration(s.MatchWindowMS)),
		engine.WithMediaTimeout(config.Duration(s.MediaTimeoutMS)),
		engine.WithDedupWindows(config.Duration(s.TextDedupMS), config.Duration(s.MediaDedupMS)),
		engine.WithTyping(config.Duration(s.TypingQuietMS), config.Duration(s.TypingTTLMS)),
		engine.WithTimelineDebounce(config.Duration(s.TimelineDebounceMS)),
		engine.WithHeartbeatInterval(config.Duration(s.HeartbeatIntervalMS)),
		engine.WithPulseTimeout(config.Duration(s.PulseTimeoutMS)),
		engine.WithDialTimeout(config.Duration(cfg.Reconnect.DialTimeoutMS)),
		engine.WithReconnect(connection.Backoff{
			Base: config.Duration(cfg.Reconnect.BaseMS),
			Max:  config.Duration(cfg.Reconnect.MaxMS),
		}, cfg.Reconnect.MaxAttempts),
		engine.WithReceiptMode(engine.ReceiptMode(s.ReceiptMode)),
	}
}

func runClient(opts *RunOptions, cmd *cobra.Command) error {
	configPath := opts.ConfigPath
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		// Environment-only configuration.
		configPath = ""
	}
	cfg, err := config.Load(configPath, opts.EnvFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose, cfg.LogLevel)

	storePath := cfg.Store
	if storePath == "" {
		storePath = store.Memory
	}
	logger.Info("opening store", "path", storePath)
	openCtx, cancelOpen := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := store.OpenContext(openCtx, storePath)
	cancelOpen()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()

	m := metrics.New(nil)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, m, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	console := NewConsole(cfg.UserID)
	sessOpts := append(SessionOptions(cfg),
		engine.WithStore(st),
		engine.WithMetrics(m),
		engine.WithLogger(logger),
		engine.WithSignals(console.Signals()),
	)
	sess := engine.New(cfg.UserID, api.NewClient(cfg.Server.APIURL, cfg.Server.Token), &transport.WSDialer{}, sessOpts...)
	console.Attach(sess)
	defer sess.Close()

	loopDone := make(chan error, 1)
	go func() { loopDone <- sess.Run(ctx) }()

	logger.Info("session starting",
		"user", cfg.UserID,
		"session_id", sess.SessionID(),
		"api", cfg.Server.APIURL,
		"token", cfg.RedactedToken(),
	)
	err = sess.Connect(ctx, connection.Credentials{URL: cfg.Server.WSURL, Token: cfg.Server.Token})
	switch {
	case engine.IsAuthError(err), connection.IsUnauthorized(err):
		return WrapExitError(ExitFailure, "authentication failed", err)
	case err != nil:
		logger.Warn("initial connect failed, retrying in background", "error", err)
	}

	if opts.Room != "" {
		if err := sess.JoinRoom(opts.Room); err != nil {
			return WrapExitError(ExitFailure, "failed to join room", err)
		}
	}

	err = console.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	cancel()
	<-loopDone

	if err != nil {
		if engine.IsAuthError(err) {
			return WrapExitError(ExitFailure, "session terminated", err)
		}
		return err
	}
	logger.Info("session stopped gracefully")
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
