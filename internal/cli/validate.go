package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	EnvFile string
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool          `json:"valid"`
	Errors []ConfigIssue `json:"errors,omitempty"`
	Config *ConfigView   `json:"config,omitempty"`
}

// ConfigIssue is one configuration problem.
type ConfigIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ConfigView is the resolved configuration with the token redacted.
type ConfigView struct {
	UserID      string           `json:"user_id"`
	APIURL      string           `json:"api_url"`
	WSURL       string           `json:"ws_url"`
	Token       string           `json:"token,omitempty"`
	Store       string           `json:"store,omitempty"`
	MetricsAddr string           `json:"metrics_addr,omitempty"`
	LogLevel    string           `json:"log_level"`
	Session     config.Session   `json:"session"`
	Reconnect   config.Reconnect `json:"reconnect"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a client configuration",
		Long: `Validate a chatsync configuration file against the built-in schema.

Environment overrides (CHATSYNC_*) and the optional .env file are applied
before validation, exactly as "chatsync run" does. On success the resolved
configuration is printed with defaults filled in and the token redacted.

Examples:
  chatsync validate ./chatsync.yaml
  chatsync validate ./chatsync.yaml --env .env.local --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EnvFile, "env", ".env", "dotenv file with CHATSYNC_* overrides")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(path); err != nil {
		msg := fmt.Sprintf("config file not found: %s", path)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	formatter.VerboseLog("Validating %s (env file %q)", path, opts.EnvFile)
	cfg, err := config.Load(path, opts.EnvFile)
	if err != nil {
		return outputValidationError(formatter, err)
	}

	view := configView(cfg)
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Config: &view})
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  user:      %s\n", view.UserID)
	fmt.Fprintf(w, "  api:       %s\n", view.APIURL)
	fmt.Fprintf(w, "  events:    %s\n", view.WSURL)
	fmt.Fprintf(w, "  heartbeat: %dms\n", view.Session.HeartbeatIntervalMS)
	fmt.Fprintf(w, "  receipts:  %s\n", view.Session.ReceiptMode)
	return nil
}

func configView(cfg *config.Config) ConfigView {
	return ConfigView{
		UserID:      cfg.UserID,
		APIURL:      cfg.Server.APIURL,
		WSURL:       cfg.Server.WSURL,
		Token:       cfg.RedactedToken(),
		Store:       cfg.Store,
		MetricsAddr: cfg.MetricsAddr,
		LogLevel:    cfg.LogLevel,
		Session:     cfg.Session,
		Reconnect:   cfg.Reconnect,
	}
}

// outputValidationError reports a config error with its position when known.
func outputValidationError(formatter *OutputFormatter, err error) error {
	issue := ConfigIssue{Message: err.Error()}
	var cerr *config.Error
	if errors.As(err, &cerr) {
		issue.Field = cerr.Field
		issue.Message = cerr.Message
		if cerr.Pos.IsValid() {
			issue.Line = cerr.Pos.Line()
			issue.Column = cerr.Pos.Column()
		}
	}

	if formatter.JSON() {
		if encErr := formatter.encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: []ConfigIssue{issue}},
			Error:  &CLIError{Code: ErrCodeInvalidConfig, Message: issue.Message},
		}); encErr != nil {
			return encErr
		}
	} else {
		w := formatter.Writer
		fmt.Fprintln(w, "✗ invalid configuration")
		if issue.Field != "" {
			fmt.Fprintf(w, "  %s: %s\n", issue.Field, issue.Message)
		} else {
			fmt.Fprintf(w, "  %s\n", issue.Message)
		}
		if issue.Line > 0 {
			fmt.Fprintf(w, "  (schema line %d, column %d)\n", issue.Line, issue.Column)
		}
	}
	return WrapExitError(ExitFailure, "invalid configuration", err)
}
