// Package config loads the client configuration.
//
// A YAML file is read, environment overrides are applied, and the result is
// unified with the embedded CUE #Config schema, which rejects unknown keys,
// checks ranges and fills defaults. Durations are milliseconds.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE []byte

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATSYNC_"

// Config is the validated client configuration.
type Config struct {
	UserID      string    `json:"user_id"`
	Server      Server    `json:"server"`
	Store       string    `json:"store"`
	Session     Session   `json:"session"`
	Reconnect   Reconnect `json:"reconnect"`
	MetricsAddr string    `json:"metrics_addr"`
	LogLevel    string    `json:"log_level"`
}

// Server locates the chat backend.
type Server struct {
	APIURL string `json:"api_url"`
	WSURL  string `json:"ws_url"`
	Token  string `json:"token"`
}

// Session holds the engine tunables.
type Session struct {
	MatchWindowMS       int    `json:"match_window_ms"`
	MediaTimeoutMS      int    `json:"media_timeout_ms"`
	TextDedupMS         int    `json:"text_dedup_ms"`
	MediaDedupMS        int    `json:"media_dedup_ms"`
	TypingQuietMS       int    `json:"typing_quiet_ms"`
	TypingTTLMS         int    `json:"typing_ttl_ms"`
	TimelineDebounceMS  int    `json:"timeline_debounce_ms"`
	HeartbeatIntervalMS int    `json:"heartbeat_interval_ms"`
	PulseTimeoutMS      int    `json:"pulse_timeout_ms"`
	ReceiptMode         string `json:"receipt_mode"`
}

// Reconnect configures the event channel backoff.
type Reconnect struct {
	BaseMS        int `json:"base_ms"`
	MaxMS         int `json:"max_ms"`
	MaxAttempts   int `json:"max_attempts"`
	DialTimeoutMS int `json:"dial_timeout_ms"`
}

// Error is a configuration problem, with a file position when CUE has one.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
	}
	return "config: " + e.Message
}

// envOverrides maps environment variables to config paths.
var envOverrides = []struct {
	name  string
	path  []string
	isInt bool
}{
	{name: "USER_ID", path: []string{"user_id"}},
	{name: "API_URL", path: []string{"server", "api_url"}},
	{name: "WS_URL", path: []string{"server", "ws_url"}},
	{name: "TOKEN", path: []string{"server", "token"}},
	{name: "STORE", path: []string{"store"}},
	{name: "METRICS_ADDR", path: []string{"metrics_addr"}},
	{name: "LOG_LEVEL", path: []string{"log_level"}},
	{name: "HEARTBEAT_INTERVAL_MS", path: []string{"session", "heartbeat_interval_ms"}, isInt: true},
	{name: "RECEIPT_MODE", path: []string{"session", "receipt_mode"}},
}

// Load reads the YAML file at path. If envFile is non-empty and exists it is
// loaded into the process environment first; variables already set win.
// path may be empty, in which case the configuration comes from the
// environment alone.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes YAML data, applies overrides found through lookup and
// validates the result against the schema.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	raw := map[string]any{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &Error{Message: fmt.Sprintf("parse yaml: %v", err)}
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	if lookup != nil {
		if err := applyEnv(raw, lookup); err != nil {
			return nil, err
		}
	}
	return validate(raw)
}

func applyEnv(raw map[string]any, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		val, ok := lookup(EnvPrefix + o.name)
		if !ok || val == "" {
			continue
		}
		var v any = val
		if o.isInt {
			n, err := strconv.Atoi(val)
			if err != nil {
				return &Error{Field: EnvPrefix + o.name, Message: "must be an integer"}
			}
			v = n
		}
		setPath(raw, o.path, v)
	}
	return nil
}

func setPath(m map[string]any, path []string, v any) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

func validate(raw map[string]any) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, formatCUEError(err)
	}
	return &cfg, nil
}

// formatCUEError reduces a CUE error list to its first entry.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	out := &Error{Message: first.Error()}
	if path := first.Path(); len(path) > 0 {
		out.Field = strings.Join(path, ".")
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}

// Duration converts a millisecond setting.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// RedactedToken returns the bearer token masked for display.
func (c *Config) RedactedToken() string {
	switch n := len(c.Server.Token); {
	case n == 0:
		return ""
	case n <= 4:
		return "****"
	default:
		return c.Server.Token[:2] + "****" + c.Server.Token[n-2:]
	}
}
