package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/chatsync/internal/chat"
)

// Scenario defines a conformance test scenario.
// Scenarios drive a session through a scripted sequence of user actions,
// server responses and clock advances, then assert on the resulting
// timelines, signals and session log.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// User is the local user id. Defaults to "me".
	User string `yaml:"user,omitempty"`

	// StartMS is the fake clock's start time in Unix milliseconds.
	StartMS int64 `yaml:"start_ms,omitempty"`

	// Suffixes are handed out as provisional-id suffixes in order.
	Suffixes []string `yaml:"suffixes,omitempty"`

	// Options override session tunables.
	Options Options `yaml:"options,omitempty"`

	// History preloads server history per room, returned on join.
	History map[string][]MessageSpec `yaml:"history,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Options are the session tunables a scenario may change. Zero keeps the
// engine default.
type Options struct {
	MatchWindowMS      int    `yaml:"match_window_ms,omitempty"`
	MediaTimeoutMS     int    `yaml:"media_timeout_ms,omitempty"`
	TextDedupMS        int    `yaml:"text_dedup_ms,omitempty"`
	MediaDedupMS       int    `yaml:"media_dedup_ms,omitempty"`
	TypingQuietMS      int    `yaml:"typing_quiet_ms,omitempty"`
	TypingTTLMS        int    `yaml:"typing_ttl_ms,omitempty"`
	TimelineDebounceMS int    `yaml:"timeline_debounce_ms,omitempty"`
	ReceiptMode        string `yaml:"receipt_mode,omitempty"`
}

// MessageSpec describes a server message in a scenario.
type MessageSpec struct {
	ID     string `yaml:"id"`
	Room   string `yaml:"room,omitempty"`
	Sender string `yaml:"sender"`
	Kind   string `yaml:"kind,omitempty"`
	Body   string `yaml:"body,omitempty"`
	AtMS   int64  `yaml:"at_ms"`
	Reads  int    `yaml:"read_count,omitempty"`

	// Token echoes the client token of a named send (see Step.As).
	Token string `yaml:"token,omitempty"`
}

// Step is one scripted action. Op selects which other fields apply.
type Step struct {
	Op string `yaml:"op"`

	Room string `yaml:"room,omitempty"`
	Body string `yaml:"body,omitempty"`
	Path string `yaml:"path,omitempty"`
	Kind string `yaml:"kind,omitempty"`
	MS   int64  `yaml:"ms,omitempty"`

	// As names the message a send step creates, for later steps and
	// assertions to refer to as "$name".
	As string `yaml:"as,omitempty"`

	// Ref is a "$name" or a message id.
	Ref string `yaml:"ref,omitempty"`

	// Event is the inbound event name for deliver steps.
	Event   string       `yaml:"event,omitempty"`
	Message *MessageSpec `yaml:"message,omitempty"`
	User    string       `yaml:"user,omitempty"`
	Typing  bool         `yaml:"typing,omitempty"`
	Reader  string       `yaml:"reader,omitempty"`
	Raw     string       `yaml:"raw,omitempty"`

	// MessageID is the id returned by a queued send ack.
	MessageID string `yaml:"message_id,omitempty"`

	// Error scripts a failure: "unauthorized", "status:<code>" or any text.
	Error string `yaml:"error,omitempty"`

	// ExpectError is a substring the step's returned error must contain.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operations.
const (
	OpConnect        = "connect"
	OpDrop           = "drop"
	OpJoin           = "join"
	OpLeave          = "leave"
	OpSendText       = "send_text"
	OpSendMedia      = "send_media"
	OpRetry          = "retry"
	OpHoldSends      = "hold_sends"
	OpReleaseSends   = "release_sends"
	OpQueueSend      = "queue_send"
	OpHeartbeatError = "heartbeat_error"
	OpAdvance        = "advance"
	OpDeliver        = "deliver"
	OpInput          = "input"
	OpBlur           = "blur"
	OpBackground     = "background"
	OpForeground     = "foreground"
)

var knownOps = map[string]bool{
	OpConnect: true, OpDrop: true, OpJoin: true, OpLeave: true,
	OpSendText: true, OpSendMedia: true, OpRetry: true,
	OpHoldSends: true, OpReleaseSends: true, OpQueueSend: true,
	OpHeartbeatError: true, OpAdvance: true, OpDeliver: true,
	OpInput: true, OpBlur: true, OpBackground: true, OpForeground: true,
}

// Assertion validates final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "timeline": room's entry ids (and optionally states) in order
	// - "message": fields of one entry
	// - "pending": size of the pending set
	// - "typing": peers currently typing
	// - "terminated": whether the session ended
	// - "signals": number of times a signal fired
	// - "written": event names written on the current connection
	// - "trace_contains": a session log entry of a kind exists
	// - "trace_order": session log kinds appear in this relative order
	// - "trace_count": a session log kind appears exactly N times
	Type string `yaml:"type"`

	Room    string   `yaml:"room,omitempty"`
	IDs     []string `yaml:"ids,omitempty"`
	States  []string `yaml:"states,omitempty"`
	Ref     string   `yaml:"ref,omitempty"`
	State   string   `yaml:"state,omitempty"`
	Body    *string  `yaml:"body,omitempty"`
	Reads   *int     `yaml:"read_count,omitempty"`
	Count   *int     `yaml:"count,omitempty"`
	Peers   []string `yaml:"peers,omitempty"`
	Value   *bool    `yaml:"value,omitempty"`
	Signal  string   `yaml:"signal,omitempty"`
	Events  []string `yaml:"events,omitempty"`
	Kind    string   `yaml:"kind,omitempty"`
	Kinds   []string `yaml:"kinds,omitempty"`
	Message string   `yaml:"message_id,omitempty"`
}

// Assertion type constants.
const (
	AssertTimeline      = "timeline"
	AssertMessage       = "message"
	AssertPending       = "pending"
	AssertTyping        = "typing"
	AssertTerminated    = "terminated"
	AssertSignals       = "signals"
	AssertWritten       = "written"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// Signal names for the "signals" assertion.
const (
	SignalTimelineChanged   = "timeline_changed"
	SignalSendFailed        = "send_failed"
	SignalOffline           = "offline"
	SignalSessionTerminated = "session_terminated"
	SignalTypingChanged     = "typing_changed"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.User == "" {
		scenario.User = "me"
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, []string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no scenarios found in %s", dir)
	}

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, paths, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(i, &step, names); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step, names map[string]bool) error {
	if !knownOps[st.Op] {
		return fmt.Errorf("steps[%d]: unknown op %q", i, st.Op)
	}
	switch st.Op {
	case OpSendText:
		if st.Room == "" {
			return fmt.Errorf("steps[%d]: room is required for send_text", i)
		}
	case OpSendMedia:
		if st.Room == "" || st.Path == "" {
			return fmt.Errorf("steps[%d]: room and path are required for send_media", i)
		}
	case OpJoin:
		if st.Room == "" {
			return fmt.Errorf("steps[%d]: room is required for join", i)
		}
	case OpRetry:
		if st.Ref == "" {
			return fmt.Errorf("steps[%d]: ref is required for retry", i)
		}
	case OpAdvance:
		if st.MS <= 0 {
			return fmt.Errorf("steps[%d]: ms must be positive for advance", i)
		}
	case OpDeliver:
		if st.Event == "" {
			return fmt.Errorf("steps[%d]: event is required for deliver", i)
		}
		if isMessageEvent(st.Event) && st.Message == nil && st.Raw == "" {
			return fmt.Errorf("steps[%d]: message or raw is required for %s", i, st.Event)
		}
	case OpQueueSend:
		if st.MessageID == "" && st.Message == nil && st.Error == "" {
			return fmt.Errorf("steps[%d]: queue_send needs message_id, message or error", i)
		}
	}

	if st.As != "" {
		if st.Op != OpSendText && st.Op != OpSendMedia && st.Op != OpRetry {
			return fmt.Errorf("steps[%d]: as only applies to send and retry steps", i)
		}
		if names[st.As] {
			return fmt.Errorf("steps[%d]: name %q already used", i, st.As)
		}
		names[st.As] = true
	}
	if st.Kind != "" {
		if _, err := chat.ParseKind(st.Kind); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTimeline:
		if a.Room == "" {
			return fmt.Errorf("assertions[%d]: room is required for timeline", index)
		}
		if len(a.States) > 0 && len(a.States) != len(a.IDs) {
			return fmt.Errorf("assertions[%d]: states must match ids in length", index)
		}
	case AssertMessage:
		if a.Room == "" || a.Ref == "" {
			return fmt.Errorf("assertions[%d]: room and ref are required for message", index)
		}
	case AssertPending:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for pending", index)
		}
	case AssertTyping:
	case AssertTerminated:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for terminated", index)
		}
	case AssertSignals:
		if a.Signal == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: signal and count are required for signals", index)
		}
	case AssertWritten:
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func isMessageEvent(event string) bool {
	return event == chat.EventNewMessage || event == chat.EventMessageSent
}

// isRef reports whether s names a send ("$name").
func isRef(s string) bool {
	return strings.HasPrefix(s, "$")
}
