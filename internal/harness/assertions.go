package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/testutil"
)

// AssertionContext provides what assertions need beyond the Result.
type AssertionContext struct {
	Session *engine.Session
	Dialer  *testutil.FakeDialer

	// Resolve maps "$name" references to provisional ids.
	Resolve func(string) string
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Session log for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nSession log:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Kind)
			if event.RoomID != "" {
				fmt.Fprintf(&buf, " room=%s", event.RoomID)
			}
			if event.MessageID != "" {
				fmt.Fprintf(&buf, " id=%s", event.MessageID)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	resolve := func(s string) string { return s }
	if actx != nil && actx.Resolve != nil {
		resolve = actx.Resolve
	}

	switch a.Type {
	case AssertTimeline:
		return assertTimeline(result.Timelines[a.Room], a, resolve)
	case AssertMessage:
		return assertMessage(result.Timelines[a.Room], a, resolve)
	case AssertPending:
		if actx == nil || actx.Session == nil {
			return fmt.Errorf("pending assertion requires a session")
		}
		return assertCount(AssertPending, len(actx.Session.Pending()), *a.Count, result.Trace)
	case AssertTyping:
		if actx == nil || actx.Session == nil {
			return fmt.Errorf("typing assertion requires a session")
		}
		return assertStrings(AssertTyping, actx.Session.TypingPeers(), a.Peers)
	case AssertTerminated:
		if actx == nil || actx.Session == nil {
			return fmt.Errorf("terminated assertion requires a session")
		}
		got := actx.Session.Terminated() != nil
		if got != *a.Value {
			return &AssertionError{
				Type:     AssertTerminated,
				Expected: fmt.Sprintf("terminated=%v", *a.Value),
				Actual:   fmt.Sprintf("terminated=%v", got),
				Trace:    result.Trace,
			}
		}
		return nil
	case AssertSignals:
		return assertCount(AssertSignals+" "+a.Signal, result.Signals[a.Signal], *a.Count, nil)
	case AssertWritten:
		if actx == nil || actx.Dialer == nil || actx.Dialer.Last() == nil {
			return assertStrings(AssertWritten, nil, a.Events)
		}
		return assertStrings(AssertWritten, actx.Dialer.Last().WrittenEvents(), a.Events)
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a, resolve)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertTimeline compares the room's ids (and states, if given) in order.
func assertTimeline(tl []chat.Message, a Assertion, resolve func(string) string) error {
	want := make([]string, len(a.IDs))
	for i, id := range a.IDs {
		want[i] = resolve(id)
	}
	got := make([]string, len(tl))
	for i, m := range tl {
		got[i] = m.ID
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertTimeline,
			Expected: fmt.Sprintf("room %s ids %v", a.Room, want),
			Actual:   fmt.Sprintf("ids %v", got),
		}
	}

	if len(a.States) == 0 {
		return nil
	}
	states := make([]string, len(tl))
	for i, m := range tl {
		states[i] = string(m.State)
	}
	if !slices.Equal(states, a.States) {
		return &AssertionError{
			Type:     AssertTimeline,
			Expected: fmt.Sprintf("room %s states %v", a.Room, a.States),
			Actual:   fmt.Sprintf("states %v", states),
		}
	}
	return nil
}

// assertMessage checks the fields given on one entry.
func assertMessage(tl []chat.Message, a Assertion, resolve func(string) string) error {
	id := resolve(a.Ref)
	idx := slices.IndexFunc(tl, func(m chat.Message) bool { return m.ID == id })
	if idx < 0 {
		return &AssertionError{
			Type:     AssertMessage,
			Expected: fmt.Sprintf("message %s in room %s", id, a.Room),
			Actual:   "not found",
		}
	}
	m := tl[idx]

	var mismatches []string
	if a.State != "" && string(m.State) != a.State {
		mismatches = append(mismatches, fmt.Sprintf("state %s, want %s", m.State, a.State))
	}
	if a.Body != nil && m.Body != *a.Body {
		mismatches = append(mismatches, fmt.Sprintf("body %q, want %q", m.Body, *a.Body))
	}
	if a.Reads != nil && m.ReadCount != *a.Reads {
		mismatches = append(mismatches, fmt.Sprintf("read_count %d, want %d", m.ReadCount, *a.Reads))
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertMessage,
			Expected: fmt.Sprintf("message %s as specified", id),
			Actual:   strings.Join(mismatches, "; "),
		}
	}
	return nil
}

func assertCount(typ string, got, want int, trace []TraceEvent) error {
	if got != want {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%d", want),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertStrings(typ string, got, want []string) error {
	if len(got) == 0 && len(want) == 0 {
		return nil
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertTraceContains checks for a log entry of the kind, optionally for a
// specific room and message.
func assertTraceContains(trace []TraceEvent, a Assertion, resolve func(string) string) error {
	msgID := resolve(a.Message)
	for _, event := range trace {
		if event.Kind != a.Kind {
			continue
		}
		if a.Room != "" && event.RoomID != a.Room {
			continue
		}
		if msgID != "" && event.MessageID != msgID {
			continue
		}
		return nil
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("log entry %s (room=%q id=%q)", a.Kind, a.Room, msgID),
		Actual:   "not found in session log",
		Trace:    trace,
	}
}

// assertTraceOrder checks that kinds first appear in the given order.
// Entries don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Kind]; !seen {
			positions[event.Kind] = i + 1 // 1-indexed for readability
		}
	}

	for _, kind := range a.Kinds {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all kinds present: %v", a.Kinds),
				Actual:   fmt.Sprintf("missing kind: %s", kind),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Kinds); i++ {
		prev, curr := a.Kinds[i-1], a.Kinds[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the kind appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Kind == a.Kind {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}
