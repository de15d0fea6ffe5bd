package harness

import "github.com/roach88/chatsync/internal/chat"

// TraceEvent is one entry of the session log as recorded during a run.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Kind      string `json:"kind"`
	RoomID    string `json:"room_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Name of the scenario that produced this result.
	Name string `json:"name"`

	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace is the session log in append order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Timelines holds the final timeline of every room the run touched.
	Timelines map[string][]chat.Message `json:"timelines"`

	// Signals counts how often each outward signal fired.
	Signals map[string]int `json:"signals"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{
		Name:      name,
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Timelines: make(map[string][]chat.Message),
		Signals:   make(map[string]int),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// TraceKinds returns the kinds of the trace in order.
func (r *Result) TraceKinds() []string {
	kinds := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		kinds[i] = e.Kind
	}
	return kinds
}
