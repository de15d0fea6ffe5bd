package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }
func strPtr(s string) *string {
	return &s
}

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "Minimal test scenario",
		User:        "me",
		Steps: []Step{
			{Op: OpConnect},
			{Op: OpJoin, Room: "r1"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Kind: "join_room", Room: "r1"},
			{Type: AssertWritten, Events: []string{"join-room"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.Contains(t, result.TraceKinds(), "connection")
	assert.Empty(t, result.Timelines["r1"])
}

func TestRun_OptimisticSend(t *testing.T) {
	scenario := &Scenario{
		Name:        "optimistic",
		Description: "Held send is visible before the ack",
		User:        "me",
		Suffixes:    []string{"abc"},
		Steps: []Step{
			{Op: OpConnect},
			{Op: OpJoin, Room: "r1"},
			{Op: OpHoldSends},
			{Op: OpSendText, Room: "r1", Body: "hi", As: "hi"},
		},
		Assertions: []Assertion{
			{Type: AssertTimeline, Room: "r1", IDs: []string{"$hi"}, States: []string{"SENDING"}},
			{Type: AssertTimeline, Room: "r1", IDs: []string{"temp_text_0_abc"}},
			{Type: AssertPending, Count: intPtr(1)},
			{Type: AssertMessage, Room: "r1", Ref: "$hi", Body: strPtr("hi")},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_HistoryMerged(t *testing.T) {
	scenario := &Scenario{
		Name:        "history",
		Description: "History is fetched on join",
		User:        "me",
		History: map[string][]MessageSpec{
			"r1": {
				{ID: "h2", Sender: "peer", Body: "b", AtMS: 2000},
				{ID: "h1", Sender: "peer", Body: "a", AtMS: 1000},
			},
		},
		Steps: []Step{
			{Op: OpConnect},
			{Op: OpJoin, Room: "r1"},
		},
		Assertions: []Assertion{
			{Type: AssertTimeline, Room: "r1", IDs: []string{"h1", "h2"}},
			{Type: AssertTraceContains, Kind: "history", Room: "r1"},
			{Type: AssertTraceCount, Kind: "insert", Count: intPtr(0)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FailingAssertionReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing",
		Description: "Assertion that cannot hold",
		User:        "me",
		Steps: []Step{
			{Op: OpConnect},
		},
		Assertions: []Assertion{
			{Type: AssertTerminated, Value: boolPtr(true)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "terminated=true")
}

func TestRun_ExpectErrorMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "expect_error",
		Description: "A step expected to fail succeeds",
		User:        "me",
		Steps: []Step{
			{Op: OpSendText, Room: "r1", Body: "fine", ExpectError: "AUTH_EXPIRED"},
			{Op: OpSendText, Room: "r1", Body: "   ", ExpectError: "AUTH_EXPIRED"},
		},
		Assertions: []Assertion{
			{Type: AssertPending, Count: intPtr(1)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "got none")
	assert.Contains(t, result.Errors[1], "message body is empty")
}

func TestRun_UnexpectedStepErrorAborts(t *testing.T) {
	scenario := &Scenario{
		Name:        "step_error",
		Description: "Retry of an unknown message",
		User:        "me",
		Steps: []Step{
			{Op: OpRetry, Room: "r1", Ref: "missing"},
		},
		Assertions: []Assertion{
			{Type: AssertPending, Count: intPtr(0)},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps[0] retry")
}

func TestRun_SignalsCounted(t *testing.T) {
	scenario := &Scenario{
		Name:        "signals",
		Description: "Debounced timeline notifications",
		User:        "me",
		Steps: []Step{
			{Op: OpConnect},
			{Op: OpJoin, Room: "r1"},
			{Op: OpDeliver, Event: "new-message", Room: "r1", Message: &MessageSpec{ID: "a", Sender: "peer", Body: "x", AtMS: 1}},
			{Op: OpDeliver, Event: "new-message", Room: "r1", Message: &MessageSpec{ID: "b", Sender: "peer", Body: "y", AtMS: 2}},
			{Op: OpAdvance, MS: 100},
		},
		Assertions: []Assertion{
			{Type: AssertSignals, Signal: SignalTimelineChanged, Count: intPtr(1)},
			{Type: AssertTimeline, Room: "r1", IDs: []string{"a", "b"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_Testdata(t *testing.T) {
	scenarios, paths, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.Len(t, paths, len(scenarios))

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunAll_CollectsFailures(t *testing.T) {
	ok := &Scenario{
		Name:        "ok",
		Description: "d",
		User:        "me",
		Steps:       []Step{{Op: OpConnect}},
		Assertions:  []Assertion{{Type: AssertTerminated, Value: boolPtr(false)}},
	}
	broken := &Scenario{
		Name:        "broken",
		Description: "d",
		User:        "me",
		Steps:       []Step{{Op: OpDrop}},
		Assertions:  []Assertion{{Type: AssertTerminated, Value: boolPtr(false)}},
	}

	results := RunAll([]*Scenario{ok, broken})
	require.Len(t, results, 2)
	assert.True(t, results[0].Pass)
	assert.False(t, results[1].Pass)
	assert.Contains(t, results[1].Errors[0], "no connection to drop")
}

func TestParseError(t *testing.T) {
	assert.Contains(t, parseError("unauthorized").Error(), "unauthorized")
	assert.Contains(t, parseError("status:503").Error(), "status:503")
	assert.EqualError(t, parseError("boom"), "boom")
}
