package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Valid(t *testing.T) {
	yaml := `
name: basic
description: send and confirm
start_ms: 1000
suffixes: [abc]
options:
  media_timeout_ms: 5000
  receipt_mode: by_reader
history:
  r1:
    - {id: h1, sender: peer, body: earlier, at_ms: 500}
steps:
  - op: connect
  - op: join
    room: r1
  - op: send_text
    room: r1
    body: hi
    as: hi
assertions:
  - type: timeline
    room: r1
    ids: [h1, "$hi"]
`
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, "basic", s.Name)
	assert.Equal(t, "me", s.User, "user defaults to me")
	assert.Equal(t, int64(1000), s.StartMS)
	assert.Equal(t, []string{"abc"}, s.Suffixes)
	assert.Equal(t, 5000, s.Options.MediaTimeoutMS)
	assert.Equal(t, "by_reader", s.Options.ReceiptMode)
	require.Len(t, s.History["r1"], 1)
	assert.Equal(t, int64(500), s.History["r1"][0].AtMS)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, OpSendText, s.Steps[2].Op)
	assert.Equal(t, "hi", s.Steps[2].As)
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, []string{"h1", "$hi"}, s.Assertions[0].IDs)
}

func TestParseScenario_ExplicitUser(t *testing.T) {
	yaml := `
name: u
description: d
user: alice
steps:
  - op: connect
assertions:
  - type: terminated
    value: false
`
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "alice", s.User)
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	yaml := `
name: typo
description: d
steps:
  - op: connect
    rooom: r1
assertions:
  - type: terminated
    value: false
`
	_, err := ParseScenario([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rooom")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps: [{op: connect}]\nassertions: [{type: pending, count: 0}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsteps: [{op: connect}]\nassertions: [{type: pending, count: 0}]",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\nassertions: [{type: pending, count: 0}]",
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\nsteps: [{op: connect}]",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown op",
			yaml:    "name: n\ndescription: d\nsteps: [{op: explode}]\nassertions: [{type: pending, count: 0}]",
			wantErr: `unknown op "explode"`,
		},
		{
			name:    "send without room",
			yaml:    "name: n\ndescription: d\nsteps: [{op: send_text, body: hi}]\nassertions: [{type: pending, count: 0}]",
			wantErr: "room is required for send_text",
		},
		{
			name:    "media without path",
			yaml:    "name: n\ndescription: d\nsteps: [{op: send_media, room: r1}]\nassertions: [{type: pending, count: 0}]",
			wantErr: "room and path are required",
		},
		{
			name:    "bad media kind",
			yaml:    "name: n\ndescription: d\nsteps: [{op: send_media, room: r1, path: /a.gif, kind: gif}]\nassertions: [{type: pending, count: 0}]",
			wantErr: "gif",
		},
		{
			name:    "advance without ms",
			yaml:    "name: n\ndescription: d\nsteps: [{op: advance}]\nassertions: [{type: pending, count: 0}]",
			wantErr: "ms must be positive",
		},
		{
			name:    "deliver message without payload",
			yaml:    "name: n\ndescription: d\nsteps: [{op: deliver, event: new-message}]\nassertions: [{type: pending, count: 0}]",
			wantErr: "message or raw is required",
		},
		{
			name:    "empty queue_send",
			yaml:    "name: n\ndescription: d\nsteps: [{op: queue_send}]\nassertions: [{type: pending, count: 0}]",
			wantErr: "queue_send needs",
		},
		{
			name:    "as on connect",
			yaml:    "name: n\ndescription: d\nsteps: [{op: connect, as: x}]\nassertions: [{type: pending, count: 0}]",
			wantErr: "as only applies",
		},
		{
			name: "duplicate name",
			yaml: "name: n\ndescription: d\nsteps: [{op: send_text, room: r1, body: a, as: x}, {op: send_text, room: r1, body: b, as: x}]\n" +
				"assertions: [{type: pending, count: 0}]",
			wantErr: `name "x" already used`,
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nsteps: [{op: connect}]\nassertions: [{type: vibes}]",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "states length mismatch",
			yaml:    "name: n\ndescription: d\nsteps: [{op: connect}]\nassertions: [{type: timeline, room: r1, ids: [a, b], states: [CONFIRMED]}]",
			wantErr: "states must match ids",
		},
		{
			name:    "pending without count",
			yaml:    "name: n\ndescription: d\nsteps: [{op: connect}]\nassertions: [{type: pending}]",
			wantErr: "count is required for pending",
		},
		{
			name:    "negative trace count",
			yaml:    "name: n\ndescription: d\nsteps: [{op: connect}]\nassertions: [{type: trace_count, kind: send, count: -1}]",
			wantErr: "count must be non-negative",
		},
		{
			name:    "signals without signal",
			yaml:    "name: n\ndescription: d\nsteps: [{op: connect}]\nassertions: [{type: signals, count: 1}]",
			wantErr: "signal and count are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadDir_SortedByFileName(t *testing.T) {
	dir := t.TempDir()
	write := func(file, name string) {
		body := "name: " + name + "\ndescription: d\nsteps: [{op: connect}]\nassertions: [{type: pending, count: 0}]\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
	}
	write("02_b.yaml", "second")
	write("01_a.yaml", "first")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	scenarios, paths, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "first", scenarios[0].Name)
	assert.Equal(t, "second", scenarios[1].Name)
	assert.Equal(t, "01_a.yaml", filepath.Base(paths[0]))
}

func TestLoadDir_Empty(t *testing.T) {
	_, _, err := LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios found")
}

func TestLoadDir_ReportsBadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: x\n"), 0o644))

	_, _, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestLoadDir_Testdata(t *testing.T) {
	scenarios, _, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, s := range scenarios {
		assert.False(t, seen[s.Name], "duplicate scenario name %s", s.Name)
		seen[s.Name] = true
	}
	assert.True(t, seen["optimistic_text_confirmed"])
}
