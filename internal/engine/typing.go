package engine

import (
	"sort"
	"strings"
	"time"
)

// TypingAction is the outbound typing signal a local input change calls for.
type TypingAction int

const (
	// TypingNone means nothing is emitted.
	TypingNone TypingAction = iota
	// TypingStart emits typing{isTyping:true}.
	TypingStart
	// TypingStop emits typing{isTyping:false}.
	TypingStop
)

// TypingTracker holds the local typing state and the set of peers typing in
// the active room.
//
// It performs no I/O and schedules nothing; the session drives it with the
// current time and turns its results into events and timers. Peer entries
// carry an expiry so a lost stop event cannot leave a stale indicator.
type TypingTracker struct {
	quiet time.Duration
	ttl   time.Duration

	local     bool
	lastInput time.Time
	peers     map[string]time.Time // peer id -> expiry
}

// NewTypingTracker creates a tracker with the given local quiet period and
// peer entry TTL.
func NewTypingTracker(quiet, ttl time.Duration) *TypingTracker {
	return &TypingTracker{
		quiet: quiet,
		ttl:   ttl,
		peers: make(map[string]time.Time),
	}
}

// LocalInput records the current content of the compose field.
func (t *TypingTracker) LocalInput(text string, now time.Time) TypingAction {
	if strings.TrimSpace(text) == "" {
		return t.stop()
	}
	t.lastInput = now
	if t.local {
		return TypingNone
	}
	t.local = true
	return TypingStart
}

// QuietElapsed is called when the quiet timer fires. It stops local typing
// only if no input arrived during the quiet period.
func (t *TypingTracker) QuietElapsed(now time.Time) TypingAction {
	if !t.local || now.Sub(t.lastInput) < t.quiet {
		return TypingNone
	}
	return t.stop()
}

// Blur stops local typing immediately.
func (t *TypingTracker) Blur() TypingAction {
	return t.stop()
}

// LocalTyping reports whether a start was emitted without a matching stop.
func (t *TypingTracker) LocalTyping() bool {
	return t.local
}

func (t *TypingTracker) stop() TypingAction {
	if !t.local {
		return TypingNone
	}
	t.local = false
	return TypingStop
}

// PeerTyping applies an inbound typing event. A start for a present peer
// only refreshes its expiry. Returns true if the set of peers changed.
func (t *TypingTracker) PeerTyping(peerID string, typing bool, now time.Time) bool {
	_, present := t.peers[peerID]
	if !typing {
		delete(t.peers, peerID)
		return present
	}
	t.peers[peerID] = now.Add(t.ttl)
	return !present
}

// Sweep drops expired peers. Returns true if any were removed.
func (t *TypingTracker) Sweep(now time.Time) bool {
	removed := false
	for id, exp := range t.peers {
		if !now.Before(exp) {
			delete(t.peers, id)
			removed = true
		}
	}
	return removed
}

// NextExpiry returns the earliest peer expiry.
func (t *TypingTracker) NextExpiry() (time.Time, bool) {
	var next time.Time
	for _, exp := range t.peers {
		if next.IsZero() || exp.Before(next) {
			next = exp
		}
	}
	return next, !next.IsZero()
}

// Peers returns the typing peers sorted by id.
func (t *TypingTracker) Peers() []string {
	out := make([]string, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reset clears local and peer state. Returns true if local typing was on.
func (t *TypingTracker) Reset() bool {
	wasTyping := t.local
	t.local = false
	t.lastInput = time.Time{}
	clear(t.peers)
	return wasTyping
}
