package engine

import "sync/atomic"

// Sequence is a monotonic logical clock that stamps timeline insertions.
//
// Entries with equal createdAt keep their insertion order because the
// timeline sorts by (createdAt, Seq).
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence starting at a specific value.
// Used to resume after the highest stamp found in local history.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next stamp and increments the sequence.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the current stamp without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
