package engine

import "github.com/roach88/chatsync/internal/chat"

// ReceiptAggregator applies inbound read receipts to messages.
//
// In counter mode every event increments ReadCount by one and the server is
// trusted not to resend a receipt. In by_reader mode a (message, reader) pair
// counts once; receipts without a reader id cannot be de-duplicated and are
// counted like counter mode.
type ReceiptAggregator struct {
	mode ReceiptMode
	seen map[string]map[string]struct{} // message id -> reader ids
}

// NewReceiptAggregator creates an aggregator. Unknown modes fall back to counter.
func NewReceiptAggregator(mode ReceiptMode) *ReceiptAggregator {
	if mode != ReceiptModeByReader {
		mode = ReceiptModeCounter
	}
	return &ReceiptAggregator{
		mode: mode,
		seen: make(map[string]map[string]struct{}),
	}
}

// Mode returns the active counting mode.
func (r *ReceiptAggregator) Mode() ReceiptMode {
	return r.mode
}

// Apply records a receipt for m. Returns true if ReadCount changed.
func (r *ReceiptAggregator) Apply(m *chat.Message, readerID string) bool {
	if r.mode == ReceiptModeByReader && readerID != "" {
		readers, ok := r.seen[m.ID]
		if !ok {
			readers = make(map[string]struct{})
			r.seen[m.ID] = readers
		}
		if _, dup := readers[readerID]; dup {
			return false
		}
		readers[readerID] = struct{}{}
	}
	m.ReadCount++
	return true
}
