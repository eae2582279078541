// Package causal holds messages until their causal dependencies are met.
//
// A receiver may deliver a message m from sender s once
//
//	m.clock[s] == local[s] + 1          (next unseen message from s)
//	m.clock[k] <= local[k] for k != s   (everything s had seen, we have seen)
//
// The buffer decides which pending messages satisfy this against a given
// receiver clock. Updating the receiver clock is left to the caller.
package causal

import (
	"sort"

	"github.com/amaydixit11/causalchat/internal/core"
)

// pendingMessage remembers arrival order for stable output
type pendingMessage struct {
	msg core.Message
	seq uint64
}

// Buffer is the pending set of one receiving process.
// It is not safe for concurrent use; the owning process serialises access.
type Buffer struct {
	n       int
	pending []pendingMessage
	nextSeq uint64
}

// NewBuffer creates an empty buffer for a group of n processes
func NewBuffer(n int) *Buffer {
	return &Buffer{n: n}
}

// Enqueue adds msg to the pending set. Messages may arrive in any order.
// Only a malformed message (wrong clock length or sender) is rejected.
func (b *Buffer) Enqueue(msg core.Message) error {
	if len(msg.StampedClock) != b.n {
		return core.ErrShapeMismatch{Want: b.n, Got: len(msg.StampedClock)}
	}
	if msg.SenderID < 0 || msg.SenderID >= b.n {
		return core.ErrInvalidProcessID{ID: msg.SenderID, N: b.n}
	}
	b.pending = append(b.pending, pendingMessage{msg: msg.Clone(), seq: b.nextSeq})
	b.nextSeq++
	return nil
}

// CanDeliver reports whether msg is deliverable at a receiver whose clock is
// receiver. Malformed input is never deliverable.
func CanDeliver(msg core.Message, receiver core.Entries) bool {
	stamp := msg.StampedClock
	sender := msg.SenderID
	if len(stamp) != len(receiver) || sender < 0 || sender >= len(receiver) {
		return false
	}

	if stamp[sender] != receiver[sender]+1 {
		return false
	}
	for k := range stamp {
		if k != sender && stamp[k] > receiver[k] {
			return false
		}
	}
	return true
}

// DrainDeliverable removes and returns every pending message deliverable
// against receiver, ordered by ascending clock sum. Equal sums keep arrival
// order. The sum order is only a deterministic tie-break for messages that
// became deliverable together, not a total causal order.
func (b *Buffer) DrainDeliverable(receiver core.Entries) ([]core.Message, error) {
	if len(receiver) != b.n {
		return nil, core.ErrShapeMismatch{Want: b.n, Got: len(receiver)}
	}

	var ready []pendingMessage
	kept := b.pending[:0]
	for _, p := range b.pending {
		if CanDeliver(p.msg, receiver) {
			ready = append(ready, p)
		} else {
			kept = append(kept, p)
		}
	}
	// Clear the tail so dropped messages can be collected
	for i := len(kept); i < len(b.pending); i++ {
		b.pending[i] = pendingMessage{}
	}
	b.pending = kept

	sort.SliceStable(ready, func(i, j int) bool {
		si, sj := ready[i].msg.StampedClock.Sum(), ready[j].msg.StampedClock.Sum()
		if si != sj {
			return si < sj
		}
		return ready[i].seq < ready[j].seq
	})

	out := make([]core.Message, len(ready))
	for i, p := range ready {
		out[i] = p.msg
	}
	return out, nil
}

// Len returns the number of pending messages
func (b *Buffer) Len() int {
	return len(b.pending)
}

// Pending returns copies of the pending messages in arrival order
func (b *Buffer) Pending() []core.Message {
	out := make([]core.Message, len(b.pending))
	for i, p := range b.pending {
		out[i] = p.msg.Clone()
	}
	return out
}

// Clear discards every pending message
func (b *Buffer) Clear() {
	b.pending = nil
	b.nextSeq = 0
}
