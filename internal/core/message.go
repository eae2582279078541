package core

import (
	"time"

	"github.com/google/uuid"
)

// Message is a chat message stamped with its sender's clock.
// Treat it as immutable: the stamp is copied in and copied out.
type Message struct {
	ID           uint64    `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	SenderID     int       `json:"sender_id"`
	Payload      string    `json:"payload"`
	StampedClock Entries   `json:"stamped_clock"`
	SentAt       time.Time `json:"sent_at"`
	DeliveredAt  time.Time `json:"delivered_at"` // zero until delivered
}

// NewMessage creates a message whose stamp is a deep copy of stamp, so later
// ticks of the sender's clock never show through.
func NewMessage(id uint64, session uuid.UUID, sender int, payload string, stamp Entries, sentAt time.Time) Message {
	return Message{
		ID:           id,
		SessionID:    session,
		SenderID:     sender,
		Payload:      payload,
		StampedClock: stamp.Clone(),
		SentAt:       sentAt,
	}
}

// Clone creates a deep copy of the message
func (m Message) Clone() Message {
	m.StampedClock = m.StampedClock.Clone()
	return m
}

// Delivered returns a copy marked as delivered at the given time
func (m Message) Delivered(at time.Time) Message {
	c := m.Clone()
	c.DeliveredAt = at
	return c
}

// IsDelivered reports whether a delivery time has been attached
func (m Message) IsDelivered() bool {
	return !m.DeliveredAt.IsZero()
}

// Latency returns the time between send and delivery, or 0 if undelivered
func (m Message) Latency() time.Duration {
	if !m.IsDelivered() {
		return 0
	}
	return m.DeliveredAt.Sub(m.SentAt)
}
