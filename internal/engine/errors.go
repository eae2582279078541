package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrStaleSession is returned when a message from a previous session reaches
// the engine after a reset. Callers should discard the message.
type ErrStaleSession struct {
	Message uuid.UUID
	Current uuid.UUID
}

func (e ErrStaleSession) Error() string {
	return fmt.Sprintf("message from session %s arrived in session %s", e.Message, e.Current)
}

// ErrInvalidProcessCount is returned when a session is configured with too
// few processes
type ErrInvalidProcessCount struct {
	N int
}

func (e ErrInvalidProcessCount) Error() string {
	return fmt.Sprintf("invalid process count %d: need at least 1", e.N)
}
