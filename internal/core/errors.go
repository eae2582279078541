package core

import "fmt"

// ErrShapeMismatch is returned when two clocks disagree on the number of
// participants. It always points at a configuration bug.
type ErrShapeMismatch struct {
	Want int
	Got  int
}

func (e ErrShapeMismatch) Error() string {
	return fmt.Sprintf("clock shape mismatch: want %d entries, got %d", e.Want, e.Got)
}

// ErrInvalidProcessID is returned when a process index is outside 0..N-1
type ErrInvalidProcessID struct {
	ID int
	N  int
}

func (e ErrInvalidProcessID) Error() string {
	return fmt.Sprintf("invalid process id %d: must be in [0, %d)", e.ID, e.N)
}

// checkShape returns ErrShapeMismatch unless got == want
func checkShape(want, got int) error {
	if want != got {
		return ErrShapeMismatch{Want: want, Got: got}
	}
	return nil
}
