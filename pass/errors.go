package pass

import (
	"errors"
	"fmt"
)

// ErrNoEngine is returned when random mode is requested without a pattern engine.
var ErrNoEngine = errors.New("random mode requires a pattern engine")

// MismatchError reports the first byte that did not verify.
type MismatchError struct {
	Offset uint64
	Block  uint64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("validation failed at byte offset %d", e.Offset)
}

// InterruptedError is returned when the run is cancelled between blocks.
// ResumeOffset is the first byte of the block that was not completed.
type InterruptedError struct {
	Pass         Kind
	ResumeOffset uint64
	Err          error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("%s pass interrupted, resume at byte %d", e.Pass, e.ResumeOffset)
}

func (e *InterruptedError) Unwrap() error {
	return e.Err
}
