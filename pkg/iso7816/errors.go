package iso7816

import (
	"errors"
	"fmt"
)

// ErrUnexpectedStatusWord is matched by every *StatusError.
var ErrUnexpectedStatusWord = errors.New("unexpected status word")

// StatusError reports a command that completed on the wire but returned a
// status word the caller did not accept.
type StatusError struct {
	Command *CommandAPDU
	Status  StatusWord
}

// NewStatusError builds a StatusError for cmd.
func NewStatusError(cmd *CommandAPDU, sw StatusWord) *StatusError {
	return &StatusError{Command: cmd, Status: sw}
}

func (e *StatusError) Error() string {
	if e.Command == nil {
		return fmt.Sprintf("unexpected status word %s", e.Status.Verbose())
	}
	return fmt.Sprintf("command INS %02X failed: %s", byte(e.Command.Instruction.Raw), e.Status.Verbose())
}

// Is matches ErrUnexpectedStatusWord and any StatusError with the same SW.
func (e *StatusError) Is(target error) bool {
	if target == ErrUnexpectedStatusWord {
		return true
	}
	var other *StatusError
	if errors.As(target, &other) {
		return other.Status == e.Status
	}
	return false
}

// StatusOf extracts the status word carried by err, if any.
func StatusOf(err error) (StatusWord, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return 0, false
}
