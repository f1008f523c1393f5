package peer

import (
	"errors"
	"fmt"

	"github.com/dkeye/Callbridge/internal/core"
)

var (
	ErrClosed           = errors.New("peer closed")
	ErrInvalidState     = errors.New("invalid state for operation")
	ErrUnexpectedSignal = errors.New("unexpected signal type")
	ErrNoSender         = core.ErrNoSender
)

type Error struct {
	Op    string
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, st State, err error) *Error {
	return &Error{Op: op, State: st, Err: err}
}
