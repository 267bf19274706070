package softprompt

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrShape         = errors.New("shape error")
	ErrStorage       = errors.New("storage error")
	ErrCallContract  = errors.New("call contract error")
)

// Error carries the failing operation and its kind.
type Error struct {
	Op   string // e.g. "new_table", "forward"
	Kind error  // one of the Err* sentinels
	Msg  string
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func configErr(op, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrConfiguration, Msg: fmt.Sprintf(format, args...)}
}

func shapeErr(op, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrShape, Msg: fmt.Sprintf(format, args...)}
}

func storageErr(op string, err error, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrStorage, Msg: fmt.Sprintf(format, args...), Err: err}
}

func contractErr(op, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrCallContract, Msg: fmt.Sprintf(format, args...)}
}
