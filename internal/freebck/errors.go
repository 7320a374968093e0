package freebck

import (
	"errors"
)

// Kind classifies an engine failure by what caused it.
type Kind int

const (
	// KindUser is bad input, such as a missing snapshot name.
	KindUser Kind = iota
	// KindConflict means a destination exists and disagrees with the
	// restore policy.
	KindConflict
	// KindCorrupt means stored backup data is invalid: a decode
	// failure, a missing chunk, a malformed structure.
	KindCorrupt
	// KindProgram is an internal invariant violation, such as
	// exhausting the snapshot registration retry budget.
	KindProgram
	// KindSystem covers I/O, OS and permission failures.
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindConflict:
		return "filesystem conflict"
	case KindCorrupt:
		return "corrupt"
	case KindProgram:
		return "program"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Error is an engine failure with a Kind and an optional cause. The
// cause chain stays intact for errors.Is/errors.As and is rendered into
// the message, so a top-level print shows the full causal chain.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
