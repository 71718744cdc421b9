package brook

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures surfaced by the engine.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindEventTooLarge
	KindConcurrencyConflict
	KindTransientStorage
	KindNonTransientStorage
	KindLockUnavailable
	KindLockLost
	KindRecoveryAmbiguous
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindEventTooLarge:
		return "event too large"
	case KindConcurrencyConflict:
		return "optimistic concurrency conflict"
	case KindTransientStorage:
		return "transient storage error"
	case KindNonTransientStorage:
		return "non-transient storage error"
	case KindLockUnavailable:
		return "lock unavailable"
	case KindLockLost:
		return "lock lost"
	case KindRecoveryAmbiguous:
		return "recovery ambiguous"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
	ErrEventTooLarge       = &Error{Kind: KindEventTooLarge}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
	ErrTransientStorage    = &Error{Kind: KindTransientStorage}
	ErrNonTransientStorage = &Error{Kind: KindNonTransientStorage}
	ErrLockUnavailable     = &Error{Kind: KindLockUnavailable}
	ErrLockLost            = &Error{Kind: KindLockLost}
	ErrRecoveryAmbiguous   = &Error{Kind: KindRecoveryAmbiguous}
)

// NoPosition marks an Error that is not tied to a position.
const NoPosition Position = -1

// Error carries the kind of failure plus the context needed to log and react.
type Error struct {
	Kind     Kind
	Key      string
	Position Position
	// Status is the store status code when the failure came from storage.
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " (brook=%s", e.Key)
		if e.Position >= 0 {
			fmt.Fprintf(&b, " position=%d", e.Position)
		}
		if e.Status != 0 {
			fmt.Fprintf(&b, " status=%d", e.Status)
		}
		b.WriteString(")")
	} else if e.Status != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithKey returns a copy annotated with the brook key and position.
func (e *Error) WithKey(key Key, pos Position) *Error {
	c := *e
	c.Key = key.String()
	c.Position = pos
	return &c
}

// NewError builds an Error of the given kind wrapping err.
func NewError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Position: NoPosition, Msg: fmt.Sprintf(format, args...), Err: err}
}

// InvalidArgument builds a KindInvalidArgument error.
func InvalidArgument(format string, args ...any) *Error {
	return NewError(KindInvalidArgument, nil, format, args...)
}

// Conflict builds a KindConcurrencyConflict error for key.
func Conflict(key Key, expected Position, err error, format string, args ...any) *Error {
	return NewError(KindConcurrencyConflict, err, format, args...).WithKey(key, expected)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}
