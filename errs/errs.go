// Package errs holds the typed error used across tappy.
//
// Every failure a command can hit belongs to one Kind. Callers compare
// against the predefined sentinels with errors.Is and add context with
// fmt.Errorf("...: %w", errs.ErrX) or Wrap.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindMissingReference
	KindPolicy
	KindValueAccounting
	KindConsistency
	KindUnknownSecret
	KindIO
	KindCryptographic
)

func (k Kind) String() string {
	switch k {
	case KindMissingReference:
		return "missing-reference"
	case KindPolicy:
		return "policy"
	case KindValueAccounting:
		return "value-accounting"
	case KindConsistency:
		return "consistency"
	case KindUnknownSecret:
		return "unknown-secret"
	case KindIO:
		return "io"
	case KindCryptographic:
		return "cryptographic"
	default:
		return "unknown"
	}
}

type Error struct {
	kind       Kind
	message    string
	wrappedErr error
}

// New creates an error of the given kind. If the last param is an error it
// is wrapped instead of being formatted into the message.
func New(kind Kind, message string, params ...interface{}) *Error {
	var wErr error

	if len(params) > 0 {
		if err, ok := params[len(params)-1].(error); ok {
			wErr = err
			params = params[:len(params)-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	return &Error{kind: kind, message: message, wrappedErr: wErr}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.wrappedErr == nil {
		return fmt.Sprintf("%s error: %s", e.kind, e.message)
	}

	return fmt.Sprintf("%s error: %s: %v", e.kind, e.message, e.wrappedErr)
}

// Is reports whether target is an *Error with the same kind and message.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.kind == t.kind && e.message == t.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Message() string {
	return e.message
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	return &Error{kind: e.kind, message: e.message, wrappedErr: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}

	return KindUnknown
}

// Wrap adds formatted context in front of a sentinel.
func Wrap(sentinel *Error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

var (
	ErrMissingInput   = New(KindMissingReference, "missing input")
	ErrMissingOutput  = New(KindMissingReference, "missing output")
	ErrMissingUtxo    = New(KindMissingReference, "missing utxo")
	ErrMissingAddress = New(KindMissingReference, "no inbound address set")
	ErrMissingKey     = New(KindMissingReference, "missing key")
	ErrMissingImage   = New(KindMissingReference, "missing image")

	ErrInvalidPolicy   = New(KindPolicy, "invalid policy")
	ErrTaprootTree     = New(KindPolicy, "cannot build taproot tree")
	ErrCouldNotSatisfy = New(KindPolicy, "could not satisfy")
	ErrInvalidHeight   = New(KindPolicy, "invalid block height")
	ErrInvalidSequence = New(KindPolicy, "invalid relative locktime")

	ErrNotEnoughFunds = New(KindValueAccounting, "not enough funds")
	ErrOneZeroOutput  = New(KindValueAccounting, "at most one output may have value zero")
	ErrInvalidValue   = New(KindValueAccounting, "invalid value")

	ErrDoubleSpend   = New(KindConsistency, "utxo is already spent by another input")
	ErrDuplicateItem = New(KindConsistency, "item is held in both partitions")

	ErrUnknownKey   = New(KindUnknownSecret, "unknown key")
	ErrUnknownImage = New(KindUnknownSecret, "unknown image")

	ErrStateExists = New(KindIO, "state file already exists")
	ErrStateIO     = New(KindIO, "cannot access state file")
	ErrStateFormat = New(KindIO, "malformed state file")
	ErrJournal     = New(KindIO, "journal failure")

	ErrCrypto = New(KindCryptographic, "cryptographic failure")
)
