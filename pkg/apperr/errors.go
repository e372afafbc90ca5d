// Package apperr defines the error taxonomy shared by the notification
// pipeline. Callers classify failures by Kind instead of matching strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the pipeline must react to it.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindPersistence
	KindPush
	KindProvisioning
	KindTransientBroker
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindPush:
		return "push"
	case KindProvisioning:
		return "provisioning"
	case KindTransientBroker:
		return "transient_broker"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error carries a Kind, the operation that failed and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind without a cause.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, msg string) error { return New(KindValidation, op, msg) }

func Persistence(op string, err error) error { return Wrap(KindPersistence, op, err) }

func Push(op string, err error) error { return Wrap(KindPush, op, err) }

func Provisioning(op string, err error) error { return Wrap(KindProvisioning, op, err) }

func TransientBroker(op string, err error) error { return Wrap(KindTransientBroker, op, err) }

func Forbidden(op, msg string) error { return New(KindForbidden, op, msg) }

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsPermanent reports whether retrying err can never succeed. Such messages
// are acknowledged and skipped by the consumer.
func IsPermanent(err error) bool {
	return Is(err, KindValidation)
}
