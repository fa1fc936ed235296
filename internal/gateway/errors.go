package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	// KindRejected means a business rule refused the payment.
	KindRejected Kind = "rejected"
	// KindNetwork means an upstream (Pi API, Horizon, risk service) could not be reached.
	KindNetwork Kind = "network"
	// KindVerification means the blockchain transaction did not prove the payment.
	KindVerification Kind = "verification"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of a gateway error; anything else is internal.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps an approve/complete error to the status code of the wire response.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindRejected:
		return http.StatusBadRequest
	case KindVerification:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// message is what callers see in the "error" field; internal details stay in logs.
func message(err error) (string, string) {
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		return "internal error", ""
	}
	if gwErr.Kind == KindInternal || gwErr.Err == nil {
		return gwErr.Message, ""
	}
	return gwErr.Message, gwErr.Err.Error()
}
