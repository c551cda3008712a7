package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnauthenticated   Code = "unauthenticated"
	CodeForbidden         Code = "forbidden"
	CodeNotFound          Code = "not_found"
	CodeValidation        Code = "validation"
	CodeRemoteUnavailable Code = "remote_unavailable"
	CodeUnexpected        Code = "unexpected"
)

// Error is the single error shape used across the pipeline. It marshals to JSON
// unchanged, so an error decoded from an RPC reply is indistinguishable from one
// produced by a local check.
type Error struct {
	Code     Code   `json:"code"`
	Subject  string `json:"subject,omitempty"`
	Message  string `json:"message"`
	Internal string `json:"-"`
}

func (e *Error) Error() string {
	if e.Internal != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Subject, e.Internal)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Subject, e.Message)
}

func Unauthenticated(internal string) *Error {
	return &Error{Code: CodeUnauthenticated, Subject: "token", Message: "Authentication required", Internal: internal}
}

func Forbidden(subject, internal string) *Error {
	return &Error{Code: CodeForbidden, Subject: subject, Message: "You are not permitted to do this", Internal: internal}
}

func NotFound(subject string) *Error {
	return &Error{Code: CodeNotFound, Subject: subject, Message: "Not found", Internal: subject + " not found"}
}

func Validation(subject, msg string) *Error {
	return &Error{Code: CodeValidation, Subject: subject, Message: msg, Internal: msg}
}

func RemoteUnavailable(subject string, err error) *Error {
	internal := subject + " unavailable"
	if err != nil {
		internal = err.Error()
	}
	return &Error{Code: CodeRemoteUnavailable, Subject: subject, Message: "Service temporarily unavailable, try again", Internal: internal}
}

func Unexpected(err error) *Error {
	return &Error{Code: CodeUnexpected, Subject: "internal", Message: "Something went wrong", Internal: err.Error()}
}

// From normalizes any error to *Error. Unknown errors become Unexpected so their
// internals never reach a client.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Unexpected(err)
}

func Is(err error, code Code) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

// HTTPStatus maps the taxonomy onto response codes for the HTTP surface.
func HTTPStatus(err error) int {
	switch From(err).Code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodeRemoteUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
