// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package failure provides the error taxonomy shared by all Arrowhead client packages.

Every error that crosses a package boundary is a *Error carrying a Kind. The kind
decides the HTTP status a handler answers with and whether the caller may show the
message to a remote party:

	Config       missing or invalid local settings, fatal at startup
	Unavailable  remote endpoint unreachable, never retried
	Auth         signature, identity or expiry failure (401)
	Internal     decode, decrypt or parsing fault (500)
	BadPayload   malformed request or response shape

Remote Arrowhead core systems report a few more kinds (DataNotFound, DuplicateEntry,
Generic); FromBody maps them when a remote call fails.
*/
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error
type Kind string

// all known error kinds
const (
	KindConfig         Kind = "config"
	KindUnavailable    Kind = "unavailable"
	KindAuth           Kind = "auth"
	KindInternal       Kind = "internal"
	KindBadPayload     Kind = "bad_payload"
	KindDataNotFound   Kind = "data_not_found"
	KindDuplicateEntry Kind = "duplicate_entry"
	KindGeneric        Kind = "generic"
)

// Status returns the HTTP status code which corresponds to the kind
func (k Kind) Status() int {
	switch k {
	case KindAuth:
		return http.StatusUnauthorized
	case KindBadPayload:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindDataNotFound:
		return http.StatusNotFound
	case KindDuplicateEntry:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the tagged error type. Code is the HTTP status which goes with the error,
// Origin optionally names the remote endpoint which reported it.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Origin  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Origin != "" {
		msg = fmt.Sprintf("%s (origin: %s)", msg, e.Origin)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind with the kind's default status code
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: kind.Status(), Message: message}
}

// Wrap creates an error of the given kind which wraps cause
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Code: kind.Status(), Message: message, Err: cause}
}

// Config returns a configuration error
func Config(format string, args ...interface{}) *Error {
	return New(KindConfig, fmt.Sprintf(format, args...))
}

// Unavailable returns an error for an unreachable remote endpoint
func Unavailable(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindUnavailable, cause, fmt.Sprintf(format, args...))
}

// Auth returns an authentication or authorization error
func Auth(format string, args ...interface{}) *Error {
	return New(KindAuth, fmt.Sprintf(format, args...))
}

// Internal returns an internal error wrapping cause
func Internal(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindInternal, cause, fmt.Sprintf(format, args...))
}

// BadPayload returns an error for a malformed payload
func BadPayload(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindBadPayload, cause, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of err. Errors which are not tagged are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind returns true if err is a tagged error of the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// StatusOf returns the HTTP status code for err
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if e.Code != 0 {
			return e.Code
		}
		return e.Kind.Status()
	}
	return http.StatusInternalServerError
}
