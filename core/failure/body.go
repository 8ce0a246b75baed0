// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package failure

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// Body is the JSON error object returned by secured endpoints
type Body struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind"`
}

// remoteBody is the error object of the Arrowhead core systems
type remoteBody struct {
	ErrorMessage  string `json:"errorMessage"`
	ErrorCode     int    `json:"errorCode"`
	ExceptionType string `json:"exceptionType"`
	Origin        string `json:"origin"`
}

const internalMessage = "internal server error"

// BodyOf returns the error object for err. The wrapped cause is never part of the
// body, and internal errors only report a generic message.
func BodyOf(err error) Body {
	var e *Error
	if !errors.As(err, &e) {
		return Body{Message: internalMessage, Code: http.StatusInternalServerError, Kind: KindInternal}
	}
	body := Body{Message: e.Message, Code: StatusOf(e), Kind: e.Kind}
	if e.Kind == KindInternal || e.Kind == KindConfig {
		body.Message = internalMessage
	}
	return body
}

// WriteHTTP writes err as JSON error object with the matching status code
func WriteHTTP(w http.ResponseWriter, err error) {
	body := BodyOf(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(body.Code)
	json.NewEncoder(w).Encode(body)
}

// remoteKinds maps the exception types of the Arrowhead core systems
var remoteKinds = map[string]Kind{
	"AUTH":            KindAuth,
	"BAD_PAYLOAD":     KindBadPayload,
	"DATA_NOT_FOUND":  KindDataNotFound,
	"DUPLICATE_ENTRY": KindDuplicateEntry,
	"UNAVAILABLE":     KindUnavailable,
	"ARROWHEAD":       KindGeneric,
	"BAD_METHOD":      KindGeneric,
	"BAD_URI":         KindGeneric,
	"DNSSD":           KindGeneric,
	"GENERIC":         KindGeneric,
	"JSON_PROCESSING": KindGeneric,
}

// FromBody converts the error response of a remote system into an *Error. It
// understands both Body and the error object of the Arrowhead core systems. A body
// which is neither yields a generic error carrying the raw text.
func FromBody(status int, data []byte, origin string) *Error {
	var remote remoteBody
	if err := json.Unmarshal(data, &remote); err == nil && remote.ExceptionType != "" {
		kind, ok := remoteKinds[strings.ToUpper(remote.ExceptionType)]
		if !ok {
			kind = KindGeneric
		}
		code := remote.ErrorCode
		if code == 0 {
			code = status
		}
		if remote.Origin != "" {
			origin = remote.Origin
		}
		return &Error{Kind: kind, Code: code, Message: remote.ErrorMessage, Origin: origin}
	}

	var body Body
	if err := json.Unmarshal(data, &body); err == nil && body.Kind != "" {
		code := body.Code
		if code == 0 {
			code = status
		}
		return &Error{Kind: body.Kind, Code: code, Message: body.Message, Origin: origin}
	}

	message := strings.TrimSpace(string(data))
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: KindGeneric, Code: status, Message: message, Origin: origin}
}

// exceptionTypes maps local kinds onto the exception types of the core systems
var exceptionTypes = map[Kind]string{
	KindAuth:           "AUTH",
	KindBadPayload:     "BAD_PAYLOAD",
	KindDataNotFound:   "DATA_NOT_FOUND",
	KindDuplicateEntry: "DUPLICATE_ENTRY",
	KindUnavailable:    "UNAVAILABLE",
	KindGeneric:        "GENERIC",
}

// WriteArrowheadHTTP writes err as error object of the Arrowhead core systems. It is
// used by the in-memory core systems so that clients see the same bodies as from
// the real ones.
func WriteArrowheadHTTP(w http.ResponseWriter, err error, origin string) {
	body := BodyOf(err)
	exceptionType, ok := exceptionTypes[body.Kind]
	if !ok {
		exceptionType = "ARROWHEAD"
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(body.Code)
	json.NewEncoder(w).Encode(remoteBody{
		ErrorMessage:  body.Message,
		ErrorCode:     body.Code,
		ExceptionType: exceptionType,
		Origin:        origin,
	})
}
