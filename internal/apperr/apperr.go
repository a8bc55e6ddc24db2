package apperr

import (
	"errors"
	"net/http"
	"strings"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindProvider     Kind = "provider"
	KindPersistence  Kind = "persistence"
)

// FieldError points at a single offending input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// Error is the domain error carried across package boundaries.
type Error struct {
	Kind   Kind
	Msg    string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and message, so package
// sentinels built with this type work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg
}

func Validation(msg string, fields ...FieldError) error {
	return &Error{Kind: KindValidation, Msg: msg, Fields: fields}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Msg: msg}
}

func Unauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Msg: msg}
}

func Provider(msg string, err error) error {
	return &Error{Kind: KindProvider, Msg: msg, Err: err}
}

func Persistence(msg string, err error) error {
	return &Error{Kind: KindPersistence, Msg: msg, Err: err}
}

// Wrap attaches context to a sentinel while keeping it matchable.
func Wrap(sentinel error, err error) error {
	var e *Error
	if !errors.As(sentinel, &e) {
		return errors.Join(sentinel, err)
	}
	return &Error{Kind: e.Kind, Msg: e.Msg, Fields: e.Fields, Err: err}
}

// KindOf reports the kind of err, defaulting to persistence for unknown errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// FieldsOf returns field errors attached to err, if any.
func FieldsOf(err error) []FieldError {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage hides persistence details from API callers.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Kind == KindPersistence {
		return strings.TrimSpace(e.Msg)
	}
	return e.Error()
}

// Body is the JSON shape of an error response.
type Body struct {
	Error  string       `json:"error"`
	Class  Kind         `json:"class"`
	Fields []FieldError `json:"fields,omitempty"`
}

func BodyOf(err error) Body {
	return Body{Error: PublicMessage(err), Class: KindOf(err), Fields: FieldsOf(err)}
}
