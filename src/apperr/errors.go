// Package apperr defines the small error taxonomy used across the server.
// Handlers translate a Kind into an HTTP status and a uniform JSON body
// instead of switching on sentinel errors or relying on panics.
package apperr

import "net/http"

// Kind identifies one of the error categories the server surfaces to callers.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindGone
	KindConflict
	KindUnauthorized
	KindBadRequest
	KindSpawnFailed
	KindUpstreamUnavailable
)

// Error is a Kind-tagged error carrying a human-readable message.
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

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error's Kind to the status code in spec §7.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindGone:
		return http.StatusGone
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindSpawnFailed:
		return http.StatusInternalServerError
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Msg: msg, Err: err} }

func NotFound(msg string) *Error       { return New(KindNotFound, msg) }
func Gone(msg string) *Error           { return New(KindGone, msg) }
func Conflict(msg string) *Error       { return New(KindConflict, msg) }
func Unauthorized(msg string) *Error   { return New(KindUnauthorized, msg) }
func BadRequest(msg string) *Error     { return New(KindBadRequest, msg) }
func SpawnFailed(err error) *Error     { return Wrap(KindSpawnFailed, "failed to spawn process", err) }
func UpstreamUnavailable(msg string) *Error {
	return New(KindUpstreamUnavailable, msg)
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}
