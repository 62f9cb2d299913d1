package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers that need to branch on it without
// caring about the HTTP status.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindCycle       Kind = "cycle"
	KindNotFound    Kind = "not_found"
	KindUpstream    Kind = "upstream"
	KindFatalConfig Kind = "fatal_config"
	KindRateLimited Kind = "rate_limited"
)

type Error struct {
	Status int
	Code   string
	Kind   Kind
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func newKind(kind Kind, status int, code string, format string, args ...any) *Error {
	return &Error{Status: status, Code: code, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Tree edits report conflicts and cycles as 400s, not 409s; clients treat
// every rejected edit the same way.

func Validation(format string, args ...any) *Error {
	return newKind(KindValidation, http.StatusBadRequest, "validation_error", format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newKind(KindConflict, http.StatusBadRequest, "conflict_error", format, args...)
}

func Cycle(format string, args ...any) *Error {
	return newKind(KindCycle, http.StatusBadRequest, "cycle_error", format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newKind(KindNotFound, http.StatusNotFound, "not_found", format, args...)
}

func Upstream(err error, service string) *Error {
	return &Error{Status: http.StatusBadGateway, Code: "upstream_error", Kind: KindUpstream, Err: fmt.Errorf("%s: %w", service, err)}
}

func FatalConfig(format string, args ...any) *Error {
	return newKind(KindFatalConfig, http.StatusBadRequest, "fatal_config_error", format, args...)
}

func RateLimited(format string, args ...any) *Error {
	return newKind(KindRateLimited, http.StatusTooManyRequests, "rate_limited", format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return kind != "" && KindOf(err) == kind
}
