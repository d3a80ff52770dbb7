package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument   = Code(codes.InvalidArgument)
	CodeNotFound          = Code(codes.NotFound)
	CodeResourceExhausted = Code(codes.ResourceExhausted)
	CodeUnavailable       = Code(codes.Unavailable)
	CodeInternal          = Code(codes.Internal)
)

// Kind names the failure in the session protocol. It travels on the wire in the "code" field of
// error bodies so clients can tell SessionNotFound from PlayerNotFound without parsing messages.
type Kind string

const (
	KindSessionNotFound         Kind = "SessionNotFound"
	KindPlayerNotFound          Kind = "PlayerNotFound"
	KindInvalidName             Kind = "InvalidName"
	KindCodeSpaceExhausted      Kind = "CodeSpaceExhausted"
	KindTransientNetworkFailure Kind = "TransientNetworkFailure"
	KindMalformedRequest        Kind = "MalformedRequest"
	KindInternal                Kind = "Internal"
)

var kind2code = map[Kind]Code{
	KindSessionNotFound:         CodeNotFound,
	KindPlayerNotFound:          CodeNotFound,
	KindInvalidName:             CodeInvalidArgument,
	KindMalformedRequest:        CodeInvalidArgument,
	KindCodeSpaceExhausted:      CodeResourceExhausted,
	KindTransientNetworkFailure: CodeUnavailable,
	KindInternal:                CodeInternal,
}

var code2http = map[Code]int{
	CodeInvalidArgument:   http.StatusBadRequest,
	CodeNotFound:          http.StatusNotFound,
	CodeResourceExhausted: http.StatusServiceUnavailable,
	CodeUnavailable:       http.StatusServiceUnavailable,
	CodeInternal:          http.StatusInternalServerError,
}

type Error struct {
	Code    Code   `json:"-"`
	Kind    Kind   `json:"code"`
	Message string `json:"error"`
	err     error
}

func New(kind Kind, opts ...Option) *Error {
	code, ok := kind2code[kind]
	if !ok {
		code = CodeInternal
	}

	e := &Error{
		Code:    code,
		Kind:    kind,
		Message: string(kind),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches on Kind, so errors.Is(err, errors.New(errors.KindPlayerNotFound)) holds for any
// PlayerNotFound regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Kind == e.Kind
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// KindOf returns the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return KindInternal
	}

	return e.Kind
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func Internal(err error) *Error {
	return New(KindInternal, WithCause(err), WithMessagef("internal error"))
}

func SessionNotFound(format string, args ...any) *Error {
	return New(KindSessionNotFound, WithMessagef(format, args...))
}

func PlayerNotFound(format string, args ...any) *Error {
	return New(KindPlayerNotFound, WithMessagef(format, args...))
}

func InvalidName(format string, args ...any) *Error {
	return New(KindInvalidName, WithMessagef(format, args...))
}

func Malformed(format string, args ...any) *Error {
	return New(KindMalformedRequest, WithMessagef(format, args...))
}

func Transient(err error) *Error {
	return New(KindTransientNetworkFailure, WithCause(err), WithMessagef("transient network failure"))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
