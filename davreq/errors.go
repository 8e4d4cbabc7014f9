package davreq

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	CodeTransport ErrorCode = iota + 1
	CodeHTTPStatus
	CodeMissingParameter
	CodeDecode
	CodeCancelled
	CodeInvalidState
)

func (c ErrorCode) String() string {
	switch c {
	case CodeTransport:
		return "transport_error"
	case CodeHTTPStatus:
		return "http_status_error"
	case CodeMissingParameter:
		return "missing_parameter"
	case CodeDecode:
		return "decode_error"
	case CodeCancelled:
		return "cancelled"
	case CodeInvalidState:
		return "invalid_state"
	default:
		return fmt.Sprintf("unknown_error(%d)", int(c))
	}
}

const (
	// ReasonDefault is the reason carried by a plain Cancel.
	ReasonDefault = -1
	// ReasonContext is used when the context given to Start is done.
	ReasonContext = -2
)

var (
	ErrTransport        = &RequestError{Code: CodeTransport}
	ErrHTTPStatus       = &RequestError{Code: CodeHTTPStatus}
	ErrMissingParameter = &RequestError{Code: CodeMissingParameter}
	ErrDecode           = &RequestError{Code: CodeDecode}
	ErrCancelled        = &RequestError{Code: CodeCancelled}
	ErrInvalidState     = &RequestError{Code: CodeInvalidState}

	ErrIncompleteVerb = errors.New("verb is nil or has no encoder")
)

// RequestError is the failure half of an Outcome. Status is set for
// CodeHTTPStatus, Reason for CodeCancelled.
type RequestError struct {
	Code   ErrorCode
	Status int
	Reason int
	Err    error
}

func (e *RequestError) Error() string {
	switch e.Code {
	case CodeHTTPStatus:
		return fmt.Sprintf("dav request failed, code:%s, status:%d", e.Code, e.Status)
	case CodeCancelled:
		return fmt.Sprintf("dav request failed, code:%s, reason:%d", e.Code, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("dav request failed, code:%s, err:%v", e.Code, e.Err)
	}
	return fmt.Sprintf("dav request failed, code:%s", e.Code)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is matches any *RequestError with the same code, so callers can test
// errors.Is(err, ErrHTTPStatus) regardless of the status carried.
func (e *RequestError) Is(target error) bool {
	t, ok := target.(*RequestError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code ErrorCode, err error) *RequestError {
	return &RequestError{Code: code, Err: err}
}

func missingParameter(name string) *RequestError {
	return newError(CodeMissingParameter, fmt.Errorf("parameter %s is required", name))
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *RequestError
	if errors.As(err, &re) && re.Code == CodeHTTPStatus {
		return re.Status
	}
	return 0
}
