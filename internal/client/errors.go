package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork represents transport failures: DNS, refused connections, timeouts
	ErrorTypeNetwork
	// ErrorTypeAuthentication represents a 401 that could not be recovered by a refresh
	ErrorTypeAuthentication
	// ErrorTypeAPI represents any other non-2xx response
	ErrorTypeAPI
	// ErrorTypeDecode represents a 2xx response whose body was not valid JSON
	ErrorTypeDecode
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeAuthentication:
		return "authentication"
	case ErrorTypeAPI:
		return "api"
	case ErrorTypeDecode:
		return "decode"
	default:
		return "unknown"
	}
}

var (
	// ErrNoRefreshToken is returned by a refresh when no refresh token is stored
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshFailed wraps every failed refresh network exchange
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrSessionEnded is returned when another caller already terminated the session
	ErrSessionEnded = errors.New("session ended")
)

// maxErrorBody bounds how much of an error response is read for normalization.
const maxErrorBody = 1 << 20

// Error is the normalized error returned by every request method.
type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int
	// Detail holds the raw "detail" member of the error body, if any, so that
	// callers can match on structured domain errors.
	Detail json.RawMessage
	Cause  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsType checks if the error is of a specific type
func (e *Error) IsType(errorType ErrorType) bool {
	return e.Type == errorType
}

// DecodeDetail unmarshals the raw detail payload into v.
func (e *Error) DecodeDetail(v any) error {
	if len(e.Detail) == 0 {
		return fmt.Errorf("error has no detail payload")
	}
	return json.Unmarshal(e.Detail, v)
}

// NewNetworkError creates a transport error carrying the underlying message
func NewNetworkError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeNetwork,
		Message: message,
		Cause:   cause,
	}
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type validationItem struct {
	Msg string `json:"msg"`
}

// NormalizeResponse reads and closes resp.Body and turns a non-2xx response
// into an *Error. A "detail" string becomes the message; for a "detail" list
// the first entry's "msg" is used; anything else falls back to the status line.
func NormalizeResponse(resp *http.Response) *Error {
	defer resp.Body.Close()

	e := &Error{
		Type:       ErrorTypeAPI,
		Message:    fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode: resp.StatusCode,
	}
	if resp.StatusCode == http.StatusUnauthorized {
		e.Type = ErrorTypeAuthentication
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return e
	}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 || string(body.Detail) == "null" {
		return e
	}
	e.Detail = body.Detail

	var message string
	if err := json.Unmarshal(body.Detail, &message); err == nil {
		if message != "" {
			e.Message = message
		}
		return e
	}

	var items []validationItem
	if err := json.Unmarshal(body.Detail, &items); err == nil && len(items) > 0 && items[0].Msg != "" {
		e.Message = items[0].Msg
	}

	return e
}

// IsNetworkError checks if an error is a transport failure
func IsNetworkError(err error) bool {
	var cErr *Error
	return errors.As(err, &cErr) && cErr.IsType(ErrorTypeNetwork)
}

// IsAuthenticationError checks if an error is an unrecovered 401
func IsAuthenticationError(err error) bool {
	var cErr *Error
	return errors.As(err, &cErr) && cErr.IsType(ErrorTypeAuthentication)
}

// IsAPIError checks if an error is a non-2xx, non-401 response
func IsAPIError(err error) bool {
	var cErr *Error
	return errors.As(err, &cErr) && cErr.IsType(ErrorTypeAPI)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.StatusCode
	}
	return 0
}
