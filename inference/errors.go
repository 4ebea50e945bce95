package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential means no API key was configured for the provider.
	// No request is sent.
	ErrMissingCredential = errors.New("missing API key")

	ErrMissingTimezone = errors.New("no timezone available to resolve relative times")
	ErrEmptyInput      = errors.New("empty input")
	ErrNoCandidate     = errors.New("response contained no candidate text")
)

// Error is any failure of the inference call itself: transport, non-2xx
// status, refusal or a response that does not match the reminder schema.
type Error struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(provider string, status int, msg string, err error) *Error {
	return &Error{Provider: provider, StatusCode: status, Message: msg, Err: err}
}

// IsInferenceError reports whether err came from the inference call.
func IsInferenceError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// Outcome is a short metrics label for err.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrMissingTimezone):
		return "missing_timezone"
	}
	var e *Error
	if errors.As(err, &e) {
		switch {
		case e.StatusCode == 429:
			return "rate_limited"
		case e.StatusCode >= 500:
			return "server_error"
		case e.StatusCode >= 400:
			return "client_error"
		}
	}
	return "inference_error"
}
