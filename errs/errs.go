// Package errs carries the coded failures returned across component boundaries.
// Every component returns a *Error for expected failures; callers branch on Code.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies a failure kind.
type Code string

const (
	// input
	MissingInput Code = "MISSING_INPUT"
	MissingEntry Code = "MISSING_ENTRY"

	// profile service
	EntryNotFound   Code = "ENTRY_NOT_FOUND"
	EmptyEntry      Code = "EMPTY_ENTRY"
	EntryFetchError Code = "ENTRY_FETCH_ERROR"

	// lyrics
	EntryFetchFailed        Code = "ENTRY_FETCH_FAILED"
	AIContentEmpty          Code = "AI_CONTENT_EMPTY"
	AIServiceException      Code = "AI_SERVICE_EXCEPTION"
	LyricsFetchFailed       Code = "LYRICS_FETCH_FAILED"
	LyricsPersistenceFailed Code = "LYRICS_PERSISTENCE_FAILED"

	// orchestration
	LyricsFailed           Code = "LYRICS_FAILED"
	AudioFailed            Code = "AUDIO_FAILED"
	ArtworkFailed          Code = "ARTWORK_FAILED"
	StorageFailed          Code = "STORAGE_FAILED"
	TrackPersistenceFailed Code = "TRACK_PERSISTENCE_FAILED"

	// providers
	NoProvider     Code = "NO_PROVIDER"
	ProviderFailed Code = "PROVIDER_FAILED"
	TimingFailed   Code = "TIMING_FAILED"

	InternalError   Code = "INTERNAL_ERROR"
	SessionNotFound Code = "SESSION_NOT_FOUND"
	InvalidRequest  Code = "INVALID_REQUEST"
)

// Error is a coded failure. Err, when set, is the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err. A nil err still yields an error.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the human readable message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
