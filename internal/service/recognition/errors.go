package recognition

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies recognition failures.
type Code string

const (
	CodeNotAllowed        Code = "not-allowed"
	CodeServiceNotAllowed Code = "service-not-allowed"
	CodeUnsupported       Code = "unsupported"
	CodeNetwork           Code = "network"
	CodeNoSpeech          Code = "no-speech"
	CodeAborted           Code = "aborted"
	CodeAudioCapture      Code = "audio-capture"
	CodeStartTimeout      Code = "start-timeout"
)

// Error is a classified recognition error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("recognition error: %s", e.Code)
	}
	return fmt.Sprintf("recognition error: %s: %s", e.Code, e.Message)
}

// NewError returns an *Error.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// IsFatal reports whether err is a permission or support error that
// restarting cannot fix.
func IsFatal(err error) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	switch re.Code {
	case CodeNotAllowed, CodeServiceNotAllowed, CodeUnsupported:
		return true
	}
	return false
}

// CodeOf returns the code of err, or network for unclassified errors.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeStartTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeAborted
	}
	return CodeNetwork
}
