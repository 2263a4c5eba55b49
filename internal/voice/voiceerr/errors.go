// Package voiceerr defines the failure taxonomy shared by the voice components.
package voiceerr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotConfigured is returned when a recognition or synthesis client is
// absent because credentials are missing or invalid.
var ErrNotConfigured = errors.New("speech client not configured: credentials missing or invalid")

// RecognitionError wraps a streaming recognition failure.
type RecognitionError struct {
	Err error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("speech recognition failed: %v", e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// SynthesisError wraps a failed backend synthesis call.
type SynthesisError struct {
	Code codes.Code
	Err  error
}

// NewSynthesisError classifies err by its gRPC status code.
func NewSynthesisError(err error) *SynthesisError {
	return &SynthesisError{Code: status.Code(err), Err: err}
}

func (e *SynthesisError) Error() string {
	if e.Code != codes.OK && e.Code != codes.Unknown {
		return fmt.Sprintf("speech synthesis failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("speech synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Retryable reports whether the backend signalled a transient condition.
func (e *SynthesisError) Retryable() bool {
	switch e.Code {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
		return true
	default:
		return false
	}
}

// PlaybackError wraps a player spawn or exit failure for one queued file.
type PlaybackError struct {
	File string
	Err  error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback of %s failed: %v", e.File, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// CaptureError wraps a microphone subprocess failure.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("microphone capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
