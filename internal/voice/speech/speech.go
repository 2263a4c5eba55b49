// Package speech defines the recognition and synthesis capabilities the
// voice core consumes, together with the backends that provide them.
package speech

import (
	"context"
	"errors"

	"voicebridge/internal/voice/settings"
)

// ErrStreamClosed is returned by Write after CloseSend.
var ErrStreamClosed = errors.New("recognition stream closed")

// RecognitionConfig configures one streaming recognition session.
type RecognitionConfig struct {
	Encoding          string
	SampleRateHertz   int32
	LanguageCode      string
	EnablePunctuation bool
	InterimResults    bool
}

// DefaultRecognitionConfig is 16kHz mono linear PCM with punctuation and
// interim results.
func DefaultRecognitionConfig(languageCode string) RecognitionConfig {
	if languageCode == "" {
		languageCode = "en-US"
	}
	return RecognitionConfig{
		Encoding:          "LINEAR16",
		SampleRateHertz:   16000,
		LanguageCode:      languageCode,
		EnablePunctuation: true,
		InterimResults:    true,
	}
}

// Result is the leading alternative of one recognition response.
type Result struct {
	Text    string
	IsFinal bool
}

// RecognitionStream is a bidirectional recognition session.
type RecognitionStream interface {
	// Write forwards captured audio. It returns ErrStreamClosed once the
	// stream has been ended.
	Write(p []byte) error
	// Recv blocks for the next result and returns io.EOF after the backend
	// finished the session.
	Recv() (Result, error)
	// CloseSend ends the audio input. Safe to call more than once.
	CloseSend() error
}

type Recognizer interface {
	Open(ctx context.Context, cfg RecognitionConfig) (RecognitionStream, error)
	Close() error
}

// SynthesisRequest is the text plus the voice parameters to render it with.
type SynthesisRequest struct {
	Text        string
	Voice       settings.Voice
	AudioConfig settings.AudioConfig
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
	Close() error
}

// VoiceInfo describes a voice offered by the synthesis backend.
type VoiceInfo struct {
	Name                   string   `json:"name"`
	LanguageCodes          []string `json:"language_codes"`
	Gender                 string   `json:"gender"`
	NaturalSampleRateHertz int32    `json:"natural_sample_rate_hertz"`
}

// VoiceLister is implemented by synthesizers that can enumerate voices.
type VoiceLister interface {
	ListVoices(ctx context.Context, languageCode string) ([]VoiceInfo, error)
}

// Factory builds clients for a set of credentials.
type Factory interface {
	NewRecognizer(ctx context.Context, creds *settings.Credentials) (Recognizer, error)
	NewSynthesizer(ctx context.Context, creds *settings.Credentials) (Synthesizer, error)
}
