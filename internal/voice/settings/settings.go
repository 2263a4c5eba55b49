// Package settings holds the text-to-speech configuration and the store
// that owns it.
package settings

import (
	"fmt"
	"strings"

	"voicebridge/internal/voice/events"
)

// Gender is the coarse voice gender requested from the synthesis backend.
type Gender string

const (
	GenderNeutral Gender = "NEUTRAL"
	GenderFemale  Gender = "FEMALE"
	GenderMale    Gender = "MALE"
)

// AudioEncoding is the output encoding of synthesized audio.
type AudioEncoding string

const (
	EncodingMP3      AudioEncoding = "MP3"
	EncodingLinear16 AudioEncoding = "LINEAR16"
	EncodingOggOpus  AudioEncoding = "OGG_OPUS"
)

// Recommended numeric ranges of the synthesis backend.
const (
	MinSpeakingRate = 0.25
	MaxSpeakingRate = 4.0
	MinPitch        = -20.0
	MaxPitch        = 20.0
)

// ParseGender accepts a gender name in any case.
func ParseGender(s string) (Gender, error) {
	switch g := Gender(strings.ToUpper(strings.TrimSpace(s))); g {
	case GenderNeutral, GenderFemale, GenderMale:
		return g, nil
	default:
		return "", fmt.Errorf("unknown ssml gender %q", s)
	}
}

// ParseAudioEncoding accepts an encoding name in any case.
func ParseAudioEncoding(s string) (AudioEncoding, error) {
	switch e := AudioEncoding(strings.ToUpper(strings.TrimSpace(s))); e {
	case EncodingMP3, EncodingLinear16, EncodingOggOpus:
		return e, nil
	default:
		return "", fmt.Errorf("unknown audio encoding %q", s)
	}
}

// Known reports whether e is one of the supported encodings.
func (e AudioEncoding) Known() bool {
	switch e {
	case EncodingMP3, EncodingLinear16, EncodingOggOpus:
		return true
	}
	return false
}

// Normalize maps unknown encodings onto LINEAR16, the single fallback used
// for synthesis, file naming and player selection.
func (e AudioEncoding) Normalize() AudioEncoding {
	if e.Known() {
		return e
	}
	return EncodingLinear16
}

// FileExtension returns the transient file extension for the encoding.
func (e AudioEncoding) FileExtension() string {
	switch e.Normalize() {
	case EncodingMP3:
		return "mp3"
	case EncodingOggOpus:
		return "ogg"
	default:
		return "wav"
	}
}

type Voice struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
	SSMLGender   Gender `json:"ssmlGender"`
}

type AudioConfig struct {
	AudioEncoding AudioEncoding `json:"audioEncoding"`
	SpeakingRate  float64       `json:"speakingRate"`
	Pitch         float64       `json:"pitch"`
}

// Credentials identify a service account of the speech backend.
type Credentials struct {
	ClientIdentity     string `json:"clientIdentity"`
	PrivateKeyMaterial string `json:"privateKeyMaterial"`
	ProjectIdentifier  string `json:"projectIdentifier"`
}

// Complete reports whether the identity and key material are present.
func (c *Credentials) Complete() bool {
	return c != nil && c.ClientIdentity != "" && c.PrivateKeyMaterial != ""
}

// SameAs compares the three credential fields; two nil values are equal.
func (c *Credentials) SameAs(o *Credentials) bool {
	if c == nil || o == nil {
		return c == nil && o == nil
	}
	return *c == *o
}

// Settings is the complete text-to-speech configuration.
type Settings struct {
	Enabled     bool         `json:"enabled"`
	Voice       Voice        `json:"voice"`
	AudioConfig AudioConfig  `json:"audioConfig"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// Defaults returns the settings a fresh service starts with.
func Defaults() Settings {
	return Settings{
		Enabled: true,
		Voice: Voice{
			LanguageCode: "en-US",
			SSMLGender:   GenderNeutral,
		},
		AudioConfig: AudioConfig{
			AudioEncoding: EncodingMP3,
			SpeakingRate:  1.0,
			Pitch:         0.0,
		},
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	if s.Credentials != nil {
		c := *s.Credentials
		out.Credentials = &c
	}
	return out
}

// Changed is published after every settings update.
type Changed struct {
	Settings Settings `json:"settings"`
}

func (Changed) Kind() events.Kind { return events.KindSettingsChanged }
