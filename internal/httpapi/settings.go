package httpapi

import (
	"errors"
	"strings"

	"voicebridge/internal/voice/settings"
)

// settingsRequest is the flat settings payload. Empty strings and absent
// numbers leave the current value untouched.
type settingsRequest struct {
	Enabled       *bool    `json:"enabled"`
	LanguageCode  string   `json:"language_code"`
	VoiceName     string   `json:"voice_name"`
	SSMLGender    string   `json:"ssml_gender"`
	AudioEncoding string   `json:"audio_encoding"`
	SpeakingRate  *float64 `json:"speaking_rate"`
	Pitch         *float64 `json:"pitch"`
	ClientEmail   string   `json:"client_email"`
	PrivateKey    string   `json:"private_key"`
	ProjectID     string   `json:"project_id"`
}

func (r settingsRequest) toUpdate() (settings.Update, error) {
	var (
		u    settings.Update
		errs []error
	)
	u.Enabled = r.Enabled

	var voice settings.VoiceUpdate
	if v := strings.TrimSpace(r.LanguageCode); v != "" {
		voice.LanguageCode = &v
	}
	if v := strings.TrimSpace(r.VoiceName); v != "" {
		voice.Name = &v
	}
	if v := strings.TrimSpace(r.SSMLGender); v != "" {
		g, err := settings.ParseGender(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			voice.SSMLGender = &g
		}
	}
	if voice != (settings.VoiceUpdate{}) {
		u.Voice = &voice
	}

	var audio settings.AudioConfigUpdate
	if v := strings.TrimSpace(r.AudioEncoding); v != "" {
		enc, err := settings.ParseAudioEncoding(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			audio.AudioEncoding = &enc
		}
	}
	audio.SpeakingRate = r.SpeakingRate
	audio.Pitch = r.Pitch
	if audio != (settings.AudioConfigUpdate{}) {
		u.AudioConfig = &audio
	}

	var creds settings.CredentialsUpdate
	if r.ClientEmail != "" {
		creds.ClientIdentity = &r.ClientEmail
	}
	if r.PrivateKey != "" {
		creds.PrivateKeyMaterial = &r.PrivateKey
	}
	if r.ProjectID != "" {
		creds.ProjectIdentifier = &r.ProjectID
	}
	if creds != (settings.CredentialsUpdate{}) {
		u.Credentials = &creds
	}

	if err := errors.Join(errs...); err != nil {
		return settings.Update{}, err
	}
	return u, nil
}

// settingsView never carries private key material.
type settingsView struct {
	Enabled     bool                 `json:"enabled"`
	Voice       settings.Voice       `json:"voice"`
	AudioConfig settings.AudioConfig `json:"audioConfig"`
	Credentials *credentialsView     `json:"credentials,omitempty"`
}

type credentialsView struct {
	ClientIdentity    string `json:"clientIdentity"`
	ProjectIdentifier string `json:"projectIdentifier"`
	HasPrivateKey     bool   `json:"hasPrivateKey"`
}

func newSettingsView(s settings.Settings) settingsView {
	v := settingsView{
		Enabled:     s.Enabled,
		Voice:       s.Voice,
		AudioConfig: s.AudioConfig,
	}
	if c := s.Credentials; c != nil {
		v.Credentials = &credentialsView{
			ClientIdentity:    c.ClientIdentity,
			ProjectIdentifier: c.ProjectIdentifier,
			HasPrivateKey:     c.PrivateKeyMaterial != "",
		}
	}
	return v
}
