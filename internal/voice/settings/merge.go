package settings

import (
	"errors"
	"fmt"
)

// Update is a partial settings change. Nil fields are left untouched.
type Update struct {
	Enabled     *bool
	Voice       *VoiceUpdate
	AudioConfig *AudioConfigUpdate
	Credentials *CredentialsUpdate
}

type VoiceUpdate struct {
	LanguageCode *string
	Name         *string
	SSMLGender   *Gender
}

type AudioConfigUpdate struct {
	AudioEncoding *AudioEncoding
	SpeakingRate  *float64
	Pitch         *float64
}

// CredentialsUpdate carries credential sub-fields. Nil or empty values fall
// back to the existing credentials.
type CredentialsUpdate struct {
	ClientIdentity     *string
	PrivateKeyMaterial *string
	ProjectIdentifier  *string
}

// Validate checks enum membership and the recommended numeric ranges.
func (u Update) Validate() error {
	var errs []error
	if v := u.Voice; v != nil && v.SSMLGender != nil {
		if _, err := ParseGender(string(*v.SSMLGender)); err != nil {
			errs = append(errs, err)
		}
	}
	if a := u.AudioConfig; a != nil {
		if a.AudioEncoding != nil && !a.AudioEncoding.Known() {
			errs = append(errs, fmt.Errorf("unknown audio encoding %q", *a.AudioEncoding))
		}
		if a.SpeakingRate != nil && (*a.SpeakingRate < MinSpeakingRate || *a.SpeakingRate > MaxSpeakingRate) {
			errs = append(errs, fmt.Errorf("speaking rate %.2f outside [%.2f, %.2f]", *a.SpeakingRate, MinSpeakingRate, MaxSpeakingRate))
		}
		if a.Pitch != nil && (*a.Pitch < MinPitch || *a.Pitch > MaxPitch) {
			errs = append(errs, fmt.Errorf("pitch %.1f outside [%.1f, %.1f]", *a.Pitch, MinPitch, MaxPitch))
		}
	}
	return errors.Join(errs...)
}

// Empty reports whether the update specifies nothing.
func (u Update) Empty() bool {
	return u.Enabled == nil && u.Voice == nil && u.AudioConfig == nil && u.Credentials == nil
}

// Merge applies u on top of prev and returns the result. prev is not modified.
func Merge(prev Settings, u Update) Settings {
	next := prev.Clone()
	if u.Enabled != nil {
		next.Enabled = *u.Enabled
	}
	if u.Voice != nil {
		next.Voice = MergeVoice(prev.Voice, *u.Voice)
	}
	if u.AudioConfig != nil {
		next.AudioConfig = MergeAudioConfig(prev.AudioConfig, *u.AudioConfig)
	}
	if u.Credentials != nil && u.Credentials.specified() {
		next.Credentials = ReconcileCredentials(prev.Credentials, *u.Credentials)
	}
	return next
}

func MergeVoice(prev Voice, u VoiceUpdate) Voice {
	next := prev
	if u.LanguageCode != nil {
		next.LanguageCode = *u.LanguageCode
	}
	if u.Name != nil {
		next.Name = *u.Name
	}
	if u.SSMLGender != nil {
		next.SSMLGender = *u.SSMLGender
	}
	return next
}

func MergeAudioConfig(prev AudioConfig, u AudioConfigUpdate) AudioConfig {
	next := prev
	if u.AudioEncoding != nil {
		next.AudioEncoding = *u.AudioEncoding
	}
	if u.SpeakingRate != nil {
		next.SpeakingRate = *u.SpeakingRate
	}
	if u.Pitch != nil {
		next.Pitch = *u.Pitch
	}
	return next
}

// ReconcileCredentials builds a fresh credentials object, taking each
// sub-field from u when given and from prev otherwise.
func ReconcileCredentials(prev *Credentials, u CredentialsUpdate) *Credentials {
	var base Credentials
	if prev != nil {
		base = *prev
	}
	return &Credentials{
		ClientIdentity:     pick(u.ClientIdentity, base.ClientIdentity),
		PrivateKeyMaterial: pick(u.PrivateKeyMaterial, base.PrivateKeyMaterial),
		ProjectIdentifier:  pick(u.ProjectIdentifier, base.ProjectIdentifier),
	}
}

func (u CredentialsUpdate) specified() bool {
	return present(u.ClientIdentity) || present(u.PrivateKeyMaterial) || present(u.ProjectIdentifier)
}

func present(p *string) bool {
	return p != nil && *p != ""
}

func pick(p *string, fallback string) string {
	if present(p) {
		return *p
	}
	return fallback
}
