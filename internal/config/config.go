package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"voicebridge/internal/voice/settings"
)

const EnvPrefix = "VOICEBRIDGE"

type Config struct {
	TTS              settings.Settings
	SpeechBackend    string
	Recording        RecordingConfig
	Playback         PlaybackConfig
	Voices           VoicesConfig
	HTTPAddr         string
	MetricsNamespace string
	Log              LogConfig
}

type RecordingConfig struct {
	CaptureBinary string
	LanguageCode  string
	ReadyGrace    time.Duration
}

type PlaybackConfig struct {
	Backend      string
	PlayerBinary string
	TempDir      string
}

type VoicesConfig struct {
	CacheDir    string
	CacheMaxAge time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func SetDefaults() {
	viper.SetDefault("tts.enabled", true)
	viper.SetDefault("tts.voice.language_code", "en-US")
	viper.SetDefault("tts.voice.name", "")
	viper.SetDefault("tts.voice.ssml_gender", string(settings.GenderNeutral))
	viper.SetDefault("tts.audio.encoding", string(settings.EncodingMP3))
	viper.SetDefault("tts.audio.speaking_rate", 1.0)
	viper.SetDefault("tts.audio.pitch", 0.0)
	viper.SetDefault("tts.credentials.client_email", "")
	viper.SetDefault("tts.credentials.private_key", "")
	viper.SetDefault("tts.credentials.project_id", "")

	viper.SetDefault("speech.backend", "google")

	viper.SetDefault("recording.capture_binary", "sox")
	viper.SetDefault("recording.language_code", "en-US")
	viper.SetDefault("recording.ready_grace", 500*time.Millisecond)

	viper.SetDefault("playback.backend", "auto")
	viper.SetDefault("playback.player_binary", "play")
	viper.SetDefault("playback.temp_dir", filepath.Join(os.TempDir(), "voicebridge-tts"))

	viper.SetDefault("voices.cache_dir", defaultCacheDir())
	viper.SetDefault("voices.cache_max_age", 24*time.Hour)

	viper.SetDefault("http.addr", "127.0.0.1:7575")
	viper.SetDefault("metrics.namespace", "voicebridge")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

// BindEnv maps VOICEBRIDGE_<KEY> variables onto every key, and the plain
// GOOGLE_* variables onto the credentials.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("tts.credentials.client_email", EnvPrefix+"_TTS_CREDENTIALS_CLIENT_EMAIL", "GOOGLE_CLIENT_EMAIL")
	_ = viper.BindEnv("tts.credentials.private_key", EnvPrefix+"_TTS_CREDENTIALS_PRIVATE_KEY", "GOOGLE_PRIVATE_KEY")
	_ = viper.BindEnv("tts.credentials.project_id", EnvPrefix+"_TTS_CREDENTIALS_PROJECT_ID", "GOOGLE_PROJECT_ID")
}

// Load reads the configuration from viper and validates it.
func Load() (Config, error) {
	var errs []error

	gender, err := settings.ParseGender(viper.GetString("tts.voice.ssml_gender"))
	if err != nil {
		errs = append(errs, err)
	}
	encoding, err := settings.ParseAudioEncoding(viper.GetString("tts.audio.encoding"))
	if err != nil {
		errs = append(errs, err)
	}

	rate := viper.GetFloat64("tts.audio.speaking_rate")
	if rate < settings.MinSpeakingRate || rate > settings.MaxSpeakingRate {
		errs = append(errs, fmt.Errorf("tts.audio.speaking_rate %.2f outside [%.2f, %.2f]", rate, settings.MinSpeakingRate, settings.MaxSpeakingRate))
	}
	pitch := viper.GetFloat64("tts.audio.pitch")
	if pitch < settings.MinPitch || pitch > settings.MaxPitch {
		errs = append(errs, fmt.Errorf("tts.audio.pitch %.2f outside [%.2f, %.2f]", pitch, settings.MinPitch, settings.MaxPitch))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return Config{
		TTS: settings.Settings{
			Enabled: viper.GetBool("tts.enabled"),
			Voice: settings.Voice{
				LanguageCode: viper.GetString("tts.voice.language_code"),
				Name:         viper.GetString("tts.voice.name"),
				SSMLGender:   gender,
			},
			AudioConfig: settings.AudioConfig{
				AudioEncoding: encoding,
				SpeakingRate:  rate,
				Pitch:         pitch,
			},
			Credentials: loadCredentials(),
		},
		SpeechBackend: viper.GetString("speech.backend"),
		Recording: RecordingConfig{
			CaptureBinary: viper.GetString("recording.capture_binary"),
			LanguageCode:  viper.GetString("recording.language_code"),
			ReadyGrace:    viper.GetDuration("recording.ready_grace"),
		},
		Playback: PlaybackConfig{
			Backend:      viper.GetString("playback.backend"),
			PlayerBinary: viper.GetString("playback.player_binary"),
			TempDir:      viper.GetString("playback.temp_dir"),
		},
		Voices: VoicesConfig{
			CacheDir:    viper.GetString("voices.cache_dir"),
			CacheMaxAge: viper.GetDuration("voices.cache_max_age"),
		},
		HTTPAddr:         viper.GetString("http.addr"),
		MetricsNamespace: viper.GetString("metrics.namespace"),
		Log: LogConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
	}, nil
}

// loadCredentials returns nil unless at least one field is set. Escaped
// newlines in the key, as found in env files, are expanded.
func loadCredentials() *settings.Credentials {
	c := settings.Credentials{
		ClientIdentity:     strings.TrimSpace(viper.GetString("tts.credentials.client_email")),
		PrivateKeyMaterial: strings.ReplaceAll(viper.GetString("tts.credentials.private_key"), `\n`, "\n"),
		ProjectIdentifier:  strings.TrimSpace(viper.GetString("tts.credentials.project_id")),
	}
	if c == (settings.Credentials{}) {
		return nil
	}
	return &c
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "voicebridge")
}
