// Package voice wires the recording, synthesis and playback components into
// one service with an explicit lifecycle.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voicebridge/internal/observability"
	"voicebridge/internal/voice/capture"
	"voicebridge/internal/voice/catalog"
	"voicebridge/internal/voice/events"
	"voicebridge/internal/voice/playback"
	"voicebridge/internal/voice/recording"
	"voicebridge/internal/voice/settings"
	"voicebridge/internal/voice/speech"
	"voicebridge/internal/voice/synthesis"
)

// ErrInvalidRequest marks caller input that failed validation.
var ErrInvalidRequest = errors.New("invalid request")

type Options struct {
	Settings settings.Settings
	Factory  speech.Factory
	Capture  capture.Source
	Player   playback.Player
	Metrics  *observability.Metrics

	RecognitionLanguage string
	ReadyGrace          time.Duration
	TempDir             string
	VoiceCacheDir       string
	VoiceCacheMaxAge    time.Duration
}

// Service is constructed once per process. Init builds the speech clients;
// Dispose tears everything down.
type Service struct {
	bus       *events.Bus
	clients   *speech.Clients
	store     *settings.Store
	gateway   *synthesis.Gateway
	queue     *playback.Queue
	recorder  *recording.Controller
	catalog   *catalog.Catalog
	metrics   *observability.Metrics
	initCreds *settings.Credentials

	disposeOnce sync.Once
	log         *logrus.Entry
}

func New(opts Options) *Service {
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "voicebridge-tts")
	}
	if opts.Factory == nil {
		opts.Factory = speech.MockFactory{}
	}
	if opts.Player == nil {
		opts.Player = playback.NewSpeakerPlayer()
	}
	if opts.Capture == nil {
		opts.Capture = capture.NewSox(capture.SoxConfig{})
	}

	bus := events.NewBus()
	clients := speech.NewClients(opts.Factory)
	store := settings.NewStore(opts.Settings, bus, clients)

	return &Service{
		bus:     bus,
		clients: clients,
		store:   store,
		gateway: synthesis.NewGateway(clients, opts.Metrics),
		queue: playback.NewQueue(playback.QueueConfig{
			Dir:     opts.TempDir,
			Player:  opts.Player,
			Enabled: store.Enabled,
			Bus:     bus,
			Metrics: opts.Metrics,
		}),
		recorder: recording.NewController(recording.Config{
			Recognizers:  clients,
			Capture:      opts.Capture,
			Bus:          bus,
			Metrics:      opts.Metrics,
			LanguageCode: opts.RecognitionLanguage,
			ReadyGrace:   opts.ReadyGrace,
		}),
		catalog:   catalog.NewCatalog(clients, opts.VoiceCacheDir, opts.VoiceCacheMaxAge),
		metrics:   opts.Metrics,
		initCreds: opts.Settings.Credentials,
		log:       logrus.WithField("component", "service"),
	}
}

// Init builds the speech clients from the initial credentials. Missing or
// invalid credentials leave the service running unconfigured.
func (s *Service) Init(ctx context.Context) error {
	if err := s.clients.Reinitialize(ctx, s.initCreds); err != nil {
		s.log.WithError(err).Warn("speech clients not configured")
		return nil
	}
	s.log.Info("speech clients ready")
	return nil
}

// Configured reports whether both speech clients are usable.
func (s *Service) Configured() bool {
	return s.clients.Recognizer() != nil && s.clients.Synthesizer() != nil
}

func (s *Service) ToggleRecording(ctx context.Context) (bool, error) {
	return s.recorder.Toggle(ctx)
}

func (s *Service) StartRecording(ctx context.Context) error {
	return s.recorder.Start(ctx)
}

func (s *Service) StopRecording() {
	s.recorder.Stop()
}

func (s *Service) IsRecording() bool {
	return s.recorder.IsRecording()
}

// SpeakText synthesizes text with the current settings and queues the
// audio. Nothing is synthesized while text-to-speech is disabled.
func (s *Service) SpeakText(ctx context.Context, text string) error {
	if !s.store.Enabled() {
		s.log.Debug("text-to-speech disabled, skipping synthesis")
		return nil
	}

	current := s.store.Get()
	audio, err := s.gateway.Synthesize(ctx, text, current)
	if err != nil {
		return err
	}
	if len(audio) == 0 {
		return nil
	}
	return s.queue.Enqueue(audio, current.AudioConfig.AudioEncoding.Normalize())
}

// ToggleTTS flips text-to-speech and returns the new state. Disabling
// flushes the playback queue.
func (s *Service) ToggleTTS() bool {
	enabled := s.store.Toggle()
	s.applyEnabled(enabled)
	return enabled
}

func (s *Service) TTSState() events.TTSState {
	return s.queue.State()
}

func (s *Service) TTSSettings() settings.Settings {
	return s.store.Get()
}

// UpdateTTSSettings validates and merges u. An explicit enabled=false
// flushes the playback queue the same way ToggleTTS does.
func (s *Service) UpdateTTSSettings(ctx context.Context, u settings.Update) (settings.Settings, error) {
	if err := u.Validate(); err != nil {
		return settings.Settings{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	next := s.store.Update(ctx, u)
	if u.Enabled != nil {
		s.applyEnabled(next.Enabled)
	}
	return next, nil
}

func (s *Service) Subscribe(handler events.Handler, kinds ...events.Kind) events.Token {
	return s.bus.Subscribe(handler, kinds...)
}

func (s *Service) Unsubscribe(token events.Token) {
	s.bus.Unsubscribe(token)
}

// Voices lists the synthesis voices for languageCode.
func (s *Service) Voices(ctx context.Context, languageCode string) ([]speech.VoiceInfo, error) {
	return s.catalog.Voices(ctx, languageCode)
}

// ClearVoiceCache drops the cached voice lists so the next Voices call asks
// the backend.
func (s *Service) ClearVoiceCache() error {
	return s.catalog.ClearCache()
}

// WaitPlaybackIdle blocks until every queued item has played.
func (s *Service) WaitPlaybackIdle(ctx context.Context) error {
	return s.queue.Wait(ctx)
}

// Dispose stops recording, flushes playback, releases the clients and
// removes every listener. Safe to call more than once.
func (s *Service) Dispose() {
	s.disposeOnce.Do(func() {
		s.recorder.Close()
		if err := s.queue.Close(); err != nil {
			s.log.WithError(err).Warn("failed to clean up playback")
		}
		s.clients.Close()
		s.bus.Close()
		s.log.Info("voice service disposed")
	})
}

func (s *Service) applyEnabled(enabled bool) {
	if enabled {
		s.queue.EmitState()
		return
	}
	s.queue.Flush()
}
