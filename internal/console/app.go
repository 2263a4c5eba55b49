// Package console is the command line front end of the voice service.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"voicebridge/internal/cli/scheme/colours"
	"voicebridge/internal/config"
	"voicebridge/internal/httpapi"
	"voicebridge/internal/observability"
	"voicebridge/internal/voice"
	"voicebridge/internal/voice/capture"
	"voicebridge/internal/voice/events"
	"voicebridge/internal/voice/playback"
	"voicebridge/internal/voice/settings"
	"voicebridge/internal/voice/speech"
)

// App owns the voice service for the lifetime of one command.
type App struct {
	cfg     config.Config
	Voice   *voice.Service
	metrics *observability.Metrics
	out     io.Writer

	ctx    context.Context
	Cancel context.CancelFunc
}

func NewApp(cfg config.Config) (*App, error) {
	factory, err := speech.NewFactory(cfg.SpeechBackend)
	if err != nil {
		return nil, err
	}

	player, err := playback.NewPlayer(playback.PlayerConfig{
		Type:   cfg.Playback.Backend,
		Binary: cfg.Playback.PlayerBinary,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)

	svc := voice.New(voice.Options{
		Settings:            cfg.TTS,
		Factory:             factory,
		Capture:             capture.NewSox(capture.SoxConfig{Binary: cfg.Recording.CaptureBinary}),
		Player:              player,
		Metrics:             metrics,
		RecognitionLanguage: cfg.Recording.LanguageCode,
		ReadyGrace:          cfg.Recording.ReadyGrace,
		TempDir:             cfg.Playback.TempDir,
		VoiceCacheDir:       cfg.Voices.CacheDir,
		VoiceCacheMaxAge:    cfg.Voices.CacheMaxAge,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:     cfg,
		Voice:   svc,
		metrics: metrics,
		out:     os.Stdout,
		ctx:     ctx,
		Cancel:  cancel,
	}, nil
}

// Init connects the speech backend and warns when it is unusable.
func (a *App) Init() {
	if err := a.Voice.Init(a.ctx); err != nil {
		logrus.WithError(err).Warn("voice service init failed")
	}
	if !a.Voice.Configured() {
		colours.Warning.Fprintln(a.out, "⚠️  Speech backend not configured: set GOOGLE_CLIENT_EMAIL and GOOGLE_PRIVATE_KEY or use --backend mock")
	}
}

// Close cancels the running command and disposes the service.
func (a *App) Close() {
	a.Cancel()
	a.Voice.Dispose()
}

func (a *App) ShowWelcome() {
	fmt.Fprintln(a.out)
	colours.Title.Fprintln(a.out, "🎙️  voicebridge")
	fmt.Fprintln(a.out)
	colours.Info.Fprintln(a.out, "Available commands:")
	fmt.Fprintln(a.out, "  • voicebridge listen    - Record and print live transcripts")
	fmt.Fprintln(a.out, "  • voicebridge speak     - Read text aloud")
	fmt.Fprintln(a.out, "  • voicebridge settings  - Show text-to-speech settings")
	fmt.Fprintln(a.out, "  • voicebridge voices    - List synthesis voices")
	fmt.Fprintln(a.out, "  • voicebridge serve     - Run the HTTP and event stream API")
	fmt.Fprintln(a.out)
}

// Listen records until interrupted or --duration elapses, printing
// transcripts as they arrive.
func (a *App) Listen(cmd *cobra.Command, args []string) {
	duration, _ := cmd.Flags().GetDuration("duration")
	a.Init()

	token := a.Voice.Subscribe(a.printEvent, events.KindTranscript, events.KindError)
	defer a.Voice.Unsubscribe(token)

	on, err := a.Voice.ToggleRecording(a.ctx)
	if err != nil {
		colours.Error.Fprintf(a.out, "❌ %v\n", err)
		return
	}
	if !on {
		colours.Error.Fprintln(a.out, "❌ Recording did not start")
		return
	}
	colours.Prompt.Fprintln(a.out, "🎤 Listening... press Ctrl+C to stop")

	ctx := a.ctx
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for a.Voice.IsRecording() {
		select {
		case <-ctx.Done():
			a.Voice.StopRecording()
		case <-ticker.C:
		}
	}
	fmt.Fprintln(a.out)
	colours.Success.Fprintln(a.out, "✅ Recording stopped")
}

func (a *App) printEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.Transcript:
		if e.IsFinal {
			fmt.Fprint(a.out, "\r\033[K")
			colours.Final.Fprintln(a.out, e.Text)
			return
		}
		fmt.Fprint(a.out, "\r\033[K")
		colours.Interim.Fprint(a.out, e.Text)
	case events.Failure:
		fmt.Fprintln(a.out)
		colours.Error.Fprintf(a.out, "❌ %s\n", e.Message())
	}
}

// Speak reads the arguments, or stdin when the only argument is "-", and
// waits for playback to finish.
func (a *App) Speak(cmd *cobra.Command, args []string) {
	text, err := speakText(args, os.Stdin)
	if err != nil {
		colours.Error.Fprintf(a.out, "❌ %v\n", err)
		return
	}

	update, err := speakUpdate(cmd)
	if err != nil {
		colours.Error.Fprintf(a.out, "❌ %v\n", err)
		return
	}

	a.Init()
	if !update.Empty() {
		if _, err := a.Voice.UpdateTTSSettings(a.ctx, update); err != nil {
			colours.Error.Fprintf(a.out, "❌ %v\n", err)
			return
		}
	}

	colours.Info.Fprintln(a.out, "🔊 Speaking...")
	if err := a.Voice.SpeakText(a.ctx, text); err != nil {
		colours.Error.Fprintf(a.out, "❌ %v\n", err)
		return
	}
	if err := a.Voice.WaitPlaybackIdle(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
		colours.Error.Fprintf(a.out, "❌ %v\n", err)
		return
	}
	colours.Success.Fprintln(a.out, "✅ Done")
}

func speakText(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(bufio.NewReader(stdin))
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		args = []string{string(data)}
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", errors.New("nothing to speak")
	}
	return text, nil
}

func speakUpdate(cmd *cobra.Command) (settings.Update, error) {
	var u settings.Update
	flags := cmd.Flags()

	var v settings.VoiceUpdate
	if flags.Changed("voice") {
		name, _ := flags.GetString("voice")
		v.Name = &name
	}
	if flags.Changed("language") {
		lang, _ := flags.GetString("language")
		v.LanguageCode = &lang
	}
	if flags.Changed("gender") {
		raw, _ := flags.GetString("gender")
		g, err := settings.ParseGender(raw)
		if err != nil {
			return u, err
		}
		v.SSMLGender = &g
	}
	if v != (settings.VoiceUpdate{}) {
		u.Voice = &v
	}

	var ac settings.AudioConfigUpdate
	if flags.Changed("encoding") {
		raw, _ := flags.GetString("encoding")
		enc, err := settings.ParseAudioEncoding(raw)
		if err != nil {
			return u, err
		}
		ac.AudioEncoding = &enc
	}
	if flags.Changed("rate") {
		rate, _ := flags.GetFloat64("rate")
		ac.SpeakingRate = &rate
	}
	if flags.Changed("pitch") {
		pitch, _ := flags.GetFloat64("pitch")
		ac.Pitch = &pitch
	}
	if ac != (settings.AudioConfigUpdate{}) {
		u.AudioConfig = &ac
	}
	return u, u.Validate()
}

func (a *App) ShowSettings(cmd *cobra.Command, args []string) {
	s := a.Voice.TTSSettings()

	fmt.Fprintln(a.out)
	colours.Title.Fprintln(a.out, "⚙️  Text-to-speech settings")
	fmt.Fprintln(a.out)
	fmt.Fprintf(a.out, "  • Enabled:       %s\n", colours.OnOff(s.Enabled))
	colours.Heading.Fprintln(a.out, "  🎤 Voice")
	fmt.Fprintf(a.out, "     Language:     %s\n", s.Voice.LanguageCode)
	fmt.Fprintf(a.out, "     Name:         %s\n", orDefault(s.Voice.Name))
	fmt.Fprintf(a.out, "     Gender:       %s\n", s.Voice.SSMLGender)
	colours.Heading.Fprintln(a.out, "  🔈 Audio")
	fmt.Fprintf(a.out, "     Encoding:     %s\n", s.AudioConfig.AudioEncoding)
	fmt.Fprintf(a.out, "     Speaking rate: %.2fx\n", s.AudioConfig.SpeakingRate)
	fmt.Fprintf(a.out, "     Pitch:        %+.1f\n", s.AudioConfig.Pitch)
	colours.Heading.Fprintln(a.out, "  🔑 Credentials")
	if c := s.Credentials; c != nil {
		fmt.Fprintf(a.out, "     Client:       %s\n", orDefault(c.ClientIdentity))
		fmt.Fprintf(a.out, "     Project:      %s\n", orDefault(c.ProjectIdentifier))
		fmt.Fprintf(a.out, "     Private key:  %s\n", colours.OnOff(c.PrivateKeyMaterial != ""))
	} else {
		colours.Warning.Fprintln(a.out, "     none")
	}
	fmt.Fprintln(a.out)
	colours.Info.Fprintln(a.out, "💡 Change these in voicebridge.yaml or with VOICEBRIDGE_* environment variables")
}

func (a *App) ListVoices(cmd *cobra.Command, args []string) {
	lang, _ := cmd.Flags().GetString("language")
	refresh, _ := cmd.Flags().GetBool("refresh")
	a.Init()

	if refresh {
		if err := a.Voice.ClearVoiceCache(); err != nil {
			colours.Error.Fprintf(a.out, "❌ %v\n", err)
			return
		}
		colours.Info.Fprintln(a.out, "🧹 Voice cache cleared")
	}

	voices, err := a.Voice.Voices(a.ctx, lang)
	if err != nil {
		colours.Error.Fprintf(a.out, "❌ %v\n", err)
		return
	}

	fmt.Fprintln(a.out)
	colours.Title.Fprintln(a.out, "🗣️  Voices")
	fmt.Fprintln(a.out)
	for i, v := range voices {
		fmt.Fprintf(a.out, "  %d. ", i+1)
		colours.Heading.Fprint(a.out, v.Name)
		fmt.Fprintf(a.out, "  %s  %s\n", strings.Join(v.LanguageCodes, ","), v.Gender)
	}
	if len(voices) == 0 {
		colours.Warning.Fprintln(a.out, "🔍 No voices found.")
		return
	}
	colours.Success.Fprintf(a.out, "✨ %d voices\n", len(voices))
}

// Serve runs the HTTP API until the app is cancelled.
func (a *App) Serve(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.cfg.HTTPAddr
	}
	a.Init()

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.New(a.Voice, a.metrics).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	colours.Success.Fprintf(a.out, "🌐 Listening on http://%s\n", addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			colours.Error.Fprintf(a.out, "❌ %v\n", err)
		}
	case <-a.ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("http shutdown failed")
		}
	}
}

func orDefault(s string) string {
	if s == "" {
		return "default"
	}
	return s
}
