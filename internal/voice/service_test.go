package voice

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicebridge/internal/voice/capture"
	"voicebridge/internal/voice/events"
	"voicebridge/internal/voice/playback"
	"voicebridge/internal/voice/settings"
	"voicebridge/internal/voice/speech"
	"voicebridge/internal/voice/voiceerr"
)

type gatedHandle struct {
	file string
	exit chan error
	once sync.Once
	mu   sync.Mutex
	term bool
}

func (h *gatedHandle) Wait() error { return <-h.exit }

func (h *gatedHandle) Terminate() error {
	h.mu.Lock()
	h.term = true
	h.mu.Unlock()
	h.release(playback.ErrTerminated)
	return nil
}

func (h *gatedHandle) release(err error) {
	h.once.Do(func() { h.exit <- err })
}

func (h *gatedHandle) terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.term
}

type gatedPlayer struct {
	mu      sync.Mutex
	handles []*gatedHandle
}

func (p *gatedPlayer) Play(file, _ string) (playback.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := &gatedHandle{file: file, exit: make(chan error, 1)}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *gatedPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func (p *gatedPlayer) handle(i int) *gatedHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles[i]
}

type idleProcess struct {
	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}
	once sync.Once
}

func (p *idleProcess) Stdout() io.Reader     { return p.pr }
func (p *idleProcess) Done() <-chan struct{} { return p.done }
func (p *idleProcess) Err() error            { return nil }

func (p *idleProcess) Terminate() error {
	p.once.Do(func() {
		p.pw.Close()
		close(p.done)
	})
	return nil
}

type idleCapture struct{}

func (idleCapture) Start(context.Context) (capture.Process, error) {
	pr, pw := io.Pipe()
	return &idleProcess{pr: pr, pw: pw, done: make(chan struct{})}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

func (l *eventLog) recordingStates() []bool {
	var out []bool
	for _, ev := range l.snapshot() {
		if st, ok := ev.(events.RecordingState); ok {
			out = append(out, st.IsRecording)
		}
	}
	return out
}

func linear16Settings() settings.Settings {
	s := settings.Defaults()
	s.AudioConfig.AudioEncoding = settings.EncodingLinear16
	return s
}

func newTestService(t *testing.T, factory speech.Factory, initial settings.Settings) (*Service, *gatedPlayer, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tts")
	player := &gatedPlayer{}
	svc := New(Options{
		Settings:   initial,
		Factory:    factory,
		Capture:    idleCapture{},
		Player:     player,
		ReadyGrace: 10 * time.Millisecond,
		TempDir:    dir,
	})
	require.NoError(t, svc.Init(context.Background()))
	t.Cleanup(svc.Dispose)
	return svc, player, dir
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestSpeakTextPlaysAndCleansUp(t *testing.T) {
	svc, player, dir := newTestService(t, speech.MockFactory{}, linear16Settings())
	require.True(t, svc.Configured())

	log := &eventLog{}
	svc.Subscribe(log.handle, events.KindTTSStateChange)

	require.NoError(t, svc.SpeakText(context.Background(), "Hello there"))
	require.Equal(t, 1, player.count())
	assert.Equal(t, ".wav", filepath.Ext(player.handle(0).file))
	assert.Equal(t, events.TTSState{Enabled: true, IsPlaying: true, QueueLength: 1}, svc.TTSState())

	player.handle(0).release(nil)
	require.NoError(t, svc.WaitPlaybackIdle(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	eventually(t, func() bool {
		evs := log.snapshot()
		return len(evs) > 0 && evs[len(evs)-1] == events.TTSState{Enabled: true}
	}, "idle state announced")
}

func TestSpeakBlankTextDoesNothing(t *testing.T) {
	svc, player, _ := newTestService(t, speech.MockFactory{}, linear16Settings())

	require.NoError(t, svc.SpeakText(context.Background(), "  \n\t"))
	assert.Zero(t, player.count())
	assert.Zero(t, svc.TTSState().QueueLength)
}

func TestSpeakWhileDisabledSkipsSynthesis(t *testing.T) {
	initial := linear16Settings()
	initial.Enabled = false
	svc, player, _ := newTestService(t, speech.MockFactory{}, initial)

	require.NoError(t, svc.SpeakText(context.Background(), "Hello"))
	assert.Zero(t, player.count())
}

func TestUnconfiguredService(t *testing.T) {
	svc, player, _ := newTestService(t, speech.GoogleFactory{}, settings.Defaults())
	require.False(t, svc.Configured())

	log := &eventLog{}
	svc.Subscribe(log.handle)

	err := svc.SpeakText(context.Background(), "Hello")
	assert.ErrorIs(t, err, voiceerr.ErrNotConfigured)
	assert.Zero(t, player.count())

	on, err := svc.ToggleRecording(context.Background())
	assert.ErrorIs(t, err, voiceerr.ErrNotConfigured)
	assert.False(t, on)
	assert.False(t, svc.IsRecording())

	time.Sleep(20 * time.Millisecond)
	assert.NotContains(t, log.recordingStates(), true)
}

func TestToggleTTSFlushesQueue(t *testing.T) {
	svc, player, dir := newTestService(t, speech.MockFactory{}, linear16Settings())

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.SpeakText(context.Background(), "item"))
	}
	require.Equal(t, 3, svc.TTSState().QueueLength)

	assert.False(t, svc.ToggleTTS())

	assert.Equal(t, events.TTSState{}, svc.TTSState())
	assert.True(t, player.handle(0).terminated())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, svc.TTSSettings().Enabled)

	assert.True(t, svc.ToggleTTS())
	assert.True(t, svc.TTSSettings().Enabled)
}

func TestUpdateSettings(t *testing.T) {
	svc, player, _ := newTestService(t, speech.MockFactory{}, linear16Settings())
	before := svc.TTSSettings()

	log := &eventLog{}
	svc.Subscribe(log.handle, events.KindSettingsChanged)

	pitch := 5.0
	after, err := svc.UpdateTTSSettings(context.Background(), settings.Update{
		AudioConfig: &settings.AudioConfigUpdate{Pitch: &pitch},
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, after.AudioConfig.Pitch)
	assert.Equal(t, before.Voice, after.Voice)
	assert.Equal(t, before.AudioConfig.AudioEncoding, after.AudioConfig.AudioEncoding)
	assert.Equal(t, after, svc.TTSSettings())

	eventually(t, func() bool { return len(log.snapshot()) == 1 }, "settings change announced")

	tooHigh := 40.0
	_, err = svc.UpdateTTSSettings(context.Background(), settings.Update{
		AudioConfig: &settings.AudioConfigUpdate{Pitch: &tooHigh},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 5.0, svc.TTSSettings().AudioConfig.Pitch)

	require.NoError(t, svc.SpeakText(context.Background(), "queued"))
	off := false
	_, err = svc.UpdateTTSSettings(context.Background(), settings.Update{Enabled: &off})
	require.NoError(t, err)
	assert.Zero(t, svc.TTSState().QueueLength)
	assert.True(t, player.handle(0).terminated())
}

func TestRecordingWithMockBackend(t *testing.T) {
	svc, _, _ := newTestService(t, speech.MockFactory{}, linear16Settings())

	log := &eventLog{}
	svc.Subscribe(log.handle, events.KindStateChange, events.KindTranscript)

	on, err := svc.ToggleRecording(context.Background())
	require.NoError(t, err)
	assert.True(t, on)

	on, err = svc.ToggleRecording(context.Background())
	require.NoError(t, err)
	assert.False(t, on)

	eventually(t, func() bool { return len(log.recordingStates()) == 2 }, "both transitions announced")
	assert.Equal(t, []bool{true, false}, log.recordingStates())

	eventually(t, func() bool {
		for _, ev := range log.snapshot() {
			if tr, ok := ev.(events.Transcript); ok && tr.IsFinal {
				return true
			}
		}
		return false
	}, "stopping delivers the final transcript")
}

func TestVoices(t *testing.T) {
	svc, _, _ := newTestService(t, speech.MockFactory{}, linear16Settings())

	voices, err := svc.Voices(context.Background(), "en-GB")
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.Equal(t, []string{"en-GB"}, voices[0].LanguageCodes)
}

func TestDisposeIsIdempotent(t *testing.T) {
	svc, _, dir := newTestService(t, speech.MockFactory{}, linear16Settings())
	svc.Subscribe(func(events.Event) {})
	require.NoError(t, svc.SpeakText(context.Background(), "Hello"))
	_, err := svc.ToggleRecording(context.Background())
	require.NoError(t, err)

	svc.Dispose()
	svc.Dispose()

	assert.False(t, svc.IsRecording())
	assert.Zero(t, svc.bus.Subscribers())
	_, err = os.Stat(dir)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, svc.Configured())
}

func TestSummaryTool(t *testing.T) {
	tool := SummaryTool()
	assert.Equal(t, "TTS_Summary", tool.Name)
	assert.Equal(t, []string{"summary"}, tool.InputSchema["required"])

	svc, player, _ := newTestService(t, speech.MockFactory{}, linear16Settings())
	assert.ErrorIs(t, svc.SpeakSummary(context.Background(), " "), ErrInvalidRequest)
	require.NoError(t, svc.SpeakSummary(context.Background(), "Reading the config loader next."))
	assert.Equal(t, 1, player.count())
}
