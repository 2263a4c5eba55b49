package recording

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voicebridge/internal/voice/capture"
	"voicebridge/internal/voice/events"
	"voicebridge/internal/voice/speech"
	"voicebridge/internal/voice/voiceerr"
)

type recvItem struct {
	res speech.Result
	err error
}

type fakeStream struct {
	mu      sync.Mutex
	cfg     speech.RecognitionConfig
	written []byte
	closed  bool
	ended   bool
	results chan recvItem

	// lingering streams keep delivering results after CloseSend until finish.
	lingering bool
}

func (s *fakeStream) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return speech.ErrStreamClosed
	}
	s.written = append(s.written, p...)
	return nil
}

func (s *fakeStream) Recv() (speech.Result, error) {
	item, ok := <-s.results
	if !ok {
		return speech.Result{}, io.EOF
	}
	return item.res, item.err
}

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		if !s.lingering {
			s.ended = true
			close(s.results)
		}
	}
	return nil
}

// finish delivers a last result and ends the stream.
func (s *fakeStream) finish(res speech.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		s.results <- recvItem{res: res}
		close(s.results)
	}
}

func (s *fakeStream) push(item recvItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.results <- item
	}
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...)
}

type fakeRecognizer struct {
	mu        sync.Mutex
	openErr   error
	lingering bool
	streams   []*fakeStream
}

func (r *fakeRecognizer) Open(_ context.Context, cfg speech.RecognitionConfig) (speech.RecognitionStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return nil, r.openErr
	}
	s := &fakeStream{cfg: cfg, results: make(chan recvItem, 16), lingering: r.lingering}
	r.streams = append(r.streams, s)
	return s, nil
}

func (r *fakeRecognizer) Close() error { return nil }

func (r *fakeRecognizer) last() *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return nil
	}
	return r.streams[len(r.streams)-1]
}

type recognizerSource struct {
	rec speech.Recognizer
}

func (s recognizerSource) Recognizer() speech.Recognizer { return s.rec }

type fakeProcess struct {
	owner      *fakeCapture
	pr         *io.PipeReader
	pw         *io.PipeWriter
	done       chan struct{}
	once       sync.Once
	err        error
	terminated atomic.Bool
}

func (p *fakeProcess) Stdout() io.Reader     { return p.pr }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return p.err }

func (p *fakeProcess) Terminate() error {
	p.terminated.Store(true)
	p.exit(nil)
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		p.pw.Close()
		p.owner.release()
		close(p.done)
	})
}

type fakeCapture struct {
	mu       sync.Mutex
	startErr error
	exitWith error
	procs    []*fakeProcess
	live     int
	maxLive  int
}

func (c *fakeCapture) Start(context.Context) (capture.Process, error) {
	c.mu.Lock()
	if c.startErr != nil {
		c.mu.Unlock()
		return nil, c.startErr
	}
	pr, pw := io.Pipe()
	p := &fakeProcess{owner: c, pr: pr, pw: pw, done: make(chan struct{})}
	c.procs = append(c.procs, p)
	c.live++
	if c.live > c.maxLive {
		c.maxLive = c.live
	}
	exitWith := c.exitWith
	c.mu.Unlock()

	if exitWith != nil {
		p.exit(exitWith)
	}
	return p, nil
}

func (c *fakeCapture) release() {
	c.mu.Lock()
	c.live--
	c.mu.Unlock()
}

func (c *fakeCapture) last() *fakeProcess {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.procs) == 0 {
		return nil
	}
	return c.procs[len(c.procs)-1]
}

func (c *fakeCapture) started() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.procs)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bool
	for _, ev := range r.events {
		if st, ok := ev.(events.RecordingState); ok {
			out = append(out, st.IsRecording)
		}
	}
	return out
}

func (r *recorder) transcripts() []events.Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Transcript
	for _, ev := range r.events {
		if tr, ok := ev.(events.Transcript); ok {
			out = append(out, tr)
		}
	}
	return out
}

func (r *recorder) failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []error
	for _, ev := range r.events {
		if f, ok := ev.(events.Failure); ok {
			out = append(out, f.Cause)
		}
	}
	return out
}

type fixture struct {
	ctrl *Controller
	rec  *fakeRecognizer
	cap  *fakeCapture
	bus  *recorder
}

func newFixture(t *testing.T, withRecognizer bool) *fixture {
	t.Helper()
	return newFixtureWithDrain(t, withRecognizer, 200*time.Millisecond)
}

func newFixtureWithDrain(t *testing.T, withRecognizer bool, drain time.Duration) *fixture {
	t.Helper()
	f := &fixture{rec: &fakeRecognizer{}, cap: &fakeCapture{}, bus: &recorder{}}
	var src recognizerSource
	if withRecognizer {
		src.rec = f.rec
	}
	f.ctrl = NewController(Config{
		Recognizers:  src,
		Capture:      f.cap,
		Bus:          f.bus,
		LanguageCode: "en-GB",
		ReadyGrace:   10 * time.Millisecond,
		DrainTimeout: drain,
	})
	t.Cleanup(f.ctrl.Close)
	return f
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestToggleWithoutCredentials(t *testing.T) {
	f := newFixture(t, false)

	on, err := f.ctrl.Toggle(context.Background())

	assert.ErrorIs(t, err, voiceerr.ErrNotConfigured)
	assert.False(t, on)
	assert.False(t, f.ctrl.IsRecording())
	assert.NotContains(t, f.bus.states(), true)
	assert.Zero(t, f.cap.started())
}

func TestToggleAlternates(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		on, err := f.ctrl.Toggle(ctx)
		require.NoError(t, err)
		assert.Equal(t, i%2 == 0, on)
		assert.Equal(t, on, f.ctrl.IsRecording())
	}

	assert.Equal(t, []bool{true, false, true, false}, f.bus.states())
	assert.Equal(t, 2, f.cap.started())
	assert.Equal(t, 1, f.cap.maxLive)

	p := f.cap.last()
	assert.True(t, p.terminated.Load())
	assert.True(t, f.rec.last().isClosed())
}

func TestStartOpensConfiguredStream(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.ctrl.Start(context.Background()))
	require.NoError(t, f.ctrl.Start(context.Background()), "start while recording is a no-op")

	assert.Equal(t, 1, f.cap.started())
	assert.Equal(t, speech.RecognitionConfig{
		Encoding:          "LINEAR16",
		SampleRateHertz:   16000,
		LanguageCode:      "en-GB",
		EnablePunctuation: true,
		InterimResults:    true,
	}, f.rec.last().cfg)
	assert.Equal(t, []bool{true}, f.bus.states())

	f.ctrl.Stop()
	f.ctrl.Stop()
	assert.Equal(t, []bool{true, false}, f.bus.states())
}

func TestForwardsAudioAndTranscripts(t *testing.T) {
	f := newFixture(t, true)
	on, err := f.ctrl.Toggle(context.Background())
	require.NoError(t, err)
	require.True(t, on)

	audio := make([]byte, 10000)
	for i := range audio {
		audio[i] = byte(i)
	}
	go f.cap.last().pw.Write(audio)

	stream := f.rec.last()
	eventually(t, func() bool { return len(stream.bytes()) == len(audio) }, "audio forwarded")
	assert.Equal(t, audio, stream.bytes())

	stream.push(recvItem{res: speech.Result{Text: "hello"}})
	stream.push(recvItem{res: speech.Result{Text: "hello wor"}})
	stream.push(recvItem{res: speech.Result{Text: "Hello world.", IsFinal: true}})

	eventually(t, func() bool { return len(f.bus.transcripts()) == 3 }, "transcripts emitted")
	assert.Equal(t, []events.Transcript{
		{Text: "hello"},
		{Text: "hello wor"},
		{Text: "Hello world.", IsFinal: true},
	}, f.bus.transcripts())
}

func TestRecognitionErrorStopsSession(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.ctrl.Toggle(context.Background())
	require.NoError(t, err)

	f.rec.last().push(recvItem{err: status.Error(codes.Unavailable, "backend down")})

	eventually(t, func() bool { return !f.ctrl.IsRecording() }, "session stopped")
	eventually(t, func() bool { return len(f.bus.states()) == 2 }, "stop announced")
	assert.Equal(t, []bool{true, false}, f.bus.states())

	failures := f.bus.failures()
	require.Len(t, failures, 1)
	var rerr *voiceerr.RecognitionError
	assert.ErrorAs(t, failures[0], &rerr)
	assert.True(t, f.cap.last().terminated.Load())

	on, err := f.ctrl.Toggle(context.Background())
	require.NoError(t, err)
	assert.True(t, on, "a new session can start after a failure")
}

func TestBackendEndOfStreamStopsSession(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.ctrl.Toggle(context.Background())
	require.NoError(t, err)

	f.rec.last().CloseSend()

	eventually(t, func() bool { return !f.ctrl.IsRecording() }, "session stopped")
	assert.Empty(t, f.bus.failures())
}

func TestCaptureExitDuringStartup(t *testing.T) {
	f := newFixture(t, true)
	f.cap.exitWith = errors.New("no input device")

	on, err := f.ctrl.Toggle(context.Background())

	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, f.ctrl.IsRecording())
	assert.Empty(t, f.bus.states())
	assert.True(t, f.rec.last().isClosed())

	failures := f.bus.failures()
	require.Len(t, failures, 1)
	var cerr *voiceerr.CaptureError
	assert.ErrorAs(t, failures[0], &cerr)
}

func TestCaptureSpawnFailure(t *testing.T) {
	f := newFixture(t, true)
	f.cap.startErr = errors.New(`exec: "sox": executable file not found in $PATH`)

	on, err := f.ctrl.Toggle(context.Background())

	require.NoError(t, err)
	assert.False(t, on)
	assert.True(t, f.rec.last().isClosed())
	var cerr *voiceerr.CaptureError
	require.Len(t, f.bus.failures(), 1)
	assert.ErrorAs(t, f.bus.failures()[0], &cerr)
}

func TestStartSwallowsCaptureFailure(t *testing.T) {
	f := newFixture(t, true)
	f.cap.startErr = errors.New(`exec: "sox": executable file not found in $PATH`)

	err := f.ctrl.Start(context.Background())

	require.NoError(t, err)
	assert.False(t, f.ctrl.IsRecording())
	assert.Empty(t, f.bus.states())
	var cerr *voiceerr.CaptureError
	require.Len(t, f.bus.failures(), 1)
	assert.ErrorAs(t, f.bus.failures()[0], &cerr)
}

func TestStartSwallowsOpenFailure(t *testing.T) {
	f := newFixture(t, true)
	f.rec.openErr = status.Error(codes.PermissionDenied, "denied")

	err := f.ctrl.Start(context.Background())

	require.NoError(t, err)
	assert.False(t, f.ctrl.IsRecording())
	assert.Zero(t, f.cap.started())
	var rerr *voiceerr.RecognitionError
	require.Len(t, f.bus.failures(), 1)
	assert.ErrorAs(t, f.bus.failures()[0], &rerr)
}

func TestStartWithoutCredentials(t *testing.T) {
	f := newFixture(t, false)
	assert.ErrorIs(t, f.ctrl.Start(context.Background()), voiceerr.ErrNotConfigured)

	f.ctrl.Close()
	assert.ErrorIs(t, f.ctrl.Start(context.Background()), ErrClosed)
}

func TestStopDoesNotWaitForFinalResults(t *testing.T) {
	f := newFixtureWithDrain(t, true, 2*time.Second)
	f.rec.lingering = true

	on, err := f.ctrl.Toggle(context.Background())
	require.NoError(t, err)
	require.True(t, on)

	start := time.Now()
	on, err = f.ctrl.Toggle(context.Background())
	require.NoError(t, err)
	assert.False(t, on)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []bool{true, false}, f.bus.states())
	assert.True(t, f.rec.last().isClosed())

	f.rec.last().finish(speech.Result{Text: "Last words.", IsFinal: true})
	eventually(t, func() bool { return len(f.bus.transcripts()) == 1 }, "final result delivered after stop")
	assert.Equal(t, events.Transcript{Text: "Last words.", IsFinal: true}, f.bus.transcripts()[0])
}

func TestCloseWaitsForDrain(t *testing.T) {
	f := newFixtureWithDrain(t, true, 100*time.Millisecond)
	f.rec.lingering = true

	_, err := f.ctrl.Toggle(context.Background())
	require.NoError(t, err)

	start := time.Now()
	f.ctrl.Close()
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, f.ctrl.IsRecording())
}

func TestCaptureExitWhileRecording(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.ctrl.Toggle(context.Background())
	require.NoError(t, err)

	f.cap.last().exit(errors.New("device unplugged"))

	eventually(t, func() bool { return !f.ctrl.IsRecording() }, "session stopped")
	eventually(t, func() bool { return len(f.bus.states()) == 2 }, "stop announced")
	var cerr *voiceerr.CaptureError
	require.Len(t, f.bus.failures(), 1)
	assert.ErrorAs(t, f.bus.failures()[0], &cerr)
}

func TestOpenFailure(t *testing.T) {
	f := newFixture(t, true)
	f.rec.openErr = status.Error(codes.PermissionDenied, "denied")

	on, err := f.ctrl.Toggle(context.Background())

	require.NoError(t, err)
	assert.False(t, on)
	assert.Zero(t, f.cap.started())
	var rerr *voiceerr.RecognitionError
	require.Len(t, f.bus.failures(), 1)
	assert.ErrorAs(t, f.bus.failures()[0], &rerr)
}

func TestConcurrentTogglesNeverOverlap(t *testing.T) {
	f := newFixture(t, true)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := f.ctrl.Toggle(context.Background())
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, f.cap.maxLive, 1)
	states := f.bus.states()
	require.Len(t, states, 40)
	for i, st := range states {
		assert.Equal(t, i%2 == 0, st, "state %d", i)
	}
	assert.False(t, f.ctrl.IsRecording())
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.ctrl.Toggle(context.Background())
	require.NoError(t, err)

	f.ctrl.Close()
	f.ctrl.Close()

	assert.False(t, f.ctrl.IsRecording())
	assert.Equal(t, []bool{true, false}, f.bus.states())

	_, err = f.ctrl.Toggle(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "recording", StateRecording.String())
}
