// Package recording owns the microphone capture and streaming recognition
// session.
package recording

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voicebridge/internal/observability"
	"voicebridge/internal/voice/capture"
	"voicebridge/internal/voice/events"
	"voicebridge/internal/voice/speech"
	"voicebridge/internal/voice/voiceerr"
)

const (
	DefaultReadyGrace   = 500 * time.Millisecond
	DefaultDrainTimeout = 3 * time.Second

	chunkSize = 4096
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("recording controller closed")

type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	default:
		return "idle"
	}
}

// RecognizerSource yields the current recognizer, or nil when none is
// configured.
type RecognizerSource interface {
	Recognizer() speech.Recognizer
}

// Publisher is the part of the event bus the controller needs.
type Publisher interface {
	Publish(events.Event)
}

type Config struct {
	Recognizers  RecognizerSource
	Capture      capture.Source
	Bus          Publisher
	Metrics      *observability.Metrics
	LanguageCode string
	// ReadyGrace bounds how long Start waits for the first captured audio.
	ReadyGrace time.Duration
	// DrainTimeout bounds how long Stop waits for the final results.
	DrainTimeout time.Duration
}

// Controller runs at most one recording session. Start, Stop and Toggle
// are serialized; a session that fails on its own is stopped through the
// same path.
type Controller struct {
	recognizers  RecognizerSource
	capture      capture.Source
	bus          Publisher
	metrics      *observability.Metrics
	languageCode string
	readyGrace   time.Duration
	drainTimeout time.Duration
	log          *logrus.Entry

	opMu   sync.Mutex
	drains sync.WaitGroup

	mu      sync.Mutex
	state   State
	session *session
	closed  bool
}

type session struct {
	cancel    context.CancelFunc
	stream    speech.RecognitionStream
	proc      capture.Process
	ready     chan struct{}
	readyOnce sync.Once
	recvDone  chan struct{}
	stopping  atomic.Bool
}

func (s *session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func NewController(cfg Config) *Controller {
	if cfg.ReadyGrace <= 0 {
		cfg.ReadyGrace = DefaultReadyGrace
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &Controller{
		recognizers:  cfg.Recognizers,
		capture:      cfg.Capture,
		bus:          cfg.Bus,
		metrics:      cfg.Metrics,
		languageCode: cfg.LanguageCode,
		readyGrace:   cfg.ReadyGrace,
		drainTimeout: cfg.DrainTimeout,
		log:          logrus.WithField("component", "recording"),
	}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) IsRecording() bool {
	return c.State() == StateRecording
}

// Toggle starts a session when idle and stops it otherwise, returning the
// resulting recording state. Only ErrNotConfigured and ErrClosed are
// returned; capture and recognition failures are announced as error events.
// Neither direction waits for the final recognition results.
func (c *Controller) Toggle(ctx context.Context) (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() == StateRecording {
		c.stopLocked()
		return false, nil
	}

	if err := surfaced(c.startLocked(ctx)); err != nil {
		return false, err
	}
	return c.State() == StateRecording, nil
}

// Start begins a session. It is a no-op while recording. Like Toggle it
// returns only ErrNotConfigured and ErrClosed.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() == StateRecording {
		return nil
	}
	return surfaced(c.startLocked(ctx))
}

// Stop ends the session. It is a no-op while idle.
func (c *Controller) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stopLocked()
}

// Close stops any session, refuses new ones and waits for pending drains.
// Safe to call more than once.
func (c *Controller) Close() {
	c.opMu.Lock()
	c.stopLocked()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.opMu.Unlock()

	c.drains.Wait()
}

func (c *Controller) startLocked(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	rec := c.recognizers.Recognizer()
	if rec == nil {
		c.metrics.RecordingStarted("not_configured")
		c.log.Warn("recognition client not configured")
		return voiceerr.ErrNotConfigured
	}

	c.setState(StateStarting)

	// The session outlives the request that started it.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	stream, err := rec.Open(sctx, speech.DefaultRecognitionConfig(c.languageCode))
	if err != nil {
		cancel()
		c.setState(StateIdle)
		c.metrics.RecordingStarted("recognition_error")
		return c.fail(&voiceerr.RecognitionError{Err: err}, "recognition")
	}

	proc, err := c.capture.Start(sctx)
	if err != nil {
		stream.CloseSend()
		cancel()
		c.setState(StateIdle)
		c.metrics.RecordingStarted("capture_error")
		return c.fail(&voiceerr.CaptureError{Err: err}, "capture")
	}

	s := &session{
		cancel:   cancel,
		stream:   stream,
		proc:     proc,
		ready:    make(chan struct{}),
		recvDone: make(chan struct{}),
	}
	go c.forward(s)

	timer := time.NewTimer(c.readyGrace)
	defer timer.Stop()
	select {
	case <-proc.Done():
		s.stopping.Store(true)
		stream.CloseSend()
		cancel()
		c.setState(StateIdle)
		c.metrics.RecordingStarted("capture_error")
		cause := proc.Err()
		if cause == nil {
			cause = errors.New("capture exited during startup")
		}
		return c.fail(&voiceerr.CaptureError{Err: cause}, "capture")
	case <-s.ready:
	case <-timer.C:
	}

	c.mu.Lock()
	c.session = s
	c.state = StateRecording
	c.mu.Unlock()

	c.metrics.RecordingStarted("ok")
	c.metrics.SetRecording(true)
	c.log.WithField("language", c.languageCode).Info("recording started")
	c.publish(events.RecordingState{IsRecording: true})

	go c.receive(s)
	go c.watch(s)
	return nil
}

func (c *Controller) stopLocked() {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return
	}

	s.stopping.Store(true)
	if err := s.proc.Terminate(); err != nil {
		c.log.WithError(err).Warn("failed to stop capture")
	}
	if err := s.stream.CloseSend(); err != nil {
		c.log.WithError(err).Debug("failed to end recognition stream")
	}

	c.mu.Lock()
	c.session = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.metrics.SetRecording(false)
	c.log.Info("recording stopped")
	c.publish(events.RecordingState{IsRecording: false})

	// The backend may still deliver final results for the audio it has.
	c.drains.Add(1)
	go c.drain(s)
}

func (c *Controller) drain(s *session) {
	defer c.drains.Done()

	timer := time.NewTimer(c.drainTimeout)
	defer timer.Stop()
	select {
	case <-s.recvDone:
	case <-timer.C:
		c.log.Warn("recognition stream did not finish in time")
	}
	s.cancel()
}

// stopSession stops s if it is still the active session.
func (c *Controller) stopSession(s *session) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	current := c.session == s
	c.mu.Unlock()
	if current {
		c.stopLocked()
	}
}

// forward copies captured audio into the recognition stream until the
// capture output ends. Writes to an ended stream are dropped.
func (c *Controller) forward(s *session) {
	buf := make([]byte, chunkSize)
	r := s.proc.Stdout()
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.markReady()
			if werr := s.stream.Write(buf[:n]); werr != nil && !errors.Is(werr, speech.ErrStreamClosed) {
				c.log.WithError(werr).Debug("dropping captured audio")
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.stopping.Load() {
				c.log.WithError(err).Debug("capture output ended")
			}
			return
		}
	}
}

func (c *Controller) receive(s *session) {
	defer close(s.recvDone)

	for {
		res, err := s.stream.Recv()
		if err != nil {
			if s.stopping.Load() || isStreamEnd(err) {
				if !s.stopping.Load() {
					c.log.Info("recognition stream ended by backend")
					go c.stopSession(s)
				}
				return
			}

			c.fail(&voiceerr.RecognitionError{Err: err}, "recognition")
			go c.stopSession(s)
			return
		}

		c.metrics.Transcript(res.IsFinal)
		c.publish(events.Transcript{Text: res.Text, IsFinal: res.IsFinal})
	}
}

// watch stops the session when the capture process exits on its own.
func (c *Controller) watch(s *session) {
	<-s.proc.Done()
	if s.stopping.Load() {
		return
	}

	cause := s.proc.Err()
	if cause == nil {
		cause = errors.New("capture exited unexpectedly")
	}
	c.fail(&voiceerr.CaptureError{Err: cause}, "capture")
	c.stopSession(s)
}

// fail logs and announces err, then returns it.
func (c *Controller) fail(err error, kind string) error {
	c.metrics.Error(kind)
	c.log.WithError(err).Error("recording failed")
	c.publish(events.Failure{Cause: err})
	return err
}

func (c *Controller) setState(st State) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

func (c *Controller) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

// surfaced keeps the errors a caller can act on. Capture and recognition
// failures have already been announced as error events.
func surfaced(err error) error {
	if errors.Is(err, voiceerr.ErrNotConfigured) || errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		status.Code(err) == codes.Canceled
}
