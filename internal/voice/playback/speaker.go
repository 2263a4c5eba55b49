package playback

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// SpeakerPlayer decodes and plays files in-process through the default
// audio device. It handles mp3 and wav.
type SpeakerPlayer struct {
	mu          sync.Mutex
	initialized bool
	sampleRate  beep.SampleRate
}

func NewSpeakerPlayer() *SpeakerPlayer {
	return &SpeakerPlayer{}
}

func (p *SpeakerPlayer) Play(file, typeArg string) (Handle, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file, err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch typeArg {
	case "mp3":
		streamer, format, err = mp3.Decode(f)
	case "wav":
		streamer, format, err = wav.Decode(f)
	default:
		f.Close()
		return nil, fmt.Errorf("speaker backend cannot play %s audio", typeArg)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", file, err)
	}

	deviceRate, err := p.ensureSpeaker(format.SampleRate)
	if err != nil {
		streamer.Close()
		return nil, err
	}

	var s beep.Streamer = streamer
	if format.SampleRate != deviceRate {
		s = beep.Resample(4, format.SampleRate, deviceRate, streamer)
	}

	h := &speakerHandle{
		ctrl:   &beep.Ctrl{Streamer: s},
		closer: streamer,
		done:   make(chan struct{}),
	}
	speaker.Play(beep.Seq(h.ctrl, beep.Callback(h.finish)))
	return h, nil
}

// ensureSpeaker initializes the device once, at the rate of the first file.
func (p *SpeakerPlayer) ensureSpeaker(rate beep.SampleRate) (beep.SampleRate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return p.sampleRate, nil
	}
	if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
		return 0, fmt.Errorf("failed to initialize speaker: %w", err)
	}
	p.initialized = true
	p.sampleRate = rate
	return rate, nil
}

type speakerHandle struct {
	ctrl       *beep.Ctrl
	closer     io.Closer
	done       chan struct{}
	once       sync.Once
	terminated atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// finish runs on the speaker goroutine.
func (h *speakerHandle) finish() {
	h.once.Do(func() { close(h.done) })
}

func (h *speakerHandle) Wait() error {
	<-h.done
	h.closeOnce.Do(func() { h.closeErr = h.closer.Close() })
	if h.terminated.Load() {
		return ErrTerminated
	}
	return h.closeErr
}

func (h *speakerHandle) Terminate() error {
	h.terminated.Store(true)
	speaker.Lock()
	h.ctrl.Streamer = nil
	speaker.Unlock()
	return nil
}
