package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"voicebridge/internal/voice/settings"
)

// bytesPerSecond of 16kHz mono 16-bit PCM.
const bytesPerSecond = 32000

// MockFactory builds offline clients that need no credentials.
type MockFactory struct{}

func (MockFactory) NewRecognizer(context.Context, *settings.Credentials) (Recognizer, error) {
	return &MockRecognizer{}, nil
}

func (MockFactory) NewSynthesizer(context.Context, *settings.Credentials) (Synthesizer, error) {
	return &MockSynthesizer{SampleRate: 24000}, nil
}

// MockSynthesizer renders silence whose length follows the word count, the
// way a reader at 150 words per minute would take.
type MockSynthesizer struct {
	SampleRate int
}

func (m *MockSynthesizer) Synthesize(_ context.Context, req SynthesisRequest) ([]byte, error) {
	if enc := req.AudioConfig.AudioEncoding.Normalize(); enc != settings.EncodingLinear16 {
		return nil, fmt.Errorf("mock backend renders LINEAR16 only, got %s", enc)
	}

	rate := req.AudioConfig.SpeakingRate
	if rate <= 0 {
		rate = 1.0
	}
	words := len(strings.Fields(req.Text))
	duration := time.Duration(float64(words) / 150.0 / rate * float64(time.Minute))
	duration = min(max(duration, 250*time.Millisecond), 10*time.Second)

	format := beep.Format{SampleRate: beep.SampleRate(m.SampleRate), NumChannels: 1, Precision: 2}
	buf := &seekBuffer{}
	if err := wav.Encode(buf, beep.Silence(format.SampleRate.N(duration)), format); err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}
	return buf.data, nil
}

func (m *MockSynthesizer) ListVoices(_ context.Context, languageCode string) ([]VoiceInfo, error) {
	if languageCode == "" {
		languageCode = "en-US"
	}
	return []VoiceInfo{{
		Name:                   "mock-voice",
		LanguageCodes:          []string{languageCode},
		Gender:                 string(settings.GenderNeutral),
		NaturalSampleRateHertz: int32(m.SampleRate),
	}}, nil
}

func (m *MockSynthesizer) Close() error { return nil }

// MockRecognizer reports how much audio it received.
type MockRecognizer struct{}

func (m *MockRecognizer) Open(ctx context.Context, _ RecognitionConfig) (RecognitionStream, error) {
	return &mockStream{ctx: ctx, results: make(chan Result, 64)}, nil
}

func (m *MockRecognizer) Close() error { return nil }

type mockStream struct {
	ctx     context.Context
	mu      sync.Mutex
	closed  bool
	written int
	results chan Result
}

func (s *mockStream) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}

	before := s.written / bytesPerSecond
	s.written += len(p)
	if after := s.written / bytesPerSecond; after > before {
		select {
		case s.results <- Result{Text: fmt.Sprintf("listening (%ds)", after)}:
		default:
		}
	}
	return nil
}

func (s *mockStream) Recv() (Result, error) {
	select {
	case r, ok := <-s.results:
		if !ok {
			return Result{}, io.EOF
		}
		return r, nil
	case <-s.ctx.Done():
		return Result{}, s.ctx.Err()
	}
}

func (s *mockStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	final := Result{
		Text:    fmt.Sprintf("captured %.1f seconds of audio", float64(s.written)/bytesPerSecond),
		IsFinal: true,
	}
	select {
	case s.results <- final:
	default:
	}
	close(s.results)
	return nil
}

// seekBuffer is the in-memory io.WriteSeeker wav.Encode needs to patch
// its header.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, errors.New("invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("negative position")
	}
	b.pos = int(next)
	return next, nil
}
