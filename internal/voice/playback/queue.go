package playback

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
	"voicebridge/internal/voice/events"
	"voicebridge/internal/voice/settings"
	"voicebridge/internal/voice/voiceerr"
)

// Publisher is the part of the event bus the queue needs.
type Publisher interface {
	Publish(events.Event)
}

// Item is one transient audio file waiting for or undergoing playback.
type Item struct {
	Path     string
	Encoding settings.AudioEncoding
	handle   Handle
}

type QueueConfig struct {
	// Dir holds transient audio files. It is created on first use and
	// removed by Close.
	Dir     string
	Player  Player
	Enabled func() bool
	Bus     Publisher
	Metrics *observability.Metrics
}

// Queue plays items strictly in insertion order, one at a time. playing is
// true exactly while a player handle is attached to the head item.
type Queue struct {
	mu       sync.Mutex
	dir      string
	dirReady bool
	player   Player
	enabled  func() bool
	bus      Publisher
	metrics  *observability.Metrics
	log      *logrus.Entry

	items   []*Item
	playing bool
	seq     uint64

	// idle is closed whenever the queue is empty.
	idle chan struct{}
	busy bool
}

func NewQueue(cfg QueueConfig) *Queue {
	enabled := cfg.Enabled
	if enabled == nil {
		enabled = func() bool { return true }
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		dir:     cfg.Dir,
		player:  cfg.Player,
		enabled: enabled,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		log:     logrus.WithField("component", "playback"),
		idle:    idle,
	}
}

// Enqueue persists audio to a transient file and appends it to the queue,
// starting playback when nothing is playing. Audio is dropped while
// text-to-speech is disabled.
func (q *Queue) Enqueue(audio []byte, encoding settings.AudioEncoding) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.enabled() {
		q.metrics.Playback("dropped")
		q.log.Debug("text-to-speech disabled, dropping audio")
		return nil
	}

	if err := q.ensureDirLocked(); err != nil {
		return err
	}

	q.seq++
	path := filepath.Join(q.dir, fmt.Sprintf("tts_%d_%d.%s", time.Now().UnixNano(), q.seq, encoding.FileExtension()))
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return fmt.Errorf("failed to write audio file %s: %w", path, err)
	}

	q.items = append(q.items, &Item{Path: path, Encoding: encoding.Normalize()})
	q.markBusyLocked()
	q.log.WithFields(logrus.Fields{"file": filepath.Base(path), "queued": len(q.items)}).Debug("audio enqueued")

	if !q.playing {
		q.playNextLocked()
	}
	return nil
}

// Flush stops the active player, deletes every queued file and empties the
// queue.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked()
}

// State returns the derived text-to-speech state.
func (q *Queue) State() events.TTSState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

// EmitState publishes the current state.
func (q *Queue) EmitState() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.publishLocked()
}

// Len returns the number of queued items, the playing one included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait blocks until the queue is empty or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes the queue and removes the transient directory. Safe to
// call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.flushLocked()
	if !q.dirReady {
		return nil
	}
	q.dirReady = false
	if err := os.RemoveAll(q.dir); err != nil {
		return fmt.Errorf("failed to remove audio directory %s: %w", q.dir, err)
	}
	return nil
}

func (q *Queue) playNextLocked() {
	for {
		if len(q.items) == 0 {
			q.playing = false
			q.publishLocked()
			q.markIdleLocked()
			return
		}

		head := q.items[0]
		q.playing = true
		q.publishLocked()

		h, err := q.player.Play(head.Path, TypeArg(head.Path))
		if err != nil {
			q.absorbLocked(head, err)
			q.removeFile(head.Path)
			q.items = q.items[1:]
			continue
		}

		head.handle = h
		go q.await(head, h)
		return
	}
}

func (q *Queue) await(item *Item, h Handle) {
	err := h.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()

	// A flush already discarded the item.
	if len(q.items) == 0 || q.items[0] != item {
		return
	}

	if err != nil {
		q.absorbLocked(item, err)
	} else {
		q.metrics.Playback("played")
	}

	item.handle = nil
	q.removeFile(item.Path)
	q.items = q.items[1:]
	q.playNextLocked()
}

func (q *Queue) flushLocked() {
	for _, item := range q.items {
		if item.handle != nil {
			if err := item.handle.Terminate(); err != nil {
				q.log.WithError(err).Warn("failed to terminate player")
			}
			item.handle = nil
		}
		q.removeFile(item.Path)
		q.metrics.Playback("flushed")
	}

	if n := len(q.items); n > 0 {
		q.log.WithField("discarded", n).Info("playback queue flushed")
	}
	q.items = nil
	q.playing = false
	q.publishLocked()
	q.markIdleLocked()
}

// absorbLocked logs and announces a playback failure; it never reaches the
// caller that requested the speech.
func (q *Queue) absorbLocked(item *Item, err error) {
	perr := &voiceerr.PlaybackError{File: item.Path, Err: err}
	q.metrics.Playback("failed")
	q.log.WithError(perr).Warn("playback failed, advancing queue")
	if q.bus != nil {
		q.bus.Publish(events.Failure{Cause: perr})
	}
}

func (q *Queue) stateLocked() events.TTSState {
	return events.TTSState{
		Enabled:     q.enabled(),
		IsPlaying:   q.playing,
		QueueLength: len(q.items),
	}
}

func (q *Queue) publishLocked() {
	state := q.stateLocked()
	q.metrics.SetQueueLength(state.QueueLength)
	if q.bus != nil {
		q.bus.Publish(state)
	}
}

func (q *Queue) ensureDirLocked() error {
	if q.dirReady {
		return nil
	}
	if q.dir == "" {
		q.dir = filepath.Join(os.TempDir(), "voicebridge-tts")
	}
	if err := os.MkdirAll(q.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create audio directory %s: %w", q.dir, err)
	}
	q.dirReady = true
	return nil
}

func (q *Queue) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		q.log.WithError(err).WithField("file", path).Warn("failed to remove audio file")
	}
}

func (q *Queue) markBusyLocked() {
	if !q.busy {
		q.busy = true
		q.idle = make(chan struct{})
	}
}

func (q *Queue) markIdleLocked() {
	if q.busy {
		q.busy = false
		close(q.idle)
	}
}
