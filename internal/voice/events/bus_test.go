package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	rec := &recorder{}
	bus.Subscribe(rec.handle, KindTranscript)

	for i := 0; i < 50; i++ {
		bus.Publish(Transcript{Text: string(rune('a' + i%26)), IsFinal: i == 49})
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 50 }, time.Second, 5*time.Millisecond)
	got := rec.snapshot()
	for i, ev := range got {
		assert.Equal(t, string(rune('a'+i%26)), ev.(Transcript).Text)
	}
	assert.True(t, got[49].(Transcript).IsFinal)
}

func TestBusFiltersByKind(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	onlyState := &recorder{}
	everything := &recorder{}
	bus.Subscribe(onlyState.handle, KindStateChange)
	bus.Subscribe(everything.handle)

	bus.Publish(RecordingState{IsRecording: true})
	bus.Publish(Failure{Cause: errors.New("x")})

	require.Eventually(t, func() bool { return len(everything.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(onlyState.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, RecordingState{IsRecording: true}, onlyState.snapshot()[0])
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	rec := &recorder{}
	token := bus.Subscribe(rec.handle)
	bus.Publish(TTSState{Enabled: true})
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	bus.Unsubscribe(token)
	bus.Unsubscribe(token)
	bus.Publish(TTSState{Enabled: false})

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestBusCloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(func(Event) {})
	bus.Subscribe(func(Event) {})
	assert.Equal(t, 2, bus.Subscribers())

	bus.Close()
	bus.Close()
	assert.Equal(t, 0, bus.Subscribers())

	bus.Subscribe(func(Event) {})
	assert.Equal(t, 0, bus.Subscribers())
	bus.Publish(RecordingState{})
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	rec := &recorder{}
	calls := 0
	bus.Subscribe(func(ev Event) {
		calls++
		if calls == 1 {
			panic("first event")
		}
		rec.handle(ev)
	})

	bus.Publish(RecordingState{IsRecording: true})
	bus.Publish(RecordingState{IsRecording: false})

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, RecordingState{IsRecording: false}, rec.snapshot()[0])
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "", Failure{}.Message())
	assert.Equal(t, "x", Failure{Cause: errors.New("x")}.Message())
	assert.Len(t, AllKinds(), 5)
}
