package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handler receives events for one subscription.
type Handler func(Event)

// Token identifies a subscription.
type Token string

// Bus fans events out to subscribers. Every subscription owns a mailbox
// drained by its own goroutine, so delivery order per subscriber matches
// publish order and a slow handler never blocks a publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[Token]*subscription
	closed bool
	log    *logrus.Entry
}

type subscription struct {
	kinds   map[Kind]struct{}
	handler Handler

	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Token]*subscription),
		log:  logrus.WithField("component", "events"),
	}
}

// Subscribe registers handler for the given kinds. No kinds means every kind.
func (b *Bus) Subscribe(handler Handler, kinds ...Kind) Token {
	sub := &subscription{
		kinds:   make(map[Kind]struct{}, len(kinds)),
		handler: handler,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}

	token := Token(uuid.NewString())

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.done)
		return token
	}
	b.subs[token] = sub
	go sub.run(b.log)

	return token
}

// Unsubscribe removes a subscription. Pending events are discarded.
// Unknown tokens are ignored.
func (b *Bus) Unsubscribe(token Token) {
	b.mu.Lock()
	sub, ok := b.subs[token]
	delete(b.subs, token)
	b.mu.Unlock()

	if ok {
		close(sub.quit)
	}
}

// Publish queues ev for every matching subscriber.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.wants(ev.Kind()) {
			sub.push(ev)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close removes every listener. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[Token]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.quit)
	}
}

func (s *subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

func (s *subscription) push(ev Event) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run(log *logrus.Entry) {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case <-s.quit:
				return
			default:
			}
			s.deliver(log, ev)
		}
	}
}

func (s *subscription) deliver(log *logrus.Entry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("kind", ev.Kind()).Errorf("event handler panicked: %v", r)
		}
	}()
	s.handler(ev)
}
