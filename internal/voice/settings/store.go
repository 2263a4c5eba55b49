package settings

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"voicebridge/internal/voice/events"
)

// Publisher is the part of the event bus the store needs.
type Publisher interface {
	Publish(events.Event)
}

// Reinitializer rebuilds the speech clients for new credentials. On failure
// the implementation leaves its clients unusable.
type Reinitializer interface {
	Reinitialize(ctx context.Context, creds *Credentials) error
}

// Store owns the current settings. Reads return copies; the only writers
// are Update and Toggle.
type Store struct {
	mu       sync.RWMutex
	settings Settings

	// updates serializes client reinitialization without holding mu.
	updates sync.Mutex

	bus     Publisher
	clients Reinitializer
	log     *logrus.Entry
}

func NewStore(initial Settings, bus Publisher, clients Reinitializer) *Store {
	return &Store{
		settings: initial.Clone(),
		bus:      bus,
		clients:  clients,
		log:      logrus.WithField("component", "settings"),
	}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

// Enabled reports the text-to-speech toggle state.
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Enabled
}

// Update merges u into the current settings and returns the result.
// The merge runs under the store lock so a concurrent Toggle is never lost
// to an update that does not name the enabled flag. Changed credentials
// reinitialize the speech clients; a failed reinitialization is logged and
// not returned.
func (s *Store) Update(ctx context.Context, u Update) Settings {
	s.updates.Lock()
	defer s.updates.Unlock()

	s.mu.Lock()
	prev := s.settings.Credentials
	s.settings = Merge(s.settings, u)
	next := s.settings.Clone()
	s.mu.Unlock()

	if !prev.SameAs(next.Credentials) {
		s.log.WithField("project", projectOf(next.Credentials)).Info("credentials changed, reinitializing speech clients")
		if s.clients != nil {
			if err := s.clients.Reinitialize(ctx, next.Credentials); err != nil {
				s.log.WithError(err).Error("failed to reinitialize speech clients")
			}
		}
	}

	s.publish(Changed{Settings: next})
	return next
}

// Toggle flips the enabled flag and returns the new value.
func (s *Store) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Enabled = !s.settings.Enabled
	return s.settings.Enabled
}

func (s *Store) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func projectOf(c *Credentials) string {
	if c == nil {
		return ""
	}
	return c.ProjectIdentifier
}
