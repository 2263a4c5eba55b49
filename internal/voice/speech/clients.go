package speech

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"voicebridge/internal/voice/settings"
)

// Clients holds the current recognizer and synthesizer. Both are nil until
// a successful Reinitialize and after a failed one.
type Clients struct {
	mu          sync.RWMutex
	factory     Factory
	recognizer  Recognizer
	synthesizer Synthesizer
	log         *logrus.Entry
}

func NewClients(factory Factory) *Clients {
	return &Clients{
		factory: factory,
		log:     logrus.WithField("component", "speech"),
	}
}

// Reinitialize closes the current clients and builds new ones for creds.
func (c *Clients) Reinitialize(ctx context.Context, creds *settings.Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	syn, err := c.factory.NewSynthesizer(ctx, creds)
	if err != nil {
		return fmt.Errorf("failed to create synthesis client: %w", err)
	}
	rec, err := c.factory.NewRecognizer(ctx, creds)
	if err != nil {
		if cerr := syn.Close(); cerr != nil {
			c.log.WithError(cerr).Warn("failed to close synthesis client")
		}
		return fmt.Errorf("failed to create recognition client: %w", err)
	}

	c.synthesizer = syn
	c.recognizer = rec
	c.log.Info("speech clients initialized")
	return nil
}

// Recognizer returns the current recognizer or nil.
func (c *Clients) Recognizer() Recognizer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recognizer
}

// Synthesizer returns the current synthesizer or nil.
func (c *Clients) Synthesizer() Synthesizer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synthesizer
}

// Close releases both clients.
func (c *Clients) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Clients) closeLocked() {
	if c.synthesizer != nil {
		if err := c.synthesizer.Close(); err != nil {
			c.log.WithError(err).Warn("failed to close synthesis client")
		}
		c.synthesizer = nil
	}
	if c.recognizer != nil {
		if err := c.recognizer.Close(); err != nil {
			c.log.WithError(err).Warn("failed to close recognition client")
		}
		c.recognizer = nil
	}
}
