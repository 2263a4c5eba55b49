// Package catalog lists the voices offered by the synthesis backend,
// caching them on disk.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voicebridge/internal/voice/speech"
	"voicebridge/internal/voice/voiceerr"
)

// ErrUnsupported is returned when the backend cannot enumerate voices.
var ErrUnsupported = errors.New("synthesis backend cannot list voices")

// SynthesizerSource yields the current synthesizer, or nil when none is
// configured.
type SynthesizerSource interface {
	Synthesizer() speech.Synthesizer
}

// Catalog fetches voice lists from the backend and keeps them in one JSON
// file per language.
type Catalog struct {
	clients  SynthesizerSource
	cacheDir string
	maxAge   time.Duration
	log      *logrus.Entry
}

// CachedVoices is the on-disk cache format.
type CachedVoices struct {
	LanguageCode string             `json:"language_code"`
	Voices       []speech.VoiceInfo `json:"voices"`
	LastUpdated  time.Time          `json:"last_updated"`
}

// NewCatalog creates a catalog. An empty cacheDir disables caching.
func NewCatalog(clients SynthesizerSource, cacheDir string, maxAge time.Duration) *Catalog {
	c := &Catalog{
		clients:  clients,
		cacheDir: cacheDir,
		maxAge:   maxAge,
		log:      logrus.WithField("component", "catalog"),
	}
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			c.log.WithError(err).Warn("failed to create cache directory")
		}
	}
	return c
}

// Voices returns the voices for languageCode (all voices when empty),
// serving a fresh cache when present and falling back to a stale one when
// the backend fails.
func (c *Catalog) Voices(ctx context.Context, languageCode string) ([]speech.VoiceInfo, error) {
	file := c.cacheFile(languageCode)

	if c.isCacheFresh(file) {
		if voices, err := c.loadFromCache(file); err == nil {
			return voices, nil
		}
	}

	voices, err := c.fetch(ctx, languageCode)
	if err != nil {
		if file != "" {
			c.log.WithError(err).Warn("voice fetch failed, trying stale cache")
			if cached, cacheErr := c.loadFromCache(file); cacheErr == nil {
				return cached, nil
			}
		}
		return nil, err
	}

	if file != "" {
		if err := c.saveToCache(file, languageCode, voices); err != nil {
			c.log.WithError(err).Warn("failed to save voice cache")
		}
	}
	return voices, nil
}

// ClearCache removes every cached voice list.
func (c *Catalog) ClearCache() error {
	if c.cacheDir == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(c.cacheDir, "voices_*.json"))
	if err != nil {
		return fmt.Errorf("failed to list cache files: %w", err)
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}
	c.log.WithField("files", len(files)).Info("cleared voice cache")
	return nil
}

func (c *Catalog) fetch(ctx context.Context, languageCode string) ([]speech.VoiceInfo, error) {
	syn := c.clients.Synthesizer()
	if syn == nil {
		return nil, voiceerr.ErrNotConfigured
	}
	lister, ok := syn.(speech.VoiceLister)
	if !ok {
		return nil, ErrUnsupported
	}

	voices, err := lister.ListVoices(ctx, languageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}
	sort.Slice(voices, func(i, j int) bool { return voices[i].Name < voices[j].Name })

	c.log.WithFields(logrus.Fields{"language": languageCode, "count": len(voices)}).Info("fetched voices")
	return voices, nil
}

func (c *Catalog) cacheFile(languageCode string) string {
	if c.cacheDir == "" {
		return ""
	}
	key := strings.ToLower(strings.TrimSpace(languageCode))
	if key == "" {
		key = "all"
	}
	return filepath.Join(c.cacheDir, "voices_"+key+".json")
}

func (c *Catalog) isCacheFresh(file string) bool {
	if file == "" {
		return false
	}
	info, err := os.Stat(file)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < c.maxAge
}

func (c *Catalog) loadFromCache(file string) ([]speech.VoiceInfo, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	var cached CachedVoices
	if err := json.NewDecoder(f).Decode(&cached); err != nil {
		return nil, fmt.Errorf("failed to decode cache file: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"voices":       len(cached.Voices),
		"last_updated": cached.LastUpdated.Format(time.RFC3339),
	}).Debug("loaded voices from cache")
	return cached.Voices, nil
}

func (c *Catalog) saveToCache(file, languageCode string, voices []speech.VoiceInfo) error {
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(CachedVoices{
		LanguageCode: languageCode,
		Voices:       voices,
		LastUpdated:  time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to encode cache data: %w", err)
	}
	return nil
}
