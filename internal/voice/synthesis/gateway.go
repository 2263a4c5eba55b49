// Package synthesis turns text into audio with the current speech settings.
package synthesis

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voicebridge/internal/observability"
	"voicebridge/internal/voice/settings"
	"voicebridge/internal/voice/speech"
	"voicebridge/internal/voice/voiceerr"
)

// SynthesizerSource yields the current synthesizer, or nil when none is
// configured.
type SynthesizerSource interface {
	Synthesizer() speech.Synthesizer
}

// Gateway adapts the synthesis backend to the playback pipeline.
type Gateway struct {
	clients SynthesizerSource
	metrics *observability.Metrics
	log     *logrus.Entry
}

func NewGateway(clients SynthesizerSource, metrics *observability.Metrics) *Gateway {
	return &Gateway{
		clients: clients,
		metrics: metrics,
		log:     logrus.WithField("component", "synthesis"),
	}
}

// Synthesize renders text with s. Blank text returns nil audio and no error
// without touching the backend. The audio is encoded as
// s.AudioConfig.AudioEncoding, with unknown encodings rendered as LINEAR16.
func (g *Gateway) Synthesize(ctx context.Context, text string, s settings.Settings) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	syn := g.clients.Synthesizer()
	if syn == nil {
		g.metrics.ObserveSynthesis("not_configured", 0)
		return nil, voiceerr.ErrNotConfigured
	}

	audioCfg := s.AudioConfig
	audioCfg.AudioEncoding = audioCfg.AudioEncoding.Normalize()

	start := time.Now()
	audio, err := syn.Synthesize(ctx, speech.SynthesisRequest{
		Text:        text,
		Voice:       s.Voice,
		AudioConfig: audioCfg,
	})
	elapsed := time.Since(start)
	if err != nil {
		serr := voiceerr.NewSynthesisError(err)
		g.metrics.ObserveSynthesis("error", elapsed)
		g.log.WithError(err).WithFields(logrus.Fields{
			"code":      serr.Code.String(),
			"retryable": serr.Retryable(),
		}).Warn("synthesis failed")
		return nil, serr
	}

	g.metrics.ObserveSynthesis("ok", elapsed)
	g.log.WithFields(logrus.Fields{
		"chars":    len(text),
		"bytes":    len(audio),
		"encoding": audioCfg.AudioEncoding,
		"took":     elapsed.Round(time.Millisecond),
	}).Debug("synthesized speech")
	return audio, nil
}
