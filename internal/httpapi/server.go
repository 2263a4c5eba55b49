package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voicebridge/internal/observability"
	"voicebridge/internal/voice"
	"voicebridge/internal/voice/events"
	"voicebridge/internal/voice/recording"
	"voicebridge/internal/voice/settings"
	"voicebridge/internal/voice/speech"
	"voicebridge/internal/voice/voiceerr"
)

type VoiceService interface {
	Configured() bool
	ToggleRecording(ctx context.Context) (bool, error)
	StartRecording(ctx context.Context) error
	StopRecording()
	IsRecording() bool
	SpeakText(ctx context.Context, text string) error
	SpeakSummary(ctx context.Context, summary string) error
	ToggleTTS() bool
	TTSState() events.TTSState
	TTSSettings() settings.Settings
	UpdateTTSSettings(ctx context.Context, u settings.Update) (settings.Settings, error)
	Subscribe(handler events.Handler, kinds ...events.Kind) events.Token
	Unsubscribe(token events.Token)
	Voices(ctx context.Context, languageCode string) ([]speech.VoiceInfo, error)
}

type Server struct {
	svc      VoiceService
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func New(svc VoiceService, metrics *observability.Metrics) *Server {
	return &Server{
		svc:     svc,
		metrics: metrics,
		log:     logrus.WithField("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOriginOrNone,
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/voice/recording", s.handleRecordingState)
	r.Post("/v1/voice/recording", s.handleSetRecording)
	r.Post("/v1/voice/recording/toggle", s.handleToggleRecording)

	r.Get("/v1/tts/state", s.handleTTSState)
	r.Post("/v1/tts/toggle", s.handleToggleTTS)
	r.Post("/v1/tts/speak", s.handleSpeak)
	r.Get("/v1/tts/settings", s.handleGetSettings)
	r.Patch("/v1/tts/settings", s.handleUpdateSettings)
	r.Get("/v1/tts/voices", s.handleListVoices)

	r.Get("/v1/events/ws", s.handleEventsWS)

	r.Get("/v1/tools", s.handleListTools)
	r.Post("/v1/tools/tts_summary", s.handleSummaryTool)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"configured": s.svc.Configured(),
	})
}

type recordingResponse struct {
	IsRecording bool `json:"isRecording"`
}

func (s *Server) handleRecordingState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, recordingResponse{IsRecording: s.svc.IsRecording()})
}

func (s *Server) handleToggleRecording(w http.ResponseWriter, r *http.Request) {
	on, err := s.svc.ToggleRecording(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recordingResponse{IsRecording: on})
}

func (s *Server) handleSetRecording(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recording *bool `json:"recording"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Recording == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "field recording is required")
		return
	}

	if *req.Recording {
		if err := s.svc.StartRecording(r.Context()); err != nil {
			respondServiceError(w, err)
			return
		}
	} else {
		s.svc.StopRecording()
	}
	respondJSON(w, http.StatusOK, recordingResponse{IsRecording: s.svc.IsRecording()})
}

func (s *Server) handleTTSState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.TTSState())
}

func (s *Server) handleToggleTTS(w http.ResponseWriter, _ *http.Request) {
	s.svc.ToggleTTS()
	respondJSON(w, http.StatusOK, s.svc.TTSState())
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.svc.SpeakText(r.Context(), req.Text); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.svc.TTSState())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, newSettingsView(s.svc.TTSSettings()))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	u, err := req.toUpdate()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_settings", err.Error())
		return
	}

	next, err := s.svc.UpdateTTSSettings(r.Context(), u)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newSettingsView(next))
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	lang := strings.TrimSpace(r.URL.Query().Get("language_code"))
	voices, err := s.svc.Voices(r.Context(), lang)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tools": []voice.Tool{voice.SummaryTool()}})
}

func (s *Server) handleSummaryTool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Summary string `json:"summary"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.svc.SpeakSummary(r.Context(), req.Summary); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondServiceError(w http.ResponseWriter, err error) {
	var synthErr *voiceerr.SynthesisError
	switch {
	case errors.Is(err, voiceerr.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, "not_configured", err.Error())
	case errors.As(err, &synthErr):
		respondJSON(w, http.StatusBadGateway, errorResponse{
			Error:     err.Error(),
			Code:      "synthesis_failed",
			Retryable: synthErr.Retryable(),
		})
	case errors.Is(err, voice.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, recording.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// sameOriginOrNone admits non-browser clients and same-origin pages.
func sameOriginOrNone(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
