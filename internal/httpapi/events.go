package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicebridge/internal/voice/events"
	"voicebridge/internal/voice/settings"
)

const (
	eventBuffer  = 256
	writeTimeout = 10 * time.Second
)

// eventMessage is one websocket frame of the event stream.
type eventMessage struct {
	Type events.Kind `json:"type"`
	Data any         `json:"data"`
}

type failureData struct {
	Message string `json:"message"`
}

func toMessage(ev events.Event) eventMessage {
	switch e := ev.(type) {
	case events.Failure:
		return eventMessage{Type: e.Kind(), Data: failureData{Message: e.Message()}}
	case settings.Changed:
		return eventMessage{Type: e.Kind(), Data: map[string]any{"settings": newSettingsView(e.Settings)}}
	default:
		return eventMessage{Type: ev.Kind(), Data: ev}
	}
}

func parseKinds(raw string) ([]events.Kind, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	known := make(map[events.Kind]bool)
	for _, k := range events.AllKinds() {
		known[k] = true
	}

	var kinds []events.Kind
	for _, part := range strings.Split(raw, ",") {
		k := events.Kind(strings.TrimSpace(part))
		if k == "" {
			continue
		}
		if !known[k] {
			return nil, fmt.Errorf("unknown event kind %q", k)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func wants(kinds []events.Kind, k events.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

// handleEventsWS streams core events to one client. The current recording
// and text-to-speech state are sent first.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_kinds", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	log := s.log.WithField("client", clientID)
	log.Debug("event stream connected")

	outbound := make(chan events.Event, eventBuffer)
	token := s.svc.Subscribe(func(ev events.Event) {
		select {
		case outbound <- ev:
		default:
			s.metrics.Error("event_dropped")
			log.WithField("kind", ev.Kind()).Warn("event stream saturated, dropping event")
		}
	}, kinds...)
	defer s.svc.Unsubscribe(token)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var initial []events.Event
	if wants(kinds, events.KindStateChange) {
		initial = append(initial, events.RecordingState{IsRecording: s.svc.IsRecording()})
	}
	if wants(kinds, events.KindTTSStateChange) {
		initial = append(initial, s.svc.TTSState())
	}
	for _, ev := range initial {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-done:
			log.Debug("event stream disconnected")
			return
		case ev := <-outbound:
			if err := writeEvent(conn, ev); err != nil {
				log.WithError(err).Debug("event stream write failed")
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(toMessage(ev))
}
