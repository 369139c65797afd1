package api

import (
	"encoding/json"
	"net/http"

	"github.com/vitrinehq/vitrine/pkg/events"
	"github.com/vitrinehq/vitrine/pkg/types"
)

// handleEvents streams pool events as newline-delimited JSON until the
// client disconnects or the broker shuts down
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, http.StatusNotImplemented, "event streaming is not enabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Event stream opened")
	defer s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Event stream closed")

	enc := json.NewEncoder(w)
	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			if err := enc.Encode(wireEvent(event)); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func wireEvent(e *events.Event) types.Event {
	return types.Event{
		Type:       string(e.Type),
		Timestamp:  e.Timestamp,
		DeviceAddr: e.DeviceAddr,
		CastID:     e.CastID,
		Message:    e.Message,
		Data:       e.Metadata,
	}
}
