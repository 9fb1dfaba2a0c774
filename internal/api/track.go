package api

import (
	"net/http"

	"github.com/TimurManjosov/splitfeature/internal/provider"
)

// TrackRequest is the body of POST /v1/track.
type TrackRequest struct {
	Event      string                     `json:"event"`
	Context    provider.EvaluationContext `json:"context,omitempty"`
	Value      *float64                   `json:"value,omitempty"`
	Properties map[string]any             `json:"properties,omitempty"`
}

type trackResponse struct {
	OK bool `json:"ok"`
}

// handleTrack handles POST /v1/track. It answers 202 once the event is handed to
// the Split client.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	details := &provider.TrackingDetails{Value: req.Value, Properties: req.Properties}
	if err := s.provider.Track(r.Context(), req.Event, req.Context, details); err != nil {
		ResolutionError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, trackResponse{OK: true})
}
