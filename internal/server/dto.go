package server

import (
	"encoding/json"

	"seisreview/internal/domain"
	"seisreview/internal/repo"
)

// Response payloads

type UnreviewedListResponse struct {
	Items []domain.UnreviewedEvent `json:"items"`
}

type EventListResponse struct {
	Items []domain.SeismicEvent `json:"items"`
	Stats map[string]int        `json:"stats"`
	State string                `json:"state,omitempty"`
}

type EventResponse struct {
	Event domain.SeismicEvent `json:"event"`
}

type SeismogramsResponse struct {
	EventID  int64                       `json:"event_id"`
	Stations []domain.StationWaveformSet `json:"stations"`
}

type HistoryResponse struct {
	EventID int64              `json:"event_id"`
	Changes []repo.StateChange `json:"changes"`
}

type AuditEntryResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	EventID    int64           `json:"event_id,omitempty"`
	OperatorID string          `json:"operator_id"`
	Payload    json.RawMessage `json:"payload"`
}

type AuditPageResponse struct {
	Items     []AuditEntryResponse `json:"items"`
	NextAfter int64                `json:"next_after,omitempty"`
}

type MeResponse struct {
	OperatorID string `json:"operator_id"`
	Source     string `json:"source"`
}

func auditEntryResponse(e domain.AuditEntry) AuditEntryResponse {
	payload := json.RawMessage("{}")
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage(e.Payload)
	}
	return AuditEntryResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EventID:    e.EventID,
		OperatorID: e.OperatorID,
		Payload:    payload,
	}
}

func statsResponse(counts map[domain.EventState]int) map[string]int {
	res := make(map[string]int, len(counts))
	for s, n := range counts {
		res[string(s)] = n
	}
	return res
}
