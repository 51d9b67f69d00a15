package domain

// EventState is the catalog lifecycle state of a seismic event.
type EventState string

const (
	StateAutoDetected    EventState = "auto_detected"
	StatePendingReview   EventState = "pending_review"
	StateBlockedInReview EventState = "blocked_in_review"
	StateRejected        EventState = "rejected"
	StateConfirmed       EventState = "confirmed"
	StateDerived         EventState = "derived"
	StateAutoConfirmed   EventState = "auto_confirmed"
	StatePendingClose    EventState = "pending_close"
	StateClosed          EventState = "closed"
	StateAnnulled        EventState = "annulled"
)

// Unreviewed reports whether an event in this state may still be claimed.
func (s EventState) Unreviewed() bool {
	return s == StateAutoDetected || s == StatePendingReview
}

// Description is the human label shown next to a state.
func (s EventState) Description() string {
	switch s {
	case StateAutoDetected:
		return "Auto-detected"
	case StatePendingReview:
		return "Pending review"
	case StateBlockedInReview:
		return "Blocked in review"
	case StateRejected:
		return "Rejected"
	case StateConfirmed:
		return "Confirmed"
	case StateDerived:
		return "Derived to expert"
	case StateAutoConfirmed:
		return "Auto-confirmed"
	case StatePendingClose:
		return "Pending close"
	case StateClosed:
		return "Closed"
	case StateAnnulled:
		return "Annulled"
	default:
		return string(s)
	}
}

// KnownStates lists every catalog state in lifecycle order.
var KnownStates = []EventState{
	StateAutoDetected,
	StatePendingReview,
	StateBlockedInReview,
	StateRejected,
	StateConfirmed,
	StateDerived,
	StateAutoConfirmed,
	StatePendingClose,
	StateClosed,
	StateAnnulled,
}

type UnreviewedEvent struct {
	ID          int64   `json:"id"`
	OccurredAt  string  `json:"occurred_at" format:"date-time"`
	Magnitude   float64 `json:"magnitude"`
	Coordinates string  `json:"coordinates"`
}

type RecordedClassification struct {
	Classification        string `json:"classification"`
	RichterClassification string `json:"richter_classification"`
	Origin                string `json:"origin"`
	Reach                 string `json:"reach"`
}

type WaveformSample struct {
	Wavelength float64 `json:"wavelength"`
	Frequency  float64 `json:"frequency"`
	Velocity   float64 `json:"velocity"`
}

// StationWaveformSet holds one station's samples in measurement order.
type StationWaveformSet struct {
	Station string           `json:"station"`
	Samples []WaveformSample `json:"samples"`
}

type SeismicEvent struct {
	ID                 int64      `json:"id"`
	OccurredAt         string     `json:"occurred_at" format:"date-time"`
	Coordinates        string     `json:"coordinates"`
	Magnitude          float64    `json:"magnitude"`
	State              EventState `json:"state"`
	StateDescription   string     `json:"state_description"`
	RichterValue       *float64   `json:"richter_value,omitempty"`
	RichterDescription *string    `json:"richter_description,omitempty"`
	Classification     *string    `json:"classification,omitempty"`
	Origin             *string    `json:"origin,omitempty"`
	Reach              *string    `json:"reach,omitempty"`
	ReachRadiusKm      *float64   `json:"reach_radius_km,omitempty"`
	LastStateChangeAt  *string    `json:"last_state_change_at,omitempty" format:"date-time"`
	ReviewerID         *string    `json:"reviewer_id,omitempty"`
}

// Unreviewed returns the list snapshot of the event.
func (e SeismicEvent) Unreviewed() UnreviewedEvent {
	return UnreviewedEvent{
		ID:          e.ID,
		OccurredAt:  e.OccurredAt,
		Magnitude:   e.Magnitude,
		Coordinates: e.Coordinates,
	}
}

type AuditEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EventID    int64  `json:"event_id,omitempty"`
	OperatorID string `json:"operator_id"`
	Payload    string `json:"payload_json"`
}
