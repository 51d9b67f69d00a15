package review

import (
	"context"
	"errors"
	"io"

	"seisreview/internal/domain"
)

var (
	ErrNotAccepted   = errors.New("action not accepted in current step")
	ErrBusy          = errors.New("a request is in flight")
	ErrSessionDone   = errors.New("review session is finished")
	ErrSessionActive = errors.New("another review session is active")
	ErrNotLoading    = errors.New("review session already loaded")
)

// Service is the catalog backend consumed by the review core.
type Service interface {
	ListUnreviewedEvents(ctx context.Context) ([]domain.UnreviewedEvent, error)
	ClaimEvent(ctx context.Context, id int64) error
	FetchRecordedClassification(ctx context.Context, id int64) (domain.RecordedClassification, error)
	FetchStationWaveforms(ctx context.Context, id int64) ([]domain.StationWaveformSet, error)
	RejectEvent(ctx context.Context, id int64) error
}

// WaveformRenderer draws station waveform sets. Implementations must not
// reorder stations or samples.
type WaveformRenderer interface {
	Render(w io.Writer, sets []domain.StationWaveformSet) error
}
