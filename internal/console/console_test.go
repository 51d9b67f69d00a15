package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seisreview/internal/domain"
)

type catalogStub struct {
	mu       sync.Mutex
	events   []domain.UnreviewedEvent
	claimed  []int64
	rejected []int64
	claimErr map[int64]error
	waveErr  error
}

func newCatalogStub() *catalogStub {
	return &catalogStub{
		events: []domain.UnreviewedEvent{
			{ID: 42, OccurredAt: "2025-02-01T10:00:00Z", Magnitude: 3.8, Coordinates: "-31.4, -64.2"},
			{ID: 43, OccurredAt: "2025-02-02T11:30:00Z", Magnitude: 4.4, Coordinates: "-32.9, -68.8"},
		},
		claimErr: map[int64]error{},
	}
}

func (s *catalogStub) ListUnreviewedEvents(context.Context) ([]domain.UnreviewedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UnreviewedEvent
	for _, ev := range s.events {
		if !containsID(s.claimed, ev.ID) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *catalogStub) ClaimEvent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.claimErr[id]; err != nil {
		return err
	}
	s.claimed = append(s.claimed, id)
	return nil
}

func (s *catalogStub) FetchRecordedClassification(context.Context, int64) (domain.RecordedClassification, error) {
	return domain.RecordedClassification{Classification: "Shallow", RichterClassification: "4.4 (Light)", Origin: "Tectonic", Reach: "Local"}, nil
}

func (s *catalogStub) FetchStationWaveforms(context.Context, int64) ([]domain.StationWaveformSet, error) {
	if s.waveErr != nil {
		return nil, s.waveErr
	}
	return []domain.StationWaveformSet{
		{Station: "ST-NORTH", Samples: []domain.WaveformSample{{Wavelength: 1.5, Frequency: 2, Velocity: 3}}},
		{Station: "ST-SOUTH", Samples: []domain.WaveformSample{{Wavelength: 0.25, Frequency: 4, Velocity: 5}}},
	}, nil
}

func (s *catalogStub) RejectEvent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, id)
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func run(t *testing.T, svc *catalogStub, script ...string) string {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(script, "\n") + "\n")
	c := New(svc, in, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, c.Run(context.Background()))
	assert.Nil(t, c.Controller.Active(), "session left active")
	assert.Nil(t, c.Dispatcher.Bound(), "dispatcher still bound")
	return out.String()
}

func TestConsoleRejectsSelectedEvent(t *testing.T) {
	svc := newCatalogStub()
	out := run(t, svc,
		"2", // select event 43
		"y", // confirm block
		"",  // show-data -> show-seismograms
		"",  // -> ask-map
		"n", // decline map
		"n", // decline modify
		"2", // confirm event is not available
		"r", // open reject prompt
		"y", // confirm reject
		"",  // acknowledge
		"q",
	)
	assert.Equal(t, []int64{43}, svc.claimed)
	assert.Equal(t, []int64{43}, svc.rejected)
	assert.Contains(t, out, "Recorded data for event #43")
	assert.Contains(t, out, "ST-NORTH")
	assert.Contains(t, out, "0.25")
	assert.Contains(t, out, "not available")
	assert.Contains(t, out, "Reject seismic event #43?")
	assert.Contains(t, out, "Event #43 rejected at")
	assert.Less(t, strings.Index(out, "ST-NORTH"), strings.Index(out, "ST-SOUTH"))
}

func TestConsoleCancelBlockMakesNoClaim(t *testing.T) {
	svc := newCatalogStub()
	out := run(t, svc, "1", "n", "q")
	assert.Empty(t, svc.claimed)
	assert.Contains(t, out, "Block seismic event #42")
}

func TestConsoleUnavailableReturnsToList(t *testing.T) {
	svc := newCatalogStub()
	svc.claimErr[42] = errors.New("already claimed")
	out := run(t, svc, "id:42", "y", "q")
	assert.Empty(t, svc.claimed)
	assert.Contains(t, out, "event 42 unavailable: already claimed")
	assert.Equal(t, 2, strings.Count(out, "Events awaiting review"))
}

func TestConsoleCancelRejectStaysInReview(t *testing.T) {
	svc := newCatalogStub()
	out := run(t, svc, "1", "y", "", "", "N", "N", "R", "esc", "1", "n", "x")
	assert.Equal(t, []int64{42}, svc.claimed)
	assert.Empty(t, svc.rejected)
	assert.Contains(t, out, "Use one of:")
}

func TestConsoleLoadFailureShowsError(t *testing.T) {
	svc := newCatalogStub()
	svc.waveErr = errors.New("station feed down")
	out := run(t, svc, "1", "y", "r", "", "q")
	assert.Contains(t, out, "station feed down")
	assert.Empty(t, svc.rejected)
	assert.Contains(t, out, "Use one of: enter (acknowledge)")
}

func TestConsoleIgnoresUnknownSelection(t *testing.T) {
	svc := newCatalogStub()
	out := run(t, svc, "9", "id:x", "q")
	assert.Contains(t, out, `No event matches "9"`)
	assert.Contains(t, out, `No event matches "id:x"`)
	assert.Empty(t, svc.claimed)
}
