package review

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"seisreview/internal/domain"
)

// Resolution is the result payload of a resolved session.
type Resolution struct {
	EventID    int64  `json:"event_id"`
	Outcome    string `json:"outcome"`
	ResolvedAt string `json:"resolved_at" format:"date-time"`
}

// Outcome describes what one delivered action did.
type Outcome struct {
	From   Step
	To     Step
	Notice string
	// Prompt is set while a confirmation is open.
	Prompt *Confirmation
	// Done means the session is over and control returns to the list.
	Done bool
}

// Session walks one claimed event through the review steps. It is single-use.
type Session struct {
	ID    string
	Event domain.UnreviewedEvent

	svc Service
	log *slog.Logger
	now func() time.Time

	mu             sync.Mutex
	step           Step
	classification *domain.RecordedClassification
	waveforms      []domain.StationWaveformSet
	errMsg         string
	prompt         *Confirmation
	busy           bool
	done           bool
	resolution     *Resolution
}

func newSession(event domain.UnreviewedEvent, svc Service, logger *slog.Logger, now func() time.Time) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	id := uuid.New().String()
	return &Session{
		ID:    id,
		Event: event,
		svc:   svc,
		log:   logger.With("session_id", id, "event_id", event.ID),
		now:   now,
		step:  StepLoading,
	}
}

// Load fetches the recorded classification and the waveform sets concurrently
// and moves to ShowData only if both succeed. A failed fetch moves the session
// to Error; the returned error is reserved for misuse (not in Loading, busy).
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return ErrSessionDone
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.step != StepLoading {
		s.mu.Unlock()
		return ErrNotLoading
	}
	s.busy = true
	s.mu.Unlock()

	id := s.Event.ID
	var (
		cls  domain.RecordedClassification
		sets []domain.StationWaveformSet
	)
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		c, err := s.svc.FetchRecordedClassification(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch recorded data: %w", err)
		}
		cls = c
		return nil
	})
	p.Go(func(ctx context.Context) error {
		w, err := s.svc.FetchStationWaveforms(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch seismograms: %w", err)
		}
		sets = w
		return nil
	})
	err := p.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if err != nil {
		s.fail(err)
		return nil
	}
	s.classification = &cls
	s.waveforms = sets
	s.moveTo(StepShowData)
	return nil
}

// Handle delivers one action. Actions outside the current scope return ErrNotAccepted.
func (s *Session) Handle(ctx context.Context, a Action) (Outcome, error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return Outcome{}, ErrSessionDone
	}
	if s.busy {
		s.mu.Unlock()
		return Outcome{}, ErrBusy
	}
	from := s.step
	if prompt := s.prompt; prompt != nil {
		if a != ActionConfirm && a != ActionCancel {
			s.mu.Unlock()
			return Outcome{From: from, To: from, Prompt: prompt}, fmt.Errorf("%w: %s while confirmation is open", ErrNotAccepted, a)
		}
		if a == ActionConfirm {
			s.busy = true
		}
		s.mu.Unlock()
		return s.answer(ctx, from, prompt, a == ActionConfirm)
	}
	r, ok := transition(from, a)
	if !ok {
		s.mu.Unlock()
		return Outcome{From: from, To: from}, fmt.Errorf("%w: %s in %s", ErrNotAccepted, a, from)
	}
	defer s.mu.Unlock()
	out := Outcome{From: from, To: r.next, Notice: r.notice}
	switch r.effect {
	case effectDisabled:
		s.log.Info("capability disabled", "step", from.String(), "action", a.String())
	case effectOpenReject:
		s.prompt = s.rejectPrompt()
		out.Prompt = s.prompt
	case effectClose:
		s.done = true
		out.Done = true
		s.log.Debug("review session closed", "step", from.String())
	default:
		s.moveTo(r.next)
	}
	return out, nil
}

// answer resolves the open prompt. Called without s.mu held; s.busy is
// already set when confirmed.
func (s *Session) answer(ctx context.Context, from Step, prompt *Confirmation, confirmed bool) (Outcome, error) {
	err := prompt.Resolve(ctx, confirmed)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.prompt = nil
	if !confirmed {
		s.log.Debug("rejection cancelled")
		return Outcome{From: from, To: s.step}, nil
	}
	if err != nil {
		s.fail(fmt.Errorf("reject event: %w", err))
		return Outcome{From: from, To: s.step}, nil
	}
	s.resolution = &Resolution{
		EventID:    s.Event.ID,
		Outcome:    "rejected",
		ResolvedAt: s.now().UTC().Format(time.RFC3339),
	}
	s.moveTo(StepResolved)
	return Outcome{From: from, To: s.step}, nil
}

func (s *Session) rejectPrompt() *Confirmation {
	id := s.Event.ID
	c := NewConfirmation(
		"Confirm rejection",
		fmt.Sprintf("Reject seismic event #%d?\n\nThe event state will change to REJECTED.", id),
		func(ctx context.Context) error { return s.svc.RejectEvent(ctx, id) },
	)
	c.ConfirmLabel = "Reject"
	return c
}

func (s *Session) moveTo(next Step) {
	s.log.Debug("review step", "from", s.step.String(), "to", next.String())
	s.step = next
}

func (s *Session) fail(err error) {
	s.errMsg = err.Error()
	if s.errMsg == "" {
		s.errMsg = "review failed"
	}
	s.log.Warn("review session failed", "step", s.step.String(), "error", s.errMsg)
	s.step = StepError
}

func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Accepts returns the actions deliverable right now; nothing while busy or done.
func (s *Session) Accepts() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.busy {
		return nil
	}
	if s.prompt != nil {
		return s.prompt.Accepts()
	}
	return s.step.Accepts()
}

func (s *Session) Prompt() *Confirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the message stored when the session entered Error.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

func (s *Session) Classification() (domain.RecordedClassification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classification == nil {
		return domain.RecordedClassification{}, false
	}
	return *s.classification, true
}

// Waveforms returns the stored sets in fetch order; nil before a successful load.
func (s *Session) Waveforms() []domain.StationWaveformSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waveforms == nil {
		return nil
	}
	out := make([]domain.StationWaveformSet, len(s.waveforms))
	copy(out, s.waveforms)
	return out
}

func (s *Session) Resolution() (Resolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolution == nil {
		return Resolution{}, false
	}
	return *s.resolution, true
}
