package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"seisreview/internal/audit"
	"seisreview/internal/domain"
	"seisreview/internal/repo"
)

var (
	// ErrNotClaimable is returned when an event is no longer awaiting review.
	ErrNotClaimable = errors.New("event is not awaiting review")
	// ErrNotHolder is returned when an operator acts on an event it has not claimed.
	ErrNotHolder = errors.New("event is not claimed by this operator")
	// ErrInvalid marks malformed input.
	ErrInvalid = errors.New("invalid input")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events audit.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: audit.Writer{},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) writer() audit.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

var unreviewedStates = []domain.EventState{domain.StateAutoDetected, domain.StatePendingReview}

// ListUnreviewed returns the claimable events, oldest first.
func (e Engine) ListUnreviewed(ctx context.Context) ([]domain.UnreviewedEvent, error) {
	events, err := e.Repo.ListEvents(ctx, repo.EventFilters{States: unreviewedStates})
	if err != nil {
		return nil, err
	}
	res := make([]domain.UnreviewedEvent, 0, len(events))
	for _, ev := range events {
		res = append(res, ev.Unreviewed())
	}
	return res, nil
}

// ListEvents returns full records, optionally narrowed to one state.
func (e Engine) ListEvents(ctx context.Context, state string) ([]domain.SeismicEvent, error) {
	var f repo.EventFilters
	if state != "" {
		s, err := parseState(state)
		if err != nil {
			return nil, err
		}
		f.States = []domain.EventState{s}
	}
	events, err := e.Repo.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []domain.SeismicEvent{}
	}
	return events, nil
}

// Stats counts events per state, including states with no events.
func (e Engine) Stats(ctx context.Context) (map[domain.EventState]int, error) {
	counts, err := e.Repo.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range domain.KnownStates {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}
	return counts, nil
}

// RecordedData returns the classification recorded for an event.
func (e Engine) RecordedData(ctx context.Context, id int64) (domain.RecordedClassification, error) {
	ev, err := e.Repo.GetEvent(ctx, id)
	if err != nil {
		return domain.RecordedClassification{}, err
	}
	rc := domain.RecordedClassification{
		Classification: deref(ev.Classification),
		Origin:         deref(ev.Origin),
		Reach:          deref(ev.Reach),
	}
	switch {
	case ev.RichterDescription != nil && ev.RichterValue != nil:
		rc.RichterClassification = fmt.Sprintf("%.1f (%s)", *ev.RichterValue, *ev.RichterDescription)
	case ev.RichterDescription != nil:
		rc.RichterClassification = *ev.RichterDescription
	case ev.RichterValue != nil:
		rc.RichterClassification = fmt.Sprintf("%.1f", *ev.RichterValue)
	}
	return rc, nil
}

// Seismograms returns the per-station waveform sets of an event.
func (e Engine) Seismograms(ctx context.Context, id int64) ([]domain.StationWaveformSet, error) {
	if _, err := e.Repo.GetEvent(ctx, id); err != nil {
		return nil, err
	}
	return e.Repo.ListWaveforms(ctx, id)
}

// History returns the recorded state changes of an event.
func (e Engine) History(ctx context.Context, id int64) ([]repo.StateChange, error) {
	if _, err := e.Repo.GetEvent(ctx, id); err != nil {
		return nil, err
	}
	changes, err := e.Repo.ListStateChanges(ctx, id)
	if err != nil {
		return nil, err
	}
	if changes == nil {
		changes = []repo.StateChange{}
	}
	return changes, nil
}

// ClaimEvent blocks an unreviewed event for operatorID. The state guard in
// the update is the fence: of two concurrent claims only one matches.
func (e Engine) ClaimEvent(ctx context.Context, id int64, operatorID string) (domain.SeismicEvent, error) {
	if strings.TrimSpace(operatorID) == "" {
		return domain.SeismicEvent{}, fmt.Errorf("operator is required: %w", ErrInvalid)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SeismicEvent{}, err
	}
	defer tx.Rollback()

	ev, err := e.Repo.GetEventTx(ctx, tx, id)
	if err != nil {
		return domain.SeismicEvent{}, err
	}
	at := e.stamp()
	ok, err := e.Repo.TransitionTx(ctx, tx, id, unreviewedStates, domain.StateBlockedInReview, &operatorID, at)
	if err != nil {
		return domain.SeismicEvent{}, err
	}
	if !ok {
		return domain.SeismicEvent{}, fmt.Errorf("claim event %d in state %s: %w", id, ev.State, ErrNotClaimable)
	}
	if err := e.Repo.InsertStateChangeTx(ctx, tx, id, ev.State, domain.StateBlockedInReview, operatorID, at); err != nil {
		return domain.SeismicEvent{}, err
	}
	if err := e.writer().Append(ctx, tx, audit.TypeEventClaimed, id, operatorID, audit.Payload{"from": string(ev.State)}); err != nil {
		return domain.SeismicEvent{}, err
	}
	ev, err = e.Repo.GetEventTx(ctx, tx, id)
	if err != nil {
		return domain.SeismicEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SeismicEvent{}, err
	}
	return ev, nil
}

// RejectEvent moves an event blocked by operatorID to rejected.
func (e Engine) RejectEvent(ctx context.Context, id int64, operatorID string) (domain.SeismicEvent, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SeismicEvent{}, err
	}
	defer tx.Rollback()

	ev, err := e.Repo.GetEventTx(ctx, tx, id)
	if err != nil {
		return domain.SeismicEvent{}, err
	}
	if ev.State != domain.StateBlockedInReview || ev.ReviewerID == nil || *ev.ReviewerID != operatorID {
		return domain.SeismicEvent{}, fmt.Errorf("reject event %d: %w", id, ErrNotHolder)
	}
	at := e.stamp()
	ok, err := e.Repo.TransitionTx(ctx, tx, id, []domain.EventState{domain.StateBlockedInReview}, domain.StateRejected, &operatorID, at)
	if err != nil {
		return domain.SeismicEvent{}, err
	}
	if !ok {
		return domain.SeismicEvent{}, fmt.Errorf("reject event %d: %w", id, ErrNotHolder)
	}
	if err := e.Repo.InsertStateChangeTx(ctx, tx, id, domain.StateBlockedInReview, domain.StateRejected, operatorID, at); err != nil {
		return domain.SeismicEvent{}, err
	}
	if err := e.writer().Append(ctx, tx, audit.TypeEventRejected, id, operatorID, nil); err != nil {
		return domain.SeismicEvent{}, err
	}
	ev, err = e.Repo.GetEventTx(ctx, tx, id)
	if err != nil {
		return domain.SeismicEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SeismicEvent{}, err
	}
	return ev, nil
}

// Audit returns a page of the audit log after the given id.
func (e Engine) Audit(ctx context.Context, after int64, limit int) ([]domain.AuditEntry, error) {
	entries, err := e.Repo.AuditAfter(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return entries, nil
}

func parseState(v string) (domain.EventState, error) {
	for _, s := range domain.KnownStates {
		if string(s) == v {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown event state %q: %w", v, ErrInvalid)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
