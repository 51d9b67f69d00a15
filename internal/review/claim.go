package review

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"seisreview/internal/domain"
)

// ClaimOutcome is either Claimed (Session set) or Unavailable (Reason set).
type ClaimOutcome struct {
	Event   domain.UnreviewedEvent
	Session *Session
	Reason  error
}

func (o ClaimOutcome) Claimed() bool { return o.Session != nil }

// Controller claims events for one operator and owns at most one live session.
type Controller struct {
	Service Service
	Logger  *slog.Logger
	Now     func() time.Time

	mu       sync.Mutex
	selected *domain.UnreviewedEvent
	active   *Session
	claiming bool
}

func NewController(svc Service, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{Service: svc, Logger: logger, Now: time.Now}
}

// Select records the operator's list selection.
func (c *Controller) Select(ev domain.UnreviewedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = &ev
}

// Deselect clears the selection without claiming.
func (c *Controller) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = nil
}

func (c *Controller) Selected() (domain.UnreviewedEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return domain.UnreviewedEvent{}, false
	}
	return *c.selected, true
}

// AttemptClaim asks the service for the exclusive claim. On success a new
// session seeded with ev becomes the active one; on failure no session is
// created and the selection is cleared.
func (c *Controller) AttemptClaim(ctx context.Context, ev domain.UnreviewedEvent) ClaimOutcome {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ClaimOutcome{Event: ev, Reason: ErrSessionActive}
	}
	if c.claiming {
		c.mu.Unlock()
		return ClaimOutcome{Event: ev, Reason: ErrBusy}
	}
	c.claiming = true
	c.selected = &ev
	c.mu.Unlock()

	err := c.Service.ClaimEvent(ctx, ev.ID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.claiming = false
	if err != nil {
		c.selected = nil
		c.Logger.Warn("claim refused", "event_id", ev.ID, "error", err)
		return ClaimOutcome{Event: ev, Reason: fmt.Errorf("event %d unavailable: %w", ev.ID, err)}
	}
	s := newSession(ev, c.Service, c.Logger, c.Now)
	c.active = s
	c.Logger.Info("event claimed", "event_id", ev.ID, "session_id", s.ID)
	return ClaimOutcome{Event: ev, Session: s}
}

// Active returns the live session, or nil.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Release discards the active session and clears the selection. It refuses
// while the session has a call in flight.
func (c *Controller) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		c.selected = nil
		return nil
	}
	if c.active.Busy() {
		return ErrBusy
	}
	c.Logger.Debug("review session released", "session_id", c.active.ID, "step", c.active.Step().String())
	c.active = nil
	c.selected = nil
	return nil
}
