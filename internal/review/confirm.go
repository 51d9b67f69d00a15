package review

import (
	"context"
	"sync"
)

// Confirmation is a two-outcome prompt guarding an irreversible call.
// It is locked while the guarded call runs and cannot be dismissed then.
type Confirmation struct {
	Title        string
	Message      string
	ConfirmLabel string
	CancelLabel  string

	onConfirm func(context.Context) error

	mu     sync.Mutex
	locked bool
	closed bool
}

func NewConfirmation(title, message string, onConfirm func(context.Context) error) *Confirmation {
	return &Confirmation{
		Title:        title,
		Message:      message,
		ConfirmLabel: "Confirm",
		CancelLabel:  "Cancel",
		onConfirm:    onConfirm,
	}
}

// Locked reports whether the guarded call is in flight.
func (c *Confirmation) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// Closed reports whether the prompt has been answered.
func (c *Confirmation) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Accepts returns the answers the prompt takes right now.
func (c *Confirmation) Accepts() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked || c.closed {
		return nil
	}
	return []Action{ActionConfirm, ActionCancel}
}

// Resolve answers the prompt. Confirming runs the guarded call and returns its error.
func (c *Confirmation) Resolve(ctx context.Context, confirmed bool) error {
	c.mu.Lock()
	if c.locked {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.closed {
		c.mu.Unlock()
		return ErrNotAccepted
	}
	if !confirmed || c.onConfirm == nil {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.locked = true
	c.mu.Unlock()

	err := c.onConfirm(ctx)

	c.mu.Lock()
	c.locked = false
	c.closed = true
	c.mu.Unlock()
	return err
}
