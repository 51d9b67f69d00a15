// Package console runs the operator review loop over line-oriented input:
// list unreviewed events, confirm the block, then drive the claimed session
// step by step.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"seisreview/internal/domain"
	"seisreview/internal/review"
)

// Console is one operator terminal.
type Console struct {
	Controller *review.Controller
	Dispatcher *review.Dispatcher
	Keys       review.Keymap
	Renderer   review.WaveformRenderer
	Log        *slog.Logger

	svc review.Service
	in  *bufio.Scanner
	out io.Writer
}

func New(svc review.Service, in io.Reader, out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	keys := review.DefaultKeymap()
	return &Console{
		Controller: review.NewController(svc, logger),
		Dispatcher: review.NewDispatcher(keys),
		Keys:       keys,
		Renderer:   TableRenderer{},
		Log:        logger,
		svc:        svc,
		in:         bufio.NewScanner(in),
		out:        out,
	}
}

var errQuit = errors.New("quit")

// Run loops until the operator quits or input ends.
func (c *Console) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		events, err := c.svc.ListUnreviewedEvents(ctx)
		if err != nil {
			c.printf("Could not load events: %v\n", err)
			events = nil
		}
		ev, err := c.choose(events)
		if errors.Is(err, errQuit) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		sess, err := c.claim(ctx, *ev)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if sess == nil {
			continue
		}
		if err := c.review(ctx, sess); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// choose renders the list and reads one selection. A nil event with nil
// error means reload.
func (c *Console) choose(events []domain.UnreviewedEvent) (*domain.UnreviewedEvent, error) {
	if len(events) == 0 {
		c.printf("\nNo events awaiting review.\n")
	} else {
		c.printf("\nEvents awaiting review\n")
		renderEvents(c.out, events)
	}
	c.printf("Select an event by # or id:<id>, [enter] reload, [q] quit: ")
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(line) {
	case "":
		return nil, nil
	case "q", "quit":
		return nil, errQuit
	}
	ev, ok := pick(events, line)
	if !ok {
		c.printf("No event matches %q.\n", line)
		return nil, nil
	}
	return &ev, nil
}

func pick(events []domain.UnreviewedEvent, sel string) (domain.UnreviewedEvent, bool) {
	if rest, ok := strings.CutPrefix(strings.ToLower(sel), "id:"); ok {
		id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			return domain.UnreviewedEvent{}, false
		}
		for _, ev := range events {
			if ev.ID == id {
				return ev, true
			}
		}
		return domain.UnreviewedEvent{}, false
	}
	n, err := strconv.Atoi(sel)
	if err != nil || n < 1 || n > len(events) {
		return domain.UnreviewedEvent{}, false
	}
	return events[n-1], true
}

// claim asks the operator to confirm the block and attempts it. A nil
// session with nil error means the operator is back at the list.
func (c *Console) claim(ctx context.Context, ev domain.UnreviewedEvent) (*review.Session, error) {
	c.Controller.Select(ev)
	var outcome review.ClaimOutcome
	prompt := review.NewConfirmation(
		"Block event",
		fmt.Sprintf("Block seismic event #%d (M%s, %s) for your review?\nOther operators will not be able to take it.", ev.ID, num(ev.Magnitude), ev.OccurredAt),
		func(ctx context.Context) error {
			outcome = c.Controller.AttemptClaim(ctx, ev)
			return outcome.Reason
		},
	)
	prompt.ConfirmLabel = "Block"
	for {
		c.printPrompt(prompt)
		line, err := c.readLine()
		if err != nil {
			c.Controller.Deselect()
			return nil, err
		}
		a, ok := c.Keys.Lookup(review.StepLoading, true, keyOf(line))
		if !ok {
			continue
		}
		if err := prompt.Resolve(ctx, a == review.ActionConfirm); err != nil {
			c.printf("%v\nBack to the list.\n", err)
			return nil, nil
		}
		if a == review.ActionCancel {
			c.Controller.Deselect()
			return nil, nil
		}
		return outcome.Session, nil
	}
}

func (c *Console) review(ctx context.Context, sess *review.Session) error {
	c.printf("Loading event #%d...\n", sess.Event.ID)
	if err := sess.Load(ctx); err != nil {
		return err
	}
	release := c.Dispatcher.Bind(sess)
	defer release()

	c.show(sess)
	for {
		line, err := c.readLine()
		if err != nil {
			// Input closed mid-review: abandon the session.
			if relErr := c.Controller.Release(); relErr != nil {
				c.Log.Warn("abandon session", "session_id", sess.ID, "err", relErr)
			}
			return err
		}
		out, delivered, err := c.Dispatcher.Dispatch(ctx, line)
		if err != nil {
			c.Log.Debug("input refused", "session_id", sess.ID, "key", line, "err", err)
		}
		if !delivered {
			c.printf("Use one of: %s\n", strings.Join(c.hints(sess), ", "))
			continue
		}
		if out.Notice != "" {
			c.printf("%s\n", out.Notice)
		}
		if out.Done {
			if err := c.Controller.Release(); err != nil {
				return err
			}
			return nil
		}
		c.show(sess)
	}
}

func (c *Console) show(sess *review.Session) {
	if p := sess.Prompt(); p != nil {
		c.printPrompt(p)
		return
	}
	switch sess.Step() {
	case review.StepShowData:
		rc, _ := sess.Classification()
		renderClassification(c.out, sess.Event, rc)
		c.printf("[enter] continue to seismograms\n")
	case review.StepShowSeismograms:
		c.printf("Seismograms for event #%d\n", sess.Event.ID)
		if err := c.Renderer.Render(c.out, sess.Waveforms()); err != nil {
			c.printf("Could not render seismograms: %v\n", err)
		}
		c.printf("[enter] continue\n")
	case review.StepAskMap:
		c.printf("View the epicenter on a map? %s\n", c.options(sess))
	case review.StepAskModify:
		c.printf("Modify the recorded data? %s\n", c.options(sess))
	case review.StepAskAction:
		c.printf("Choose an action for event #%d: %s\n", sess.Event.ID, c.options(sess))
	case review.StepResolved:
		res, _ := sess.Resolution()
		c.printf("Event #%d %s at %s.\n[enter] back to the list\n", res.EventID, res.Outcome, res.ResolvedAt)
	case review.StepError:
		c.printf("Error: %s\n[enter] back to the list\n", sess.Err())
	}
}

var actionLabels = map[review.Step]map[review.Action]string{
	review.StepAskMap:    {review.ActionRequest: "show map (not available)", review.ActionDecline: "no"},
	review.StepAskModify: {review.ActionRequest: "modify (not available)", review.ActionDecline: "no"},
	review.StepAskAction: {
		review.ActionReject:       "reject event",
		review.ActionConfirmEvent: "confirm event (not available)",
		review.ActionEscalate:     "escalate to expert (not available)",
	},
}

func (c *Console) options(sess *review.Session) string {
	step := sess.Step()
	var parts []string
	for _, a := range step.Accepts() {
		keys := c.Keys.KeysFor(step, false, a)
		if len(keys) == 0 {
			continue
		}
		label := actionLabels[step][a]
		if label == "" {
			label = a.String()
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", strings.Join(keys, "/"), label))
	}
	return strings.Join(parts, "  ")
}

func (c *Console) hints(sess *review.Session) []string {
	prompt := sess.Prompt() != nil
	var out []string
	for _, a := range sess.Accepts() {
		keys := c.Keys.KeysFor(sess.Step(), prompt, a)
		if len(keys) > 0 {
			out = append(out, fmt.Sprintf("%s (%s)", strings.Join(keys, "/"), a))
		}
	}
	if len(out) == 0 {
		out = append(out, "nothing right now")
	}
	return out
}

func (c *Console) printPrompt(p *review.Confirmation) {
	c.printf("\n== %s ==\n%s\n[y] %s  [n] %s\n", p.Title, p.Message, p.ConfirmLabel, p.CancelLabel)
}

func (c *Console) readLine() (string, error) {
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(c.in.Text()), nil
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func keyOf(line string) string {
	if line == "" {
		return review.KeyEnter
	}
	return line
}
