package review

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Key names for non-printing keys.
const (
	KeyEnter  = "enter"
	KeyEscape = "esc"
)

// Keymap binds key symbols to actions per step, plus one scope for open confirmations.
type Keymap struct {
	Steps  map[Step]map[string]Action
	Prompt map[string]Action
}

func DefaultKeymap() Keymap {
	return Keymap{
		Steps: map[Step]map[string]Action{
			StepShowData:        {KeyEnter: ActionAcknowledge},
			StepShowSeismograms: {KeyEnter: ActionAcknowledge},
			StepAskMap:          {"n": ActionDecline, "N": ActionDecline, "m": ActionRequest, "M": ActionRequest},
			StepAskModify:       {"n": ActionDecline, "N": ActionDecline, "e": ActionRequest, "E": ActionRequest},
			StepAskAction: {
				"1": ActionReject, "r": ActionReject, "R": ActionReject,
				"2": ActionConfirmEvent,
				"3": ActionEscalate,
			},
			StepResolved: {KeyEnter: ActionAcknowledge},
			StepError:    {KeyEnter: ActionAcknowledge},
		},
		Prompt: map[string]Action{
			"y": ActionConfirm, "Y": ActionConfirm, KeyEnter: ActionConfirm,
			"n": ActionCancel, "N": ActionCancel, KeyEscape: ActionCancel,
		},
	}
}

// Lookup resolves a key in the given scope.
func (k Keymap) Lookup(step Step, prompt bool, key string) (Action, bool) {
	scope := k.Steps[step]
	if prompt {
		scope = k.Prompt
	}
	a, ok := scope[key]
	return a, ok
}

// KeysFor lists the keys bound to an action in a scope, sorted.
func (k Keymap) KeysFor(step Step, prompt bool, a Action) []string {
	scope := k.Steps[step]
	if prompt {
		scope = k.Prompt
	}
	var keys []string
	for key, bound := range scope {
		if bound == a {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Dispatcher routes keys to at most one bound session. A key is delivered only
// when it maps to an action the session accepts at that moment.
type Dispatcher struct {
	keys Keymap

	mu      sync.Mutex
	session *Session
	gen     uint64
}

func NewDispatcher(keys Keymap) *Dispatcher {
	return &Dispatcher{keys: keys}
}

// Bind routes input to s until the returned release func runs or s finishes.
// Binding replaces any previous binding.
func (d *Dispatcher) Bind(s *Session) (release func()) {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.session = s
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.gen == gen {
			d.session = nil
		}
	}
}

// Bound returns the session receiving input, or nil.
func (d *Dispatcher) Bound() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// Dispatch delivers key to the bound session. delivered is false when the key
// was dropped: nothing bound, session loading, busy or done, or the key is out
// of scope.
func (d *Dispatcher) Dispatch(ctx context.Context, key string) (out Outcome, delivered bool, err error) {
	d.mu.Lock()
	s := d.session
	d.mu.Unlock()
	if s == nil {
		return Outcome{}, false, nil
	}
	if s.Done() {
		d.unbind(s)
		return Outcome{}, false, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = KeyEnter
	}
	prompt := s.Prompt() != nil
	step := s.Step()
	if !step.Interactive() {
		return Outcome{From: step, To: step}, false, nil
	}
	a, ok := d.keys.Lookup(step, prompt, key)
	if !ok || !contains(s.Accepts(), a) {
		return Outcome{From: step, To: step}, false, nil
	}
	out, err = s.Handle(ctx, a)
	if out.Done {
		d.unbind(s)
	}
	return out, err == nil, err
}

func (d *Dispatcher) unbind(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == s {
		d.session = nil
	}
}

func contains(actions []Action, a Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
