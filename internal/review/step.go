package review

import "sort"

// Step is the position of a review session in its step graph.
type Step int

const (
	StepLoading Step = iota
	StepShowData
	StepShowSeismograms
	StepAskMap
	StepAskModify
	StepAskAction
	StepResolved
	StepError
)

func (s Step) String() string {
	switch s {
	case StepLoading:
		return "loading"
	case StepShowData:
		return "show-data"
	case StepShowSeismograms:
		return "show-seismograms"
	case StepAskMap:
		return "ask-map"
	case StepAskModify:
		return "ask-modify"
	case StepAskAction:
		return "ask-action"
	case StepResolved:
		return "resolved"
	case StepError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether only acknowledgment remains.
func (s Step) Terminal() bool {
	return s == StepResolved || s == StepError
}

// Interactive reports whether the step consumes operator input.
func (s Step) Interactive() bool {
	return s != StepLoading
}

// Accepts returns the actions the step's transition rules handle, in a stable order.
func (s Step) Accepts() []Action {
	rules := transitions[s]
	if len(rules) == 0 {
		return nil
	}
	out := make([]Action, 0, len(rules))
	for a := range rules {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Action is an operator intent delivered to a session.
type Action int

const (
	ActionAcknowledge Action = iota + 1
	ActionDecline
	ActionRequest
	ActionReject
	ActionConfirmEvent
	ActionEscalate
	// ActionConfirm and ActionCancel answer an open confirmation.
	ActionConfirm
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionAcknowledge:
		return "acknowledge"
	case ActionDecline:
		return "decline"
	case ActionRequest:
		return "request"
	case ActionReject:
		return "reject"
	case ActionConfirmEvent:
		return "confirm-event"
	case ActionEscalate:
		return "escalate"
	case ActionConfirm:
		return "confirm"
	case ActionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

type effect int

const (
	effectNone effect = iota
	// effectDisabled reports a capability that is not built; the step is unchanged.
	effectDisabled
	effectOpenReject
	effectClose
)

type rule struct {
	next   Step
	effect effect
	notice string
}

// Loading has no rules: it only leaves through Load.
// Reject confirmation is handled by the open Confirmation, not by this table.
var transitions = map[Step]map[Action]rule{
	StepShowData: {
		ActionAcknowledge: {next: StepShowSeismograms},
	},
	StepShowSeismograms: {
		ActionAcknowledge: {next: StepAskMap},
	},
	StepAskMap: {
		ActionDecline: {next: StepAskModify},
		ActionRequest: {next: StepAskMap, effect: effectDisabled, notice: "map view is not available yet"},
	},
	StepAskModify: {
		ActionDecline: {next: StepAskAction},
		ActionRequest: {next: StepAskModify, effect: effectDisabled, notice: "data modification is not available yet"},
	},
	StepAskAction: {
		ActionReject:       {next: StepAskAction, effect: effectOpenReject},
		ActionConfirmEvent: {next: StepAskAction, effect: effectDisabled, notice: "confirming events is not available yet"},
		ActionEscalate:     {next: StepAskAction, effect: effectDisabled, notice: "escalating to an expert is not available yet"},
	},
	StepResolved: {
		ActionAcknowledge: {next: StepResolved, effect: effectClose},
	},
	StepError: {
		ActionAcknowledge: {next: StepError, effect: effectClose},
	},
}

func transition(s Step, a Action) (rule, bool) {
	r, ok := transitions[s][a]
	return r, ok
}
