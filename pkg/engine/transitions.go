package engine

import (
	"fmt"
)

// Step is one remote (or reporting) step of a lifecycle transition.
type Step string

const (
	StepCreate     Step = "create"
	StepStart      Step = "start"
	StepStop       Step = "stop"
	StepDestroy    Step = "destroy"
	StepProvision  Step = "provision"
	StepNotCreated Step = "report-not-created"
	StepNotRunning Step = "report-not-running"
)

// IsReport returns true for steps that only produce a message.
func (s Step) IsReport() bool {
	return s == StepNotCreated || s == StepNotRunning
}

// Transition is one row of the lifecycle transition table.
type Transition struct {
	Action Action
	From   ReconciledState
	Steps  []Step
}

var (
	stepsCreateStart = []Step{StepCreate, StepStart}
	stepsStart       = []Step{StepStart}
	stepsStop        = []Step{StepStop}
	stepsStopStart   = []Step{StepStop, StepStart}
	stepsDestroy     = []Step{StepDestroy}
	stepsProvision   = []Step{StepProvision}
	stepsNotCreated  = []Step{StepNotCreated}
	stepsNotRunning  = []Step{StepNotRunning}
	stepsNone        = []Step{}
)

// transitions is the complete table; every (action, state) pair has a row.
var transitions = map[Action]map[ReconciledState][]Step{
	ActionUp: {
		StateAbsent:  stepsCreateStart,
		StateStopped: stepsStart,
		StateRunning: stepsProvision,
		StateUnknown: stepsStart,
		StateError:   stepsStart,
	},
	ActionHalt: {
		StateAbsent:  stepsNotCreated,
		StateStopped: stepsNone,
		StateRunning: stepsStop,
		StateUnknown: stepsStop,
		StateError:   stepsStop,
	},
	ActionDestroy: {
		StateAbsent:  stepsNone,
		StateStopped: stepsDestroy,
		StateRunning: stepsDestroy,
		StateUnknown: stepsDestroy,
		StateError:   stepsDestroy,
	},
	ActionReload: {
		StateAbsent:  stepsNotCreated,
		StateStopped: stepsStart,
		StateRunning: stepsStopStart,
		StateUnknown: stepsStopStart,
		StateError:   stepsStopStart,
	},
	ActionResume: {
		StateAbsent:  stepsNotCreated,
		StateStopped: stepsStart,
		StateRunning: stepsNone,
		StateUnknown: stepsStart,
		StateError:   stepsStart,
	},
	ActionProvision: {
		StateAbsent:  stepsNotCreated,
		StateStopped: stepsNotRunning,
		StateRunning: stepsProvision,
		StateUnknown: stepsNotRunning,
		StateError:   stepsNotRunning,
	},
}

// Plan returns the ordered steps for action from state.
func Plan(action Action, state ReconciledState) ([]Step, error) {
	row, ok := transitions[action]
	if !ok {
		return nil, fmt.Errorf("invalid action: %s", action)
	}
	steps, ok := row[state]
	if !ok {
		return nil, fmt.Errorf("invalid state: %s", state)
	}
	return append([]Step(nil), steps...), nil
}

// Transitions returns every row of the table in action and state order.
func Transitions() []Transition {
	var out []Transition
	for _, action := range AllActions {
		for _, state := range AllStates {
			steps, _ := Plan(action, state)
			out = append(out, Transition{Action: action, From: state, Steps: steps})
		}
	}
	return out
}

// ExpectedState is the state a successful run of steps leaves a catlet in,
// starting from state.
func ExpectedState(state ReconciledState, steps []Step) ReconciledState {
	for _, s := range steps {
		switch s {
		case StepCreate:
			state = StateStopped
		case StepStart:
			state = StateRunning
		case StepStop:
			state = StateStopped
		case StepDestroy:
			state = StateAbsent
		}
	}
	return state
}
