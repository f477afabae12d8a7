package engine

import (
	"fmt"
	"strings"
)

// OperationStatus represents the status of a remote asynchronous operation.
type OperationStatus string

const (
	// OperationPending indicates the operation is accepted but not started.
	OperationPending OperationStatus = "pending"

	// OperationRunning indicates the operation is executing.
	OperationRunning OperationStatus = "running"

	// OperationCompleted indicates the operation finished successfully.
	OperationCompleted OperationStatus = "completed"

	// OperationFailed indicates the operation finished with an error.
	OperationFailed OperationStatus = "failed"
)

// IsTerminal returns true if the status is completed or failed.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationCompleted || s == OperationFailed
}

// Validate checks if the operation status is valid.
func (s OperationStatus) Validate() error {
	switch s {
	case OperationPending, OperationRunning, OperationCompleted, OperationFailed:
		return nil
	default:
		return fmt.Errorf("invalid operation status: %s", s)
	}
}

// ParseOperationStatus maps a remote status string onto an OperationStatus.
// The remote service reports "queued" for operations not yet picked up; that
// is folded into pending. Unknown values are treated as running so that the
// tracker keeps polling.
func ParseOperationStatus(s string) OperationStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending":
		return OperationPending
	case "completed":
		return OperationCompleted
	case "failed":
		return OperationFailed
	default:
		return OperationRunning
	}
}

// ReconciledState is the state of a catlet as seen by the orchestrator.
// It is always derived from a Summary and never stored.
type ReconciledState string

const (
	// StateAbsent indicates no catlet with the expected id or name exists.
	StateAbsent ReconciledState = "absent"

	// StateStopped indicates the catlet exists and is stopped.
	StateStopped ReconciledState = "created-stopped"

	// StateRunning indicates the catlet exists and is running.
	StateRunning ReconciledState = "created-running"

	// StateUnknown indicates the catlet exists but its status is pending or
	// not recognized.
	StateUnknown ReconciledState = "created-unknown"

	// StateError indicates the catlet exists and reports an error status.
	StateError ReconciledState = "created-error"
)

// AllStates lists every reconciled state.
var AllStates = []ReconciledState{StateAbsent, StateStopped, StateRunning, StateUnknown, StateError}

// IsCreated returns true for every state except absent.
func (s ReconciledState) IsCreated() bool {
	return s != StateAbsent && s != ""
}

// MapStatus maps a remote catlet status string to a reconciled state of a
// catlet that exists. Matching is case-insensitive and the mapping is total.
func MapStatus(status string) ReconciledState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "running":
		return StateRunning
	case "stopped":
		return StateStopped
	case "error":
		return StateError
	default:
		return StateUnknown
	}
}

// StopMode selects how a running catlet is stopped.
type StopMode string

const (
	// StopGraceful asks the guest to shut down.
	StopGraceful StopMode = "graceful"

	// StopHard powers the catlet off.
	StopHard StopMode = "hard"

	// StopKill terminates the catlet's worker process.
	StopKill StopMode = "kill"
)

// Validate checks if the stop mode is valid.
func (m StopMode) Validate() error {
	switch m {
	case StopGraceful, StopHard, StopKill:
		return nil
	default:
		return fmt.Errorf("invalid stop mode: %s", m)
	}
}

// RemoteName returns the stop mode as named by the compute API.
func (m StopMode) RemoteName() string {
	switch m {
	case StopHard:
		return "Hard"
	case StopKill:
		return "Kill"
	default:
		return "Shutdown"
	}
}

// Action is a lifecycle action requested by the caller.
type Action string

const (
	ActionUp        Action = "up"
	ActionHalt      Action = "halt"
	ActionDestroy   Action = "destroy"
	ActionReload    Action = "reload"
	ActionResume    Action = "resume"
	ActionProvision Action = "provision"
)

// AllActions lists every supported action.
var AllActions = []Action{ActionUp, ActionHalt, ActionDestroy, ActionReload, ActionResume, ActionProvision}

// Validate checks if the action is supported.
func (a Action) Validate() error {
	for _, known := range AllActions {
		if a == known {
			return nil
		}
	}
	return fmt.Errorf("invalid action: %s", a)
}
