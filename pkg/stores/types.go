package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/catletctl/pkg/engine"
)

// ErrNotFound is returned (wrapped) when a record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus represents the status of a command run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Run represents one invocation of a lifecycle command
type Run struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

// Machine maps a declared machine name to the catlet that backs it and
// the key pair generated for its bootstrap user.
type Machine struct {
	Name       string    `json:"name"`
	CatletID   string    `json:"catlet_id"`
	Project    string    `json:"project,omitempty"`
	PublicKey  string    `json:"public_key,omitempty"`
	PrivateKey string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OperationRecord is a journaled remote operation
type OperationRecord struct {
	ID          int64                  `json:"id"`
	RunID       *string                `json:"run_id,omitempty"`
	OperationID string                 `json:"operation_id"`
	CatletName  string                 `json:"catlet_name"`
	CatletID    string                 `json:"catlet_id,omitempty"`
	Action      engine.Action          `json:"action"`
	Step        engine.Step            `json:"step"`
	Status      engine.OperationStatus `json:"status"`
	Message     string                 `json:"message,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
}

// Duration returns how long the operation was tracked.
func (r *OperationRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// OperationFilter narrows ListOperations. Zero fields match everything.
type OperationFilter struct {
	CatletName string
	RunID      string
	Limit      int
	Offset     int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// Machine operations
	GetMachine(ctx context.Context, name string) (*Machine, error)
	SaveMachine(ctx context.Context, machine *Machine) error
	DeleteMachine(ctx context.Context, name string) error
	ListMachines(ctx context.Context) ([]*Machine, error)

	// Operation journal
	AppendOperation(ctx context.Context, rec *OperationRecord) error
	ListOperations(ctx context.Context, filter OperationFilter) ([]*OperationRecord, error)
	Journal(runID string) engine.OperationJournal

	// Utility
	HealthCheck(ctx context.Context) error
}
