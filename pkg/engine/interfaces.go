package engine

import (
	"context"
	"time"
)

// ComputeAPI is the remote compute service the orchestrator drives.
// Submit calls return the id of the asynchronous operation they started.
// Implementations return errors wrapping ErrNotFound for missing catlets or
// operations, and classified *Error values for everything else.
type ComputeAPI interface {
	// SubmitCreate starts creation of a catlet from a resolved request.
	SubmitCreate(ctx context.Context, req *CreateRequest) (string, error)

	// SubmitStart starts a catlet.
	SubmitStart(ctx context.Context, catletID string) (string, error)

	// SubmitStop stops a catlet using the given mode.
	SubmitStop(ctx context.Context, catletID string, mode StopMode) (string, error)

	// SubmitDestroy removes a catlet.
	SubmitDestroy(ctx context.Context, catletID string) (string, error)

	// GetCatlet returns the catlet summary, or Absent if it does not exist.
	GetCatlet(ctx context.Context, catletID string) (Summary, error)

	// ListCatlets returns all catlets visible to the caller.
	ListCatlets(ctx context.Context) ([]CatletStatus, error)

	// GetOperation returns an operation snapshot. Log entries older than
	// logsSince are omitted; a zero time returns all of them.
	GetOperation(ctx context.Context, operationID string, logsSince time.Time) (*Operation, error)

	// ValidateSpec asks the remote service to validate a request.
	ValidateSpec(ctx context.Context, req *CreateRequest) (*ValidationResult, error)
}

// ValidationResult is the remote verdict on a creation request.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationIssue
}

// ValidationIssue is one problem reported by remote validation.
type ValidationIssue struct {
	Member  string
	Message string
}

// Project is a remote project.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NetworkConfig is the virtual network configuration document of a
// project: the "project" name plus networks, subnets and ip pools as the
// compute service defines them.
type NetworkConfig map[string]any

// ProjectAPI manages projects on the compute service.
type ProjectAPI interface {
	// ListProjects returns all projects visible to the client.
	ListProjects(ctx context.Context) ([]Project, error)

	// GetProject returns the named project, or an error wrapping ErrNotFound.
	GetProject(ctx context.Context, name string) (*Project, error)

	// SubmitCreateProject starts creation of a project.
	SubmitCreateProject(ctx context.Context, name string) (string, error)

	// SubmitDeleteProject starts removal of a project and all its catlets.
	SubmitDeleteProject(ctx context.Context, projectID string) (string, error)
}

// NetworkAPI reads and replaces the virtual network configuration of a
// project.
type NetworkAPI interface {
	// GetNetworkConfig returns the configuration; nil when none is set.
	GetNetworkConfig(ctx context.Context, projectID string) (NetworkConfig, error)

	// SubmitSetNetworkConfig starts replacing the configuration.
	SubmitSetNetworkConfig(ctx context.Context, projectID string, cfg NetworkConfig) (string, error)
}

// Provisioner runs post-boot configuration on a running catlet.
type Provisioner interface {
	Provision(ctx context.Context, info *ConnectionInfo) error
}

// Communicator reports whether a running catlet accepts connections.
type Communicator interface {
	Ready(ctx context.Context, info *ConnectionInfo) (bool, error)
}

// PreDestroyHook runs before a running catlet is destroyed.
type PreDestroyHook func(ctx context.Context, target *Target, info *ConnectionInfo) error

// OperationJournal records tracked operations. Failures to record are logged
// and never fail the reconcile.
type OperationJournal interface {
	RecordOperation(ctx context.Context, rec JournalRecord) error
}

// JournalRecord describes one tracked operation.
type JournalRecord struct {
	OperationID string
	CatletName  string
	CatletID    string
	Action      Action
	Step        Step
	Status      OperationStatus
	Message     string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// SummaryStore is the storage behind a StatusCache. It is always accessed
// under the cache's lock, so implementations need no synchronization.
type SummaryStore interface {
	Get(id string) (CatletStatus, bool)
	FindByName(name string) (CatletStatus, bool)
	Put(c CatletStatus)
	Delete(id string)
	Clear()
}
