package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// ChangeOptions control project and network changes.
type ChangeOptions struct {
	// NoWait returns once the operation is accepted.
	NoWait bool
	// Force imports a network configuration exported from another project.
	Force bool
}

// Change describes a submitted project or network change.
type Change struct {
	Project     Project
	OperationID string
	// Result is nil when the change was not waited for.
	Result *OperationResult
}

// ProjectManager manages projects and their virtual network configuration,
// tracking every remote operation to completion.
type ProjectManager struct {
	projects ProjectAPI
	networks NetworkAPI
	tracker  *Tracker
	events   chan<- ProgressEvent
}

// NewProjectManager creates a manager. networks may be nil when network
// configuration is not needed.
func NewProjectManager(projects ProjectAPI, networks NetworkAPI, tracker *Tracker) *ProjectManager {
	return &ProjectManager{projects: projects, networks: networks, tracker: tracker}
}

// WithProgress routes operation progress events to events.
func (m *ProjectManager) WithProgress(events chan<- ProgressEvent) *ProjectManager {
	m.events = events
	return m
}

// List returns all projects ordered by name.
func (m *ProjectManager) List(ctx context.Context) ([]Project, error) {
	projects, err := m.projects.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// Get returns the named project. A missing project is a ConfigurationError.
func (m *ProjectManager) Get(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		return nil, NewConfigurationError("project name is required", nil)
	}
	p, err := m.projects.GetProject(ctx, name)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewConfigurationError(fmt.Sprintf("project %s does not exist", name), err)
		}
		return nil, err
	}
	return p, nil
}

// Create creates a project and waits for it. The id comes from the
// operation's project resource, or from a lookup by name when the
// operation reports none.
func (m *ProjectManager) Create(ctx context.Context, name string) (*Change, error) {
	if name == "" {
		return nil, NewConfigurationError("project name is required", nil)
	}
	if _, err := m.projects.GetProject(ctx, name); err == nil {
		return nil, NewConfigurationError(fmt.Sprintf("project %s already exists", name), nil)
	} else if !IsNotFound(err) {
		return nil, err
	}

	log.Info().Str("project", name).Msg("Creating project")
	operationID, err := m.projects.SubmitCreateProject(ctx, name)
	if err != nil {
		return nil, err
	}
	result, err := m.tracker.Wait(ctx, operationID, m.events)
	if err != nil {
		return nil, err
	}

	change := &Change{Project: Project{ID: result.ProjectID(), Name: name}, OperationID: operationID, Result: result}
	if change.Project.ID == "" {
		p, err := m.projects.GetProject(ctx, name)
		if err != nil {
			return nil, NewReconciliationError(fmt.Sprintf("created project %s could not be found", name), err).WithOperation(operationID)
		}
		change.Project.ID = p.ID
	}

	log.Info().
		Str("project", name).
		Str("project_id", change.Project.ID).
		Str("operation_id", operationID).
		Msg("Project created")
	return change, nil
}

// Remove deletes a project together with its catlets.
func (m *ProjectManager) Remove(ctx context.Context, name string, opts ChangeOptions) (*Change, error) {
	p, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	log.Info().Str("project", name).Str("project_id", p.ID).Msg("Removing project")
	operationID, err := m.projects.SubmitDeleteProject(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return m.finish(ctx, *p, operationID, opts)
}

// NetworkConfig returns the network configuration of the named project;
// nil when the project has none.
func (m *ProjectManager) NetworkConfig(ctx context.Context, name string) (*Project, NetworkConfig, error) {
	if m.networks == nil {
		return nil, nil, NewConfigurationError("network configuration is not supported by this client", nil)
	}
	p, err := m.Get(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := m.networks.GetNetworkConfig(ctx, p.ID)
	if err != nil {
		return p, nil, err
	}
	return p, cfg, nil
}

// SetNetworkConfig replaces the network configuration of the named
// project. A configuration naming another project is rejected unless
// opts.Force is set; the submitted document always names the target.
func (m *ProjectManager) SetNetworkConfig(ctx context.Context, name string, cfg NetworkConfig, opts ChangeOptions) (*Change, error) {
	if m.networks == nil {
		return nil, NewConfigurationError("network configuration is not supported by this client", nil)
	}
	if len(cfg) == 0 {
		return nil, NewConfigurationError("network configuration is empty", nil)
	}
	if from, ok := cfg["project"].(string); ok && from != "" && from != name && !opts.Force {
		return nil, NewConfigurationError(
			fmt.Sprintf("configuration was exported from project %s, not %s", from, name), nil).
			WithDetail("use --force to import it anyway")
	}

	p, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	doc := make(NetworkConfig, len(cfg)+1)
	for k, v := range cfg {
		doc[k] = v
	}
	doc["project"] = name

	log.Info().Str("project", name).Str("project_id", p.ID).Msg("Setting network configuration")
	operationID, err := m.networks.SubmitSetNetworkConfig(ctx, p.ID, doc)
	if err != nil {
		return nil, err
	}
	return m.finish(ctx, *p, operationID, opts)
}

func (m *ProjectManager) finish(ctx context.Context, p Project, operationID string, opts ChangeOptions) (*Change, error) {
	change := &Change{Project: p, OperationID: operationID}
	if opts.NoWait {
		return change, nil
	}
	result, err := m.tracker.Wait(ctx, operationID, m.events)
	if err != nil {
		return change, err
	}
	change.Result = result
	return change, nil
}
