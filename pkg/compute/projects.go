package compute

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/catletctl/pkg/engine"
)

// ListProjects returns all projects visible to the client.
func (c *Client) ListProjects(ctx context.Context) ([]engine.Project, error) {
	var resp listResponse[wireProject]
	err := c.do(ctx, request{
		call:   "list_projects",
		method: http.MethodGet,
		path:   "/v1/projects",
	}, &resp)
	if err != nil {
		return nil, err
	}

	projects := make([]engine.Project, 0, len(resp.Value))
	for _, p := range resp.Value {
		projects = append(projects, engine.Project{ID: p.ID, Name: p.Name})
	}
	return projects, nil
}

// GetProject returns the project with the given name.
func (c *Client) GetProject(ctx context.Context, name string) (*engine.Project, error) {
	projects, err := c.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range projects {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("project %s: %w", name, engine.ErrNotFound)
}

// SubmitCreateProject starts creation of a project.
func (c *Client) SubmitCreateProject(ctx context.Context, name string) (string, error) {
	return c.submit(ctx, request{
		call:   "create_project",
		method: http.MethodPost,
		path:   "/v1/projects",
		body:   newProjectRequest{Name: name},
		attrs:  []attribute.KeyValue{attribute.String("project.name", name)},
	})
}

// SubmitDeleteProject starts removal of a project.
func (c *Client) SubmitDeleteProject(ctx context.Context, projectID string) (string, error) {
	return c.submit(ctx, request{
		call:   "delete_project",
		method: http.MethodDelete,
		path:   "/v1/projects/" + url.PathEscape(projectID),
		attrs:  projectAttrs(projectID),
	})
}

// GetNetworkConfig returns the virtual network configuration of a project.
func (c *Client) GetNetworkConfig(ctx context.Context, projectID string) (engine.NetworkConfig, error) {
	var resp networkConfigDocument
	err := c.do(ctx, request{
		call:   "get_network_config",
		method: http.MethodGet,
		path:   "/v1/vnetworks/" + url.PathEscape(projectID) + "/config",
		attrs:  projectAttrs(projectID),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Configuration) == 0 {
		return nil, nil
	}
	return resp.Configuration, nil
}

// SubmitSetNetworkConfig starts replacing the virtual network configuration
// of a project.
func (c *Client) SubmitSetNetworkConfig(ctx context.Context, projectID string, cfg engine.NetworkConfig) (string, error) {
	return c.submit(ctx, request{
		call:   "set_network_config",
		method: http.MethodPut,
		path:   "/v1/vnetworks/" + url.PathEscape(projectID) + "/config",
		body:   networkConfigDocument{Configuration: cfg},
		attrs:  projectAttrs(projectID),
	})
}

func projectAttrs(id string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("project.id", id)}
}
