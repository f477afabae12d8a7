package compute

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/catletctl/pkg/engine"
)

// SubmitCreate starts creation of a catlet.
func (c *Client) SubmitCreate(ctx context.Context, req *engine.CreateRequest) (string, error) {
	return c.submit(ctx, request{
		call:   "create_catlet",
		method: http.MethodPost,
		path:   "/v1/catlets",
		body:   newConfigRequest(req),
		attrs:  []attribute.KeyValue{attribute.String("catlet.name", req.Spec.Name)},
	})
}

// SubmitStart starts a catlet.
func (c *Client) SubmitStart(ctx context.Context, catletID string) (string, error) {
	return c.submit(ctx, request{
		call:   "start_catlet",
		method: http.MethodPut,
		path:   "/v1/catlets/" + url.PathEscape(catletID) + "/start",
		attrs:  catletAttrs(catletID),
	})
}

// SubmitStop stops a catlet.
func (c *Client) SubmitStop(ctx context.Context, catletID string, mode engine.StopMode) (string, error) {
	if err := mode.Validate(); err != nil {
		return "", engine.NewConfigurationError("invalid stop mode", err).WithCatlet(catletID)
	}
	return c.submit(ctx, request{
		call:   "stop_catlet",
		method: http.MethodPut,
		path:   "/v1/catlets/" + url.PathEscape(catletID) + "/stop",
		body:   stopRequest{Mode: mode.RemoteName()},
		attrs:  catletAttrs(catletID),
	})
}

// SubmitDestroy removes a catlet.
func (c *Client) SubmitDestroy(ctx context.Context, catletID string) (string, error) {
	return c.submit(ctx, request{
		call:   "delete_catlet",
		method: http.MethodDelete,
		path:   "/v1/catlets/" + url.PathEscape(catletID),
		attrs:  catletAttrs(catletID),
	})
}

// GetCatlet returns the catlet summary, or engine.Absent on 404.
func (c *Client) GetCatlet(ctx context.Context, catletID string) (engine.Summary, error) {
	var w wireCatlet
	err := c.do(ctx, request{
		call:   "get_catlet",
		method: http.MethodGet,
		path:   "/v1/catlets/" + url.PathEscape(catletID),
		attrs:  catletAttrs(catletID),
	}, &w)
	if errors.Is(err, engine.ErrNotFound) {
		return engine.Absent, nil
	}
	if err != nil {
		return engine.Absent, err
	}
	return engine.Found(w.status()), nil
}

// ListCatlets returns every catlet visible to the client.
func (c *Client) ListCatlets(ctx context.Context) ([]engine.CatletStatus, error) {
	var resp listResponse[wireCatlet]
	if err := c.do(ctx, request{call: "list_catlets", method: http.MethodGet, path: "/v1/catlets"}, &resp); err != nil {
		return nil, err
	}

	out := make([]engine.CatletStatus, 0, len(resp.Value))
	for _, w := range resp.Value {
		out = append(out, w.status())
	}
	return out, nil
}

// GetOperation returns an operation snapshot with tasks, resources and the
// log entries newer than logsSince.
func (c *Client) GetOperation(ctx context.Context, operationID string, logsSince time.Time) (*engine.Operation, error) {
	query := url.Values{"expand": {"logs,tasks,resources"}}
	if !logsSince.IsZero() {
		query.Set("log_time_stamp", logsSince.UTC().Format(time.RFC3339Nano))
	}

	var w wireOperation
	err := c.do(ctx, request{
		call:   "get_operation",
		method: http.MethodGet,
		path:   "/v1/operations/" + url.PathEscape(operationID),
		query:  query,
		attrs:  []attribute.KeyValue{attribute.String("operation.id", operationID)},
	}, &w)
	if err != nil {
		return nil, err
	}
	if w.ID == "" {
		w.ID = operationID
	}
	return w.operation(), nil
}

// ValidateSpec asks the compute service to validate a creation request.
func (c *Client) ValidateSpec(ctx context.Context, req *engine.CreateRequest) (*engine.ValidationResult, error) {
	var resp validationResponse
	err := c.do(ctx, request{
		call:   "validate_catlet",
		method: http.MethodPost,
		path:   "/v1/catlets/config/validate",
		body:   newConfigRequest(req),
		attrs:  []attribute.KeyValue{attribute.String("catlet.name", req.Spec.Name)},
	}, &resp)
	if err != nil {
		return nil, err
	}

	result := &engine.ValidationResult{Valid: resp.IsValid}
	for _, e := range resp.Errors {
		result.Errors = append(result.Errors, engine.ValidationIssue{Member: e.Member, Message: e.Message})
	}
	return result, nil
}

// submit runs req and returns the id of the operation it started.
func (c *Client) submit(ctx context.Context, req request) (string, error) {
	var op wireOperation
	if err := c.do(ctx, req, &op); err != nil {
		return "", err
	}
	if op.ID == "" {
		return "", engine.NewConnectionError(req.method+" "+req.path+" returned no operation", nil)
	}
	return op.ID, nil
}

func catletAttrs(id string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("catlet.id", id)}
}
