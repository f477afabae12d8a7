package compute

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/openfroyo/catletctl/pkg/engine"
	"github.com/openfroyo/catletctl/pkg/telemetry"
)

// Config configures a Client.
type Config struct {
	// Endpoint is the base URL of the compute API, without the /v1 suffix.
	Endpoint string

	// TokenURL enables OAuth2 client credentials when set.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	InsecureSkipVerify bool

	// Timeout bounds each HTTP request. Zero means no limit.
	Timeout time.Duration

	// HTTPClient replaces the base HTTP client. The OAuth2 transport is
	// layered on top of it.
	HTTPClient *http.Client

	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Client talks to the compute API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

var (
	_ engine.ComputeAPI = (*Client)(nil)
	_ engine.ProjectAPI = (*Client)(nil)
	_ engine.NetworkAPI = (*Client)(nil)
)

// NewClient creates a new compute client.
func NewClient(cfg Config) (*Client, error) {
	baseURL, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/"))
	if err != nil {
		return nil, engine.NewConfigurationError("invalid compute endpoint", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, engine.NewConfigurationError(fmt.Sprintf("unsupported endpoint scheme %q", baseURL.Scheme), nil)
	}

	base := cfg.HTTPClient
	if base == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed local endpoints
		}
		base = &http.Client{Transport: transport}
	}

	httpClient := base
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
	}
	if cfg.Timeout > 0 {
		withTimeout := *httpClient
		withTimeout.Timeout = cfg.Timeout
		httpClient = &withTimeout
	}

	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}, nil
}

// problem is an RFC 7807 problem document, optionally with validation
// errors keyed by member.
type problem struct {
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
}

func (p *problem) message(fallback string) string {
	switch {
	case p.Detail != "" && p.Title != "":
		return p.Title + ": " + p.Detail
	case p.Detail != "":
		return p.Detail
	case p.Title != "":
		return p.Title
	default:
		return fallback
	}
}

func (p *problem) details() []string {
	var out []string
	for _, member := range sortedKeys(p.Errors) {
		for _, msg := range p.Errors[member] {
			out = append(out, member+": "+msg)
		}
	}
	return out
}

// request describes one API call.
type request struct {
	call   string
	method string
	path   string
	query  url.Values
	body   any
	attrs  []attribute.KeyValue
}

// do runs req and decodes a 2xx response into out (if non-nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	return telemetry.InstrumentCall(ctx, c.tracer, c.metrics, req.call, func(ctx context.Context) error {
		return c.roundTrip(ctx, req, out)
	}, req.attrs...)
}

func (c *Client) roundTrip(ctx context.Context, req request, out any) error {
	u := c.baseURL.JoinPath(req.path)
	if len(req.query) > 0 {
		u.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return engine.NewConfigurationError("failed to encode request", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return engine.NewConfigurationError("failed to build request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return engine.NewConnectionError(fmt.Sprintf("%s %s failed", req.method, req.path), err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("method", req.method).
		Str("path", req.path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("compute API call")

	if resp.StatusCode >= 300 {
		return responseError(req, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return engine.NewConnectionError(fmt.Sprintf("invalid response from %s %s", req.method, req.path), err)
	}
	return nil
}

// responseError maps a non-2xx response onto the engine error taxonomy.
func responseError(req request, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var p problem
	if len(data) > 0 && json.Unmarshal(data, &p) != nil {
		p.Detail = strings.TrimSpace(string(data))
	}
	msg := p.message(fmt.Sprintf("%s %s returned %s", req.method, req.path, resp.Status))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, engine.ErrNotFound)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		e := engine.NewConfigurationError(msg, nil)
		for _, d := range p.details() {
			e.WithDetail(d)
		}
		return e
	default:
		return engine.NewConnectionError(msg, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
}
