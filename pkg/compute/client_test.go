package compute

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/catletctl/pkg/engine"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{Endpoint: server.URL + "/compute", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRejectsBadEndpoint(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "ftp://example.com"})
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
}

func TestSubmitCreate(t *testing.T) {
	var received map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /compute/v1/catlets", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		writeJSON(w, http.StatusAccepted, map[string]any{"id": "op-1", "status": "Queued"})
	})
	client := newTestClient(t, mux)

	id, err := client.SubmitCreate(context.Background(), &engine.CreateRequest{
		Spec: engine.CatletSpec{Name: "web", Parent: "dbosoft/ubuntu-22.04/starter", CPU: &engine.CPUSpec{Count: 2}},
		Fodder: []engine.ResolvedFodder{
			{Name: "admin", Type: engine.FodderCloudConfig, Content: "users: []\n"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "op-1", id)

	cfg, ok := received["configuration"].(map[string]any)
	require.True(t, ok, "payload carries a configuration document")
	assert.Equal(t, "web", cfg["name"])
	assert.Equal(t, "dbosoft/ubuntu-22.04/starter", cfg["parent"])
	assert.Equal(t, map[string]any{"count": float64(2)}, cfg["cpu"])

	fodder, ok := cfg["fodder"].([]any)
	require.True(t, ok)
	require.Len(t, fodder, 1)
	assert.Equal(t, "cloud-config", fodder[0].(map[string]any)["type"])
}

func TestSubmitStartStopDestroy(t *testing.T) {
	var stopMode string
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /compute/v1/catlets/c-1/start", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]any{"id": "op-start"})
	})
	mux.HandleFunc("PUT /compute/v1/catlets/c-1/stop", func(w http.ResponseWriter, r *http.Request) {
		var body stopRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		stopMode = body.Mode
		writeJSON(w, http.StatusAccepted, map[string]any{"id": "op-stop"})
	})
	mux.HandleFunc("DELETE /compute/v1/catlets/c-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]any{"id": "op-delete"})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	id, err := client.SubmitStart(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "op-start", id)

	id, err = client.SubmitStop(ctx, "c-1", engine.StopHard)
	require.NoError(t, err)
	assert.Equal(t, "op-stop", id)
	assert.Equal(t, "Hard", stopMode)

	_, err = client.SubmitStop(ctx, "c-1", engine.StopMode("reboot"))
	assert.True(t, engine.IsConfiguration(err))

	id, err = client.SubmitDestroy(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "op-delete", id)
}

func TestSubmitWithoutOperation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /compute/v1/catlets/c-1/start", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]any{})
	})
	client := newTestClient(t, mux)

	_, err := client.SubmitStart(context.Background(), "c-1")
	assert.True(t, engine.IsConnection(err))
}

func TestGetCatlet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /compute/v1/catlets/c-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      "c-1",
			"name":    "web",
			"status":  "Running",
			"project": map[string]any{"id": "p-1", "name": "default"},
			"networks": []any{map[string]any{
				"name":            "default",
				"ip_v4_addresses": []string{"10.0.0.5"},
				"floating_port":   map[string]any{"ip_v4_addresses": []string{"192.168.1.20"}},
			}},
		})
	})
	mux.HandleFunc("GET /compute/v1/catlets/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"title": "Not Found", "status": 404})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	summary, err := client.GetCatlet(ctx, "c-1")
	require.NoError(t, err)
	cs, ok := summary.Catlet()
	require.True(t, ok)
	assert.Equal(t, "web", cs.Name)
	assert.Equal(t, "default", cs.Project)
	assert.Equal(t, "192.168.1.20", cs.FloatingIPv4())
	assert.Equal(t, engine.StateRunning, summary.State())

	summary, err = client.GetCatlet(ctx, "missing")
	require.NoError(t, err)
	assert.True(t, summary.IsAbsent())
}

func TestListCatlets(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /compute/v1/catlets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{
			map[string]any{"id": "c-1", "name": "web", "status": "Running"},
			map[string]any{"id": "c-2", "name": "db", "status": "Stopped"},
		}})
	})
	client := newTestClient(t, mux)

	catlets, err := client.ListCatlets(context.Background())
	require.NoError(t, err)
	require.Len(t, catlets, 2)
	assert.Equal(t, "db", catlets[1].Name)
	assert.Equal(t, "Stopped", catlets[1].Status)
}

func TestGetOperation(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var query map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /compute/v1/operations/op-1", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		writeJSON(w, http.StatusOK, map[string]any{
			"id":             "op-1",
			"status":         "Failed",
			"status_message": "disk full",
			"resources":      []any{map[string]any{"resource_type": "Catlet", "resource_id": "c-1"}},
			"tasks": []any{
				map[string]any{"id": "t-1", "parent_task_id": "op-1", "name": "CreateCatlet", "progress": 40},
				map[string]any{"id": "t-2", "parent_task_id": "t-1", "name": "CopyDisk"},
				map[string]any{"id": "t-3", "parent_task_id": "t-1", "name": "Attach", "progress": nil},
			},
			"log_entries": []any{map[string]any{
				"id": "l-1", "message": "copying disk", "timestamp": "2026-03-01T12:00:01Z",
			}},
		})
	})
	client := newTestClient(t, mux)

	op, err := client.GetOperation(context.Background(), "op-1", since)
	require.NoError(t, err)

	assert.Equal(t, engine.OperationFailed, op.Status)
	assert.Equal(t, "disk full", op.StatusMessage)
	assert.Equal(t, "c-1", op.CatletID())
	require.Len(t, op.Tasks, 3)
	assert.Equal(t, 40, op.Tasks[0].Progress)
	assert.True(t, op.Tasks[0].HasProgress())
	assert.Equal(t, engine.ProgressUnknown, op.Tasks[1].Progress)
	assert.False(t, op.Tasks[1].HasProgress())
	assert.Equal(t, engine.ProgressUnknown, op.Tasks[2].Progress)
	require.Len(t, op.LogEntries, 1)
	assert.Equal(t, "copying disk", op.LogEntries[0].Message)

	assert.Equal(t, []string{"logs,tasks,resources"}, query["expand"])
	assert.Equal(t, []string{"2026-03-01T12:00:00Z"}, query["log_time_stamp"])
}

func TestValidateSpec(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /compute/v1/catlets/config/validate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"is_valid": false,
			"errors":   []any{map[string]any{"member": "parent", "message": "unknown gene"}},
		})
	})
	client := newTestClient(t, mux)

	result, err := client.ValidateSpec(context.Background(), &engine.CreateRequest{Spec: engine.CatletSpec{Name: "web", Parent: "x/y/z"}})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []engine.ValidationIssue{{Member: "parent", Message: "unknown gene"}}, result.Errors)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		message string
	}{
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   `{"title":"Not Found"}`,
			check:  func(err error) bool { return errors.Is(err, engine.ErrNotFound) },
		},
		{
			name:    "bad request with validation errors",
			status:  http.StatusBadRequest,
			body:    `{"title":"Invalid request","errors":{"name":["too long"]}}`,
			check:   engine.IsConfiguration,
			message: "name: too long",
		},
		{
			name:    "unprocessable entity",
			status:  http.StatusUnprocessableEntity,
			body:    `{"detail":"parent is required"}`,
			check:   engine.IsConfiguration,
			message: "parent is required",
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check:  engine.IsConnection,
		},
		{
			name:    "server error with plain body",
			status:  http.StatusInternalServerError,
			body:    "upstream exploded",
			check:   engine.IsConnection,
			message: "upstream exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := client.ListCatlets(context.Background())
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error class: %v", err)
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}

func TestTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client, err := NewClient(Config{Endpoint: endpoint})
	require.NoError(t, err)

	_, err = client.ListCatlets(context.Background())
	assert.True(t, engine.IsConnection(err))
}

func TestProjects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /compute/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{
			map[string]any{"id": "p-1", "name": "default"},
		}})
	})
	mux.HandleFunc("POST /compute/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		var body newProjectRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusAccepted, map[string]any{"id": "op-" + body.Name})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	p, err := client.GetProject(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)

	_, err = client.GetProject(ctx, "lab")
	assert.True(t, errors.Is(err, engine.ErrNotFound))

	id, err := client.SubmitCreateProject(ctx, "lab")
	require.NoError(t, err)
	assert.Equal(t, "op-lab", id)
}

func TestListAndDeleteProjects(t *testing.T) {
	var deleted string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /compute/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{
			map[string]any{"id": "p-1", "name": "default"},
			map[string]any{"id": "p-2", "name": "lab"},
		}})
	})
	mux.HandleFunc("DELETE /compute/v1/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleted = r.PathValue("id")
		writeJSON(w, http.StatusAccepted, map[string]any{"id": "op-9"})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	projects, err := client.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []engine.Project{{ID: "p-1", Name: "default"}, {ID: "p-2", Name: "lab"}}, projects)

	id, err := client.SubmitDeleteProject(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, "op-9", id)
	assert.Equal(t, "p-2", deleted)
}

func TestNetworkConfig(t *testing.T) {
	var received map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /compute/v1/vnetworks/p-1/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"configuration": map[string]any{
			"project":  "default",
			"networks": []any{map[string]any{"name": "default", "address": "10.0.0.0/24"}},
		}})
	})
	mux.HandleFunc("GET /compute/v1/vnetworks/p-2/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("PUT /compute/v1/vnetworks/p-1/config", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		writeJSON(w, http.StatusAccepted, map[string]any{"id": "op-net"})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	cfg, err := client.GetNetworkConfig(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "default", cfg["project"])
	require.Len(t, cfg["networks"], 1)

	cfg, err = client.GetNetworkConfig(ctx, "p-2")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	id, err := client.SubmitSetNetworkConfig(ctx, "p-1", engine.NetworkConfig{"project": "default", "version": "1.0"})
	require.NoError(t, err)
	assert.Equal(t, "op-net", id)
	assert.Equal(t, map[string]any{"project": "default", "version": "1.0"}, received["configuration"])
}

func TestClientCredentials(t *testing.T) {
	var tokenRequests atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "secret-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(tokenServer.Close)

	var authHeader string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
	}))
	t.Cleanup(api.Close)

	client, err := NewClient(Config{
		Endpoint:     api.URL,
		TokenURL:     tokenServer.URL,
		ClientID:     "catletctl",
		ClientSecret: "s3cret",
		Scopes:       []string{"compute:write"},
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.ListCatlets(ctx)
	require.NoError(t, err)
	_, err = client.ListCatlets(ctx)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", authHeader)
	assert.Equal(t, int32(1), tokenRequests.Load(), "token is cached")
}
