package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/catletctl/pkg/config"
	"github.com/openfroyo/catletctl/pkg/engine"
	"github.com/openfroyo/catletctl/pkg/policy"
	"github.com/openfroyo/catletctl/pkg/stores"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"configuration", engine.NewConfigurationError("bad parent", nil), 2},
		{"validation errors", fmt.Errorf("load: %w", config.ValidationErrors{{Message: "cpu must be positive"}}), 2},
		{"connection", fmt.Errorf("up: %w", engine.NewConnectionError("refused", nil)), 3},
		{"operation failed", engine.NewOperationFailedError(&engine.Operation{ID: "op-1", Status: engine.OperationFailed}), 4},
		{"timeout", engine.NewTimeoutError("operation op-1", nil), 4},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestPrintResults(t *testing.T) {
	results := []result{
		{Machine: "web", Outcome: engine.Outcome{ID: "c-1", State: engine.StateRunning, Message: "started"}},
		{Machine: "db", Outcome: engine.Outcome{State: engine.StateUnknown}, Error: "operation failed"},
	}

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printResults(&buf, results))

		rows := map[string]string{}
		for _, line := range strings.Split(buf.String(), "\n") {
			for _, name := range []string{"MACHINE", "web", "db"} {
				if strings.Contains(line, " "+name+" ") {
					rows[name] = line
				}
			}
		}
		require.Len(t, rows, 3)
		assert.Contains(t, rows["web"], "c-1")
		assert.Contains(t, rows["web"], "started")
		assert.Contains(t, rows["db"], " - ")
		assert.Contains(t, rows["db"], "operation failed")
	})

	t.Run("json", func(t *testing.T) {
		jsonOutput = true
		t.Cleanup(func() { jsonOutput = false })

		var buf bytes.Buffer
		require.NoError(t, printResults(&buf, results))
		assert.Contains(t, buf.String(), `"machine": "web"`)
		assert.Contains(t, buf.String(), `"error": "operation failed"`)
	})
}

func TestWriteSSHConfig(t *testing.T) {
	info := &engine.ConnectionInfo{Host: "10.0.0.5", Port: 22, Username: "catlet"}

	var b strings.Builder
	writeSSHConfig(&b, "catlet-web", info, filepath.Join("keys", "web"))
	out := b.String()

	abs, err := filepath.Abs(filepath.Join("keys", "web"))
	require.NoError(t, err)

	assert.Contains(t, out, "Host catlet-web\n")
	assert.Contains(t, out, "  HostName 10.0.0.5\n")
	assert.Contains(t, out, "  User catlet\n")
	assert.Contains(t, out, "  Port 22\n")
	assert.Contains(t, out, "  IdentityFile "+abs+"\n")
	assert.Contains(t, out, "  IdentitiesOnly yes\n")

	b.Reset()
	writeSSHConfig(&b, "db", info, "")
	assert.NotContains(t, b.String(), "IdentityFile")
	assert.Contains(t, b.String(), "StrictHostKeyChecking no")
}

func TestRunDuration(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	finished := started.Add(90 * time.Second)

	assert.Equal(t, "-", runDuration(&stores.Run{StartedAt: started}))
	assert.Equal(t, "1m30s", runDuration(&stores.Run{StartedAt: started, FinishedAt: &finished}))
}

func TestRootCommandRegistersActions(t *testing.T) {
	cmd := newRootCommand(&app{version: "test", v: config.NewViper()}, "none", "unknown")

	for _, name := range []string{"init", "validate", "up", "halt", "destroy", "reload", "resume", "provision", "status", "ssh-config", "history", "project", "network"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestAdmit(t *testing.T) {
	eng, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)
	r := &runtime{policy: eng}

	newMachine := func(cfg config.MachineConfig) *machine {
		target, err := cfg.Target()
		require.NoError(t, err)
		return &machine{name: cfg.Name, config: cfg, target: target}
	}

	ok := newMachine(config.MachineConfig{Name: "web", Parent: "dbosoft/ubuntu-22.04/starter", CPU: 2})
	untagged := newMachine(config.MachineConfig{Name: "db", Parent: "dbosoft/ubuntu-22.04"})
	huge := newMachine(config.MachineConfig{Name: "big", Parent: "dbosoft/ubuntu-22.04/starter", CPU: 128})

	assert.NoError(t, r.admit(context.Background(), []*machine{ok, untagged}))

	err = r.admit(context.Background(), []*machine{ok, huge})
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
	assert.Contains(t, err.Error(), "big: catlet requests 128 processors")

	assert.NoError(t, (&runtime{}).admit(context.Background(), []*machine{huge}))
}

func TestProjectRemoveRequiresForce(t *testing.T) {
	cmd := newRootCommand(&app{version: "test", v: config.NewViper()}, "none", "unknown")
	remove, _, err := cmd.Find([]string{"project", "remove"})
	require.NoError(t, err)

	err = removeProject(remove, &app{}, "dev", engine.ChangeOptions{})
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
	assert.Contains(t, err.Error(), "deletes all of its catlets")
	assert.Equal(t, 2, ExitCode(err))
}

func TestReadNetworkInput(t *testing.T) {
	cfg, err := readNetworkInput(nil, "", "project: dev\nversion: \"1.0\"\n")
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg["project"])

	cfg, err = readNetworkInput(strings.NewReader(`{"version": "1.0"}`), "-", "")
	require.NoError(t, err)
	assert.Equal(t, engine.NetworkConfig{"version": "1.0"}, cfg)

	_, err = readNetworkInput(nil, filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.True(t, engine.IsConfiguration(err))
}

func TestWriteNetworkConfig(t *testing.T) {
	cfg := engine.NetworkConfig{"project": "dev", "version": "1.0"}

	var buf bytes.Buffer
	require.NoError(t, writeNetworkConfig(&buf, cfg))
	assert.Equal(t, "project: dev\nversion: \"1.0\"\n", buf.String())

	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	buf.Reset()
	require.NoError(t, writeNetworkConfig(&buf, cfg))
	assert.JSONEq(t, `{"project": "dev", "version": "1.0"}`, buf.String())
}
