package provision

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/catletctl/pkg/engine"
	"github.com/openfroyo/catletctl/pkg/transports/ssh"
)

// RemoteDir is where scripts are staged on the catlet.
const RemoteDir = "/tmp"

// Script is one provisioning step. Exactly one of Inline and Path is set.
type Script struct {
	Name   string
	Inline string
	Path   string
	Sudo   bool
}

// Label returns a name for logs and errors.
func (s Script) Label() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Path != "":
		return s.Path
	default:
		return "inline"
	}
}

// ScriptProvisioner runs shell scripts on a running catlet in order. The
// first failing script stops the run.
type ScriptProvisioner struct {
	scripts []Script
	dial    Dialer
}

var _ engine.Provisioner = (*ScriptProvisioner)(nil)

// NewScriptProvisioner creates a provisioner. A nil dialer uses SSHDialer.
func NewScriptProvisioner(scripts []Script, dial Dialer) *ScriptProvisioner {
	if dial == nil {
		dial = SSHDialer(0)
	}
	return &ScriptProvisioner{scripts: scripts, dial: dial}
}

// Provision uploads and runs every script.
func (p *ScriptProvisioner) Provision(ctx context.Context, info *engine.ConnectionInfo) error {
	if len(p.scripts) == 0 {
		log.Debug().Str("catlet_id", info.CatletID).Msg("nothing to provision")
		return nil
	}

	transport, err := p.dial(ctx, info)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", info.Host, err)
	}
	defer transport.Disconnect()

	for i, script := range p.scripts {
		if err := p.run(ctx, transport, info, script); err != nil {
			return fmt.Errorf("provision step %d (%s): %w", i+1, script.Label(), err)
		}
	}
	return nil
}

func (p *ScriptProvisioner) run(ctx context.Context, transport ssh.Transport, info *engine.ConnectionInfo, script Script) error {
	content, err := script.content()
	if err != nil {
		return err
	}

	remotePath := fmt.Sprintf("%s/catletctl-%s.sh", RemoteDir, uuid.NewString())
	if err := transport.Upload(ctx, strings.NewReader(content), remotePath, 0o700); err != nil {
		return fmt.Errorf("failed to upload script: %w", err)
	}
	defer func() {
		if err := transport.Remove(context.WithoutCancel(ctx), remotePath); err != nil {
			log.Warn().Err(err).Str("path", remotePath).Msg("failed to remove provision script")
		}
	}()

	log.Info().
		Str("catlet_id", info.CatletID).
		Str("script", script.Label()).
		Bool("sudo", script.Sudo).
		Msg("running provision script")

	cmd := "sh " + remotePath
	var stdout, stderr string
	if script.Sudo {
		stdout, stderr, err = transport.ExecuteCommandWithSudo(ctx, cmd, info.Password)
	} else {
		stdout, stderr, err = transport.ExecuteCommand(ctx, cmd)
	}

	for _, line := range strings.Split(stdout, "\n") {
		if line != "" {
			log.Info().Str("script", script.Label()).Msg(line)
		}
	}
	if err != nil {
		if stderr != "" {
			log.Error().Str("script", script.Label()).Int("exit_code", ssh.ExitCode(err)).Msg(stderr)
		}
		return err
	}
	return nil
}

func (s Script) content() (string, error) {
	if s.Path == "" {
		return s.Inline, nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}
