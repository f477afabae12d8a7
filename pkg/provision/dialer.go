package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/catletctl/pkg/engine"
	"github.com/openfroyo/catletctl/pkg/transports/ssh"
)

// Dialer opens a connected transport to a catlet.
type Dialer func(ctx context.Context, info *engine.ConnectionInfo) (ssh.Transport, error)

// SSHDialer returns a Dialer that connects with the catlet's private key
// when one is known, falling back to password authentication.
func SSHDialer(connectTimeout time.Duration) Dialer {
	return func(ctx context.Context, info *engine.ConnectionInfo) (ssh.Transport, error) {
		cfg, err := TransportConfig(info)
		if err != nil {
			return nil, err
		}
		if connectTimeout > 0 {
			cfg.ConnectionTimeout = connectTimeout
		}

		client, err := ssh.NewSSHClient(cfg)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// TransportConfig builds the SSH transport configuration for a catlet.
func TransportConfig(info *engine.ConnectionInfo) (*ssh.Config, error) {
	if info == nil || info.Host == "" {
		return nil, fmt.Errorf("catlet has no reachable address")
	}

	cfg := ssh.DefaultConfig(info.Host, info.Username)
	if info.Port > 0 {
		cfg.Port = info.Port
	}
	cfg.Password = info.Password

	if len(info.PrivateKey) > 0 {
		cfg.AuthMethod = ssh.AuthMethodKey
		cfg.PrivateKey = info.PrivateKey
	} else {
		cfg.AuthMethod = ssh.AuthMethodPassword
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
