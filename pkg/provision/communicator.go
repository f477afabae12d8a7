package provision

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/catletctl/pkg/engine"
	"github.com/openfroyo/catletctl/pkg/transports/ssh"
)

// SSHCommunicator reports a catlet ready once an SSH session can run a
// command on it.
type SSHCommunicator struct {
	dial         Dialer
	readyTimeout time.Duration
}

var _ engine.Communicator = (*SSHCommunicator)(nil)

// NewSSHCommunicator creates a communicator. A nil dialer uses SSHDialer.
func NewSSHCommunicator(dial Dialer, readyTimeout time.Duration) *SSHCommunicator {
	if readyTimeout <= 0 {
		readyTimeout = 10 * time.Second
	}
	if dial == nil {
		dial = SSHDialer(readyTimeout)
	}
	return &SSHCommunicator{dial: dial, readyTimeout: readyTimeout}
}

// Ready checks the catlet once. Connection refusals and timeouts while the
// guest is still booting yield (false, nil); other failures are returned
// alongside false so the caller can log them and keep waiting.
func (c *SSHCommunicator) Ready(ctx context.Context, info *engine.ConnectionInfo) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	transport, err := c.dial(ctx, info)
	if err != nil {
		if ssh.IsTemporary(err) {
			log.Debug().Err(err).Str("host", info.Host).Msg("ssh not reachable yet")
			return false, nil
		}
		return false, err
	}
	defer transport.Disconnect()

	if err := transport.HealthCheck(ctx); err != nil {
		return false, err
	}

	log.Debug().Str("host", info.Host).Int("port", info.Port).Msg("ssh ready")
	return true, nil
}
