package provision

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/catletctl/pkg/engine"
)

// SyncBeforeDestroy returns a hook that flushes guest file systems of a
// running linux catlet before it is destroyed. It gives up after timeout.
func SyncBeforeDestroy(dial Dialer, timeout time.Duration) engine.PreDestroyHook {
	if dial == nil {
		dial = SSHDialer(timeout)
	}
	return func(ctx context.Context, target *engine.Target, info *engine.ConnectionInfo) error {
		if target.Bootstrap.OS == engine.GuestWindows {
			return nil
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		transport, err := dial(ctx, info)
		if err != nil {
			return err
		}
		defer transport.Disconnect()

		log.Debug().Str("catlet", target.Spec.Name).Msg("syncing file systems")
		_, _, err = transport.ExecuteCommand(ctx, "sync")
		return err
	}
}
