package transport

import (
	"context"

	"github.com/oshokin/releaser/internal/config"
	"github.com/oshokin/releaser/internal/domain/release"
)

// DialFunc opens a Transfer to one host.
type DialFunc func(ctx context.Context, host string) (Transfer, error)

// NewDialer returns a DialFunc for the hosts of an environment:
// local environments run on this machine, the others are reached over SSH.
func NewDialer(env config.EnvironmentConfig) DialFunc {
	class, err := release.ParseClass(env.Class)
	if err == nil && !class.IsRemote() {
		return func(context.Context, string) (Transfer, error) {
			return NewLocal(), nil
		}
	}

	return func(ctx context.Context, host string) (Transfer, error) {
		return DialSSH(ctx, SSHConfig{
			Host:           host,
			Port:           env.SSHPort,
			User:           env.SSHUser,
			KeyFile:        env.KeyFile,
			KnownHosts:     env.KnownHosts,
			ConnectTimeout: DefaultConnectTimeout,
		})
	}
}
