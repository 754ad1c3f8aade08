package remote

import (
	"context"
	"fmt"

	"github.com/rileyhilliard/forkterm/internal/config"
	"github.com/rileyhilliard/forkterm/internal/credential"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/logger"
	"github.com/rileyhilliard/forkterm/internal/pool"
	"github.com/rileyhilliard/forkterm/internal/util"
	"github.com/rileyhilliard/forkterm/pkg/sshutil"
)

// NewDialer returns a pool.Dialer that connects to hosts from the store with
// strict host key checking against cfg.KnownHosts.
func NewDialer(hosts *config.HostStore, cfg config.SSHConfig, keys credential.KeyResolver, log logger.Logger) pool.Dialer {
	if log == nil {
		log = logger.Noop()
	}
	return func(ctx context.Context, name string) (sshutil.SSHClient, error) {
		h, ok := hosts.Get(name)
		if !ok {
			return nil, unknownHost(name, hosts)
		}
		t := Target(h, cfg, keys)
		if t.KeyPath != "" {
			log.Debug("connecting to %s as %s with key %s", h.Address(), t.User, t.KeyPath)
		} else {
			log.Debug("connecting to %s as %s with the SSH agent only", h.Address(), t.User)
		}
		c, err := sshutil.Dial(ctx, t)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Target builds the dial target for h. The key comes from the waterfall;
// with no key found the SSH agent is the only auth method.
func Target(h config.HostConfig, cfg config.SSHConfig, keys credential.KeyResolver) sshutil.Target {
	t := sshutil.Target{
		Name:       h.Name,
		Hostname:   h.Hostname,
		Port:       h.Port,
		User:       h.User,
		KnownHosts: config.ExpandTilde(cfg.KnownHosts),
		Timeout:    cfg.ConnectTimeout,
		Passphrase: credential.KeyPassphrase,
	}
	if k, ok := keys.Resolve("", h.KeyPath); ok {
		t.KeyPath = k.Path
	}
	return t
}

func unknownHost(name string, hosts *config.HostStore) *errors.Error {
	suggestion := fmt.Sprintf("Add it with 'forkterm hosts add %s'.", name)
	if names := hosts.Names(); len(names) > 0 {
		suggestion = fmt.Sprintf("Configured hosts: %s. %s", util.JoinOrNone(names), suggestion)
	}
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("No host named '%s' in %s", name, hostsPath(hosts)),
		suggestion)
}

func hostsPath(hosts *config.HostStore) string {
	if p := hosts.Path(); p != "" {
		return p
	}
	return "the hosts file"
}
