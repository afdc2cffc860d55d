package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"workspace-mcp/client"
	"workspace-mcp/config"
	"workspace-mcp/loadbalance"
	"workspace-mcp/registry"

	"github.com/spf13/cobra"
)

// target is where bridge and call connect: a fixed address or a discovered instance.
type target struct {
	addr     string
	discover bool
}

func (t *target) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&t.addr, "addr", "a", "", "server address, defaults to server.address")
	cmd.Flags().BoolVar(&t.discover, "discover", false, "find the server in etcd (discovery.endpoints)")
}

func (t *target) resolve(ctx context.Context, cfg *config.Config) (string, error) {
	if !t.discover {
		if t.addr != "" {
			return t.addr, nil
		}
		return cfg.Server.Address, nil
	}
	if len(cfg.Discovery.Endpoints) == 0 {
		return "", fmt.Errorf("--discover needs discovery.endpoints in the configuration")
	}
	reg, err := registry.NewEtcdRegistry(cfg.Discovery.Endpoints, cfg.Discovery.DialTimeout)
	if err != nil {
		return "", fmt.Errorf("connect etcd: %w", err)
	}
	defer reg.Close()
	return pickAddr(ctx, reg, cfg.Discovery)
}

// pickAddr chooses one announced instance of the service.
func pickAddr(ctx context.Context, reg registry.Registry, d config.DiscoveryConfig) (string, error) {
	bal, err := loadbalance.New(d.Balancer)
	if err != nil {
		return "", err
	}
	instances, err := reg.Discover(ctx, d.Service)
	if err != nil {
		return "", fmt.Errorf("discover %s: %w", d.Service, err)
	}
	instance, err := bal.Pick(instances)
	if err != nil {
		return "", fmt.Errorf("pick %s instance: %w", d.Service, err)
	}
	return instance.Addr, nil
}

func newBridgeCmd(root *rootOptions) *cobra.Command {
	var t target
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Relay an MCP host's stdio to a running server",
		Long: "bridge reads JSON-RPC frames from stdin, forwards them to the server and writes " +
			"the server's frames to stdout. Logs go to stderr or log.file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger, closer, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr, err := t.resolve(ctx, cfg)
			if err != nil {
				return err
			}
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return &client.TransportError{Op: "dial", Err: err}
			}
			logger.Info("bridging stdio", "server", addr)
			return client.Bridge(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), conn, logger)
		},
	}
	t.bind(cmd)
	return cmd
}
