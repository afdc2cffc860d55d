package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"workspace-mcp/config"
	"workspace-mcp/handler"
	"workspace-mcp/mcp"
	"workspace-mcp/metrics"
	"workspace-mcp/middleware"
	"workspace-mcp/registry"
	"workspace-mcp/server"
	"workspace-mcp/tools"
	"workspace-mcp/worker"
	"workspace-mcp/workspace"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr, wsRoot string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workspace over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			if wsRoot != "" {
				cfg.Workspace.Root = wsRoot
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, closer, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			defer closer.Close()
			slog.SetDefault(logger)

			if !cfg.Server.Enabled {
				logger.Info("server disabled by configuration")
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			if err := a.start(ctx); err != nil {
				a.stop()
				return err
			}
			<-ctx.Done()
			logger.Info("shutting down")
			return a.stop()
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address, overrides server.address")
	cmd.Flags().StringVarP(&wsRoot, "workspace", "w", "", "workspace root, overrides workspace.root")
	return cmd
}

// app owns everything serve starts.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	server    *server.Server
	metrics   *metrics.Metrics
	markers   *workspace.MarkerStore
	watcher   *workspace.Watcher
	discovery registry.Registry
	httpSrv   *http.Server
	httpAddr  net.Addr
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	ws, err := workspace.Open(cfg.Workspace.Root)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	a.markers, err = workspace.OpenMarkerStore(cfg.Workspace.StorePath, logger)
	if err != nil {
		return nil, err
	}
	index := workspace.NewTypeIndex(ws, logger)
	deps := tools.Deps{
		Workspace: ws,
		Index:     index,
		Markers:   a.markers,
		Runner:    workspace.ExecRunner{},
		Logger:    logger,
	}

	toolSet := mcp.NewToolSet()
	if err := toolSet.Add(tools.All(deps)...); err != nil {
		a.markers.Close()
		return nil, err
	}
	resources := mcp.NewResourceSet()
	if err := tools.RegisterResources(resources, deps); err != nil {
		a.markers.Close()
		return nil, err
	}
	b := handler.NewBuilder()
	info := mcp.Implementation{Name: cfg.Server.Name, Version: cfg.Server.Version}
	if err := mcp.Register(b, info, toolSet, resources, logger); err != nil {
		a.markers.Close()
		return nil, err
	}

	serial := worker.NewSerial(tools.WorkspaceContext, cfg.Worker.Queue, worker.WithLogger(logger))
	toolSet.BindExecutor(tools.WorkspaceContext, serial)

	overflow := server.OverflowBlock
	if cfg.Worker.Overflow == "reject" {
		overflow = server.OverflowReject
	}
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(a.metrics),
		server.WithPool(cfg.Worker.Size, cfg.Worker.Queue),
		server.WithExecutor(tools.WorkspaceContext, serial),
		server.WithOverflow(overflow),
		server.WithMaxFrameSize(cfg.Server.MaxFrameBytes),
		server.WithMaxConnections(cfg.Server.MaxConnections),
		server.WithFrameLogging(cfg.Log.Frames),
	}
	if d := cfg.Discovery; len(d.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(d.Endpoints, d.DialTimeout)
		if err != nil {
			serial.Close()
			a.markers.Close()
			return nil, fmt.Errorf("connect etcd: %w", err)
		}
		a.discovery = reg
		advertise := d.Advertise
		if advertise == "" {
			advertise = cfg.Server.Address
		}
		instance := registry.ServiceInstance{
			ID:        uuid.NewString(),
			Addr:      advertise,
			Weight:    1,
			Version:   cfg.Server.Version,
			Workspace: ws.Root(),
		}
		opts = append(opts, server.WithDiscovery(reg, d.Service, instance, d.TTL))
	}

	a.server = server.NewServer(b.Build(), opts...)
	a.server.Use(middleware.LoggingMiddleware(logger))
	if cfg.Server.HandlerTimeout > 0 {
		a.server.Use(middleware.TimeOutMiddleware(cfg.Server.HandlerTimeout))
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		a.server.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	}

	if cfg.Workspace.Watch {
		a.watcher, err = workspace.NewWatcher(ws, index.Invalidate, cfg.Workspace.Debounce, logger)
		if err != nil {
			a.logger.Warn("workspace watcher unavailable", "error", err)
		}
	}
	return a, nil
}

func (a *app) start(ctx context.Context) error {
	if err := a.server.Start(a.cfg.Server.Address); err != nil {
		return err
	}
	a.logger.Info("mcp server listening", "addr", a.server.Addr().String(), "workspace", a.cfg.Workspace.Root)

	if addr := a.cfg.WebSocket.Address; addr != "" {
		if err := a.server.StartWebSocket(addr); err != nil {
			return fmt.Errorf("websocket listener: %w", err)
		}
	}
	if addr := a.cfg.Metrics.Address; addr != "" {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		a.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := a.httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics listener stopped", "error", err)
			}
		}()
		a.httpAddr = l.Addr()
		a.logger.Info("metrics listening", "addr", l.Addr().String())
	}
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			a.logger.Warn("workspace watcher failed to start", "error", err)
		}
	}
	return nil
}

// stop shuts everything down in reverse order of start.
func (a *app) stop() error {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.httpSrv.Shutdown(ctx)
		cancel()
	}
	err := a.server.Stop(a.cfg.Server.ShutdownTimeout)
	if a.discovery != nil {
		a.discovery.Close()
	}
	if cerr := a.markers.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
