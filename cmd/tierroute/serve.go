package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tierroute/internal/experiments"
	"github.com/haasonsaas/tierroute/internal/server"
)

// buildServeCmd creates the "serve" command that starts the HTTP API.
func buildServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the routing HTTP server",
		Long: `Start the routing HTTP server.

Endpoints:
  POST /v1/classify                       {"message": "..."}
  POST /v1/classify-task                  {"task": "..."}
  POST /v1/chat                           {"messages": [...], "task", "experiment", "system"}
  POST /v1/assign/{name}
  GET  /v1/experiments
  GET  /v1/experiments/{name}/distribution
  GET  /v1/usage
  GET  /metrics, /healthz

The experiments file is reloaded on change when experiments.watch is set.
Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  tierroute serve --config /etc/tierroute/tierroute.yaml
  tierroute serve --addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, addr string) error {
	ctx := cmd.Context()
	a, err := loadApp(cmd, appOptions{withProvider: true})
	if err != nil {
		return err
	}
	log := a.logger.WithFields("component", "serve")
	defer func() {
		if err := a.Close(); err != nil {
			log.Error(context.Background(), "shutdown incomplete", "error", err)
		}
	}()

	if a.providerErr != nil {
		log.Warn(ctx, "provider unavailable, /v1/chat disabled", "error", a.providerErr)
	}

	if a.cfg.Experiments.Watch {
		watcher := experiments.NewWatcher(a.experiments, a.cfg.Experiments.File, 0, a.log)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Close()
	}

	srvCfg := server.Config{
		Addr:   a.cfg.Server.Addr,
		Usage:  a.usage,
		Logger: a.log,
	}
	if addr != "" {
		srvCfg.Addr = addr
	}
	if a.cfg.Metrics.IsEnabled() {
		srvCfg.MetricsPath = a.cfg.Metrics.Path
		srvCfg.Gatherer = a.promReg
	}

	srv := server.New(srvCfg, a.engine)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(shutdownCtx)
	return nil
}
