package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/louloulin/agentmem/internal/mcp"
	"github.com/louloulin/agentmem/internal/store"
	"github.com/louloulin/agentmem/pkg/version"
)

type serveOptions struct {
	transport string
	addr      string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server on stdio or streamable HTTP.

Exposes memory_search, memory_add, search_stats and explain_threshold as
tools and the agentmem://query_metrics resource. On stdio, stdout carries
JSON-RPC only. The http transport serves MCP at /mcp and a health probe at
/healthz. Logs go to ~/.agentmem/logs/agentmem.log.`,
		Example: `  # Claude Desktop / any MCP client
  {"command": "agentmem", "args": ["serve"]}

  # Shared server for several agents
  agentmem serve --transport http --addr 127.0.0.1:7337`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport: stdio, http (default from config)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address for the http transport (default from config)")

	return cmd
}

// runServe serves until SIGINT or SIGTERM. Nothing may be written to stdout
// before the transport starts.
func runServe(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	transport := opts.transport
	if transport == "" {
		transport = a.cfg.Server.Transport
	}
	if opts.addr != "" {
		a.cfg.Server.HTTPAddr = opts.addr
	}

	srv, err := mcp.NewServer(a.engine, a.backends, a.cfg)
	if err != nil {
		return err
	}
	srv.SetLogger(a.logger)
	if a.metrics != nil {
		srv.SetMetrics(a.metrics)
	}

	// The watcher must stop before the deferred Close above.
	watchCtx, cancelWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancelWatch()
		wg.Wait()
	}()
	if a.cfg.Storage.Watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.backends.Watch(watchCtx, store.DefaultWatchDebounce); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("data_dir_watch_stopped", slog.String("error", err.Error()))
			}
		}()
	}

	a.logger.Info("server_starting",
		slog.String("version", version.Version),
		slog.String("data_dir", a.cfg.Storage.DataDir),
		slog.String("transport", transport),
		slog.String("http_addr", a.cfg.Server.HTTPAddr))

	err = srv.Serve(ctx, transport)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
