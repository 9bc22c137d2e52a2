package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/taobao-scraper/internal/api"
)

func newServeCmd(g *globals) *cobra.Command {
	var (
		useHTTP bool
		addr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scraper as MCP tools",
		Long: `Starts the MCP server with the taobao_initialize_login and
taobao_fetch_product_info tools.

By default the server speaks MCP over stdin/stdout. With --http it serves
the streamable HTTP transport at /mcp next to /health, /metrics and the
cache administration API.`,
		Example: `  # stdio, for agent configurations
  taobao-mcp serve

  # streamable HTTP on port 8080
  taobao-mcp serve --http --addr :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			a.startRelay(ctx)
			srv := a.mcpServer()

			if !useHTTP {
				return srv.RunStdio(ctx)
			}

			if addr == "" {
				addr = g.cfg.Server.Addr()
			}

			var outbox api.OutboxStats
			if a.relay != nil {
				outbox = a.relay
			}
			handlers := api.NewHandlers(a.sessions, outbox, a.cache, g.logger)
			server := &http.Server{
				Addr: addr,
				Handler: api.NewRouter(handlers, api.RouterOptions{
					MCP:     srv.HTTPHandler(),
					Metrics: a.metricsHandler(),
				}),
				ReadHeaderTimeout: 15 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				g.logger.Info("MCP server listening", "addr", addr, "url", "http://"+addr+"/mcp")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-ctx.Done():
				g.logger.Info("shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					g.logger.Error("server shutdown failed", "error", err)
					return err
				}
				g.logger.Info("server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&useHTTP, "http", false, "Serve streamable HTTP instead of stdio")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for --http (default SERVER_HOST:SERVER_PORT)")

	return cmd
}
