package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maltedev/taobao-scraper/internal/consumer"
	"github.com/maltedev/taobao-scraper/internal/markdown"
	"github.com/maltedev/taobao-scraper/internal/models"
)

func newConsumeCmd(g *globals) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Scrape products requested on a Redis stream",
		Long: `Joins the REDIS_CONSUMER_GROUP consumer group on REDIS_REQUEST_STREAM and
scrapes every SCRAPE_REQUESTED entry through the browser session, writing
one Markdown report per product. With DB_ENABLED=true each product is also
archived and announced on REDIS_STREAM.

Entries carry an "input" field (URL, share text or ID) and an optional
"wait_login" field.`,
		Example: `  redis-cli XADD stream:scrape_requests '*' type SCRAPE_REQUESTED input 881280651752
  taobao-mcp consume`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if outDir == "" {
				outDir = g.cfg.Scraper.OutputDir
			}

			a, err := newApp(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			client := a.redisClient()
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}

			res, err := a.sessions.Initialize(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize browser session: %w", err)
			}
			g.logger.Info("browser session ready", "status", res.Status)

			a.startRelay(ctx)

			sink := consumer.SinkFunc(func(_ context.Context, p *models.Product) error {
				path, err := markdown.WriteFile(outDir, p)
				if err != nil {
					return err
				}
				g.logger.Info("report written", "product_id", p.ProductID, "path", path)
				return nil
			})

			c := consumer.New(client, a.scraper, sink, consumer.Config{
				Stream:   g.cfg.Redis.RequestStream,
				Group:    g.cfg.Redis.Group,
				Consumer: g.cfg.Redis.Consumer,
			}, g.logger)

			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			g.logger.Info("consumer stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory for Markdown reports (default SCRAPER_OUTPUT_DIR)")

	return cmd
}
