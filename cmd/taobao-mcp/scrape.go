package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/maltedev/taobao-scraper/internal/markdown"
	"github.com/maltedev/taobao-scraper/internal/models"
	"github.com/maltedev/taobao-scraper/internal/queue"
	"github.com/maltedev/taobao-scraper/internal/scraper"
)

type scrapeFlags struct {
	waitLogin bool
	outDir    string
	fromHTML  string
	id        string
	preview   bool
	retries   int
}

func newScrapeCmd(g *globals) *cobra.Command {
	var f scrapeFlags

	cmd := &cobra.Command{
		Use:   "scrape [url-or-id]...",
		Short: "Scrape products and write Markdown reports",
		Long: `Scrapes one or more products (full URLs, share text, short links or
bare numeric IDs) through the shared browser session and writes one
Markdown report per product to the output directory.

With --from-html the browser is skipped and a saved product page is
parsed instead; only the statically rendered sections are extracted.`,
		Example: `  taobao-mcp scrape 881280651752
  taobao-mcp scrape "【淘宝】 https://e.tb.cn/h.abc123 复制打开" --wait-login
  taobao-mcp scrape --from-html page.html --id 881280651752 --preview`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.outDir == "" {
				f.outDir = g.cfg.Scraper.OutputDir
			}

			if f.fromHTML != "" {
				return scrapeSnapshot(cmd, g, f)
			}
			if len(args) == 0 {
				return errors.New("at least one product URL or ID is required")
			}
			return scrapeLive(cmd, g, f, args)
		},
	}

	cmd.Flags().BoolVar(&f.waitLogin, "wait-login", false, "Wait for a manual login when a login wall appears")
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "", "Output directory for Markdown reports (default SCRAPER_OUTPUT_DIR)")
	cmd.Flags().StringVar(&f.fromHTML, "from-html", "", "Parse a saved product page instead of launching the browser")
	cmd.Flags().StringVar(&f.id, "id", "", "Product ID of the page given with --from-html")
	cmd.Flags().BoolVar(&f.preview, "preview", false, "Render the report in the terminal")
	cmd.Flags().IntVar(&f.retries, "retries", 1, "Retries per product after navigation or page structure failures")

	return cmd
}

func scrapeLive(cmd *cobra.Command, g *globals, f scrapeFlags, inputs []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.sessions.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize browser session: %w", err)
	}
	g.logger.Info("browser session ready", "status", res.Status)

	q := queue.NewInMemoryQueue()
	defer q.Close()
	for _, in := range inputs {
		if err := q.Push(queue.NewTask(in, 0)); err != nil {
			return err
		}
	}

	var failed int
	for remaining := len(inputs); remaining > 0; {
		task, err := q.Pop(ctx)
		if err != nil {
			return err
		}

		logger := g.logger.With("task_id", task.ID, "input", task.Input)
		product, err := a.scraper.Scrape(ctx, task.Input, scraper.Options{WaitForLogin: f.waitLogin})
		if err != nil {
			if retryable(err) && task.Retries < f.retries {
				task.Retries++
				logger.Warn("scrape failed, retrying", "error", err, "attempt", task.Retries)
				if err := q.Push(task); err != nil {
					return err
				}
				continue
			}
			logger.Error("scrape failed", "error", err)
			failed++
			remaining--
			continue
		}

		if err := report(cmd.OutOrStdout(), logger, product, f); err != nil {
			logger.Error("failed to write report", "error", err)
			failed++
		}
		remaining--
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d products failed", failed, len(inputs))
	}
	return nil
}

func retryable(err error) bool {
	return errors.Is(err, scraper.ErrNavigation) || errors.Is(err, scraper.ErrPageStructure)
}

func scrapeSnapshot(cmd *cobra.Command, g *globals, f scrapeFlags) error {
	if f.id == "" {
		return errors.New("--id is required with --from-html")
	}

	html, err := os.ReadFile(f.fromHTML)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.fromHTML, err)
	}

	a, err := newApp(cmd.Context(), g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	product, err := a.scraper.ScrapeSnapshot(cmd.Context(), f.id, string(html))
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), g.logger, product, f)
}

func report(out io.Writer, logger *slog.Logger, p *models.Product, f scrapeFlags) error {
	path, err := markdown.WriteFile(f.outDir, p)
	if err != nil {
		return err
	}
	logger.Info("report written", "product_id", p.ProductID, "path", path)
	fmt.Fprintln(out, path)

	if !f.preview {
		return nil
	}
	return preview(out, markdown.Render(p))
}

func preview(out io.Writer, md string) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}
	rendered, err := r.Render(md)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, rendered)
	return err
}
