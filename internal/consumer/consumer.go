// Package consumer scrapes products requested on a Redis stream.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/taobao-scraper/internal/dom"
	"github.com/maltedev/taobao-scraper/internal/models"
	"github.com/maltedev/taobao-scraper/internal/scraper"
	"github.com/maltedev/taobao-scraper/internal/session"
)

const EventScrapeRequested = "SCRAPE_REQUESTED"

// StreamClient is the subset of the go-redis client the consumer uses.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type Scraper interface {
	Scrape(ctx context.Context, input string, opts scraper.Options) (*models.Product, error)
}

// Sink receives every successfully scraped product.
type Sink interface {
	Deliver(ctx context.Context, p *models.Product) error
}

type SinkFunc func(ctx context.Context, p *models.Product) error

func (f SinkFunc) Deliver(ctx context.Context, p *models.Product) error { return f(ctx, p) }

type Config struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration

	// ErrorPause is the wait after a failed stream read.
	ErrorPause time.Duration
}

type Consumer struct {
	client  StreamClient
	scraper Scraper
	sink    Sink
	cfg     Config
	logger  *slog.Logger
}

func New(client StreamClient, sc Scraper, sink Sink, cfg Config, logger *slog.Logger) *Consumer {
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ErrorPause == 0 {
		cfg.ErrorPause = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:  client,
		scraper: sc,
		sink:    sink,
		cfg:     cfg,
		logger:  logger.With("component", "consumer"),
	}
}

// Run reads requests until ctx is done. Entries left pending by an earlier
// run of the same consumer name are retried once before new entries.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.cfg.Stream, "group", c.cfg.Group, "consumer", c.cfg.Consumer)

	cursor := "0"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, cursor},
			Count:    1,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			if err := dom.Sleep(ctx, c.cfg.ErrorPause); err != nil {
				return err
			}
			continue
		}

		var n int
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				n++
				if cursor != ">" {
					cursor = msg.ID
				}
				c.handle(ctx, msg)
			}
		}
		if n == 0 && cursor != ">" {
			c.logger.Debug("pending backlog drained")
			cursor = ">"
		}
	}
}

// handle acks the entry unless the failure is worth another attempt.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	logger := c.logger.With("message_id", msg.ID)

	err := c.process(ctx, msg)
	if err != nil && transient(err) {
		logger.Warn("scrape request left pending", "error", err)
		return
	}
	if err != nil {
		logger.Error("scrape request failed", "error", err)
	}

	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		logger.Error("failed to acknowledge message", "error", err)
	}
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) error {
	req, ok, err := ParseRequest(msg.Values)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	c.logger.Info("processing scrape request", "message_id", msg.ID, "input", req.Input)

	product, err := c.scraper.Scrape(ctx, req.Input, scraper.Options{WaitForLogin: req.WaitForLogin})
	if err != nil {
		return err
	}
	return c.sink.Deliver(ctx, product)
}

type Request struct {
	Input        string
	WaitForLogin bool
}

// ParseRequest reads a stream entry. ok is false for entries of another
// event type, which are skipped.
func ParseRequest(values map[string]interface{}) (req Request, ok bool, err error) {
	if t, _ := values["type"].(string); t != "" && t != EventScrapeRequested {
		return Request{}, false, nil
	}

	input, _ := values["input"].(string)
	input = strings.TrimSpace(input)
	if input == "" {
		return Request{}, false, errors.New("missing input in scrape request")
	}
	req.Input = input

	if raw, _ := values["wait_login"].(string); raw != "" {
		req.WaitForLogin, err = strconv.ParseBool(raw)
		if err != nil {
			return Request{}, false, fmt.Errorf("invalid wait_login %q: %w", raw, err)
		}
	}
	return req, true, nil
}

func transient(err error) bool {
	return errors.Is(err, scraper.ErrNavigation) ||
		errors.Is(err, session.ErrBusy) ||
		errors.Is(err, session.ErrLoginRequired) ||
		errors.Is(err, session.ErrLoginTimeout)
}
