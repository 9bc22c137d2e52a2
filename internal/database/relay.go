package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var errBadPayload = errors.New("outbox payload is not valid JSON")

// StreamWriter is the part of the go-redis client the relay writes with.
type StreamWriter interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxStore is the part of OutboxRepository the relay drives.
type OutboxStore interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	Counts(ctx context.Context) (pending, deadLetter int64, err error)
}

// Relay forwards archived product events from the outbox to their Redis
// streams. A full batch is followed by another drain without waiting for
// the next tick.
type Relay struct {
	streams StreamWriter
	store   OutboxStore
	logger  *slog.Logger
	cfg     RelayConfig
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// Source names the producer in each stream entry.
	Source string
}

func (c *RelayConfig) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Source == "" {
		c.Source = "taobao-scraper"
	}
}

func NewRelay(store OutboxStore, streams StreamWriter, logger *slog.Logger, cfg RelayConfig) *Relay {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		streams: streams,
		store:   store,
		logger:  logger.With("component", "relay"),
		cfg:     cfg,
	}
}

// Start drains the outbox once, then on every poll interval until ctx is
// done.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("outbox relay running",
		"poll_interval", r.cfg.PollInterval,
		"batch_size", r.cfg.BatchSize)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return ctx.Err()
		case <-timer.C:
		}

		next := r.cfg.PollInterval
		n, err := r.drain(ctx)
		switch {
		case err != nil:
			r.logger.Error("outbox drain failed", "error", err)
		case n == r.cfg.BatchSize:
			next = 0
		}
		timer.Reset(next)
	}
}

// Stats reports outstanding and dead-lettered event counts.
func (r *Relay) Stats(ctx context.Context) (pending, deadLetter int64, err error) {
	return r.store.Counts(ctx)
}

// drain forwards one batch and returns how many events it picked up.
// Failures of single events are recorded on the event, not returned.
func (r *Relay) drain(ctx context.Context) (int, error) {
	batch, err := r.store.GetPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load outbox batch: %w", err)
	}

	var forwarded int
	for _, ev := range batch {
		if err := r.forward(ctx, ev); err != nil {
			r.logger.Warn("product event not forwarded",
				"event_id", ev.ID,
				"product_id", ev.AggregateID,
				"attempt", ev.RetryCount+1,
				"error", err)
			continue
		}
		forwarded++
	}
	if len(batch) > 0 {
		r.logger.Debug("outbox batch drained", "picked", len(batch), "forwarded", forwarded)
	}
	return len(batch), nil
}

func (r *Relay) forward(ctx context.Context, ev *OutboxEvent) error {
	err := r.publish(ctx, ev)
	if err != nil {
		if markErr := r.store.MarkFailed(ctx, ev.ID, err); markErr != nil {
			r.logger.Error("failed to record relay failure", "event_id", ev.ID, "error", markErr)
		}
		return err
	}

	if err := r.store.MarkProcessed(ctx, ev.ID); err != nil {
		return fmt.Errorf("published but not marked processed: %w", err)
	}
	r.logger.Info("product event forwarded",
		"product_id", ev.AggregateID,
		"event_type", ev.EventType,
		"stream", ev.TargetStream)
	return nil
}

func (r *Relay) publish(ctx context.Context, ev *OutboxEvent) error {
	values, err := r.entry(ev)
	if err != nil {
		return err
	}
	err = r.streams.XAdd(ctx, &redis.XAddArgs{Stream: ev.TargetStream, Values: values}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// envelope is the JSON document carried in an entry's "data" field.
type envelope struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	Aggregate  string          `json:"aggregate"`
	ProductID  string          `json:"product_id"`
	OccurredAt string          `json:"occurred_at"`
	Source     string          `json:"source"`
	Attempt    int             `json:"attempt"`
	Product    json.RawMessage `json:"product"`
}

// entry builds the stream fields for ev. The flat fields let consumers
// filter without decoding "data".
func (r *Relay) entry(ev *OutboxEvent) (map[string]interface{}, error) {
	if !json.Valid(ev.Payload) {
		return nil, errBadPayload
	}

	data, err := json.Marshal(envelope{
		EventID:    ev.ID.String(),
		Type:       ev.EventType,
		Aggregate:  ev.AggregateType,
		ProductID:  ev.AggregateID,
		OccurredAt: ev.CreatedAt.UTC().Format(time.RFC3339),
		Source:     r.cfg.Source,
		Attempt:    ev.RetryCount + 1,
		Product:    ev.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream entry: %w", err)
	}

	return map[string]interface{}{
		"type":        ev.EventType,
		"product_id":  ev.AggregateID,
		"event_id":    ev.ID.String(),
		"occurred_ns": strconv.FormatInt(ev.CreatedAt.UnixNano(), 10),
		"data":        string(data),
	}, nil
}
