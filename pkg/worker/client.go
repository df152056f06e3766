// Package worker provides the client side of the worker protocol: a polling
// subscription loop over api.WorkerService, plus the built-in handlers for
// the default regulatory approval topics.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/approvo/pkg/api"
)

// Handler processes one leased task and returns the output variables to
// complete it with. A non-nil error reports a transient failure; the
// dispatcher decides between retry and fallback.
type Handler func(ctx context.Context, task *api.Task) (map[string]any, error)

// Config configures a worker Client.
type Config struct {
	// WorkerID identifies this worker process in leases. Required.
	WorkerID string

	// LockDuration is the lease duration requested per fetch.
	// Defaults to 30 seconds.
	LockDuration time.Duration

	// MaxBatch is the maximum number of tasks fetched per topic per poll.
	// Defaults to 5.
	MaxBatch int

	// PollInterval is the pause between poll rounds in Run.
	// Defaults to 100 milliseconds.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.LockDuration <= 0 {
		c.LockDuration = 30 * time.Second
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return c
}

// Client polls the worker service for its subscribed topics and runs the
// registered handlers.
type Client struct {
	svc    api.WorkerService
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	topics []string
	subs   map[string]Handler
}

// NewClient creates a worker Client. If logger is nil, slog.Default() is
// used.
func NewClient(svc api.WorkerService, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		svc:    svc,
		cfg:    cfg.withDefaults(),
		logger: logger,
		subs:   make(map[string]Handler),
	}
}

// Subscribe registers a handler for a topic. Subscribing a topic twice
// replaces the handler.
func (c *Client) Subscribe(topic string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[topic]; !ok {
		c.topics = append(c.topics, topic)
	}
	c.subs[topic] = h
}

// ProcessOnce performs a single poll round: for each subscribed topic it
// leases up to MaxBatch tasks and runs the handler on each. It returns the
// number of tasks processed. Lease conflicts from concurrent workers are
// not errors; they are logged and skipped.
func (c *Client) ProcessOnce(ctx context.Context) (int, error) {
	c.mu.Lock()
	topics := make([]string, len(c.topics))
	copy(topics, c.topics)
	handlers := make(map[string]Handler, len(c.subs))
	for k, v := range c.subs {
		handlers[k] = v
	}
	c.mu.Unlock()

	processed := 0
	for _, topic := range topics {
		tasks, err := c.svc.Lease(ctx, topic, c.cfg.WorkerID, c.cfg.LockDuration, c.cfg.MaxBatch)
		if err != nil {
			return processed, err
		}
		for _, t := range tasks {
			c.runHandler(ctx, topic, handlers[topic], t)
			processed++
		}
	}
	return processed, nil
}

func (c *Client) runHandler(ctx context.Context, topic string, h Handler, t *api.Task) {
	output, err := h(ctx, t)
	if err != nil {
		res, failErr := c.svc.Fail(ctx, t.ID, c.cfg.WorkerID, err.Error())
		if failErr != nil {
			c.logger.ErrorContext(ctx, "worker_fail_report_failed",
				slog.String("task_id", t.ID),
				slog.String("topic", topic),
				slog.Any("error", failErr),
			)
			return
		}
		c.logger.WarnContext(ctx, "worker_handler_failed",
			slog.String("task_id", t.ID),
			slog.String("topic", topic),
			slog.Bool("retry", res.Retry),
			slog.Int("retries_remaining", res.RetriesRemaining),
			slog.Any("error", err),
		)
		return
	}

	if err := c.svc.Complete(ctx, t.ID, c.cfg.WorkerID, output); err != nil {
		c.logger.ErrorContext(ctx, "worker_complete_failed",
			slog.String("task_id", t.ID),
			slog.String("topic", topic),
			slog.Any("error", err),
		)
	}
}

// Run polls until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				c.logger.ErrorContext(ctx, "worker_poll_failed", slog.Any("error", err))
			}
		}
	}
}
