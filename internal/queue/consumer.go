package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/pipeline"
)

// ConsumerConfig holds consumer settings.
type ConsumerConfig struct {
	BatchSize   int
	PollTimeout time.Duration
	Policy      pipeline.BatchPolicy
	// RetryBackoff is the pause after a batch that requeued messages.
	RetryBackoff time.Duration
}

// DefaultConsumerConfig returns the default consumer configuration.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		BatchSize:    10,
		PollTimeout:  5 * time.Second,
		Policy:       pipeline.BestEffort,
		RetryBackoff: time.Second,
	}
}

// Consumer pulls batches from a Source and runs them through a Processor.
// Client-invalid messages are dead-lettered; infrastructure failures and
// unprocessed messages are requeued.
type Consumer struct {
	source    Source
	processor pipeline.Processor
	config    ConsumerConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewConsumer creates a new consumer.
func NewConsumer(source Source, processor pipeline.Processor, config ConsumerConfig, logger *zap.Logger) *Consumer {
	def := DefaultConsumerConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = def.PollTimeout
	}
	if config.Policy == "" {
		config.Policy = def.Policy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		source:    source,
		processor: processor,
		config:    config,
		logger:    logger.Named("queue"),
		now:       time.Now,
	}
}

// Run consumes until ctx is cancelled. Source errors are logged and
// retried after the backoff.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("queue consumer started",
		zap.Int("batch_size", c.config.BatchSize),
		zap.String("policy", string(c.config.Policy)))

	for {
		if ctx.Err() != nil {
			c.logger.Info("queue consumer stopped")
			return nil
		}

		report, err := c.ProcessOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("queue batch failed", zap.Error(err))
			c.sleep(ctx)
			continue
		}
		if report != nil && report.Requeued > 0 {
			c.sleep(ctx)
		}
	}
}

// ProcessOnce fetches and handles one batch. It returns a nil report when
// the poll timed out without messages.
func (c *Consumer) ProcessOnce(ctx context.Context) (*Report, error) {
	msgs, err := c.source.Fetch(ctx, c.config.BatchSize, c.config.PollTimeout)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	items := make([]pipeline.Item, len(msgs))
	byID := make(map[string]Message, len(msgs))
	for i, m := range msgs {
		items[i] = pipeline.Item{ID: m.ID, Body: m.Body}
		byID[m.ID] = m
	}

	batch := pipeline.ProcessBatch(ctx, c.processor, items, c.config.Policy)
	report := &Report{BatchReport: batch}

	var requeue []Message
	var dead []DeadLetter
	for _, it := range batch.Failures() {
		msg := byID[it.ID]
		if it.Retryable() {
			requeue = append(requeue, msg)
			continue
		}
		dead = append(dead, DeadLetter{
			Body:     string(msg.Body),
			Error:    apperrors.ClientMessage(it.Err),
			Code:     apperrors.GetCode(it.Err),
			FailedAt: c.now().UTC(),
		})
	}

	// Requeue and dead-letter with a fresh context so a shutdown in the
	// middle of a batch does not drop popped messages.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	// Both are attempted: a failing dead-letter write must not strand the
	// retryable messages already popped from the list.
	var errs []error
	if err := c.source.Requeue(flushCtx, requeue); err != nil {
		errs = append(errs, err)
	} else {
		report.Requeued = len(requeue)
	}
	if err := c.source.DeadLetter(flushCtx, dead); err != nil {
		errs = append(errs, err)
	} else {
		report.DeadLettered = len(dead)
	}
	if err := errors.Join(errs...); err != nil {
		return report, err
	}

	c.logger.Info("queue batch processed",
		zap.Int("messages", len(msgs)),
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("dead_lettered", report.DeadLettered),
		zap.Int("requeued", report.Requeued))
	return report, nil
}

// Report is the outcome of one consumed batch.
type Report struct {
	*pipeline.BatchReport
	DeadLettered int
	Requeued     int
}

func (c *Consumer) sleep(ctx context.Context) {
	if c.config.RetryBackoff <= 0 {
		return
	}
	t := time.NewTimer(c.config.RetryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
