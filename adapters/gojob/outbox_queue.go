package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

type QueueOption func(*OutboxQueue)

func WithQueueLogger(logger job.Logger) QueueOption {
	return func(q *OutboxQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithQueueMetrics(recorder core.MetricsRecorder) QueueOption {
	return func(q *OutboxQueue) {
		if recorder != nil {
			q.metrics = recorder
		}
	}
}

func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *OutboxQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// OutboxQueue serves the durable notification outbox as a go-job queue. Each
// Dequeue leases one due row; the row stays in the database until the worker
// acks or nacks it, and a lapsed lease puts it back in play.
type OutboxQueue struct {
	store        core.NotificationTaskStore
	lease        time.Duration
	pollInterval time.Duration
	maxAttempts  int
	logger       job.Logger
	metrics      core.MetricsRecorder
	now          func() time.Time
	wake         chan struct{}
}

func NewOutboxQueue(store core.NotificationTaskStore, cfg core.NotificationDispatcherConfig, opts ...QueueOption) (*OutboxQueue, error) {
	if store == nil {
		return nil, fmt.Errorf("gojob: notification task store is required")
	}
	defaults := core.DefaultNotificationDispatcherConfig()
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = defaults.LeaseTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	q := &OutboxQueue{
		store:        store,
		lease:        cfg.LeaseTimeout,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		logger:       job.NewStdLoggerProvider().GetLogger("fulfillment.jobs"),
		metrics:      core.NopMetricsRecorder{},
		now: func() time.Time {
			return time.Now().UTC()
		},
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

// Wake cuts the current poll wait short; repeated calls coalesce.
func (q *OutboxQueue) Wake() {
	if q == nil {
		return
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a task is due or ctx ends.
func (q *OutboxQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil || q.store == nil {
		return nil, fmt.Errorf("gojob: outbox queue is not configured")
	}
	for {
		tasks, err := q.store.ClaimBatch(ctx, 1, q.lease)
		if err != nil {
			return nil, err
		}
		if len(tasks) > 0 {
			task := tasks[0]
			if task.Attempts <= q.maxAttempts {
				return &outboxDelivery{queue: q, task: task, msg: ToExecutionMessage(task)}, nil
			}
			if err := q.deadLetterExhausted(ctx, task); err != nil {
				return nil, err
			}
			continue
		}

		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// deadLetterExhausted settles a row whose earlier claim spent the last attempt
// without reporting back.
func (q *OutboxQueue) deadLetterExhausted(ctx context.Context, task core.NotificationTask) error {
	if err := q.store.Retry(ctx, task.ID, core.ErrNotificationAttemptsExhausted, time.Time{}); err != nil {
		return err
	}
	q.metrics.IncCounter(ctx, "fulfillment.notification.dead_lettered", 1, map[string]string{
		"job_id": JobIDNotificationDeliver,
		"kind":   string(task.Kind),
	})
	q.logger.Error("notification dead-lettered",
		"task_id", task.ID,
		"order_id", task.OrderID,
		"kind", string(task.Kind),
		"attempts", task.Attempts,
		"error", core.ErrNotificationAttemptsExhausted.Error(),
	)
	return nil
}

type outboxDelivery struct {
	queue *OutboxQueue
	task  core.NotificationTask
	msg   *job.ExecutionMessage
}

func (d *outboxDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

// Attempts includes the attempt in progress.
func (d *outboxDelivery) Attempts() int {
	return d.task.Attempts
}

func (d *outboxDelivery) Ack(ctx context.Context) error {
	return d.queue.store.Ack(ctx, d.task.ID)
}

func (d *outboxDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if err := queue.ValidateNackOptions(opts); err != nil {
		return err
	}
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		reason = string(opts.Disposition)
	}
	cause := errors.New(reason)
	if opts.Disposition != queue.NackDispositionRetry {
		return d.queue.store.Retry(ctx, d.task.ID, cause, time.Time{})
	}
	return d.queue.store.Retry(ctx, d.task.ID, cause, d.queue.now().Add(opts.Delay))
}

func (d *outboxDelivery) ExtendLease(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = d.queue.lease
	}
	return d.queue.store.ExtendLease(ctx, d.task.ID, d.queue.now().Add(ttl))
}

var (
	_ queue.Dequeuer         = (*OutboxQueue)(nil)
	_ core.NotificationWaker = (*OutboxQueue)(nil)
	_ queue.Delivery         = (*outboxDelivery)(nil)
	_ queue.LeaseExtender    = (*outboxDelivery)(nil)
)
