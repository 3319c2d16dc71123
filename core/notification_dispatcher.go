package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type NotificationDispatcherConfig struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PollInterval   time.Duration
	// LeaseTimeout is how long a claimed task stays invisible to other
	// claimers before it is handed out again.
	LeaseTimeout time.Duration
}

func DefaultNotificationDispatcherConfig() NotificationDispatcherConfig {
	return NotificationDispatcherConfig{
		BatchSize:      50,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
		PollInterval:   5 * time.Second,
		LeaseTimeout:   time.Minute,
	}
}

type DispatchStats struct {
	Claimed      int
	Delivered    int
	Retried      int
	DeadLettered int
}

type DispatcherOption func(*NotificationDispatcher)

func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *NotificationDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithDispatcherMetrics(recorder MetricsRecorder) DispatcherOption {
	return func(d *NotificationDispatcher) {
		if recorder != nil {
			d.metrics = recorder
		}
	}
}

// NotificationDispatcher drains the notification outbox after fulfillment
// commits. Delivery failures never reach the payment path; they are retried
// with exponential backoff and dead-lettered once MaxAttempts is spent. A
// claim that is never settled is reclaimed when its lease lapses.
type NotificationDispatcher struct {
	store     NotificationTaskStore
	publisher NotificationPublisher
	config    NotificationDispatcherConfig
	logger    Logger
	metrics   MetricsRecorder
	wake      chan struct{}
	now       func() time.Time
}

func NewNotificationDispatcher(
	store NotificationTaskStore,
	publisher NotificationPublisher,
	config NotificationDispatcherConfig,
	opts ...DispatcherOption,
) (*NotificationDispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("core: notification task store is required")
	}
	if publisher == nil {
		return nil, ErrNotificationPublisherUnavailable
	}
	defaults := DefaultNotificationDispatcherConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = defaults.LeaseTimeout
	}
	dispatcher := &NotificationDispatcher{
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    glog.Nop(),
		metrics:   NopMetricsRecorder{},
		wake:      make(chan struct{}, 1),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}
	return dispatcher, nil
}

// Wake nudges Run without blocking; repeated calls coalesce.
func (d *NotificationDispatcher) Wake() {
	if d == nil {
		return
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run dispatches on every wake signal and poll tick until ctx is done.
func (d *NotificationDispatcher) Run(ctx context.Context) error {
	if d == nil {
		return fmt.Errorf("core: notification dispatcher is not configured")
	}
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
		case <-ticker.C:
		}
		if _, err := d.DispatchPending(ctx, 0); err != nil && ctx.Err() == nil {
			logWithLevel(ctx, d.logger, "warn", "notification dispatch pass had failures", map[string]any{
				"error": err.Error(),
			})
		}
	}
}

func (d *NotificationDispatcher) DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("core: notification dispatcher is not configured")
	}
	limit := batchSize
	if limit <= 0 {
		limit = d.config.BatchSize
	}
	tasks, err := d.store.ClaimBatch(ctx, limit, d.config.LeaseTimeout)
	if err != nil {
		return DispatchStats{}, err
	}

	stats := DispatchStats{Claimed: len(tasks)}
	var dispatchErr error
	for _, task := range tasks {
		tags := map[string]string{"notification_kind": string(task.Kind)}
		if task.Attempts > d.config.MaxAttempts {
			// a previous claim spent the last attempt without settling
			if err := d.store.Retry(ctx, strings.TrimSpace(task.ID), ErrNotificationAttemptsExhausted, time.Time{}); err != nil {
				dispatchErr = joinErrors(dispatchErr, err)
				continue
			}
			stats.DeadLettered++
			recordCounter(ctx, d.metrics, "fulfillment.notification.dead_lettered", 1, tags)
			logWithLevel(ctx, d.logger, "error", "notification dead-lettered", map[string]any{
				"task_id":  task.ID,
				"order_id": task.OrderID,
				"kind":     string(task.Kind),
				"attempts": task.Attempts,
				"error":    ErrNotificationAttemptsExhausted.Error(),
			})
			continue
		}
		if err := d.publisher.Publish(ctx, task); err != nil {
			recordCounter(ctx, d.metrics, "fulfillment.notification.failed", 1, tags)
			dead, retryErr := d.retryTask(ctx, task, err)
			if retryErr != nil {
				dispatchErr = joinErrors(dispatchErr, retryErr)
			}
			if dead {
				stats.DeadLettered++
				recordCounter(ctx, d.metrics, "fulfillment.notification.dead_lettered", 1, tags)
				logWithLevel(ctx, d.logger, "error", "notification dead-lettered", map[string]any{
					"task_id":  task.ID,
					"order_id": task.OrderID,
					"kind":     string(task.Kind),
					"attempts": task.Attempts,
					"error":    err.Error(),
				})
			} else {
				stats.Retried++
				logWithLevel(ctx, d.logger, "warn", "notification delivery failed", map[string]any{
					"task_id":  task.ID,
					"order_id": task.OrderID,
					"kind":     string(task.Kind),
					"attempts": task.Attempts,
					"error":    err.Error(),
				})
			}
			dispatchErr = joinErrors(dispatchErr, err)
			continue
		}
		if err := d.store.Ack(ctx, strings.TrimSpace(task.ID)); err != nil {
			dispatchErr = joinErrors(dispatchErr, err)
			continue
		}
		stats.Delivered++
		recordCounter(ctx, d.metrics, "fulfillment.notification.delivered", 1, tags)
	}

	return stats, dispatchErr
}

// retryTask settles a failed attempt. Attempts on a claimed task already
// includes the attempt that just failed.
func (d *NotificationDispatcher) retryTask(ctx context.Context, task NotificationTask, cause error) (bool, error) {
	attempt := task.Attempts
	if attempt < 1 {
		attempt = 1
	}
	if attempt >= d.config.MaxAttempts {
		return true, d.store.Retry(ctx, strings.TrimSpace(task.ID), cause, time.Time{})
	}
	nextAttemptAt := d.now().Add(d.nextBackoffDelay(attempt))
	return false, d.store.Retry(ctx, strings.TrimSpace(task.ID), cause, nextAttemptAt)
}

func (d *NotificationDispatcher) nextBackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(d.config.InitialBackoff)
	multiplier := math.Pow(2, float64(attempt-1))
	next := time.Duration(base * multiplier)
	if next < 0 {
		return d.config.MaxBackoff
	}
	if next > d.config.MaxBackoff {
		return d.config.MaxBackoff
	}
	return next
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}

// NotifierPublisher delivers outbox tasks straight to a Notifier.
type NotifierPublisher struct {
	Notifier Notifier
}

func (p NotifierPublisher) Publish(ctx context.Context, task NotificationTask) error {
	if p.Notifier == nil {
		return ErrNotificationPublisherUnavailable
	}
	return p.Notifier.Notify(ctx, task.OrderID, task.Kind)
}

// LogNotifier is the fallback Notifier when no delivery channel is wired.
type LogNotifier struct {
	Logger Logger
}

func (n LogNotifier) Notify(ctx context.Context, orderID string, kind NotificationKind) error {
	logWithLevel(ctx, n.Logger, "info", "order notification", map[string]any{
		"order_id": orderID,
		"kind":     string(kind),
	})
	return nil
}

var (
	_ NotificationWaker     = (*NotificationDispatcher)(nil)
	_ NotificationPublisher = NotifierPublisher{}
	_ Notifier              = LogNotifier{}
)
