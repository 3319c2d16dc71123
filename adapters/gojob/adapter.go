package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	fulfillmentcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/core"

	job "github.com/goliatone/go-job"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/goliatone/go-job/queue/worker"
)

// JobIDNotificationDeliver is the go-job task id of the deliver command, so
// the worker resolves outbox messages straight to its queue registry entry.
const JobIDNotificationDeliver = fulfillmentcommand.TypeDeliverNotification

const (
	paramTaskID  = "task_id"
	paramEventID = "event_id"
	paramOrderID = "order_id"
	paramKind    = "kind"
)

// ToExecutionMessage maps a claimed outbox task onto the go-job message the
// deliver command decodes. The idempotency key is informational only; the
// outbox row is the unit of deduplication.
func ToExecutionMessage(task core.NotificationTask) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:      JobIDNotificationDeliver,
		ScriptPath: JobIDNotificationDeliver,
		Parameters: map[string]any{
			paramTaskID:  strings.TrimSpace(task.ID),
			paramEventID: strings.TrimSpace(task.EventID),
			paramOrderID: strings.TrimSpace(task.OrderID),
			paramKind:    string(task.Kind),
		},
		IdempotencyKey: idempotencyKey(task),
	}
}

// NewRetryPolicy mirrors the outbox dispatcher backoff: exponential from
// InitialBackoff capped at MaxBackoff, dead-lettered on the MaxAttempts-th
// failure.
func NewRetryPolicy(cfg core.NotificationDispatcherConfig) worker.DefaultRetryPolicy {
	defaults := core.DefaultNotificationDispatcherConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	return worker.DefaultRetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff: worker.BackoffConfig{
			Strategy:    worker.BackoffExponential,
			Interval:    cfg.InitialBackoff,
			MaxInterval: cfg.MaxBackoff,
		},
	}
}

// NewNotificationWorker builds the go-job worker that runs the deliver
// command for every task the outbox queue hands out. The deliver command must
// already be mirrored into reg. Extra options are applied after the retry
// policy and lease heartbeat.
func NewNotificationWorker(
	outbox *OutboxQueue,
	reg *jobqueuecommand.Registry,
	cfg core.NotificationDispatcherConfig,
	opts ...worker.Option,
) (*worker.Worker, error) {
	if outbox == nil {
		return nil, fmt.Errorf("gojob: outbox queue is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("gojob: queue registry is required")
	}
	if _, ok := reg.Get(JobIDNotificationDeliver); !ok {
		return nil, fmt.Errorf("gojob: %s is not registered with the queue registry", JobIDNotificationDeliver)
	}
	lease := outbox.lease
	workerOpts := []worker.Option{
		worker.WithRetryPolicy(NewRetryPolicy(cfg)),
		worker.WithIdleDelay(outbox.pollInterval),
		worker.WithLeaseHeartbeatInterval(lease / 3),
		worker.WithLeaseExtensionTTL(lease),
	}
	workerOpts = append(workerOpts, opts...)
	return jobqueuecommand.NewLocalWorker(outbox, reg, jobqueuecommand.LocalWorkerConfig{
		IDs:           []string{JobIDNotificationDeliver},
		WorkerOptions: workerOpts,
	})
}

// MetricsHook reports worker outcomes through a MetricsRecorder.
type MetricsHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsHook(recorder core.MetricsRecorder) *MetricsHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &MetricsHook{recorder: recorder}
}

func (h *MetricsHook) OnStart(context.Context, worker.Event) {}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, "fulfillment.notification.delivered", event)
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	h.record(ctx, "fulfillment.notification.dead_lettered", event)
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	h.record(ctx, "fulfillment.notification.failed", event)
}

func (h *MetricsHook) record(ctx context.Context, name string, event worker.Event) {
	if h == nil || h.recorder == nil {
		return
	}
	tags := map[string]string{"job_id": JobIDNotificationDeliver}
	if event.Message != nil {
		if kind := stringParam(event.Message.Parameters, paramKind); kind != "" {
			tags["kind"] = kind
		}
	}
	h.recorder.IncCounter(ctx, name, 1, tags)
	h.recorder.ObserveHistogram(ctx, "fulfillment.notification.job.duration_ms", float64(event.Duration/time.Millisecond), tags)
}

func idempotencyKey(task core.NotificationTask) string {
	eventID := strings.TrimSpace(task.EventID)
	if eventID == "" {
		eventID = strings.TrimSpace(task.ID)
	}
	return eventID + ":" + string(task.Kind)
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	value, ok := params[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

var _ worker.Hook = (*MetricsHook)(nil)
