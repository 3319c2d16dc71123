package command

import (
	"context"
	"strings"

	"github.com/goliatone/go-fulfillment/core"
	gocmd "github.com/goliatone/go-command"
)

type MutatingService interface {
	HandlePaymentEvent(ctx context.Context, event core.PaymentEvent) (core.EventResult, error)
	CreateCheckoutSession(ctx context.Context, req core.CheckoutRequest) (core.CheckoutResult, error)
	AdvanceOrderStatus(ctx context.Context, req core.AdvanceOrderStatusRequest) (core.Order, error)
	AdvanceServiceStatus(ctx context.Context, req core.AdvanceServiceStatusRequest) (core.Order, error)
	RecordDeliverableDownload(ctx context.Context, deliverableID string) (core.Deliverable, error)
}

type NotificationDrainer interface {
	DispatchPending(ctx context.Context, batchSize int) (core.DispatchStats, error)
}

type ProcessPaymentEventCommand struct {
	service MutatingService
}

func NewProcessPaymentEventCommand(service MutatingService) *ProcessPaymentEventCommand {
	return &ProcessPaymentEventCommand{service: service}
}

func (c *ProcessPaymentEventCommand) Execute(ctx context.Context, msg ProcessPaymentEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: payment event service is required")
	}
	out, err := c.service.HandlePaymentEvent(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateCheckoutSessionCommand struct {
	service MutatingService
}

func NewCreateCheckoutSessionCommand(service MutatingService) *CreateCheckoutSessionCommand {
	return &CreateCheckoutSessionCommand{service: service}
}

func (c *CreateCheckoutSessionCommand) Execute(ctx context.Context, msg CreateCheckoutSessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: checkout service is required")
	}
	out, err := c.service.CreateCheckoutSession(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type AdvanceOrderStatusCommand struct {
	service MutatingService
}

func NewAdvanceOrderStatusCommand(service MutatingService) *AdvanceOrderStatusCommand {
	return &AdvanceOrderStatusCommand{service: service}
}

func (c *AdvanceOrderStatusCommand) Execute(ctx context.Context, msg AdvanceOrderStatusMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: order status service is required")
	}
	out, err := c.service.AdvanceOrderStatus(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type AdvanceServiceStatusCommand struct {
	service MutatingService
}

func NewAdvanceServiceStatusCommand(service MutatingService) *AdvanceServiceStatusCommand {
	return &AdvanceServiceStatusCommand{service: service}
}

func (c *AdvanceServiceStatusCommand) Execute(ctx context.Context, msg AdvanceServiceStatusMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: service status service is required")
	}
	out, err := c.service.AdvanceServiceStatus(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RecordDownloadCommand struct {
	service MutatingService
}

func NewRecordDownloadCommand(service MutatingService) *RecordDownloadCommand {
	return &RecordDownloadCommand{service: service}
}

func (c *RecordDownloadCommand) Execute(ctx context.Context, msg RecordDownloadMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: deliverable service is required")
	}
	out, err := c.service.RecordDeliverableDownload(ctx, msg.DeliverableID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DispatchNotificationsCommand struct {
	drainer NotificationDrainer
}

func NewDispatchNotificationsCommand(drainer NotificationDrainer) *DispatchNotificationsCommand {
	return &DispatchNotificationsCommand{drainer: drainer}
}

func (c *DispatchNotificationsCommand) Execute(ctx context.Context, msg DispatchNotificationsMessage) error {
	if c == nil || c.drainer == nil {
		return commandDependencyError("command: notification dispatcher is required")
	}
	stats, err := c.drainer.DispatchPending(ctx, msg.BatchSize)
	storeResult(ctx, stats)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

// DeliverNotificationCommand hands one outbox task to the Notifier. It is the
// handler the go-job notification worker runs.
type DeliverNotificationCommand struct {
	notifier core.Notifier
}

func NewDeliverNotificationCommand(notifier core.Notifier) *DeliverNotificationCommand {
	return &DeliverNotificationCommand{notifier: notifier}
}

func (c *DeliverNotificationCommand) Execute(ctx context.Context, msg DeliverNotificationMessage) error {
	if c == nil || c.notifier == nil {
		return commandDependencyError("command: notifier is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.notifier.Notify(ctx, strings.TrimSpace(msg.OrderID), msg.Kind)
}
