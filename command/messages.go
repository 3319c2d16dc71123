package command

import (
	"strings"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	TypeProcessPaymentEvent   = "fulfillment.command.payment_event.process"
	TypeCreateCheckoutSession = "fulfillment.command.checkout_session.create"
	TypeAdvanceOrderStatus    = "fulfillment.command.order_status.advance"
	TypeAdvanceServiceStatus  = "fulfillment.command.service_status.advance"
	TypeRecordDownload        = "fulfillment.command.deliverable.record_download"
	TypeDispatchNotifications = "fulfillment.command.notifications.dispatch"
	TypeDeliverNotification   = "fulfillment.command.notification.deliver"
)

const maxDispatchBatchSize = 500

type ProcessPaymentEventMessage struct {
	Event core.PaymentEvent
}

func (ProcessPaymentEventMessage) Type() string { return TypeProcessPaymentEvent }

func (m ProcessPaymentEventMessage) Validate() error {
	if strings.TrimSpace(m.Event.ExternalID) == "" {
		return commandValidationError("event.external_id", "external event id is required")
	}
	if strings.TrimSpace(m.Event.Type) == "" {
		return commandValidationError("event.type", "event type is required")
	}
	return nil
}

type CreateCheckoutSessionMessage struct {
	Request core.CheckoutRequest
}

func (CreateCheckoutSessionMessage) Type() string { return TypeCreateCheckoutSession }

func (m CreateCheckoutSessionMessage) Validate() error {
	if len(m.Request.Lines) == 0 && strings.TrimSpace(m.Request.CartID) == "" {
		return commandValidationError("lines", "checkout requires lines or a cart id")
	}
	for _, line := range m.Request.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return commandValidationError("lines.product_id", "product id is required")
		}
		if line.Quantity <= 0 {
			return commandValidationError("lines.quantity", "quantity must be positive")
		}
	}
	return nil
}

type AdvanceOrderStatusMessage struct {
	Request core.AdvanceOrderStatusRequest
}

func (AdvanceOrderStatusMessage) Type() string { return TypeAdvanceOrderStatus }

func (m AdvanceOrderStatusMessage) Validate() error {
	if strings.TrimSpace(m.Request.OrderID) == "" {
		return commandValidationError("order_id", "order id is required")
	}
	if strings.TrimSpace(string(m.Request.Status)) == "" {
		return commandValidationError("status", "status is required")
	}
	return nil
}

type AdvanceServiceStatusMessage struct {
	Request core.AdvanceServiceStatusRequest
}

func (AdvanceServiceStatusMessage) Type() string { return TypeAdvanceServiceStatus }

func (m AdvanceServiceStatusMessage) Validate() error {
	if strings.TrimSpace(m.Request.OrderID) == "" {
		return commandValidationError("order_id", "order id is required")
	}
	if strings.TrimSpace(string(m.Request.Status)) == "" {
		return commandValidationError("status", "service status is required")
	}
	return nil
}

type RecordDownloadMessage struct {
	DeliverableID string
}

func (RecordDownloadMessage) Type() string { return TypeRecordDownload }

func (m RecordDownloadMessage) Validate() error {
	if strings.TrimSpace(m.DeliverableID) == "" {
		return commandValidationError("deliverable_id", "deliverable id is required")
	}
	return nil
}

// DispatchNotificationsMessage drains one batch of the notification outbox.
// A zero BatchSize uses the dispatcher's configured size.
type DispatchNotificationsMessage struct {
	BatchSize int
}

func (DispatchNotificationsMessage) Type() string { return TypeDispatchNotifications }

func (m DispatchNotificationsMessage) Validate() error {
	if m.BatchSize < 0 || m.BatchSize > maxDispatchBatchSize {
		return commandInvalidInputError("command: batch size must be between 0 and 500")
	}
	return nil
}

// DeliverNotificationMessage is one claimed outbox task. Field tags match the
// go-job parameter keys it is decoded from.
type DeliverNotificationMessage struct {
	TaskID  string                `json:"task_id"`
	EventID string                `json:"event_id"`
	OrderID string                `json:"order_id"`
	Kind    core.NotificationKind `json:"kind"`
}

func (DeliverNotificationMessage) Type() string { return TypeDeliverNotification }

func (m DeliverNotificationMessage) Validate() error {
	if strings.TrimSpace(m.OrderID) == "" {
		return commandValidationError("order_id", "order id is required")
	}
	if strings.TrimSpace(string(m.Kind)) == "" {
		return commandValidationError("kind", "notification kind is required")
	}
	return nil
}
