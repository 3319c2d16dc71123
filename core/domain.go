package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrOrderNotFound                    = errors.New("core: order not found")
	ErrInvoiceNotFound                  = errors.New("core: invoice not found")
	ErrDeliverableNotFound              = errors.New("core: deliverable not found")
	ErrDeliverableExpired               = errors.New("core: deliverable access expired")
	ErrDeliverableRevoked               = errors.New("core: deliverable access revoked")
	ErrProductNotFound                  = errors.New("core: product not found")
	ErrProductUnavailable               = errors.New("core: product is not available for purchase")
	ErrInsufficientStock                = errors.New("core: insufficient stock")
	ErrEmptyCheckout                    = errors.New("core: checkout requires at least one line")
	ErrCurrencyMismatch                 = errors.New("core: currency mismatch")
	ErrInvalidOrderStatusTransition     = errors.New("core: invalid order status transition")
	ErrInvalidServiceStatusTransition   = errors.New("core: invalid service status transition")
	ErrServiceWorkflowNotStarted        = errors.New("core: order has no service workflow")
	ErrInvariantViolation               = errors.New("core: fulfillment invariant violation")
	ErrCheckoutProviderUnavailable      = errors.New("core: checkout provider unavailable")
	ErrNotificationPublisherUnavailable = errors.New("core: notification publisher unavailable")
	ErrAmountOverflow                   = errors.New("core: amount overflows int64 cents")
	ErrNotificationAttemptsExhausted    = errors.New("core: notification attempts exhausted")
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
	OrderStatusFailed         OrderStatus = "FAILED"
)

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed:
		return true
	default:
		return false
	}
}

func ParseOrderStatus(value string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := orderTransitions[status]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidOrderStatusTransition, value)
	}
	return status, nil
}

// orderTransitions is the full lifecycle graph. COMPLETED keeps a single
// escape to REFUNDED so a refund can follow delivery.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment: {OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusPaid:           {OrderStatusProcessing, OrderStatusCompleted, OrderStatusRefunded, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusProcessing:     {OrderStatusShipped, OrderStatusCompleted, OrderStatusRefunded, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusShipped:        {OrderStatusDelivered, OrderStatusRefunded, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusDelivered:      {OrderStatusCompleted, OrderStatusRefunded, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusCompleted:      {OrderStatusRefunded},
	OrderStatusCancelled:      nil,
	OrderStatusRefunded:       nil,
	OrderStatusFailed:         nil,
}

func orderTransitionAllowed(from OrderStatus, to OrderStatus) bool {
	for _, candidate := range orderTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

type ServiceStatus string

const (
	ServiceStatusAwaitingBrief     ServiceStatus = "AWAITING_BRIEF"
	ServiceStatusBriefSubmitted    ServiceStatus = "BRIEF_SUBMITTED"
	ServiceStatusInProgress        ServiceStatus = "IN_PROGRESS"
	ServiceStatusReadyForReview    ServiceStatus = "READY_FOR_REVIEW"
	ServiceStatusRevisionRequested ServiceStatus = "REVISION_REQUESTED"
	ServiceStatusDelivered         ServiceStatus = "DELIVERED"
	ServiceStatusAccepted          ServiceStatus = "ACCEPTED"
)

var serviceTransitions = map[ServiceStatus][]ServiceStatus{
	ServiceStatusAwaitingBrief:     {ServiceStatusBriefSubmitted},
	ServiceStatusBriefSubmitted:    {ServiceStatusInProgress},
	ServiceStatusInProgress:        {ServiceStatusReadyForReview},
	ServiceStatusReadyForReview:    {ServiceStatusRevisionRequested, ServiceStatusDelivered},
	ServiceStatusRevisionRequested: {ServiceStatusInProgress},
	ServiceStatusDelivered:         {ServiceStatusAccepted},
	ServiceStatusAccepted:          nil,
}

func ParseServiceStatus(value string) (ServiceStatus, error) {
	status := ServiceStatus(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := serviceTransitions[status]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidServiceStatusTransition, value)
	}
	return status, nil
}

func serviceTransitionAllowed(from ServiceStatus, to ServiceStatus) bool {
	for _, candidate := range serviceTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

type ProductType string

const (
	ProductTypeDigital      ProductType = "DIGITAL"
	ProductTypePhysical     ProductType = "PHYSICAL"
	ProductTypeService      ProductType = "SERVICE"
	ProductTypeSubscription ProductType = "SUBSCRIPTION"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusPending   InvoiceStatus = "PENDING"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
	InvoiceStatusRefunded  InvoiceStatus = "REFUNDED"
)

// EventKind is the provider-neutral classification of an inbound payment event.
type EventKind string

const (
	EventKindCheckoutCompleted EventKind = "checkout.completed"
	EventKindCheckoutExpired   EventKind = "checkout.expired"
	EventKindChargeRefunded    EventKind = "charge.refunded"
	EventKindPaymentSucceeded  EventKind = "payment.succeeded"
	EventKindUnknown           EventKind = "unknown"
	// EventKindOperatorRequest marks ledger rows that hold an operator
	// Idempotency-Key instead of a provider event.
	EventKindOperatorRequest EventKind = "operator.request"
)

// OperatorLedgerProvider is the ledger provider for operator requests.
const OperatorLedgerProvider = "operator"

type EventOutcome string

const (
	EventOutcomePending   EventOutcome = "pending"
	EventOutcomeApplied   EventOutcome = "applied"
	EventOutcomeDuplicate EventOutcome = "duplicate"
	EventOutcomeIgnored   EventOutcome = "ignored"
)

type Order struct {
	ID               string
	OrderNumber      string
	AmountCents      int64
	Currency         string
	Status           OrderStatus
	ServiceStatus    ServiceStatus
	CustomerEmail    string
	CustomerName     string
	CustomerPhone    string
	PaymentSessionID string
	PaymentIntentID  string
	PaidAt           *time.Time
	FulfilledAt      *time.Time
	CancelledAt      *time.Time
	RefundedAt       *time.Time
	FailedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []OrderItem
}

// TransitionTo moves the order along the lifecycle graph and stamps the
// matching timestamp. PaidAt is only ever written once.
func (o *Order) TransitionTo(status OrderStatus, now time.Time) error {
	if o == nil {
		return nil
	}
	if o.Status == status {
		return nil
	}
	if !orderTransitionAllowed(o.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidOrderStatusTransition, o.Status, status)
	}
	stamp := now.UTC()
	switch status {
	case OrderStatusPaid:
		if o.PaidAt == nil {
			o.PaidAt = &stamp
		}
	case OrderStatusCompleted:
		o.FulfilledAt = &stamp
	case OrderStatusCancelled:
		o.CancelledAt = &stamp
	case OrderStatusRefunded:
		o.RefundedAt = &stamp
	case OrderStatusFailed:
		o.FailedAt = &stamp
	}
	o.Status = status
	o.UpdatedAt = stamp
	return nil
}

func (o *Order) AdvanceService(status ServiceStatus, now time.Time) error {
	if o == nil {
		return nil
	}
	if o.ServiceStatus == "" {
		return ErrServiceWorkflowNotStarted
	}
	if !serviceTransitionAllowed(o.ServiceStatus, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidServiceStatusTransition, o.ServiceStatus, status)
	}
	o.ServiceStatus = status
	o.UpdatedAt = now.UTC()
	return nil
}

// ItemsTotal sums the line totals, failing instead of wrapping around.
func (o Order) ItemsTotal() (int64, error) {
	var total int64
	for _, item := range o.Items {
		next, err := AddCents(total, item.TotalPriceCents)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// MaxLineQuantity bounds a single order line regardless of checkout config.
const MaxLineQuantity = 10000

func LineTotal(unitPriceCents int64, quantity int) (int64, error) {
	if unitPriceCents < 0 || quantity < 0 {
		return 0, fmt.Errorf("%w: negative price %d or quantity %d", ErrAmountOverflow, unitPriceCents, quantity)
	}
	if unitPriceCents != 0 && int64(quantity) > math.MaxInt64/unitPriceCents {
		return 0, fmt.Errorf("%w: %d x %d", ErrAmountOverflow, unitPriceCents, quantity)
	}
	return unitPriceCents * int64(quantity), nil
}

func AddCents(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, a, b)
	}
	return a + b, nil
}

func (o Order) HasProductType(productType ProductType) bool {
	for _, item := range o.Items {
		if item.ProductType == productType {
			return true
		}
	}
	return false
}

// OrderItem carries the price snapshot taken at checkout.
type OrderItem struct {
	ID              string
	OrderID         string
	ProductID       string
	ProductType     ProductType
	Title           string
	UnitPriceCents  int64
	Quantity        int
	TotalPriceCents int64
	CreatedAt       time.Time
}

type Invoice struct {
	ID            string
	OrderID       string
	InvoiceNumber string
	AmountCents   int64
	Currency      string
	Status        InvoiceStatus
	PaidAt        *time.Time
	RefundedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Deliverable struct {
	ID               string
	OrderID          string
	OrderItemID      string
	ProductID        string
	Title            string
	AccessURL        string
	ExpiresAt        time.Time
	DownloadCount    int
	LastDownloadedAt *time.Time
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

func (d Deliverable) Accessible(now time.Time) error {
	if d.RevokedAt != nil {
		return ErrDeliverableRevoked
	}
	if !now.Before(d.ExpiresAt) {
		return ErrDeliverableExpired
	}
	return nil
}

// LedgerEntry is one accepted provider event; (Provider, ExternalEventID) is unique.
type LedgerEntry struct {
	ID              string
	Provider        string
	ExternalEventID string
	EventType       string
	Kind            EventKind
	OrderID         string
	Outcome         EventOutcome
	Payload         []byte
	ReceivedAt      time.Time
}

// OrderRef carries every correlation handle a provider event may expose.
type OrderRef struct {
	OrderID         string
	SessionID       string
	PaymentIntentID string
}

func (r OrderRef) Empty() bool {
	return strings.TrimSpace(r.OrderID) == "" &&
		strings.TrimSpace(r.SessionID) == "" &&
		strings.TrimSpace(r.PaymentIntentID) == ""
}

type PaymentEvent struct {
	Provider      string
	ExternalID    string
	Type          string
	Kind          EventKind
	CreatedAt     time.Time
	OrderRef      OrderRef
	AmountCents   *int64
	Currency      string
	CustomerEmail string
	CustomerName  string
	Payload       []byte
}

type EventResult struct {
	EventID string
	Kind    EventKind
	Outcome EventOutcome
	OrderID string
	From    OrderStatus
	To      OrderStatus
	Reason  string
}

type Product struct {
	ID             string
	Type           ProductType
	Title          string
	UnitPriceCents int64
	Currency       string
	Stock          *int
	Published      bool
}

type NotificationKind string

const (
	NotificationOrderPaid            NotificationKind = "order.paid"
	NotificationOrderExpired         NotificationKind = "order.expired"
	NotificationOrderRefunded        NotificationKind = "order.refunded"
	NotificationOrderStatusChanged   NotificationKind = "order.status_changed"
	NotificationServiceStatusChanged NotificationKind = "order.service_status_changed"
)

type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "pending"
	NotificationStatusProcessing NotificationStatus = "processing"
	NotificationStatusDelivered  NotificationStatus = "delivered"
	NotificationStatusDead       NotificationStatus = "dead"
)

type NotificationTask struct {
	ID            string
	EventID       string
	OrderID       string
	Kind          NotificationKind
	Payload       map[string]any
	Status        NotificationStatus
	Attempts      int
	ClaimedUntil  *time.Time
	NextAttemptAt *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
