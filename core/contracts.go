package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// UnitOfWork scopes one atomic boundary. Every store handed to fn shares the
// same transaction; returning an error rolls all of it back.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx TxStores) error) error
}

type TxStores interface {
	Ledger() EventLedger
	Orders() OrderStore
	Invoices() InvoiceStore
	Deliverables() DeliverableStore
	Stock() StockStore
	Notifications() NotificationOutbox
}

type EventLedger interface {
	// RecordIfNew inserts the entry unless (provider, external id) exists and
	// reports whether this call created it.
	RecordIfNew(ctx context.Context, entry LedgerEntry) (bool, error)
	MarkOutcome(ctx context.Context, provider string, externalEventID string, outcome EventOutcome, orderID string) error
}

type OrderStore interface {
	Get(ctx context.Context, id string) (Order, error)
	// LockByID loads the order with its items and holds a row lock until the
	// surrounding unit of work ends.
	LockByID(ctx context.Context, id string) (Order, error)
	FindIDByRef(ctx context.Context, ref OrderRef) (string, error)
	Create(ctx context.Context, order Order) (Order, error)
	Update(ctx context.Context, order Order) error
}

type InvoiceStore interface {
	GetByOrder(ctx context.Context, orderID string) (Invoice, error)
	Create(ctx context.Context, invoice Invoice) (Invoice, error)
	UpdateStatus(ctx context.Context, id string, status InvoiceStatus, at time.Time) error
}

type DeliverableStore interface {
	Get(ctx context.Context, id string) (Deliverable, error)
	ListByOrder(ctx context.Context, orderID string) ([]Deliverable, error)
	Create(ctx context.Context, deliverable Deliverable) (Deliverable, error)
	RevokeByOrder(ctx context.Context, orderID string, at time.Time) (int, error)
	RecordDownload(ctx context.Context, id string, at time.Time) (Deliverable, error)
}

type StockStore interface {
	Reserve(ctx context.Context, productID string, quantity int) error
	Release(ctx context.Context, productID string, quantity int) error
}

type NotificationOutbox interface {
	Enqueue(ctx context.Context, task NotificationTask) error
}

type NotificationTaskStore interface {
	// ClaimBatch leases up to limit due tasks. Pending rows and processing
	// rows whose lease lapsed are both eligible, and every claim counts as an
	// attempt.
	ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]NotificationTask, error)
	ExtendLease(ctx context.Context, taskID string, until time.Time) error
	Ack(ctx context.Context, taskID string) error
	// Retry schedules another attempt at nextAttemptAt; a zero time dead-letters the task.
	Retry(ctx context.Context, taskID string, cause error, nextAttemptAt time.Time) error
}

type CatalogReader interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
}

type CheckoutLine struct {
	ProductID string
	Quantity  int
}

type Cart struct {
	ID            string
	CustomerEmail string
	Lines         []CheckoutLine
}

type CartReader interface {
	GetCart(ctx context.Context, cartID string) (Cart, error)
	ClearCart(ctx context.Context, cartID string) error
}

type CheckoutSessionLine struct {
	ProductID      string
	Title          string
	UnitPriceCents int64
	Quantity       int
}

type CheckoutSessionRequest struct {
	OrderID       string
	OrderNumber   string
	Currency      string
	CustomerEmail string
	Lines         []CheckoutSessionLine
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt *time.Time
}

type CheckoutProvider interface {
	CreateSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
}

type DeliverableGrant struct {
	DeliverableID string
	OrderID       string
	ProductID     string
	ExpiresAt     time.Time
}

// DeliverableIssuer turns a grant into an access reference the core stores verbatim.
type DeliverableIssuer interface {
	Issue(ctx context.Context, grant DeliverableGrant) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, orderID string, kind NotificationKind) error
}

type NotificationPublisher interface {
	Publish(ctx context.Context, task NotificationTask) error
}

type NotificationWaker interface {
	Wake()
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// FulfillmentService is the surface consumed by commands, queries and HTTP handlers.
type FulfillmentService interface {
	HandlePaymentEvent(ctx context.Context, event PaymentEvent) (EventResult, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutResult, error)
	GetOrder(ctx context.Context, orderID string) (OrderDetails, error)
	AdvanceOrderStatus(ctx context.Context, req AdvanceOrderStatusRequest) (Order, error)
	AdvanceServiceStatus(ctx context.Context, req AdvanceServiceStatusRequest) (Order, error)
	RecordDeliverableDownload(ctx context.Context, deliverableID string) (Deliverable, error)
}
