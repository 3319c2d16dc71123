package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type productRecord struct {
	bun.BaseModel `bun:"table:catalog_products,alias:cp"`

	ID             string    `bun:"id,pk"`
	ProductType    string    `bun:"product_type,notnull"`
	Title          string    `bun:"title,notnull"`
	UnitPriceCents int64     `bun:"unit_price_cents,notnull"`
	Currency       string    `bun:"currency,notnull"`
	Stock          *int      `bun:"stock"`
	Published      bool      `bun:"published,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *productRecord) recordID() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

type orderRecord struct {
	bun.BaseModel `bun:"table:fulfillment_orders,alias:fo"`

	ID               string     `bun:"id,pk"`
	OrderNumber      string     `bun:"order_number,notnull"`
	AmountCents      int64      `bun:"amount_cents,notnull"`
	Currency         string     `bun:"currency,notnull"`
	Status           string     `bun:"status,notnull"`
	ServiceStatus    string     `bun:"service_status,notnull"`
	CustomerEmail    string     `bun:"customer_email,notnull"`
	CustomerName     string     `bun:"customer_name,notnull"`
	CustomerPhone    string     `bun:"customer_phone,notnull"`
	PaymentSessionID *string    `bun:"payment_session_id"`
	PaymentIntentID  *string    `bun:"payment_intent_id"`
	PaidAt           *time.Time `bun:"paid_at,nullzero"`
	FulfilledAt      *time.Time `bun:"fulfilled_at,nullzero"`
	CancelledAt      *time.Time `bun:"cancelled_at,nullzero"`
	RefundedAt       *time.Time `bun:"refunded_at,nullzero"`
	FailedAt         *time.Time `bun:"failed_at,nullzero"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *orderRecord) recordID() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

type orderItemRecord struct {
	bun.BaseModel `bun:"table:fulfillment_order_items,alias:foi"`

	ID              string    `bun:"id,pk"`
	OrderID         string    `bun:"order_id,notnull"`
	ProductID       string    `bun:"product_id,notnull"`
	ProductType     string    `bun:"product_type,notnull"`
	Title           string    `bun:"title,notnull"`
	UnitPriceCents  int64     `bun:"unit_price_cents,notnull"`
	Quantity        int       `bun:"quantity,notnull"`
	TotalPriceCents int64     `bun:"total_price_cents,notnull"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type invoiceRecord struct {
	bun.BaseModel `bun:"table:fulfillment_invoices,alias:fi"`

	ID            string     `bun:"id,pk"`
	OrderID       string     `bun:"order_id,notnull"`
	InvoiceNumber string     `bun:"invoice_number,notnull"`
	AmountCents   int64      `bun:"amount_cents,notnull"`
	Currency      string     `bun:"currency,notnull"`
	Status        string     `bun:"status,notnull"`
	PaidAt        *time.Time `bun:"paid_at,nullzero"`
	RefundedAt    *time.Time `bun:"refunded_at,nullzero"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *invoiceRecord) recordID() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

type deliverableRecord struct {
	bun.BaseModel `bun:"table:fulfillment_deliverables,alias:fd"`

	ID               string     `bun:"id,pk"`
	OrderID          string     `bun:"order_id,notnull"`
	OrderItemID      string     `bun:"order_item_id,notnull"`
	ProductID        string     `bun:"product_id,notnull"`
	Title            string     `bun:"title,notnull"`
	AccessURL        string     `bun:"access_url,notnull"`
	ExpiresAt        time.Time  `bun:"expires_at,notnull"`
	DownloadCount    int        `bun:"download_count,notnull"`
	LastDownloadedAt *time.Time `bun:"last_downloaded_at,nullzero"`
	RevokedAt        *time.Time `bun:"revoked_at,nullzero"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *deliverableRecord) recordID() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:fulfillment_webhook_events,alias:fwe"`

	ID              string    `bun:"id,pk"`
	Provider        string    `bun:"provider,notnull"`
	ExternalEventID string    `bun:"external_event_id,notnull"`
	EventType       string    `bun:"event_type,notnull"`
	EventKind       string    `bun:"event_kind,notnull"`
	OrderID         *string   `bun:"order_id"`
	Outcome         string    `bun:"outcome,notnull"`
	Payload         []byte    `bun:"payload"`
	ReceivedAt      time.Time `bun:"received_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *webhookEventRecord) recordID() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

type notificationOutboxRecord struct {
	bun.BaseModel `bun:"table:fulfillment_notification_outbox,alias:fno"`

	ID            string         `bun:"id,pk"`
	EventID       string         `bun:"event_id,notnull"`
	OrderID       string         `bun:"order_id,notnull"`
	Kind          string         `bun:"kind,notnull"`
	Payload       map[string]any `bun:"payload,type:jsonb,notnull"`
	Status        string         `bun:"status,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	NextAttemptAt *time.Time     `bun:"next_attempt_at,nullzero"`
	ClaimedUntil  *time.Time     `bun:"claimed_until,nullzero"`
	LastError     string         `bun:"last_error,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *notificationOutboxRecord) recordID() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}
