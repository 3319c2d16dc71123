package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultDeliverableTTL = 7 * 24 * time.Hour

// FulfillmentDispatcher executes a Decision against the stores of a single
// unit of work. It is the only writer of invoices, deliverables and the
// service workflow status.
type FulfillmentDispatcher struct {
	issuer         DeliverableIssuer
	deliverableTTL time.Duration
	now            func() time.Time
	newID          func() string
}

func NewFulfillmentDispatcher(issuer DeliverableIssuer, deliverableTTL time.Duration) (*FulfillmentDispatcher, error) {
	if issuer == nil {
		return nil, fmt.Errorf("core: deliverable issuer is required")
	}
	if deliverableTTL <= 0 {
		deliverableTTL = DefaultDeliverableTTL
	}
	return &FulfillmentDispatcher{
		issuer:         issuer,
		deliverableTTL: deliverableTTL,
		now: func() time.Time {
			return time.Now().UTC()
		},
		newID: uuid.NewString,
	}, nil
}

// Apply runs every effect of the decision, moves the order and queues the
// notification. The order is updated in place.
func (d *FulfillmentDispatcher) Apply(
	ctx context.Context,
	tx TxStores,
	order *Order,
	decision Decision,
	event PaymentEvent,
) error {
	if d == nil || tx == nil || order == nil {
		return fmt.Errorf("core: fulfillment dispatcher is not configured")
	}
	if !decision.Applies {
		return nil
	}
	if err := d.checkInvariants(*order, decision, event); err != nil {
		return err
	}

	now := d.now()
	if err := order.TransitionTo(decision.To, now); err != nil {
		return err
	}
	for _, effect := range decision.Effects {
		if err := d.applyEffect(ctx, tx, order, effect, event, now); err != nil {
			return fmt.Errorf("core: effect %s failed for order %s: %w", effect, order.ID, err)
		}
	}
	if err := tx.Orders().Update(ctx, *order); err != nil {
		return err
	}
	return d.enqueueNotification(ctx, tx, *order, decision, eventIDForNotification(event), now)
}

// ApplyServiceStatus advances the service workflow of a locked order.
func (d *FulfillmentDispatcher) ApplyServiceStatus(
	ctx context.Context,
	tx TxStores,
	order *Order,
	status ServiceStatus,
	requestID string,
) error {
	if d == nil || tx == nil || order == nil {
		return fmt.Errorf("core: fulfillment dispatcher is not configured")
	}
	now := d.now()
	if err := order.AdvanceService(status, now); err != nil {
		return err
	}
	if err := tx.Orders().Update(ctx, *order); err != nil {
		return err
	}
	return tx.Notifications().Enqueue(ctx, NotificationTask{
		ID:      d.newID(),
		EventID: requestID,
		OrderID: order.ID,
		Kind:    NotificationServiceStatusChanged,
		Payload: map[string]any{
			"order_number":   order.OrderNumber,
			"service_status": string(status),
		},
		Status:    NotificationStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (d *FulfillmentDispatcher) checkInvariants(order Order, decision Decision, event PaymentEvent) error {
	if len(order.Items) == 0 {
		return fmt.Errorf("%w: order %s has no items", ErrInvariantViolation, order.ID)
	}
	for _, item := range order.Items {
		if item.Quantity <= 0 || item.UnitPriceCents < 0 {
			return fmt.Errorf("%w: item %s has invalid quantity or price", ErrInvariantViolation, item.ID)
		}
		lineTotal, err := LineTotal(item.UnitPriceCents, item.Quantity)
		if err != nil {
			return fmt.Errorf("%w: item %s: %v", ErrInvariantViolation, item.ID, err)
		}
		if lineTotal != item.TotalPriceCents {
			return fmt.Errorf(
				"%w: item %s total %d != %d x %d",
				ErrInvariantViolation,
				item.ID,
				item.TotalPriceCents,
				item.UnitPriceCents,
				item.Quantity,
			)
		}
	}
	total, err := order.ItemsTotal()
	if err != nil {
		return fmt.Errorf("%w: order %s: %v", ErrInvariantViolation, order.ID, err)
	}
	if total != order.AmountCents {
		return fmt.Errorf("%w: order %s amount %d != items total %d", ErrInvariantViolation, order.ID, order.AmountCents, total)
	}
	if !decision.Has(EffectIssueInvoice) {
		return nil
	}
	if currency := strings.TrimSpace(event.Currency); currency != "" && !strings.EqualFold(currency, order.Currency) {
		return fmt.Errorf("%w: event currency %s != order currency %s", ErrInvariantViolation, currency, order.Currency)
	}
	if event.AmountCents != nil && *event.AmountCents != order.AmountCents {
		return fmt.Errorf("%w: event amount %d != order amount %d", ErrInvariantViolation, *event.AmountCents, order.AmountCents)
	}
	return nil
}

func (d *FulfillmentDispatcher) applyEffect(
	ctx context.Context,
	tx TxStores,
	order *Order,
	effect Effect,
	event PaymentEvent,
	now time.Time,
) error {
	switch effect {
	case EffectRecordPayment:
		if ref := strings.TrimSpace(event.OrderRef.PaymentIntentID); ref != "" {
			order.PaymentIntentID = ref
		}
		if ref := strings.TrimSpace(event.OrderRef.SessionID); ref != "" && order.PaymentSessionID == "" {
			order.PaymentSessionID = ref
		}
		if email := strings.TrimSpace(event.CustomerEmail); email != "" && order.CustomerEmail == "" {
			order.CustomerEmail = email
		}
		if name := strings.TrimSpace(event.CustomerName); name != "" && order.CustomerName == "" {
			order.CustomerName = name
		}
		return nil
	case EffectIssueInvoice:
		return d.issueInvoice(ctx, tx, *order, now)
	case EffectMintDeliverables:
		return d.mintDeliverables(ctx, tx, *order, now)
	case EffectStartServiceWorkflow:
		if order.HasProductType(ProductTypeService) && order.ServiceStatus == "" {
			order.ServiceStatus = ServiceStatusAwaitingBrief
		}
		return nil
	case EffectReleaseStock:
		return releaseStock(ctx, tx, *order)
	case EffectRefundInvoice:
		invoice, err := tx.Invoices().GetByOrder(ctx, order.ID)
		if err != nil {
			if isNotFound(err, ErrInvoiceNotFound) {
				return nil
			}
			return err
		}
		if invoice.Status == InvoiceStatusRefunded {
			return nil
		}
		return tx.Invoices().UpdateStatus(ctx, invoice.ID, InvoiceStatusRefunded, now)
	case EffectRevokeDeliverables:
		_, err := tx.Deliverables().RevokeByOrder(ctx, order.ID, now)
		return err
	default:
		return fmt.Errorf("core: unknown effect %q", effect)
	}
}

func (d *FulfillmentDispatcher) issueInvoice(ctx context.Context, tx TxStores, order Order, now time.Time) error {
	if _, err := tx.Invoices().GetByOrder(ctx, order.ID); err == nil {
		return nil
	} else if !isNotFound(err, ErrInvoiceNotFound) {
		return err
	}
	paidAt := now
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}
	_, err := tx.Invoices().Create(ctx, Invoice{
		ID:            d.newID(),
		OrderID:       order.ID,
		InvoiceNumber: InvoiceNumberFor(order.OrderNumber),
		AmountCents:   order.AmountCents,
		Currency:      order.Currency,
		Status:        InvoiceStatusPaid,
		PaidAt:        &paidAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	return err
}

func (d *FulfillmentDispatcher) mintDeliverables(ctx context.Context, tx TxStores, order Order, now time.Time) error {
	existing, err := tx.Deliverables().ListByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	minted := make(map[string]struct{}, len(existing))
	for _, deliverable := range existing {
		minted[deliverable.OrderItemID] = struct{}{}
	}

	expiresAt := now.Add(d.deliverableTTL)
	for _, item := range order.Items {
		if item.ProductType != ProductTypeDigital {
			continue
		}
		if _, ok := minted[item.ID]; ok {
			continue
		}
		id := d.newID()
		url, err := d.issuer.Issue(ctx, DeliverableGrant{
			DeliverableID: id,
			OrderID:       order.ID,
			ProductID:     item.ProductID,
			ExpiresAt:     expiresAt,
		})
		if err != nil {
			return err
		}
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("core: deliverable issuer returned empty reference for item %s", item.ID)
		}
		if _, err := tx.Deliverables().Create(ctx, Deliverable{
			ID:          id,
			OrderID:     order.ID,
			OrderItemID: item.ID,
			ProductID:   item.ProductID,
			Title:       strings.TrimSpace(item.Title) + " - Digital Download",
			AccessURL:   url,
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (d *FulfillmentDispatcher) enqueueNotification(
	ctx context.Context,
	tx TxStores,
	order Order,
	decision Decision,
	eventID string,
	now time.Time,
) error {
	if decision.Notify == "" {
		return nil
	}
	return tx.Notifications().Enqueue(ctx, NotificationTask{
		ID:      d.newID(),
		EventID: eventID,
		OrderID: order.ID,
		Kind:    decision.Notify,
		Payload: map[string]any{
			"order_number": order.OrderNumber,
			"from_status":  string(decision.From),
			"to_status":    string(decision.To),
			"email":        order.CustomerEmail,
		},
		Status:    NotificationStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func releaseStock(ctx context.Context, tx TxStores, order Order) error {
	for _, item := range order.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity <= 0 {
			continue
		}
		if err := tx.Stock().Release(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func eventIDForNotification(event PaymentEvent) string {
	if id := strings.TrimSpace(event.ExternalID); id != "" {
		return id
	}
	return "op:" + uuid.NewString()
}
