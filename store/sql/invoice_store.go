package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type invoiceTx struct {
	tx   bun.Tx
	repo repository.Repository[*invoiceRecord]
}

func (i invoiceTx) GetByOrder(ctx context.Context, orderID string) (core.Invoice, error) {
	record := &invoiceRecord{}
	err := i.tx.NewSelect().
		Model(record).
		Where("?TableAlias.order_id = ?", strings.TrimSpace(orderID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return core.Invoice{}, fmt.Errorf("%w: order %s", core.ErrInvoiceNotFound, orderID)
		}
		return core.Invoice{}, err
	}
	return invoiceToDomain(record), nil
}

func (i invoiceTx) Create(ctx context.Context, invoice core.Invoice) (core.Invoice, error) {
	if strings.TrimSpace(invoice.OrderID) == "" || strings.TrimSpace(invoice.InvoiceNumber) == "" {
		return core.Invoice{}, fmt.Errorf("sqlstore: invoice order id and number are required")
	}
	now := time.Now().UTC()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	if invoice.UpdatedAt.IsZero() {
		invoice.UpdatedAt = invoice.CreatedAt
	}
	record := &invoiceRecord{
		ID:            invoice.ID,
		OrderID:       invoice.OrderID,
		InvoiceNumber: invoice.InvoiceNumber,
		AmountCents:   invoice.AmountCents,
		Currency:      strings.ToLower(invoice.Currency),
		Status:        string(invoice.Status),
		PaidAt:        cloneTime(invoice.PaidAt),
		RefundedAt:    cloneTime(invoice.RefundedAt),
		CreatedAt:     invoice.CreatedAt.UTC(),
		UpdatedAt:     invoice.UpdatedAt.UTC(),
	}
	inserted, err := i.repo.CreateTx(ctx, i.tx, record)
	if err != nil {
		return core.Invoice{}, err
	}
	return invoiceToDomain(inserted), nil
}

func (i invoiceTx) UpdateStatus(ctx context.Context, id string, status core.InvoiceStatus, at time.Time) error {
	stamp := at.UTC()
	query := i.tx.NewUpdate().
		Model((*invoiceRecord)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", stamp).
		Where("id = ?", strings.TrimSpace(id))
	switch status {
	case core.InvoiceStatusPaid:
		query = query.Set("paid_at = COALESCE(paid_at, ?)", stamp)
	case core.InvoiceStatusRefunded:
		query = query.Set("refunded_at = ?", stamp)
	}
	result, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrInvoiceNotFound, id)
	}
	return nil
}

var _ core.InvoiceStore = invoiceTx{}
