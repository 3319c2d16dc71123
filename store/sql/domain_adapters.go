package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

func productToDomain(record *productRecord) core.Product {
	if record == nil {
		return core.Product{}
	}
	product := core.Product{
		ID:             record.ID,
		Type:           core.ProductType(record.ProductType),
		Title:          record.Title,
		UnitPriceCents: record.UnitPriceCents,
		Currency:       record.Currency,
		Published:      record.Published,
	}
	if record.Stock != nil {
		stock := *record.Stock
		product.Stock = &stock
	}
	return product
}

func newProductRecord(product core.Product, now time.Time) *productRecord {
	record := &productRecord{
		ID:             strings.TrimSpace(product.ID),
		ProductType:    string(product.Type),
		Title:          strings.TrimSpace(product.Title),
		UnitPriceCents: product.UnitPriceCents,
		Currency:       strings.ToLower(strings.TrimSpace(product.Currency)),
		Published:      product.Published,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if product.Stock != nil {
		stock := *product.Stock
		record.Stock = &stock
	}
	return record
}

func orderToDomain(record *orderRecord, items []orderItemRecord) core.Order {
	if record == nil {
		return core.Order{}
	}
	order := core.Order{
		ID:               record.ID,
		OrderNumber:      record.OrderNumber,
		AmountCents:      record.AmountCents,
		Currency:         record.Currency,
		Status:           core.OrderStatus(record.Status),
		ServiceStatus:    core.ServiceStatus(record.ServiceStatus),
		CustomerEmail:    record.CustomerEmail,
		CustomerName:     record.CustomerName,
		CustomerPhone:    record.CustomerPhone,
		PaymentSessionID: derefString(record.PaymentSessionID),
		PaymentIntentID:  derefString(record.PaymentIntentID),
		PaidAt:           cloneTime(record.PaidAt),
		FulfilledAt:      cloneTime(record.FulfilledAt),
		CancelledAt:      cloneTime(record.CancelledAt),
		RefundedAt:       cloneTime(record.RefundedAt),
		FailedAt:         cloneTime(record.FailedAt),
		CreatedAt:        record.CreatedAt.UTC(),
		UpdatedAt:        record.UpdatedAt.UTC(),
		Items:            make([]core.OrderItem, 0, len(items)),
	}
	for _, item := range items {
		order.Items = append(order.Items, core.OrderItem{
			ID:              item.ID,
			OrderID:         item.OrderID,
			ProductID:       item.ProductID,
			ProductType:     core.ProductType(item.ProductType),
			Title:           item.Title,
			UnitPriceCents:  item.UnitPriceCents,
			Quantity:        item.Quantity,
			TotalPriceCents: item.TotalPriceCents,
			CreatedAt:       item.CreatedAt.UTC(),
		})
	}
	return order
}

func newOrderRecord(order core.Order) *orderRecord {
	return &orderRecord{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		AmountCents:      order.AmountCents,
		Currency:         strings.ToLower(order.Currency),
		Status:           string(order.Status),
		ServiceStatus:    string(order.ServiceStatus),
		CustomerEmail:    order.CustomerEmail,
		CustomerName:     order.CustomerName,
		CustomerPhone:    order.CustomerPhone,
		PaymentSessionID: nullableString(order.PaymentSessionID),
		PaymentIntentID:  nullableString(order.PaymentIntentID),
		PaidAt:           cloneTime(order.PaidAt),
		FulfilledAt:      cloneTime(order.FulfilledAt),
		CancelledAt:      cloneTime(order.CancelledAt),
		RefundedAt:       cloneTime(order.RefundedAt),
		FailedAt:         cloneTime(order.FailedAt),
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
}

func newOrderItemRecords(order core.Order) []orderItemRecord {
	records := make([]orderItemRecord, 0, len(order.Items))
	for _, item := range order.Items {
		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = order.CreatedAt
		}
		records = append(records, orderItemRecord{
			ID:              item.ID,
			OrderID:         order.ID,
			ProductID:       item.ProductID,
			ProductType:     string(item.ProductType),
			Title:           item.Title,
			UnitPriceCents:  item.UnitPriceCents,
			Quantity:        item.Quantity,
			TotalPriceCents: item.TotalPriceCents,
			CreatedAt:       createdAt.UTC(),
		})
	}
	return records
}

func invoiceToDomain(record *invoiceRecord) core.Invoice {
	if record == nil {
		return core.Invoice{}
	}
	return core.Invoice{
		ID:            record.ID,
		OrderID:       record.OrderID,
		InvoiceNumber: record.InvoiceNumber,
		AmountCents:   record.AmountCents,
		Currency:      record.Currency,
		Status:        core.InvoiceStatus(record.Status),
		PaidAt:        cloneTime(record.PaidAt),
		RefundedAt:    cloneTime(record.RefundedAt),
		CreatedAt:     record.CreatedAt.UTC(),
		UpdatedAt:     record.UpdatedAt.UTC(),
	}
}

func deliverableToDomain(record *deliverableRecord) core.Deliverable {
	if record == nil {
		return core.Deliverable{}
	}
	return core.Deliverable{
		ID:               record.ID,
		OrderID:          record.OrderID,
		OrderItemID:      record.OrderItemID,
		ProductID:        record.ProductID,
		Title:            record.Title,
		AccessURL:        record.AccessURL,
		ExpiresAt:        record.ExpiresAt.UTC(),
		DownloadCount:    record.DownloadCount,
		LastDownloadedAt: cloneTime(record.LastDownloadedAt),
		RevokedAt:        cloneTime(record.RevokedAt),
		CreatedAt:        record.CreatedAt.UTC(),
	}
}

func ledgerEntryToDomain(record *webhookEventRecord) core.LedgerEntry {
	if record == nil {
		return core.LedgerEntry{}
	}
	return core.LedgerEntry{
		ID:              record.ID,
		Provider:        record.Provider,
		ExternalEventID: record.ExternalEventID,
		EventType:       record.EventType,
		Kind:            core.EventKind(record.EventKind),
		OrderID:         derefString(record.OrderID),
		Outcome:         core.EventOutcome(record.Outcome),
		Payload:         append([]byte(nil), record.Payload...),
		ReceivedAt:      record.ReceivedAt.UTC(),
	}
}

func notificationToDomain(record notificationOutboxRecord) core.NotificationTask {
	return core.NotificationTask{
		ID:            record.ID,
		EventID:       record.EventID,
		OrderID:       record.OrderID,
		Kind:          core.NotificationKind(record.Kind),
		Payload:       copyAnyMap(record.Payload),
		Status:        core.NotificationStatus(record.Status),
		Attempts:      record.Attempts,
		NextAttemptAt: cloneTime(record.NextAttemptAt),
		ClaimedUntil:  cloneTime(record.ClaimedUntil),
		LastError:     record.LastError,
		CreatedAt:     record.CreatedAt.UTC(),
		UpdatedAt:     record.UpdatedAt.UTC(),
	}
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func copyAnyMap(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
