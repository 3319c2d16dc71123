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

type deliverableTx struct {
	tx   bun.Tx
	repo repository.Repository[*deliverableRecord]
}

func (d deliverableTx) Get(ctx context.Context, id string) (core.Deliverable, error) {
	record := &deliverableRecord{}
	err := d.tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return core.Deliverable{}, fmt.Errorf("%w: %s", core.ErrDeliverableNotFound, id)
		}
		return core.Deliverable{}, err
	}
	return deliverableToDomain(record), nil
}

func (d deliverableTx) ListByOrder(ctx context.Context, orderID string) ([]core.Deliverable, error) {
	var records []deliverableRecord
	if err := d.tx.NewSelect().
		Model(&records).
		Where("?TableAlias.order_id = ?", strings.TrimSpace(orderID)).
		OrderExpr("?TableAlias.order_item_id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.Deliverable, 0, len(records))
	for index := range records {
		out = append(out, deliverableToDomain(&records[index]))
	}
	return out, nil
}

func (d deliverableTx) Create(ctx context.Context, deliverable core.Deliverable) (core.Deliverable, error) {
	if strings.TrimSpace(deliverable.OrderItemID) == "" {
		return core.Deliverable{}, fmt.Errorf("sqlstore: deliverable order item id is required")
	}
	createdAt := deliverable.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	record := &deliverableRecord{
		ID:               deliverable.ID,
		OrderID:          deliverable.OrderID,
		OrderItemID:      deliverable.OrderItemID,
		ProductID:        deliverable.ProductID,
		Title:            deliverable.Title,
		AccessURL:        deliverable.AccessURL,
		ExpiresAt:        deliverable.ExpiresAt.UTC(),
		DownloadCount:    deliverable.DownloadCount,
		LastDownloadedAt: cloneTime(deliverable.LastDownloadedAt),
		RevokedAt:        cloneTime(deliverable.RevokedAt),
		CreatedAt:        createdAt,
	}
	inserted, err := d.repo.CreateTx(ctx, d.tx, record)
	if err != nil {
		return core.Deliverable{}, err
	}
	return deliverableToDomain(inserted), nil
}

func (d deliverableTx) RevokeByOrder(ctx context.Context, orderID string, at time.Time) (int, error) {
	result, err := d.tx.NewUpdate().
		Model((*deliverableRecord)(nil)).
		Set("revoked_at = ?", at.UTC()).
		Where("order_id = ?", strings.TrimSpace(orderID)).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (d deliverableTx) RecordDownload(ctx context.Context, id string, at time.Time) (core.Deliverable, error) {
	result, err := d.tx.NewUpdate().
		Model((*deliverableRecord)(nil)).
		Set("download_count = download_count + 1").
		Set("last_downloaded_at = ?", at.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return core.Deliverable{}, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.Deliverable{}, fmt.Errorf("%w: %s", core.ErrDeliverableNotFound, id)
	}
	return d.Get(ctx, id)
}

var _ core.DeliverableStore = deliverableTx{}
