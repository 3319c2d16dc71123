package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type orderTx struct {
	tx   bun.Tx
	repo repository.Repository[*orderRecord]
}

func (o orderTx) Get(ctx context.Context, id string) (core.Order, error) {
	return loadOrder(ctx, o.tx, id, false)
}

// LockByID takes a row lock on Postgres. SQLite serializes writers on the
// database file, so the plain read inside the transaction is enough there.
func (o orderTx) LockByID(ctx context.Context, id string) (core.Order, error) {
	return loadOrder(ctx, o.tx, id, true)
}

func (o orderTx) FindIDByRef(ctx context.Context, ref core.OrderRef) (string, error) {
	candidates := []struct {
		column string
		value  string
	}{
		{column: "id", value: ref.OrderID},
		{column: "payment_session_id", value: ref.SessionID},
		{column: "payment_intent_id", value: ref.PaymentIntentID},
	}
	for _, candidate := range candidates {
		value := strings.TrimSpace(candidate.value)
		if value == "" {
			continue
		}
		var ids []string
		err := o.tx.NewSelect().
			Model((*orderRecord)(nil)).
			Column("id").
			Where("?TableAlias.? = ?", bun.Ident(candidate.column), value).
			Limit(1).
			Scan(ctx, &ids)
		if err != nil {
			return "", err
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
	}
	return "", core.ErrOrderNotFound
}

func (o orderTx) Create(ctx context.Context, order core.Order) (core.Order, error) {
	if strings.TrimSpace(order.ID) == "" {
		return core.Order{}, fmt.Errorf("sqlstore: order id is required")
	}
	if len(order.Items) == 0 {
		return core.Order{}, fmt.Errorf("sqlstore: order %s has no items", order.ID)
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	record := newOrderRecord(order)
	inserted, err := o.repo.CreateTx(ctx, o.tx, record)
	if err != nil {
		return core.Order{}, err
	}
	items := newOrderItemRecords(order)
	if _, err := o.tx.NewInsert().Model(&items).Exec(ctx); err != nil {
		return core.Order{}, err
	}
	return orderToDomain(inserted, items), nil
}

func (o orderTx) Update(ctx context.Context, order core.Order) error {
	record := newOrderRecord(order)
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	result, err := o.tx.NewUpdate().
		Model(record).
		Column(
			"status",
			"service_status",
			"customer_email",
			"customer_name",
			"customer_phone",
			"payment_session_id",
			"payment_intent_id",
			"paid_at",
			"fulfilled_at",
			"cancelled_at",
			"refunded_at",
			"failed_at",
			"updated_at",
		).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrOrderNotFound, order.ID)
	}
	return nil
}

func loadOrder(ctx context.Context, db bun.IDB, id string, lock bool) (core.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Order{}, fmt.Errorf("%w: empty id", core.ErrOrderNotFound)
	}
	record := &orderRecord{}
	query := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1)
	if lock && db.Dialect().Name() == dialect.PG {
		query = query.For("UPDATE")
	}
	if err := query.Scan(ctx); err != nil {
		if isNoRows(err) {
			return core.Order{}, fmt.Errorf("%w: %s", core.ErrOrderNotFound, id)
		}
		return core.Order{}, err
	}

	var items []orderItemRecord
	if err := db.NewSelect().
		Model(&items).
		Where("?TableAlias.order_id = ?", id).
		OrderExpr("?TableAlias.created_at ASC, ?TableAlias.id ASC").
		Scan(ctx); err != nil {
		return core.Order{}, err
	}
	return orderToDomain(record, items), nil
}

var _ core.OrderStore = orderTx{}
