package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goliatone/go-fulfillment/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// UnitOfWork runs every fulfillment write in one database transaction.
type UnitOfWork struct {
	db           *bun.DB
	orders       repository.Repository[*orderRecord]
	invoices     repository.Repository[*invoiceRecord]
	deliverables repository.Repository[*deliverableRecord]
	txOptions    *sql.TxOptions
}

func NewUnitOfWork(db *bun.DB) (*UnitOfWork, error) {
	orders, err := newRepository[*orderRecord, orderRecord](db, "order")
	if err != nil {
		return nil, err
	}
	invoices, err := newRepository[*invoiceRecord, invoiceRecord](db, "invoice")
	if err != nil {
		return nil, err
	}
	deliverables, err := newRepository[*deliverableRecord, deliverableRecord](db, "deliverable")
	if err != nil {
		return nil, err
	}
	uow := &UnitOfWork{
		db:           db,
		orders:       orders,
		invoices:     invoices,
		deliverables: deliverables,
	}
	if db.Dialect().Name() == dialect.PG {
		uow.txOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return uow, nil
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx core.TxStores) error) error {
	if u == nil || u.db == nil {
		return fmt.Errorf("sqlstore: unit of work is not configured")
	}
	if fn == nil {
		return fmt.Errorf("sqlstore: unit of work callback is required")
	}
	return u.db.RunInTx(ctx, u.txOptions, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &txStores{tx: tx, uow: u})
	})
}

type txStores struct {
	tx  bun.Tx
	uow *UnitOfWork
}

func (s *txStores) Ledger() core.EventLedger {
	return ledgerTx{tx: s.tx}
}

func (s *txStores) Orders() core.OrderStore {
	return orderTx{tx: s.tx, repo: s.uow.orders}
}

func (s *txStores) Invoices() core.InvoiceStore {
	return invoiceTx{tx: s.tx, repo: s.uow.invoices}
}

func (s *txStores) Deliverables() core.DeliverableStore {
	return deliverableTx{tx: s.tx, repo: s.uow.deliverables}
}

func (s *txStores) Stock() core.StockStore {
	return stockTx{tx: s.tx}
}

func (s *txStores) Notifications() core.NotificationOutbox {
	return notificationOutboxTx{tx: s.tx}
}

var _ core.UnitOfWork = (*UnitOfWork)(nil)
var _ core.TxStores = (*txStores)(nil)
