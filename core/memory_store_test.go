package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memoryUnitOfWork serializes every unit of work behind one mutex and only
// publishes the working copy when fn succeeds.
type memoryUnitOfWork struct {
	mu    sync.Mutex
	state *memoryState

	failDeliverableCreate error
	failNotification      error
	commits               int
}

type memoryState struct {
	ledger        map[string]LedgerEntry
	orders        map[string]Order
	invoices      map[string]Invoice
	deliverables  map[string]Deliverable
	stock         map[string]int
	notifications []NotificationTask
}

func newMemoryUnitOfWork() *memoryUnitOfWork {
	return &memoryUnitOfWork{state: &memoryState{
		ledger:       map[string]LedgerEntry{},
		orders:       map[string]Order{},
		invoices:     map[string]Invoice{},
		deliverables: map[string]Deliverable{},
		stock:        map[string]int{},
	}}
}

func (u *memoryUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx TxStores) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	working := u.state.clone()
	if err := fn(ctx, &memoryTx{state: working, uow: u}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	u.state = working
	u.commits++
	return nil
}

func (u *memoryUnitOfWork) snapshot() *memoryState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state.clone()
}

func (u *memoryUnitOfWork) seedOrder(order Order) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state.orders[order.ID] = cloneOrder(order)
}

func (u *memoryUnitOfWork) seedStock(productID string, quantity int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state.stock[productID] = quantity
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		ledger:        make(map[string]LedgerEntry, len(s.ledger)),
		orders:        make(map[string]Order, len(s.orders)),
		invoices:      make(map[string]Invoice, len(s.invoices)),
		deliverables:  make(map[string]Deliverable, len(s.deliverables)),
		stock:         make(map[string]int, len(s.stock)),
		notifications: append([]NotificationTask(nil), s.notifications...),
	}
	for key, value := range s.ledger {
		out.ledger[key] = value
	}
	for key, value := range s.orders {
		out.orders[key] = cloneOrder(value)
	}
	for key, value := range s.invoices {
		out.invoices[key] = value
	}
	for key, value := range s.deliverables {
		out.deliverables[key] = value
	}
	for key, value := range s.stock {
		out.stock[key] = value
	}
	return out
}

func (s *memoryState) deliverablesFor(orderID string) []Deliverable {
	out := []Deliverable{}
	for _, deliverable := range s.deliverables {
		if deliverable.OrderID == orderID {
			out = append(out, deliverable)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderItemID < out[j].OrderItemID })
	return out
}

func cloneOrder(order Order) Order {
	order.Items = append([]OrderItem(nil), order.Items...)
	return order
}

type memoryTx struct {
	state *memoryState
	uow   *memoryUnitOfWork
}

func (t *memoryTx) Ledger() EventLedger               { return memoryLedger{t} }
func (t *memoryTx) Orders() OrderStore                { return memoryOrders{t} }
func (t *memoryTx) Invoices() InvoiceStore            { return memoryInvoices{t} }
func (t *memoryTx) Deliverables() DeliverableStore    { return memoryDeliverables{t} }
func (t *memoryTx) Stock() StockStore                 { return memoryStock{t} }
func (t *memoryTx) Notifications() NotificationOutbox { return memoryNotifications{t} }

func ledgerKey(provider string, externalID string) string {
	return provider + "|" + externalID
}

type memoryLedger struct{ tx *memoryTx }

func (l memoryLedger) RecordIfNew(_ context.Context, entry LedgerEntry) (bool, error) {
	key := ledgerKey(entry.Provider, entry.ExternalEventID)
	if _, exists := l.tx.state.ledger[key]; exists {
		return false, nil
	}
	l.tx.state.ledger[key] = entry
	return true, nil
}

func (l memoryLedger) MarkOutcome(_ context.Context, provider string, externalID string, outcome EventOutcome, orderID string) error {
	key := ledgerKey(provider, externalID)
	entry, ok := l.tx.state.ledger[key]
	if !ok {
		return fmt.Errorf("ledger entry %s missing", key)
	}
	entry.Outcome = outcome
	entry.OrderID = orderID
	l.tx.state.ledger[key] = entry
	return nil
}

type memoryOrders struct{ tx *memoryTx }

func (o memoryOrders) Get(_ context.Context, id string) (Order, error) {
	order, ok := o.tx.state.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return cloneOrder(order), nil
}

func (o memoryOrders) LockByID(ctx context.Context, id string) (Order, error) {
	return o.Get(ctx, id)
}

func (o memoryOrders) FindIDByRef(_ context.Context, ref OrderRef) (string, error) {
	if ref.OrderID != "" {
		if _, ok := o.tx.state.orders[ref.OrderID]; ok {
			return ref.OrderID, nil
		}
	}
	for id, order := range o.tx.state.orders {
		if ref.SessionID != "" && order.PaymentSessionID == ref.SessionID {
			return id, nil
		}
		if ref.PaymentIntentID != "" && order.PaymentIntentID == ref.PaymentIntentID {
			return id, nil
		}
	}
	return "", ErrOrderNotFound
}

func (o memoryOrders) Create(_ context.Context, order Order) (Order, error) {
	if _, exists := o.tx.state.orders[order.ID]; exists {
		return Order{}, fmt.Errorf("order %s exists", order.ID)
	}
	o.tx.state.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (o memoryOrders) Update(_ context.Context, order Order) error {
	if _, exists := o.tx.state.orders[order.ID]; !exists {
		return ErrOrderNotFound
	}
	o.tx.state.orders[order.ID] = cloneOrder(order)
	return nil
}

type memoryInvoices struct{ tx *memoryTx }

func (i memoryInvoices) GetByOrder(_ context.Context, orderID string) (Invoice, error) {
	invoice, ok := i.tx.state.invoices[orderID]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return invoice, nil
}

func (i memoryInvoices) Create(_ context.Context, invoice Invoice) (Invoice, error) {
	if _, exists := i.tx.state.invoices[invoice.OrderID]; exists {
		return Invoice{}, fmt.Errorf("unique violation: invoice for order %s", invoice.OrderID)
	}
	i.tx.state.invoices[invoice.OrderID] = invoice
	return invoice, nil
}

func (i memoryInvoices) UpdateStatus(_ context.Context, id string, status InvoiceStatus, at time.Time) error {
	for orderID, invoice := range i.tx.state.invoices {
		if invoice.ID != id {
			continue
		}
		invoice.Status = status
		invoice.UpdatedAt = at
		if status == InvoiceStatusRefunded {
			stamp := at
			invoice.RefundedAt = &stamp
		}
		i.tx.state.invoices[orderID] = invoice
		return nil
	}
	return ErrInvoiceNotFound
}

type memoryDeliverables struct{ tx *memoryTx }

func (d memoryDeliverables) Get(_ context.Context, id string) (Deliverable, error) {
	deliverable, ok := d.tx.state.deliverables[id]
	if !ok {
		return Deliverable{}, ErrDeliverableNotFound
	}
	return deliverable, nil
}

func (d memoryDeliverables) ListByOrder(_ context.Context, orderID string) ([]Deliverable, error) {
	return d.tx.state.deliverablesFor(orderID), nil
}

func (d memoryDeliverables) Create(_ context.Context, deliverable Deliverable) (Deliverable, error) {
	if d.tx.uow.failDeliverableCreate != nil {
		return Deliverable{}, d.tx.uow.failDeliverableCreate
	}
	for _, existing := range d.tx.state.deliverables {
		if existing.OrderItemID == deliverable.OrderItemID {
			return Deliverable{}, fmt.Errorf("unique violation: deliverable for item %s", deliverable.OrderItemID)
		}
	}
	d.tx.state.deliverables[deliverable.ID] = deliverable
	return deliverable, nil
}

func (d memoryDeliverables) RevokeByOrder(_ context.Context, orderID string, at time.Time) (int, error) {
	revoked := 0
	for id, deliverable := range d.tx.state.deliverables {
		if deliverable.OrderID != orderID || deliverable.RevokedAt != nil {
			continue
		}
		stamp := at
		deliverable.RevokedAt = &stamp
		d.tx.state.deliverables[id] = deliverable
		revoked++
	}
	return revoked, nil
}

func (d memoryDeliverables) RecordDownload(_ context.Context, id string, at time.Time) (Deliverable, error) {
	deliverable, ok := d.tx.state.deliverables[id]
	if !ok {
		return Deliverable{}, ErrDeliverableNotFound
	}
	stamp := at
	deliverable.DownloadCount++
	deliverable.LastDownloadedAt = &stamp
	d.tx.state.deliverables[id] = deliverable
	return deliverable, nil
}

type memoryStock struct{ tx *memoryTx }

func (s memoryStock) Reserve(_ context.Context, productID string, quantity int) error {
	available, tracked := s.tx.state.stock[productID]
	if !tracked {
		return nil
	}
	if available < quantity {
		return fmt.Errorf("%w: %s", ErrInsufficientStock, productID)
	}
	s.tx.state.stock[productID] = available - quantity
	return nil
}

func (s memoryStock) Release(_ context.Context, productID string, quantity int) error {
	if available, tracked := s.tx.state.stock[productID]; tracked {
		s.tx.state.stock[productID] = available + quantity
	}
	return nil
}

type memoryNotifications struct{ tx *memoryTx }

func (n memoryNotifications) Enqueue(_ context.Context, task NotificationTask) error {
	if n.tx.uow.failNotification != nil {
		return n.tx.uow.failNotification
	}
	for _, existing := range n.tx.state.notifications {
		if existing.EventID == task.EventID && existing.Kind == task.Kind {
			return nil
		}
	}
	n.tx.state.notifications = append(n.tx.state.notifications, task)
	return nil
}

type stubDeliverableIssuer struct {
	mu     sync.Mutex
	issued []DeliverableGrant
	err    error
}

func (s *stubDeliverableIssuer) Issue(_ context.Context, grant DeliverableGrant) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.issued = append(s.issued, grant)
	return "https://files.example.test/download/" + grant.DeliverableID, nil
}

type countingWaker struct {
	mu    sync.Mutex
	count int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count++
}

func (w *countingWaker) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

type capturingMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (m *capturingMetrics) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name] += value
}

func (m *capturingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (m *capturingMetrics) Counter(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}
