package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LedgerStore persists accepted provider events keyed on
// (provider, external_event_id).
type LedgerStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookEventRecord]
}

func NewLedgerStore(db *bun.DB) (*LedgerStore, error) {
	repo, err := newRepository[*webhookEventRecord, webhookEventRecord](db, "webhook event")
	if err != nil {
		return nil, err
	}
	return &LedgerStore{db: db, repo: repo}, nil
}

func (s *LedgerStore) RecordIfNew(ctx context.Context, entry core.LedgerEntry) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	var created bool
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		inserted, err := insertLedgerEntry(ctx, tx, entry)
		created = inserted
		return err
	})
	return created, err
}

func (s *LedgerStore) MarkOutcome(ctx context.Context, provider string, externalEventID string, outcome core.EventOutcome, orderID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: ledger store is not configured")
	}
	return updateLedgerOutcome(ctx, s.db, provider, externalEventID, outcome, orderID)
}

func (s *LedgerStore) Get(ctx context.Context, provider string, externalEventID string) (core.LedgerEntry, error) {
	if s == nil || s.repo == nil {
		return core.LedgerEntry{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider", "=", strings.TrimSpace(provider)),
		repository.SelectBy("external_event_id", "=", strings.TrimSpace(externalEventID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	if len(records) == 0 {
		return core.LedgerEntry{}, fmt.Errorf("sqlstore: ledger entry not found for provider %q event %q", provider, externalEventID)
	}
	return ledgerEntryToDomain(records[0]), nil
}

func (s *LedgerStore) ListByOrder(ctx context.Context, orderID string) ([]core.LedgerEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("order_id", "=", strings.TrimSpace(orderID)),
		repository.OrderBy("received_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	entries := make([]core.LedgerEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, ledgerEntryToDomain(record))
	}
	return entries, nil
}

// Count returns the number of ledger rows for provider.
func (s *LedgerStore) Count(ctx context.Context, provider string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	return s.db.NewSelect().
		Model((*webhookEventRecord)(nil)).
		Where("?TableAlias.provider = ?", strings.TrimSpace(provider)).
		Count(ctx)
}

type ledgerTx struct {
	tx bun.Tx
}

func (l ledgerTx) RecordIfNew(ctx context.Context, entry core.LedgerEntry) (bool, error) {
	return insertLedgerEntry(ctx, l.tx, entry)
}

func (l ledgerTx) MarkOutcome(ctx context.Context, provider string, externalEventID string, outcome core.EventOutcome, orderID string) error {
	return updateLedgerOutcome(ctx, l.tx, provider, externalEventID, outcome, orderID)
}

// insertLedgerEntry relies on ON CONFLICT DO NOTHING so a replay never aborts
// the surrounding Postgres transaction.
func insertLedgerEntry(ctx context.Context, db bun.IDB, entry core.LedgerEntry) (bool, error) {
	provider := strings.TrimSpace(entry.Provider)
	externalID := strings.TrimSpace(entry.ExternalEventID)
	if provider == "" || externalID == "" {
		return false, fmt.Errorf("sqlstore: ledger provider and external event id are required")
	}
	receivedAt := entry.ReceivedAt.UTC()
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	outcome := entry.Outcome
	if outcome == "" {
		outcome = core.EventOutcomePending
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = uuid.NewString()
	}
	record := &webhookEventRecord{
		ID:              id,
		Provider:        provider,
		ExternalEventID: externalID,
		EventType:       strings.TrimSpace(entry.EventType),
		EventKind:       string(entry.Kind),
		OrderID:         nullableString(entry.OrderID),
		Outcome:         string(outcome),
		Payload:         append([]byte(nil), entry.Payload...),
		ReceivedAt:      receivedAt,
		UpdatedAt:       receivedAt,
	}
	result, err := db.NewInsert().
		Model(record).
		On("CONFLICT (provider, external_event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func updateLedgerOutcome(ctx context.Context, db bun.IDB, provider string, externalEventID string, outcome core.EventOutcome, orderID string) error {
	result, err := db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("outcome = ?", string(outcome)).
		Set("order_id = ?", nullableString(orderID)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("provider = ?", strings.TrimSpace(provider)).
		Where("external_event_id = ?", strings.TrimSpace(externalEventID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("sqlstore: ledger entry %s/%s not found", provider, externalEventID)
	}
	return nil
}

var _ core.EventLedger = (*LedgerStore)(nil)
var _ core.EventLedger = ledgerTx{}
