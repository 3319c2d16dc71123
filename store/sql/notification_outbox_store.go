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

// NotificationOutboxStore is the dispatcher side of the notification outbox.
// Rows are written by notificationOutboxTx inside the fulfillment transaction.
type NotificationOutboxStore struct {
	db   *bun.DB
	repo repository.Repository[*notificationOutboxRecord]
	now  func() time.Time
}

func NewNotificationOutboxStore(db *bun.DB) (*NotificationOutboxStore, error) {
	repo, err := newRepository[*notificationOutboxRecord, notificationOutboxRecord](db, "notification outbox")
	if err != nil {
		return nil, err
	}
	return &NotificationOutboxStore{db: db, repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DefaultClaimLease applies when ClaimBatch is called without a lease.
const DefaultClaimLease = time.Minute

// ClaimBatch hands out pending rows that are due and processing rows whose
// lease lapsed, so a dispatcher that dies mid-delivery does not strand them.
// Each claim counts as an attempt.
func (s *NotificationOutboxStore) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]core.NotificationTask, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: notification outbox store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	now := s.now()
	claimedUntil := now.Add(lease)
	pending := string(core.NotificationStatusPending)
	processing := string(core.NotificationStatusProcessing)
	var records []notificationOutboxRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM fulfillment_notification_outbox
	WHERE (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
	   OR (status = ? AND (claimed_until IS NULL OR claimed_until <= ?))
	ORDER BY created_at ASC, id ASC
	LIMIT ?
)
UPDATE fulfillment_notification_outbox
SET status = ?, attempts = attempts + 1, claimed_until = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND (status = ? OR (status = ? AND (claimed_until IS NULL OR claimed_until <= ?)))
RETURNING
	id,
	event_id,
	order_id,
	kind,
	payload,
	status,
	attempts,
	next_attempt_at,
	claimed_until,
	last_error,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			pending, now,
			processing, now,
			limit,
			processing, claimedUntil, now,
			pending, processing, now,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}
	tasks := make([]core.NotificationTask, 0, len(records))
	for _, record := range records {
		tasks = append(tasks, notificationToDomain(record))
	}
	return tasks, nil
}

// ExtendLease pushes the lease of a task that is still being worked on.
func (s *NotificationOutboxStore) ExtendLease(ctx context.Context, taskID string, until time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: notification outbox store is not configured")
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("sqlstore: notification task id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*notificationOutboxRecord)(nil)).
		Set("claimed_until = ?", until.UTC()).
		Set("updated_at = ?", s.now()).
		Where("id = ?", taskID).
		Where("status = ?", string(core.NotificationStatusProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("sqlstore: notification task %s is not claimed", taskID)
	}
	return nil
}

func (s *NotificationOutboxStore) Ack(ctx context.Context, taskID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: notification outbox store is not configured")
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("sqlstore: notification task id is required")
	}
	_, err := s.db.NewUpdate().
		Model((*notificationOutboxRecord)(nil)).
		Set("status = ?", string(core.NotificationStatusDelivered)).
		Set("last_error = ?", "").
		Set("next_attempt_at = NULL").
		Set("claimed_until = NULL").
		Set("updated_at = ?", s.now()).
		Where("id = ?", taskID).
		Exec(ctx)
	return err
}

// Retry releases a claimed task for another attempt at nextAttemptAt, or
// dead-letters it when nextAttemptAt is zero.
func (s *NotificationOutboxStore) Retry(ctx context.Context, taskID string, cause error, nextAttemptAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: notification outbox store is not configured")
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("sqlstore: notification task id is required")
	}
	status := core.NotificationStatusPending
	var next *time.Time
	if nextAttemptAt.IsZero() {
		status = core.NotificationStatusDead
	} else {
		value := nextAttemptAt.UTC()
		next = &value
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	_, err := s.db.NewUpdate().
		Model((*notificationOutboxRecord)(nil)).
		Set("status = ?", string(status)).
		Set("next_attempt_at = ?", next).
		Set("claimed_until = NULL").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", s.now()).
		Where("id = ?", taskID).
		Exec(ctx)
	return err
}

// ListByOrder returns every task queued for orderID, oldest first.
func (s *NotificationOutboxStore) ListByOrder(ctx context.Context, orderID string) ([]core.NotificationTask, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: notification outbox store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("order_id", "=", strings.TrimSpace(orderID)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	tasks := make([]core.NotificationTask, 0, len(records))
	for _, record := range records {
		tasks = append(tasks, notificationToDomain(*record))
	}
	return tasks, nil
}

type notificationOutboxTx struct {
	tx bun.Tx
}

// Enqueue is idempotent on (event_id, kind).
func (n notificationOutboxTx) Enqueue(ctx context.Context, task core.NotificationTask) error {
	if strings.TrimSpace(task.EventID) == "" || strings.TrimSpace(task.OrderID) == "" || task.Kind == "" {
		return fmt.Errorf("sqlstore: notification event id, order id and kind are required")
	}
	createdAt := task.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	id := strings.TrimSpace(task.ID)
	if id == "" {
		id = uuid.NewString()
	}
	record := &notificationOutboxRecord{
		ID:        id,
		EventID:   strings.TrimSpace(task.EventID),
		OrderID:   strings.TrimSpace(task.OrderID),
		Kind:      string(task.Kind),
		Payload:   copyAnyMap(task.Payload),
		Status:    string(core.NotificationStatusPending),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	_, err := n.tx.NewInsert().
		Model(record).
		On("CONFLICT (event_id, kind) DO NOTHING").
		Exec(ctx)
	return err
}

var _ core.NotificationTaskStore = (*NotificationOutboxStore)(nil)
var _ core.NotificationOutbox = notificationOutboxTx{}
