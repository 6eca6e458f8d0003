package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
	"github.com/classeviva-hub/classeviva-poller/pkg/logger"
)

// JournalEntry is one recorded notification.
type JournalEntry struct {
	ID         string                 `json:"id"`
	Account    string                 `json:"account"`
	EventType  shared.EventType       `json:"event_type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload"`
}

// NotificationJournal records every published notification, so an account's
// recent notifications can be listed after the fact.
type NotificationJournal struct {
	db      Querier
	timeout time.Duration
	logger  *zap.Logger
}

// NewNotificationJournal creates a journal writing through db.
func NewNotificationJournal(db Querier, l *zap.Logger) *NotificationJournal {
	return &NotificationJournal{
		db:      db,
		timeout: 5 * time.Second,
		logger:  logger.OrNop(l).With(logger.Component("journal")),
	}
}

// Record stores event.
func (j *NotificationJournal) Record(ctx context.Context, event shared.Event) error {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = j.db.Exec(ctx, `
		INSERT INTO notification_journal (id, account, event_type, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`,
		uuid.New(),
		event.AggregateID(),
		string(event.EventType()),
		event.OccurredAt().UTC(),
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Handler returns an event handler that records every event it receives.
func (j *NotificationJournal) Handler() shared.EventHandler {
	return func(event shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()

		if err := j.Record(ctx, event); err != nil {
			j.logger.Warn("failed to journal notification",
				logger.Account(event.AggregateID()),
				logger.EventType(string(event.EventType())),
				logger.Err(err),
			)
			return err
		}
		return nil
	}
}

// Recent returns the latest notifications of account, newest first.
func (j *NotificationJournal) Recent(ctx context.Context, account string, limit int) ([]JournalEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := j.db.Query(ctx, `
		SELECT id, account, event_type, occurred_at, payload
		FROM notification_journal
		WHERE account = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	entries := make([]JournalEntry, 0, limit)
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Prune deletes notifications older than before and returns how many went.
func (j *NotificationJournal) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := j.db.Exec(ctx, `DELETE FROM notification_journal WHERE occurred_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJournalEntry(row pgx.Row) (JournalEntry, error) {
	var (
		entry     JournalEntry
		id        uuid.UUID
		eventType string
		payload   []byte
	)
	if err := row.Scan(&id, &entry.Account, &eventType, &entry.OccurredAt, &payload); err != nil {
		return JournalEntry{}, fmt.Errorf("scan notification: %w", err)
	}
	entry.ID = id.String()
	entry.EventType = shared.EventType(eventType)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &entry.Payload); err != nil {
			return JournalEntry{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	return entry, nil
}

var _ Querier = (*Connection)(nil)
