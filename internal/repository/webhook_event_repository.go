package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/AssistantHub/internal/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Record stores an event that did not touch the ledger, such as an unknown
// event name. Applied events are recorded by LedgerRepository.Apply instead.
func (r *WebhookEventRepository) Record(ctx context.Context, event *models.WebhookEvent) error {
	return insertWebhookEvent(ctx, r.db, event)
}

func (r *WebhookEventRepository) List(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	const query = `
SELECT id, provider, event_key, event, COALESCE(email, ''), COALESCE(product_id, ''), COALESCE(order_id, ''), status, created_at
FROM webhook_events
ORDER BY id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var events []models.WebhookEvent
	for rows.Next() {
		var e models.WebhookEvent
		if err := rows.Scan(&e.ID, &e.Provider, &e.EventKey, &e.Event, &e.Email, &e.ProductID, &e.OrderID, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event list: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func insertWebhookEvent(ctx context.Context, db execer, event *models.WebhookEvent) error {
	const query = `
INSERT INTO webhook_events (provider, event_key, event, email, product_id, order_id, status, raw_payload)
VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?)`
	res, err := db.ExecContext(ctx, query, event.Provider, event.EventKey, event.Event, event.Email, event.ProductID, event.OrderID, event.Status, event.RawPayload)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("webhook event last insert id: %w", err)
	}
	event.ID = id
	return nil
}
