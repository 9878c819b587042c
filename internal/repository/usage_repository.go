package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/models"
)

type UsageRepository struct {
	db *sql.DB
}

func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// UsageSummary aggregates metered usage over a window.
type UsageSummary struct {
	Requests     int             `json:"requests"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
}

func (r *UsageRepository) Log(ctx context.Context, entry *models.UsageLog) error {
	var metadata any
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode usage metadata: %w", err)
		}
		metadata = string(encoded)
	}
	const query = `
INSERT INTO usage_logs (account_id, model, input_tokens, output_tokens, cost, project_id, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, entry.AccountID, entry.Model, entry.InputTokens, entry.OutputTokens, entry.Cost, entry.ProjectID, metadata)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("usage last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

func (r *UsageRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.UsageLog, error) {
	const query = `
SELECT id, account_id, model, input_tokens, output_tokens, cost, project_id, metadata, created_at
FROM usage_logs
WHERE account_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var logs []models.UsageLog
	for rows.Next() {
		var u models.UsageLog
		var projectID sql.NullInt64
		var metadata []byte
		if err := rows.Scan(&u.ID, &u.AccountID, &u.Model, &u.InputTokens, &u.OutputTokens, &u.Cost, &projectID, &metadata, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		if projectID.Valid {
			u.ProjectID = &projectID.Int64
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &u.Metadata); err != nil {
				return nil, fmt.Errorf("decode usage metadata: %w", err)
			}
		}
		logs = append(logs, u)
	}
	return logs, rows.Err()
}

func (r *UsageRepository) SummarySince(ctx context.Context, accountID string, since time.Time) (UsageSummary, error) {
	const query = `
SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0)
FROM usage_logs
WHERE account_id = ? AND created_at >= ?`
	var s UsageSummary
	row := r.db.QueryRowContext(ctx, query, accountID, since)
	if err := row.Scan(&s.Requests, &s.InputTokens, &s.OutputTokens, &s.Cost); err != nil {
		return UsageSummary{}, fmt.Errorf("summarize usage: %w", err)
	}
	return s, nil
}
