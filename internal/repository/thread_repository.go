package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/AssistantHub/internal/models"
)

type ThreadRepository struct {
	db *sql.DB
}

func NewThreadRepository(db *sql.DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

func (r *ThreadRepository) Create(ctx context.Context, thread *models.ChatThread) (*models.ChatThread, error) {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	const query = `
INSERT INTO chat_threads (id, account_id, project_id, title, model)
VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, thread.ID, thread.AccountID, thread.ProjectID, thread.Title, thread.Model); err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return r.Get(ctx, thread.ID)
}

func (r *ThreadRepository) Get(ctx context.Context, id string) (*models.ChatThread, error) {
	const query = `
SELECT id, account_id, project_id, title, model, created_at, updated_at
FROM chat_threads WHERE id = ?`
	var t models.ChatThread
	row := r.db.QueryRowContext(ctx, query, id)
	if err := row.Scan(&t.ID, &t.AccountID, &t.ProjectID, &t.Title, &t.Model, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan thread: %w", err)
	}
	return &t, nil
}

func (r *ThreadRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.ChatThread, error) {
	const query = `
SELECT id, account_id, project_id, title, model, created_at, updated_at
FROM chat_threads
WHERE account_id = ?
ORDER BY updated_at DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []models.ChatThread
	for rows.Next() {
		var t models.ChatThread
		if err := rows.Scan(&t.ID, &t.AccountID, &t.ProjectID, &t.Title, &t.Model, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread list: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// AddMessage appends to a thread and bumps the thread's updated_at so recent
// conversations sort first.
func (r *ThreadRepository) AddMessage(ctx context.Context, msg *models.Message) error {
	const query = `INSERT INTO chat_messages (thread_id, role, content) VALUES (?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, msg.ThreadID, msg.Role, msg.Content)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("message last insert id: %w", err)
	}
	msg.ID = id
	if _, err := r.db.ExecContext(ctx, `UPDATE chat_threads SET updated_at = NOW() WHERE id = ?`, msg.ThreadID); err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

func (r *ThreadRepository) ListMessages(ctx context.Context, threadID string, limit int) ([]models.Message, error) {
	const query = `
SELECT id, thread_id, role, content, created_at FROM (
	SELECT id, thread_id, role, content, created_at
	FROM chat_messages
	WHERE thread_id = ?
	ORDER BY id DESC
	LIMIT ?
) recent ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
