package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/AssistantHub/internal/models"
)

type ImageRepository struct {
	db *sql.DB
}

func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) Create(ctx context.Context, img *models.GeneratedImage) error {
	const query = `
INSERT INTO generated_images (account_id, project_id, thread_id, prompt, source_url, url, model, quality, size, cost)
VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)`
	res, err := r.db.ExecContext(ctx, query, img.AccountID, img.ProjectID, img.ThreadID, img.Prompt, img.SourceURL, img.URL, img.Model, img.Quality, img.Size, img.Cost)
	if err != nil {
		return fmt.Errorf("insert generated image: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("image last insert id: %w", err)
	}
	img.ID = id
	return nil
}

func (r *ImageRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.GeneratedImage, error) {
	const query = `
SELECT id, account_id, project_id, COALESCE(thread_id, ''), prompt, source_url, url, model, COALESCE(quality, ''), COALESCE(size, ''), cost, created_at
FROM generated_images
WHERE account_id = ?
ORDER BY id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generated images: %w", err)
	}
	defer rows.Close()

	var images []models.GeneratedImage
	for rows.Next() {
		var img models.GeneratedImage
		var projectID sql.NullInt64
		if err := rows.Scan(&img.ID, &img.AccountID, &projectID, &img.ThreadID, &img.Prompt, &img.SourceURL, &img.URL, &img.Model, &img.Quality, &img.Size, &img.Cost, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generated image: %w", err)
		}
		if projectID.Valid {
			img.ProjectID = &projectID.Int64
		}
		images = append(images, img)
	}
	return images, rows.Err()
}
