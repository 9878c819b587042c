package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/AssistantHub/internal/models"
)

const projectColumns = `id, slug, name, COALESCE(description, ''), COALESCE(system_prompt, ''), model, is_active, coming_soon, requires_tier2, created_at, updated_at`

type ProjectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func scanProject(row scanner) (*models.Project, error) {
	var p models.Project
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.SystemPrompt, &p.Model, &p.IsActive, &p.ComingSoon, &p.RequiresTier2, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepository) list(ctx context.Context, query string) ([]models.Project, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (r *ProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	return r.list(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY id ASC`)
}

// ListVisible returns the projects shown on the dashboard: live ones and those
// announced as coming soon.
func (r *ProjectRepository) ListVisible(ctx context.Context) ([]models.Project, error) {
	return r.list(ctx, `SELECT `+projectColumns+` FROM projects WHERE is_active = 1 OR coming_soon = 1 ORDER BY id ASC`)
}

func (r *ProjectRepository) GetBySlug(ctx context.Context, slug string) (*models.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE slug = ?`, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project by slug: %w", err)
	}
	return p, nil
}

func (r *ProjectRepository) GetByID(ctx context.Context, id int64) (*models.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project by id: %w", err)
	}
	return p, nil
}

func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) (*models.Project, error) {
	const query = `
INSERT INTO projects (slug, name, description, system_prompt, model, is_active, coming_soon, requires_tier2)
VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, project.Slug, project.Name, project.Description, project.SystemPrompt, project.Model, project.IsActive, project.ComingSoon, project.RequiresTier2)
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicateProject
		}
		return nil, fmt.Errorf("create project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("project last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *ProjectRepository) Update(ctx context.Context, project *models.Project) (*models.Project, error) {
	const query = `
UPDATE projects
SET slug = ?, name = ?, description = NULLIF(?, ''), system_prompt = NULLIF(?, ''), model = ?, is_active = ?, coming_soon = ?, requires_tier2 = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, project.Slug, project.Name, project.Description, project.SystemPrompt, project.Model, project.IsActive, project.ComingSoon, project.RequiresTier2, project.ID); err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicateProject
		}
		return nil, fmt.Errorf("update project: %w", err)
	}
	return r.GetByID(ctx, project.ID)
}

func (r *ProjectRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}
