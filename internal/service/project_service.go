package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/digkill/AssistantHub/internal/models"
	"github.com/digkill/AssistantHub/internal/repository"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

type ProjectService struct {
	projects ProjectStore
}

func NewProjectService(projects ProjectStore) *ProjectService {
	return &ProjectService{projects: projects}
}

func (s *ProjectService) ListVisible(ctx context.Context) ([]models.Project, error) {
	return s.projects.ListVisible(ctx)
}

func (s *ProjectService) List(ctx context.Context) ([]models.Project, error) {
	return s.projects.List(ctx)
}

// Resolve finds a usable project for the account. Inactive projects are
// reported as missing; tier-gated ones as forbidden.
func (s *ProjectService) Resolve(ctx context.Context, account *models.Account, slug string, id int64) (*models.Project, error) {
	var project *models.Project
	var err error
	switch {
	case strings.TrimSpace(slug) != "":
		project, err = s.projects.GetBySlug(ctx, strings.TrimSpace(slug))
	case id > 0:
		project, err = s.projects.GetByID(ctx, id)
	default:
		return nil, fmt.Errorf("%w: project is required", ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	if project == nil || !project.IsActive {
		return nil, fmt.Errorf("%w: project %q", ErrNotFound, slug)
	}
	if project.RequiresTier2 && !account.Tier.AllowsTier2() {
		return nil, fmt.Errorf("%w: project %s requires tier2", ErrForbidden, project.Slug)
	}
	return project, nil
}

// ProjectInput is the admin-editable part of a project.
type ProjectInput struct {
	Slug          string `json:"slug" validate:"required,max=64"`
	Name          string `json:"name" validate:"required,max=255"`
	Description   string `json:"description"`
	SystemPrompt  string `json:"system_prompt"`
	Model         string `json:"model" validate:"required,max=64"`
	IsActive      bool   `json:"is_active"`
	ComingSoon    bool   `json:"coming_soon"`
	RequiresTier2 bool   `json:"requires_tier2"`
}

func (in ProjectInput) toModel() (*models.Project, error) {
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: invalid project slug %q", ErrValidation, in.Slug)
	}
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Model) == "" {
		return nil, fmt.Errorf("%w: project name and model are required", ErrValidation)
	}
	return &models.Project{
		Slug:          slug,
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		SystemPrompt:  in.SystemPrompt,
		Model:         strings.TrimSpace(in.Model),
		IsActive:      in.IsActive,
		ComingSoon:    in.ComingSoon,
		RequiresTier2: in.RequiresTier2,
	}, nil
}

func (s *ProjectService) Create(ctx context.Context, in ProjectInput) (*models.Project, error) {
	project, err := in.toModel()
	if err != nil {
		return nil, err
	}
	created, err := s.projects.Create(ctx, project)
	if err != nil {
		return nil, conflictOr(err)
	}
	return created, nil
}

func (s *ProjectService) Update(ctx context.Context, id int64, in ProjectInput) (*models.Project, error) {
	existing, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: project %d", ErrNotFound, id)
	}
	project, err := in.toModel()
	if err != nil {
		return nil, err
	}
	project.ID = id
	updated, err := s.projects.Update(ctx, project)
	if err != nil {
		return nil, conflictOr(err)
	}
	return updated, nil
}

func (s *ProjectService) Delete(ctx context.Context, id int64) error {
	return s.projects.Delete(ctx, id)
}

func conflictOr(err error) error {
	if errors.Is(err, repository.ErrDuplicateCoupon) || errors.Is(err, repository.ErrDuplicateProject) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
