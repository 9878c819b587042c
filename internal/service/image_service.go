package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/models"
	"github.com/digkill/AssistantHub/internal/n8n"
	"github.com/digkill/AssistantHub/internal/pricing"
)

const (
	maxImagesPerRequest = 8
	defaultImageQuality = "BALANCED"
)

type ImageInput struct {
	Message     string
	UserID      string
	ProjectID   int64
	ProjectSlug string
	ThreadID    string
	Model       string
	Quality     string
	NumImages   int
	ImageSize   string
}

type ImageOutcome struct {
	URLs      []string
	Text      string
	Cost      decimal.Decimal
	Remaining decimal.Decimal
}

// IsText reports whether the workflow asked for clarification instead of drawing.
func (o *ImageOutcome) IsText() bool {
	return len(o.URLs) == 0
}

type ImageService struct {
	log      *slog.Logger
	projects *ProjectService
	ledger   Ledger
	usage    UsageStore
	images   ImageStore
	backend  ImageBackend
	mirror   ImageMirror
	prices   *pricing.Table
}

// NewImageService wires image generation. mirror may be nil, in which case the
// workflow URLs are stored as returned.
func NewImageService(log *slog.Logger, projects *ProjectService, ledger Ledger, usage UsageStore, images ImageStore, backend ImageBackend, mirror ImageMirror, prices *pricing.Table) *ImageService {
	return &ImageService{
		log:      log,
		projects: projects,
		ledger:   ledger,
		usage:    usage,
		images:   images,
		backend:  backend,
		mirror:   mirror,
		prices:   prices,
	}
}

// Generate reserves the estimated cost, calls the image workflow and settles
// against what was actually delivered. Every failure path returns the
// reservation.
func (s *ImageService) Generate(ctx context.Context, account *models.Account, in ImageInput) (*ImageOutcome, error) {
	prompt := strings.TrimSpace(in.Message)
	if prompt == "" {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}
	if err := checkCaller(account, in.UserID); err != nil {
		return nil, err
	}

	var projectID *int64
	if in.ProjectSlug != "" || in.ProjectID > 0 {
		project, err := s.projects.Resolve(ctx, account, in.ProjectSlug, in.ProjectID)
		if err != nil {
			return nil, err
		}
		projectID = &project.ID
	}

	count := min(max(in.NumImages, 1), maxImagesPerRequest)
	quality := strings.ToUpper(strings.TrimSpace(in.Quality))
	if quality == "" {
		quality = defaultImageQuality
	}
	model := s.prices.ImageModel(in.Model)
	unit, ok := s.prices.ImageUnitPrice(model, quality)
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s at quality %s", ErrValidation, model, quality)
	}
	reserved := unit.Mul(decimal.NewFromInt(int64(count)))

	if _, err := s.ledger.Reserve(ctx, account.ID, reserved); err != nil {
		return nil, err
	}

	result, err := s.backend.GenerateImages(ctx, n8n.ImageRequest{
		Message:   prompt,
		UserID:    account.ID,
		ProjectID: in.ProjectID,
		ThreadID:  in.ThreadID,
		Model:     model,
		Quality:   quality,
		NumImages: count,
		ImageSize: in.ImageSize,
	})
	if err != nil {
		s.release(ctx, account.ID, reserved)
		if errors.Is(err, n8n.ErrNotConfigured) {
			return nil, fmt.Errorf("%w: image workflow", ErrNotConfigured)
		}
		return nil, fmt.Errorf("%w: %v", ErrDownstream, err)
	}
	if result.IsText() {
		remaining := s.release(ctx, account.ID, reserved)
		return &ImageOutcome{Text: result.Text, Cost: decimal.Zero, Remaining: remaining}, nil
	}

	urls := result.URLs
	if len(urls) > count {
		urls = urls[:count]
	}
	perImage := unit
	if result.Cost != nil {
		// Without a reported count the cost covers every returned URL.
		reportedCount := result.Count
		if reportedCount <= 0 {
			reportedCount = len(result.URLs)
		}
		if reportedCount > 0 {
			perImage = result.Cost.Div(decimal.NewFromInt(int64(reportedCount)))
		}
	}

	stored := make([]string, 0, len(urls))
	for _, sourceURL := range urls {
		url, err := s.persist(ctx, account.ID, projectID, in, prompt, model, quality, sourceURL, perImage)
		if err != nil {
			s.log.Warn("skipping generated image", "account_id", account.ID, "err", err)
			continue
		}
		stored = append(stored, url)
	}
	if len(stored) == 0 {
		s.release(ctx, account.ID, reserved)
		return nil, fmt.Errorf("%w: no generated image could be stored", ErrDownstream)
	}

	cost := decimal.Min(perImage.Mul(decimal.NewFromInt(int64(len(stored)))), reserved)
	remaining, err := s.settle(ctx, account.ID, reserved, cost)
	if err != nil {
		return nil, err
	}

	if err := s.usage.Log(ctx, &models.UsageLog{
		AccountID: account.ID,
		Model:     model,
		Cost:      cost,
		ProjectID: projectID,
		Metadata: map[string]any{
			"kind":      "image_generation",
			"quality":   quality,
			"size":      in.ImageSize,
			"requested": count,
			"delivered": len(stored),
		},
	}); err != nil {
		s.log.Error("failed to log image usage", "account_id", account.ID, "err", err)
	}

	s.log.Info("images generated",
		"account_id", account.ID,
		"model", model,
		"requested", count,
		"delivered", len(stored),
		"cost", cost.String(),
	)
	return &ImageOutcome{URLs: stored, Cost: cost, Remaining: remaining}, nil
}

func (s *ImageService) persist(ctx context.Context, accountID string, projectID *int64, in ImageInput, prompt, model, quality, sourceURL string, cost decimal.Decimal) (string, error) {
	url := sourceURL
	if s.mirror != nil {
		mirrored, err := s.mirror.Mirror(ctx, sourceURL)
		if err != nil {
			return "", fmt.Errorf("mirror %s: %w", sourceURL, err)
		}
		url = mirrored
	}
	err := s.images.Create(ctx, &models.GeneratedImage{
		AccountID: accountID,
		ProjectID: projectID,
		ThreadID:  in.ThreadID,
		Prompt:    prompt,
		SourceURL: sourceURL,
		URL:       url,
		Model:     model,
		Quality:   quality,
		Size:      in.ImageSize,
		Cost:      cost,
	})
	if err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return url, nil
}

// settle returns the unused part of the reservation.
func (s *ImageService) settle(ctx context.Context, accountID string, reserved, cost decimal.Decimal) (decimal.Decimal, error) {
	refund := reserved.Sub(cost)
	if !refund.IsPositive() {
		return s.ledger.Balance(ctx, accountID)
	}
	remaining, err := s.ledger.Adjust(context.WithoutCancel(ctx), accountID, refund)
	if err != nil {
		return decimal.Zero, fmt.Errorf("refund unused reservation: %w", err)
	}
	return remaining, nil
}

// release returns the full reservation. It must survive a cancelled request.
func (s *ImageService) release(ctx context.Context, accountID string, reserved decimal.Decimal) decimal.Decimal {
	remaining, err := s.ledger.Adjust(context.WithoutCancel(ctx), accountID, reserved)
	if err != nil {
		s.log.Error("failed to release image reservation",
			"account_id", accountID,
			"amount", reserved.String(),
			"err", err,
		)
	}
	return remaining
}

func (s *ImageService) List(ctx context.Context, accountID string, limit int) ([]models.GeneratedImage, error) {
	return s.images.ListByAccount(ctx, accountID, clampLimit(limit))
}
