package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/models"
	"github.com/digkill/AssistantHub/internal/n8n"
	"github.com/digkill/AssistantHub/internal/pricing"
)

const (
	threadTitleRunes = 50
	historyLimit     = 200
	degradedReply    = "The assistant is temporarily unavailable. Your message was saved, please try again in a moment."
)

type ChatInput struct {
	Message     string
	UserID      string
	ProjectSlug string
	Model       string
	ThreadID    string
	FileURLs    []string
}

type ChatResult struct {
	Reply    string
	ThreadID string
	Cost     decimal.Decimal
	Degraded bool
}

type ChatService struct {
	log         *slog.Logger
	projects    *ProjectService
	threads     ThreadStore
	ledger      Ledger
	usage       UsageStore
	backend     ChatBackend
	prices      *pricing.Table
	debitEnable bool
}

func NewChatService(log *slog.Logger, projects *ProjectService, threads ThreadStore, ledger Ledger, usage UsageStore, backend ChatBackend, prices *pricing.Table, debit bool) *ChatService {
	return &ChatService{
		log:         log,
		projects:    projects,
		threads:     threads,
		ledger:      ledger,
		usage:       usage,
		backend:     backend,
		prices:      prices,
		debitEnable: debit,
	}
}

// Send stores the user message, asks the chat workflow for a reply and meters
// the exchange. The user message is kept even when the workflow fails.
func (s *ChatService) Send(ctx context.Context, account *models.Account, in ChatInput) (*ChatResult, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}
	if err := checkCaller(account, in.UserID); err != nil {
		return nil, err
	}
	project, err := s.projects.Resolve(ctx, account, in.ProjectSlug, 0)
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = project.Model
	}

	if s.debitEnable {
		balance, err := s.ledger.Balance(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		if !balance.IsPositive() {
			return nil, ErrInsufficientCredits
		}
	}

	thread, err := s.thread(ctx, account, project, model, in.ThreadID, message)
	if err != nil {
		return nil, err
	}
	if err := s.threads.AddMessage(ctx, &models.Message{ThreadID: thread.ID, Role: models.RoleUser, Content: message}); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	reply, degraded := s.reply(ctx, n8n.ChatRequest{
		Message:      message,
		UserID:       account.ID,
		ProjectSlug:  project.Slug,
		ThreadID:     thread.ID,
		Model:        model,
		SystemPrompt: project.SystemPrompt,
		FileURLs:     in.FileURLs,
	})
	if err := s.threads.AddMessage(ctx, &models.Message{ThreadID: thread.ID, Role: models.RoleAssistant, Content: reply}); err != nil {
		return nil, fmt.Errorf("save assistant reply: %w", err)
	}

	inputTokens := pricing.EstimateTokens(message)
	outputTokens := pricing.EstimateTokens(reply)
	cost := decimal.Zero
	if !degraded {
		cost = s.prices.ChatCost(model, inputTokens, outputTokens)
	}

	projectID := project.ID
	if err := s.usage.Log(ctx, &models.UsageLog{
		AccountID:    account.ID,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		ProjectID:    &projectID,
		Metadata: map[string]any{
			"kind":         "chat",
			"thread_id":    thread.ID,
			"project_slug": project.Slug,
			"degraded":     degraded,
		},
	}); err != nil {
		return nil, fmt.Errorf("log chat usage: %w", err)
	}

	if s.debitEnable && cost.IsPositive() {
		if _, err := s.ledger.Adjust(ctx, account.ID, cost.Neg()); err != nil {
			return nil, fmt.Errorf("debit chat cost: %w", err)
		}
	}

	return &ChatResult{Reply: reply, ThreadID: thread.ID, Cost: cost, Degraded: degraded}, nil
}

func (s *ChatService) thread(ctx context.Context, account *models.Account, project *models.Project, model, threadID, message string) (*models.ChatThread, error) {
	if threadID = strings.TrimSpace(threadID); threadID != "" {
		thread, err := s.threads.Get(ctx, threadID)
		if err != nil {
			return nil, err
		}
		if thread == nil || thread.AccountID != account.ID {
			return nil, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
		}
		return thread, nil
	}
	thread, err := s.threads.Create(ctx, &models.ChatThread{
		AccountID: account.ID,
		ProjectID: project.ID,
		Title:     titleFrom(message),
		Model:     model,
	})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return thread, nil
}

// reply never fails: without a workflow the message is echoed, and a failing
// workflow yields a placeholder. Both are reported as degraded.
func (s *ChatService) reply(ctx context.Context, req n8n.ChatRequest) (string, bool) {
	if !s.backend.ChatEnabled() {
		return "Echo: " + req.Message, true
	}
	reply, err := s.backend.Chat(ctx, req)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelInfo
		}
		s.log.Log(ctx, level, "chat workflow failed", "thread_id", req.ThreadID, "err", err)
		return degradedReply, true
	}
	return reply, false
}

func (s *ChatService) ListThreads(ctx context.Context, accountID string, limit int) ([]models.ChatThread, error) {
	return s.threads.ListByAccount(ctx, accountID, clampLimit(limit))
}

func (s *ChatService) Messages(ctx context.Context, accountID, threadID string) ([]models.Message, error) {
	thread, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil || thread.AccountID != accountID {
		return nil, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	return s.threads.ListMessages(ctx, threadID, historyLimit)
}

// checkCaller rejects requests whose body names a different user than the token.
func checkCaller(account *models.Account, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" || userID == account.ID || userID == account.AuthUserID {
		return nil
	}
	return fmt.Errorf("%w: userId does not match the signed-in user", ErrForbidden)
}

func titleFrom(message string) string {
	if utf8.RuneCountInString(message) <= threadTitleRunes {
		return message
	}
	return string([]rune(message)[:threadTitleRunes])
}
