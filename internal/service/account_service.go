package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/auth"
	"github.com/digkill/AssistantHub/internal/models"
	"github.com/digkill/AssistantHub/internal/repository"
)

type AccountService struct {
	log      *slog.Logger
	accounts AccountStore
	ledger   Ledger
	usage    UsageStore
	now      func() time.Time
}

func NewAccountService(log *slog.Logger, accounts AccountStore, ledger Ledger, usage UsageStore) *AccountService {
	return &AccountService{
		log:      log,
		accounts: accounts,
		ledger:   ledger,
		usage:    usage,
		now:      time.Now,
	}
}

// EnsureFromClaims resolves the signed-in user to an account. Accounts created
// by a payment webhook carry only an email and are linked on first sign-in.
func (s *AccountService) EnsureFromClaims(ctx context.Context, claims *auth.Claims) (*models.Account, error) {
	if claims == nil || claims.Subject == "" {
		return nil, ErrUnauthorized
	}
	account, err := s.accounts.FindByAuthUserID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("find account by auth user: %w", err)
	}
	if account != nil {
		return account, nil
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: token carries no email", ErrUnauthorized)
	}
	account, err = s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	if account != nil {
		if account.AuthUserID != "" && account.AuthUserID != claims.Subject {
			return nil, fmt.Errorf("%w: email belongs to another sign-in", ErrForbidden)
		}
		if err := s.accounts.LinkAuthUser(ctx, account.ID, claims.Subject, claims.Name); err != nil {
			return nil, err
		}
		account.AuthUserID = claims.Subject
		s.log.Info("linked account to sign-in", "account_id", account.ID)
		return account, nil
	}

	created, err := s.accounts.Create(ctx, &models.Account{
		AuthUserID:  claims.Subject,
		Email:       email,
		DisplayName: claims.Name,
		Tier:        models.TierFree,
	})
	if err != nil {
		// A concurrent first request may have created it already.
		if existing, findErr := s.accounts.FindByAuthUserID(ctx, claims.Subject); findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.log.Info("account created on sign-in", "account_id", created.ID)
	return created, nil
}

// ResolveByEmail finds the account for a payment email, creating a free
// account with a zero balance when provision is set.
func (s *AccountService) ResolveByEmail(ctx context.Context, email string, provision bool) (*models.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	if account != nil {
		return account, nil
	}
	if !provision {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, email)
	}
	created, err := s.accounts.Create(ctx, &models.Account{Email: email, Tier: models.TierFree})
	if err != nil {
		if existing, findErr := s.accounts.FindByEmail(ctx, email); findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("provision account: %w", err)
	}
	s.log.Info("account provisioned from payment", "account_id", created.ID)
	return created, nil
}

func (s *AccountService) Get(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (s *AccountService) List(ctx context.Context, limit, offset int) ([]models.Account, error) {
	return s.accounts.List(ctx, clampLimit(limit), max(offset, 0))
}

// ManualGrant credits an account by hand, e.g. for support compensation.
func (s *AccountService) ManualGrant(ctx context.Context, accountID string, amount decimal.Decimal, note string) (*models.Account, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: grant amount must be positive", ErrValidation)
	}
	metadata := map[string]any{}
	if note = strings.TrimSpace(note); note != "" {
		metadata["note"] = note
	}
	account, err := s.ledger.Apply(ctx, models.LedgerEntry{
		AccountID:     accountID,
		Amount:        amount,
		Type:          models.TransactionManualGrant,
		PaymentMethod: "admin",
		Metadata:      metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("manual grant: %w", err)
	}
	s.log.Info("manual grant applied", "account_id", accountID, "amount", amount.String())
	return account, nil
}

func (s *AccountService) SetTier(ctx context.Context, accountID string, tier models.Tier) (*models.Account, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrValidation, tier)
	}
	if _, err := s.Get(ctx, accountID); err != nil {
		return nil, err
	}
	if err := s.accounts.SetTier(ctx, accountID, tier); err != nil {
		return nil, err
	}
	return s.Get(ctx, accountID)
}

func (s *AccountService) Transactions(ctx context.Context, accountID string, limit int) ([]models.CreditTransaction, error) {
	return s.ledger.ListTransactions(ctx, accountID, clampLimit(limit))
}

func (s *AccountService) Usage(ctx context.Context, accountID string, limit int) ([]models.UsageLog, error) {
	return s.usage.ListByAccount(ctx, accountID, clampLimit(limit))
}

// Overview pairs the account with its month-to-date spend.
type Overview struct {
	Account    *models.Account         `json:"account"`
	MonthUsage repository.UsageSummary `json:"month_usage"`
}

func (s *AccountService) Overview(ctx context.Context, account *models.Account) (*Overview, error) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	summary, err := s.usage.SummarySince(ctx, account.ID, monthStart)
	if err != nil {
		return nil, err
	}
	return &Overview{Account: account, MonthUsage: summary}, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
