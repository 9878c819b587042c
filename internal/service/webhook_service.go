package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/config"
	"github.com/digkill/AssistantHub/internal/models"
	"github.com/digkill/AssistantHub/internal/notify"
	"github.com/digkill/AssistantHub/internal/pricing"
	"github.com/digkill/AssistantHub/internal/repository"
	"github.com/digkill/AssistantHub/internal/thrivecart"
)

const topUpProvider = "thrivecart_topup"

// WebhookResult describes what a delivery did to the ledger.
type WebhookResult struct {
	Duplicate bool
	Ignored   bool
	Credits   decimal.Decimal
	Account   *models.Account
}

// WebhookService turns ThriveCart deliveries into ledger entries.
type WebhookService struct {
	log             *slog.Logger
	accounts        *AccountService
	ledger          Ledger
	events          WebhookEventStore
	prices          *pricing.Table
	notifier        notify.Notifier
	secret          string
	provisionOnPay  bool
	provisionTopUps bool
}

func NewWebhookService(cfg config.Config, log *slog.Logger, accounts *AccountService, ledger Ledger, events WebhookEventStore, prices *pricing.Table, notifier notify.Notifier) *WebhookService {
	return &WebhookService{
		log:             log,
		accounts:        accounts,
		ledger:          ledger,
		events:          events,
		prices:          prices,
		notifier:        notifier,
		secret:          cfg.ThriveCartSecret,
		provisionOnPay:  cfg.AutoProvisionOnPayment,
		provisionTopUps: cfg.AutoProvisionOnTopUp,
	}
}

// HandlePayment applies a subscription or one-off product event.
func (s *WebhookService) HandlePayment(ctx context.Context, ev thrivecart.Event) (*WebhookResult, error) {
	if !ev.VerifySecret(s.secret) {
		return nil, fmt.Errorf("%w: webhook secret mismatch", ErrUnauthorized)
	}
	if ev.Kind == thrivecart.KindUnknown {
		return s.ignore(ctx, thrivecart.Provider, ev.Key(), ev)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	product, ok := s.prices.Product(ev.ProductID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown product %s", ErrNotFound, ev.ProductID)
	}
	// Only a grant may create an account; cancelling or refunding an unknown
	// customer has nothing to act on.
	account, err := s.accounts.ResolveByEmail(ctx, ev.Email, s.provisionOnPay && ev.Kind.Grants())
	if err != nil {
		return nil, err
	}

	free := models.TierFree
	entry := models.LedgerEntry{
		AccountID:     account.ID,
		PaymentMethod: thrivecart.Provider,
		Metadata:      eventMetadata(ev, product.Name),
		Event:         webhookEvent(thrivecart.Provider, ev.Key(), ev, models.WebhookStatusApplied),
	}
	switch {
	case ev.Kind.Grants():
		entry.Amount = product.Credits
		entry.Type = models.TransactionPurchase
		if product.Tier != "" {
			tier := product.Tier
			entry.SetTier = &tier
		}
	case ev.Kind == thrivecart.KindCancelled:
		entry.SetTier = &free
	case ev.Kind == thrivecart.KindRefund:
		entry.Amount = product.Credits.Neg()
		entry.Type = models.TransactionRefund
		entry.SetTier = &free
	}

	return s.apply(ctx, entry, ev, product.Credits)
}

// HandleTopUp applies a one-time credit purchase. Top-ups never change the tier.
func (s *WebhookService) HandleTopUp(ctx context.Context, ev thrivecart.Event) (*WebhookResult, error) {
	if !ev.VerifySecret(s.secret) {
		return nil, fmt.Errorf("%w: webhook secret mismatch", ErrUnauthorized)
	}
	key := topUpProvider + ":" + ev.Key()
	if ev.Kind != thrivecart.KindOrderSuccess && ev.Kind != thrivecart.KindRefund {
		return s.ignore(ctx, topUpProvider, key, ev)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	credits, ok := s.prices.TopUp(ev.ProductID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown top-up product %s", ErrNotFound, ev.ProductID)
	}
	account, err := s.accounts.ResolveByEmail(ctx, ev.Email, s.provisionTopUps && ev.Kind == thrivecart.KindOrderSuccess)
	if err != nil {
		return nil, err
	}

	entry := models.LedgerEntry{
		AccountID:     account.ID,
		Amount:        credits,
		Type:          models.TransactionPurchase,
		PaymentMethod: thrivecart.Provider,
		Metadata:      eventMetadata(ev, "top-up"),
		Event:         webhookEvent(topUpProvider, key, ev, models.WebhookStatusApplied),
	}
	if ev.Kind == thrivecart.KindRefund {
		entry.Amount = credits.Neg()
		entry.Type = models.TransactionRefund
	}
	return s.apply(ctx, entry, ev, credits)
}

func (s *WebhookService) apply(ctx context.Context, entry models.LedgerEntry, ev thrivecart.Event, credits decimal.Decimal) (*WebhookResult, error) {
	account, err := s.ledger.Apply(ctx, entry)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			s.log.Info("duplicate webhook delivery", "key", entry.Event.EventKey)
			return &WebhookResult{Duplicate: true, Credits: credits}, nil
		}
		return nil, fmt.Errorf("apply %s: %w", ev.Name, err)
	}

	s.log.Info("webhook applied",
		"event", ev.Name,
		"account_id", account.ID,
		"product_id", ev.ProductID,
		"amount", entry.Amount.String(),
		"tier", account.Tier,
	)
	s.notifier.Notify(ctx, fmt.Sprintf("%s: %s product %s, %s credits, tier %s, balance %s",
		ev.Name, account.Email, ev.ProductID, entry.Amount.String(), account.Tier, account.Credits.String()))
	return &WebhookResult{Credits: credits, Account: account}, nil
}

func (s *WebhookService) ignore(ctx context.Context, provider, key string, ev thrivecart.Event) (*WebhookResult, error) {
	err := s.events.Record(ctx, webhookEvent(provider, key, ev, models.WebhookStatusIgnored))
	if err != nil && !errors.Is(err, repository.ErrDuplicateEvent) {
		s.log.Warn("failed to record ignored webhook", "event", ev.Name, "err", err)
	}
	s.log.Info("webhook ignored", "event", ev.Name)
	return &WebhookResult{Ignored: true}, nil
}

func (s *WebhookService) RecentEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	return s.events.List(ctx, clampLimit(limit))
}

func webhookEvent(provider, key string, ev thrivecart.Event, status string) *models.WebhookEvent {
	return &models.WebhookEvent{
		Provider:   provider,
		EventKey:   key,
		Event:      ev.Name,
		Email:      ev.Email,
		ProductID:  ev.ProductID,
		OrderID:    ev.OrderID,
		Status:     status,
		RawPayload: ev.Raw,
	}
}

func eventMetadata(ev thrivecart.Event, productName string) map[string]any {
	metadata := map[string]any{
		"event":      ev.Name,
		"product_id": ev.ProductID,
		"product":    productName,
	}
	if ev.OrderID != "" {
		metadata["order_id"] = ev.OrderID
	}
	if ev.InvoiceID != "" {
		metadata["invoice_id"] = ev.InvoiceID
	}
	return metadata
}
