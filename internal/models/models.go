package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierFree  Tier = "free"
	TierOne   Tier = "tier1"
	TierTwo   Tier = "tier2"
	TierAdmin Tier = "admin"
)

// Valid reports whether t is one of the known subscription tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierOne, TierTwo, TierAdmin:
		return true
	}
	return false
}

// AllowsTier2 reports whether the tier unlocks projects gated behind tier2.
func (t Tier) AllowsTier2() bool {
	return t == TierTwo || t == TierAdmin
}

type TransactionType string

const (
	TransactionPurchase    TransactionType = "purchase"
	TransactionRefund      TransactionType = "refund"
	TransactionTrial       TransactionType = "trial"
	TransactionManualGrant TransactionType = "manual_grant"
)

type CouponType string

const (
	CouponTrial    CouponType = "trial"
	CouponDiscount CouponType = "discount"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Account struct {
	ID          string          `json:"id"`
	AuthUserID  string          `json:"auth_user_id,omitempty"`
	Email       string          `json:"email"`
	DisplayName string          `json:"display_name"`
	Tier        Tier            `json:"tier"`
	Credits     decimal.Decimal `json:"credits"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type CreditTransaction struct {
	ID            int64           `json:"id"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Type          TransactionType `json:"type"`
	PaymentMethod string          `json:"payment_method"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LedgerEntry describes one balance mutation together with the audit row written
// alongside it. Amount is added to the balance and the result is floored at zero.
// An empty Type skips the transaction row; a non-nil Event is recorded as
// consumed in the same SQL transaction.
type LedgerEntry struct {
	AccountID     string
	Amount        decimal.Decimal
	Type          TransactionType
	PaymentMethod string
	Metadata      map[string]any
	SetTier       *Tier
	Event         *WebhookEvent
}

type Coupon struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code"`
	Type      CouponType `json:"type"`
	Value     int        `json:"value"`
	MaxUses   *int       `json:"max_uses,omitempty"`
	Uses      int        `json:"uses"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the coupon expiry lies before now.
func (c *Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Exhausted reports whether the coupon has no redemptions left.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.Uses >= *c.MaxUses
}

type UsageLog struct {
	ID           int64           `json:"id"`
	AccountID    string          `json:"account_id"`
	Model        string          `json:"model"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
	ProjectID    *int64          `json:"project_id,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Project struct {
	ID            int64     `json:"id"`
	Slug          string    `json:"slug"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	Model         string    `json:"model"`
	IsActive      bool      `json:"is_active"`
	ComingSoon    bool      `json:"coming_soon"`
	RequiresTier2 bool      `json:"requires_tier2"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ChatThread struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	ProjectID int64     `json:"project_id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID        int64     `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type GeneratedImage struct {
	ID        int64           `json:"id"`
	AccountID string          `json:"account_id"`
	ProjectID *int64          `json:"project_id,omitempty"`
	ThreadID  string          `json:"thread_id,omitempty"`
	Prompt    string          `json:"prompt"`
	SourceURL string          `json:"source_url"`
	URL       string          `json:"url"`
	Model     string          `json:"model"`
	Quality   string          `json:"quality"`
	Size      string          `json:"size"`
	Cost      decimal.Decimal `json:"cost"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	WebhookStatusApplied = "applied"
	WebhookStatusIgnored = "ignored"
)

type WebhookEvent struct {
	ID         int64     `json:"id"`
	Provider   string    `json:"provider"`
	EventKey   string    `json:"event_key"`
	Event      string    `json:"event"`
	Email      string    `json:"email"`
	ProductID  string    `json:"product_id"`
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	RawPayload string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
