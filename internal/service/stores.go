package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/models"
	"github.com/digkill/AssistantHub/internal/n8n"
	"github.com/digkill/AssistantHub/internal/repository"
)

// The interfaces below are satisfied by the MySQL repositories and the
// workflow clients; services depend on them so tests can run in memory.

type AccountStore interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByAuthUserID(ctx context.Context, authUserID string) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	LinkAuthUser(ctx context.Context, accountID, authUserID, displayName string) error
	SetTier(ctx context.Context, accountID string, tier models.Tier) error
	List(ctx context.Context, limit, offset int) ([]models.Account, error)
}

type Ledger interface {
	Apply(ctx context.Context, entry models.LedgerEntry) (*models.Account, error)
	Reserve(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error)
	Adjust(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error)
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, accountID string, limit int) ([]models.CreditTransaction, error)
	RedeemCoupon(ctx context.Context, accountID, code string, now time.Time, grant repository.GrantFunc) (*models.Account, *models.Coupon, error)
}

type WebhookEventStore interface {
	Record(ctx context.Context, event *models.WebhookEvent) error
	List(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

type CouponStore interface {
	GetByID(ctx context.Context, id int64) (*models.Coupon, error)
	List(ctx context.Context) ([]models.Coupon, error)
	Create(ctx context.Context, coupon *models.Coupon) (*models.Coupon, error)
	Update(ctx context.Context, coupon *models.Coupon) (*models.Coupon, error)
	Delete(ctx context.Context, id int64) error
}

type UsageStore interface {
	Log(ctx context.Context, entry *models.UsageLog) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.UsageLog, error)
	SummarySince(ctx context.Context, accountID string, since time.Time) (repository.UsageSummary, error)
}

type ProjectStore interface {
	List(ctx context.Context) ([]models.Project, error)
	ListVisible(ctx context.Context) ([]models.Project, error)
	GetBySlug(ctx context.Context, slug string) (*models.Project, error)
	GetByID(ctx context.Context, id int64) (*models.Project, error)
	Create(ctx context.Context, project *models.Project) (*models.Project, error)
	Update(ctx context.Context, project *models.Project) (*models.Project, error)
	Delete(ctx context.Context, id int64) error
}

type ThreadStore interface {
	Create(ctx context.Context, thread *models.ChatThread) (*models.ChatThread, error)
	Get(ctx context.Context, id string) (*models.ChatThread, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.ChatThread, error)
	AddMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, threadID string, limit int) ([]models.Message, error)
}

type ImageStore interface {
	Create(ctx context.Context, img *models.GeneratedImage) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.GeneratedImage, error)
}

type ChatBackend interface {
	ChatEnabled() bool
	Chat(ctx context.Context, req n8n.ChatRequest) (string, error)
}

type ImageBackend interface {
	GenerateImages(ctx context.Context, req n8n.ImageRequest) (*n8n.ImageResult, error)
}

// ImageMirror copies a short-lived workflow URL into durable storage.
type ImageMirror interface {
	Mirror(ctx context.Context, sourceURL string) (string, error)
}
