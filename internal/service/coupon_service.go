package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/models"
	"github.com/digkill/AssistantHub/internal/notify"
)

type CouponService struct {
	log           *slog.Logger
	ledger        Ledger
	coupons       CouponStore
	notifier      notify.Notifier
	trialPerMonth decimal.Decimal
	now           func() time.Time
}

func NewCouponService(log *slog.Logger, ledger Ledger, coupons CouponStore, notifier notify.Notifier, trialPerMonth decimal.Decimal) *CouponService {
	return &CouponService{
		log:           log,
		ledger:        ledger,
		coupons:       coupons,
		notifier:      notifier,
		trialPerMonth: trialPerMonth,
		now:           time.Now,
	}
}

type RedeemResult struct {
	Account *models.Account
	Coupon  *models.Coupon
	Credits decimal.Decimal
}

// Redeem applies a trial coupon to the account. A trial coupon's value is the
// number of months of allowance it grants.
func (s *CouponService) Redeem(ctx context.Context, accountID, code string) (*RedeemResult, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: coupon code is required", ErrValidation)
	}

	var granted decimal.Decimal
	account, coupon, err := s.ledger.RedeemCoupon(ctx, accountID, code, s.now(), func(c *models.Coupon) (decimal.Decimal, error) {
		switch c.Type {
		case models.CouponTrial:
			months := max(c.Value, 1)
			granted = s.trialPerMonth.Mul(decimal.NewFromInt(int64(months)))
			return granted, nil
		case models.CouponDiscount:
			return decimal.Zero, ErrCouponNotRedeemable
		default:
			return decimal.Zero, fmt.Errorf("%w: unsupported coupon type %q", ErrValidation, c.Type)
		}
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("coupon redeemed", "account_id", accountID, "code", code, "credits", granted.String())
	s.notifier.Notify(ctx, fmt.Sprintf("coupon %s redeemed by %s: %s credits", code, account.Email, granted.String()))
	return &RedeemResult{Account: account, Coupon: coupon, Credits: granted}, nil
}

// CouponInput is the admin-editable part of a coupon.
type CouponInput struct {
	Code      string            `json:"code" validate:"required,max=64"`
	Type      models.CouponType `json:"type" validate:"required,oneof=trial discount"`
	Value     int               `json:"value" validate:"gte=1"`
	MaxUses   *int              `json:"max_uses" validate:"omitempty,gte=1"`
	ExpiresAt *time.Time        `json:"expires_at"`
}

func (in CouponInput) toModel() (*models.Coupon, error) {
	code := normalizeCode(in.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: coupon code is required", ErrValidation)
	}
	if in.Type != models.CouponTrial && in.Type != models.CouponDiscount {
		return nil, fmt.Errorf("%w: unsupported coupon type %q", ErrValidation, in.Type)
	}
	if in.Value < 1 {
		return nil, fmt.Errorf("%w: coupon value must be positive", ErrValidation)
	}
	if in.MaxUses != nil && *in.MaxUses < 1 {
		return nil, fmt.Errorf("%w: max uses must be positive", ErrValidation)
	}
	return &models.Coupon{
		Code:      code,
		Type:      in.Type,
		Value:     in.Value,
		MaxUses:   in.MaxUses,
		ExpiresAt: in.ExpiresAt,
	}, nil
}

func (s *CouponService) List(ctx context.Context) ([]models.Coupon, error) {
	return s.coupons.List(ctx)
}

func (s *CouponService) Create(ctx context.Context, in CouponInput) (*models.Coupon, error) {
	coupon, err := in.toModel()
	if err != nil {
		return nil, err
	}
	created, err := s.coupons.Create(ctx, coupon)
	if err != nil {
		return nil, conflictOr(err)
	}
	return created, nil
}

func (s *CouponService) Update(ctx context.Context, id int64, in CouponInput) (*models.Coupon, error) {
	existing, err := s.coupons.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: coupon %d", ErrNotFound, id)
	}
	coupon, err := in.toModel()
	if err != nil {
		return nil, err
	}
	coupon.ID = id
	coupon.Uses = existing.Uses
	updated, err := s.coupons.Update(ctx, coupon)
	if err != nil {
		return nil, conflictOr(err)
	}
	return updated, nil
}

func (s *CouponService) Delete(ctx context.Context, id int64) error {
	return s.coupons.Delete(ctx, id)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
