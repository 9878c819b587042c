package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/AssistantHub/internal/models"
)

var accountRowColumns = []string{"id", "auth_user_id", "email", "display_name", "tier", "credits", "created_at", "updated_at"}

func newMock(t *testing.T) (*LedgerRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLedgerRepository(db), mock
}

func TestApplyWritesEventBalanceAndTransaction(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	tier := models.TierTwo

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO webhook_events")).WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM accounts WHERE id = ? FOR UPDATE")).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET credits = GREATEST(credits + ?, 0), tier = COALESCE(?, tier)")).
		WithArgs(sqlmock.AnyArg(), "tier2", "acc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO credit_transactions")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(accountRowColumns).AddRow("acc-1", "", "a@b.c", "", "tier2", "40000", now, now))
	mock.ExpectCommit()

	event := &models.WebhookEvent{Provider: "thrivecart", EventKey: "k1", Event: "order.success", Status: models.WebhookStatusApplied}
	account, err := repo.Apply(context.Background(), models.LedgerEntry{
		AccountID:     "acc-1",
		Amount:        decimal.NewFromInt(40000),
		Type:          models.TransactionPurchase,
		PaymentMethod: "thrivecart",
		Metadata:      map[string]any{"order_id": "1"},
		SetTier:       &tier,
		Event:         event,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TierTwo, account.Tier)
	assert.Equal(t, "40000", account.Credits.String())
	assert.Equal(t, int64(7), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDuplicateEventLeavesAccountUntouched(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO webhook_events")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	_, err := repo.Apply(context.Background(), models.LedgerEntry{
		AccountID: "acc-1",
		Amount:    decimal.NewFromInt(10),
		Event:     &models.WebhookEvent{EventKey: "k1"},
	})
	assert.ErrorIs(t, err, ErrDuplicateEvent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyUnknownAccount(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM accounts WHERE id = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.Apply(context.Background(), models.LedgerEntry{AccountID: "missing", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve(t *testing.T) {
	t.Run("covered", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND credits >= ?")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT credits FROM accounts")).
			WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow("4.70"))

		balance, err := repo.Reserve(context.Background(), "acc-1", decimal.RequireFromString("0.30"))
		require.NoError(t, err)
		assert.True(t, balance.Equal(decimal.RequireFromString("4.7")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND credits >= ?")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT credits FROM accounts")).
			WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow("0.10"))

		_, err := repo.Reserve(context.Background(), "acc-1", decimal.RequireFromString("0.30"))
		assert.ErrorIs(t, err, ErrInsufficientCredits)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND credits >= ?")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT credits FROM accounts")).
			WillReturnRows(sqlmock.NewRows([]string{"credits"}))

		_, err := repo.Reserve(context.Background(), "nope", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

var couponRowColumns = []string{"id", "code", "type", "value", "max_uses", "uses", "expires_at", "created_at"}

func TestRedeemCouponExpired(t *testing.T) {
	repo, mock := newMock(t)
	past := time.Now().Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM coupons WHERE code = ? FOR UPDATE")).
		WithArgs("TRIAL1").
		WillReturnRows(sqlmock.NewRows(couponRowColumns).AddRow(1, "TRIAL1", "trial", 1, nil, 0, past, past))
	mock.ExpectRollback()

	_, _, err := repo.RedeemCoupon(context.Background(), "acc-1", "TRIAL1", time.Now(), func(*models.Coupon) (decimal.Decimal, error) {
		t.Fatal("grant must not be evaluated for an expired coupon")
		return decimal.Zero, nil
	})
	assert.ErrorIs(t, err, ErrCouponExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemCouponGrantErrorConsumesNothing(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	errDiscount := errors.New("discount")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM coupons WHERE code = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(couponRowColumns).AddRow(1, "SAVE10", "discount", 10, 5, 0, nil, now))
	mock.ExpectRollback()

	_, _, err := repo.RedeemCoupon(context.Background(), "acc-1", "SAVE10", now, func(*models.Coupon) (decimal.Decimal, error) {
		return decimal.Zero, errDiscount
	})
	assert.ErrorIs(t, err, errDiscount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemCouponAlreadyRedeemed(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM coupons WHERE code = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(couponRowColumns).AddRow(1, "TRIAL1", "trial", 1, 10, 3, nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM accounts WHERE id = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-1"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO coupon_redemptions")).
		WillReturnError(&mysql.MySQLError{Number: 1062})
	mock.ExpectRollback()

	_, _, err := repo.RedeemCoupon(context.Background(), "acc-1", "TRIAL1", now, func(*models.Coupon) (decimal.Decimal, error) {
		return decimal.NewFromInt(10000), nil
	})
	assert.ErrorIs(t, err, ErrCouponRedeemed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemCouponSuccess(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM coupons WHERE code = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(couponRowColumns).AddRow(1, "TRIAL2", "trial", 2, 10, 3, nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM accounts WHERE id = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-1"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO coupon_redemptions")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE coupons SET uses = uses + 1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET credits = credits + ?")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO credit_transactions")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(accountRowColumns).AddRow("acc-1", "auth-1", "a@b.c", "", "free", "20000", now, now))
	mock.ExpectCommit()

	account, coupon, err := repo.RedeemCoupon(context.Background(), "acc-1", "TRIAL2", now, func(c *models.Coupon) (decimal.Decimal, error) {
		return decimal.NewFromInt(int64(c.Value) * 10000), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "20000", account.Credits.String())
	assert.Equal(t, 4, coupon.Uses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemCouponLastUseExhaustedAtIncrement(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM coupons WHERE code = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(couponRowColumns).AddRow(1, "TEAM3", "trial", 1, 3, 2, nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM accounts WHERE id = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-3"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO coupon_redemptions")).WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE coupons SET uses = uses + 1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err := repo.RedeemCoupon(context.Background(), "acc-3", "TEAM3", now, func(*models.Coupon) (decimal.Decimal, error) {
		return decimal.NewFromInt(10000), nil
	})
	assert.ErrorIs(t, err, ErrCouponExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
