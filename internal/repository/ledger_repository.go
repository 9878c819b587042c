package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/models"
)

// LedgerRepository owns every mutation of accounts.credits. Each method is a
// single SQL transaction so a balance change and its audit rows commit together.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Apply adds entry.Amount to the account balance, flooring the result at zero,
// optionally changes the tier and writes the transaction and webhook rows.
// A webhook event whose key was already consumed yields ErrDuplicateEvent and
// leaves the account untouched.
func (r *LedgerRepository) Apply(ctx context.Context, entry models.LedgerEntry) (*models.Account, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if entry.Event != nil {
		if err := insertWebhookEvent(ctx, tx, entry.Event); err != nil {
			return nil, err
		}
	}

	if err := lockAccount(ctx, tx, entry.AccountID); err != nil {
		return nil, err
	}

	var tier any
	if entry.SetTier != nil {
		tier = string(*entry.SetTier)
	}
	const update = `
UPDATE accounts SET credits = GREATEST(credits + ?, 0), tier = COALESCE(?, tier), updated_at = NOW()
WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update, entry.Amount, tier, entry.AccountID); err != nil {
		return nil, fmt.Errorf("apply ledger entry: %w", err)
	}

	if entry.Type != "" {
		if err := insertTransaction(ctx, tx, entry.AccountID, entry.Amount, entry.Type, entry.PaymentMethod, entry.Metadata); err != nil {
			return nil, err
		}
	}

	account, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, entry.AccountID))
	if err != nil {
		return nil, fmt.Errorf("reload account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}
	return account, nil
}

// Reserve debits amount only if the balance covers it, returning the new balance.
func (r *LedgerRepository) Reserve(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return r.Balance(ctx, accountID)
	}
	const query = `
UPDATE accounts SET credits = credits - ?, updated_at = NOW()
WHERE id = ? AND credits >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, accountID, amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reserve credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return decimal.Zero, fmt.Errorf("reserve rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.Balance(ctx, accountID); err != nil {
			return decimal.Zero, err
		}
		return decimal.Zero, ErrInsufficientCredits
	}
	return r.Balance(ctx, accountID)
}

// Adjust adds delta to the balance, flooring at zero, without a transaction row.
// Metered usage settles through here; its audit trail is the usage log.
func (r *LedgerRepository) Adjust(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if !delta.IsZero() {
		const query = `UPDATE accounts SET credits = GREATEST(credits + ?, 0), updated_at = NOW() WHERE id = ?`
		if _, err := r.db.ExecContext(ctx, query, delta, accountID); err != nil {
			return decimal.Zero, fmt.Errorf("adjust credits: %w", err)
		}
	}
	return r.Balance(ctx, accountID)
}

func (r *LedgerRepository) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx, `SELECT credits FROM accounts WHERE id = ?`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func (r *LedgerRepository) ListTransactions(ctx context.Context, accountID string, limit int) ([]models.CreditTransaction, error) {
	const query = `
SELECT id, account_id, amount, type, COALESCE(payment_method, ''), metadata, created_at
FROM credit_transactions
WHERE account_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		var metadata []byte
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Type, &t.PaymentMethod, &metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, fmt.Errorf("decode transaction metadata: %w", err)
			}
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// GrantFunc decides the credit grant for a locked coupon. Returning an error
// aborts the redemption without consuming a use.
type GrantFunc func(coupon *models.Coupon) (decimal.Decimal, error)

// RedeemCoupon validates and consumes one use of code for accountID and credits
// the grant, all under a row lock on the coupon.
func (r *LedgerRepository) RedeemCoupon(ctx context.Context, accountID, code string, now time.Time, grant GrantFunc) (*models.Account, *models.Coupon, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	coupon, err := scanCoupon(tx.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = ? FOR UPDATE`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrCouponNotFound
		}
		return nil, nil, fmt.Errorf("lock coupon: %w", err)
	}
	if coupon.Expired(now) {
		return nil, nil, ErrCouponExpired
	}
	if coupon.Exhausted() {
		return nil, nil, ErrCouponExhausted
	}
	amount, err := grant(coupon)
	if err != nil {
		return nil, nil, err
	}

	if err := lockAccount(ctx, tx, accountID); err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO coupon_redemptions (account_id, coupon_id) VALUES (?, ?)`, accountID, coupon.ID); err != nil {
		if isDuplicate(err) {
			return nil, nil, ErrCouponRedeemed
		}
		return nil, nil, fmt.Errorf("insert redemption: %w", err)
	}

	const increment = `
UPDATE coupons SET uses = uses + 1
WHERE id = ? AND (max_uses IS NULL OR uses < max_uses)`
	res, err := tx.ExecContext(ctx, increment, coupon.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("increment coupon uses: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("coupon rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil, ErrCouponExhausted
	}
	coupon.Uses++

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET credits = credits + ?, updated_at = NOW() WHERE id = ?`, amount, accountID); err != nil {
		return nil, nil, fmt.Errorf("credit coupon grant: %w", err)
	}
	metadata := map[string]any{"coupon_code": coupon.Code, "coupon_type": string(coupon.Type), "value": coupon.Value}
	if err := insertTransaction(ctx, tx, accountID, amount, models.TransactionTrial, "coupon", metadata); err != nil {
		return nil, nil, err
	}

	account, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID))
	if err != nil {
		return nil, nil, fmt.Errorf("reload account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit coupon tx: %w", err)
	}
	return account, coupon, nil
}

func lockAccount(ctx context.Context, tx *sql.Tx, accountID string) error {
	var id string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = ? FOR UPDATE`, accountID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lock account: %w", err)
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, accountID string, amount decimal.Decimal, typ models.TransactionType, method string, metadata map[string]any) error {
	var raw any
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode transaction metadata: %w", err)
		}
		raw = string(encoded)
	}
	const query = `
INSERT INTO credit_transactions (account_id, amount, type, payment_method, metadata)
VALUES (?, ?, ?, NULLIF(?, ''), ?)`
	if _, err := tx.ExecContext(ctx, query, accountID, amount, typ, method, raw); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}
