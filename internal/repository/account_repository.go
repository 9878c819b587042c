package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/digkill/AssistantHub/internal/models"
)

const accountColumns = `id, COALESCE(auth_user_id, ''), email, COALESCE(display_name, ''), tier, credits, created_at, updated_at`

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func scanAccount(row scanner) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.AuthUserID, &a.Email, &a.DisplayName, &a.Tier, &a.Credits, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepository) findOne(ctx context.Context, where string, arg any) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where + ` LIMIT 1`
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *AccountRepository) FindByAuthUserID(ctx context.Context, authUserID string) (*models.Account, error) {
	return r.findOne(ctx, "auth_user_id = ?", authUserID)
}

// FindByEmail matches case-insensitively; emails are stored lower-cased.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Tier == "" {
		account.Tier = models.TierFree
	}
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	const query = `
INSERT INTO accounts (id, auth_user_id, email, display_name, tier, credits)
VALUES (?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, account.ID, account.AuthUserID, account.Email, account.DisplayName, account.Tier, account.Credits); err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return r.FindByID(ctx, account.ID)
}

// LinkAuthUser attaches an identity-provider user to an account created by a
// payment webhook before the user ever signed in.
func (r *AccountRepository) LinkAuthUser(ctx context.Context, accountID, authUserID, displayName string) error {
	const query = `
UPDATE accounts SET auth_user_id = ?, display_name = COALESCE(NULLIF(?, ''), display_name), updated_at = NOW()
WHERE id = ? AND auth_user_id IS NULL`
	if _, err := r.db.ExecContext(ctx, query, authUserID, displayName, accountID); err != nil {
		return fmt.Errorf("link auth user: %w", err)
	}
	return nil
}

func (r *AccountRepository) SetTier(ctx context.Context, accountID string, tier models.Tier) error {
	const query = `UPDATE accounts SET tier = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, tier, accountID); err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	return nil
}

func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account list: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}
