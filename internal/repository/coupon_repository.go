package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/AssistantHub/internal/models"
)

const couponColumns = `id, code, type, value, max_uses, uses, expires_at, created_at`

type CouponRepository struct {
	db *sql.DB
}

func NewCouponRepository(db *sql.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

func scanCoupon(row scanner) (*models.Coupon, error) {
	var c models.Coupon
	var maxUses sql.NullInt64
	var expiresAt sql.NullTime
	if err := row.Scan(&c.ID, &c.Code, &c.Type, &c.Value, &maxUses, &c.Uses, &expiresAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	if maxUses.Valid {
		v := int(maxUses.Int64)
		c.MaxUses = &v
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	return &c, nil
}

func (r *CouponRepository) GetByID(ctx context.Context, id int64) (*models.Coupon, error) {
	c, err := scanCoupon(r.db.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coupon by id: %w", err)
	}
	return c, nil
}

func (r *CouponRepository) List(ctx context.Context) ([]models.Coupon, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	var coupons []models.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon list: %w", err)
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}

func (r *CouponRepository) Create(ctx context.Context, coupon *models.Coupon) (*models.Coupon, error) {
	const query = `
INSERT INTO coupons (code, type, value, max_uses, uses, expires_at)
VALUES (?, ?, ?, ?, 0, ?)`
	res, err := r.db.ExecContext(ctx, query, coupon.Code, coupon.Type, coupon.Value, coupon.MaxUses, coupon.ExpiresAt)
	if err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("coupon %s: %w", coupon.Code, ErrDuplicateCoupon)
		}
		return nil, fmt.Errorf("create coupon: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("coupon last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *CouponRepository) Update(ctx context.Context, coupon *models.Coupon) (*models.Coupon, error) {
	const query = `
UPDATE coupons
SET code = ?, type = ?, value = ?, max_uses = ?, uses = ?, expires_at = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, coupon.Code, coupon.Type, coupon.Value, coupon.MaxUses, coupon.Uses, coupon.ExpiresAt, coupon.ID); err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("coupon %s: %w", coupon.Code, ErrDuplicateCoupon)
		}
		return nil, fmt.Errorf("update coupon: %w", err)
	}
	return r.GetByID(ctx, coupon.ID)
}

func (r *CouponRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM coupons WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete coupon: %w", err)
	}
	return nil
}
