package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrDuplicateEvent      = errors.New("webhook event already processed")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponExpired       = errors.New("coupon expired")
	ErrCouponExhausted     = errors.New("coupon has reached its maximum uses")
	ErrCouponRedeemed      = errors.New("coupon already redeemed")
	ErrDuplicateCoupon     = errors.New("coupon code already exists")
	ErrDuplicateProject    = errors.New("project slug already exists")
)

const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

type scanner interface {
	Scan(dest ...any) error
}
