package service

import (
	"errors"

	"github.com/digkill/AssistantHub/internal/repository"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrDownstream    = errors.New("downstream service unavailable")
	ErrNotConfigured = errors.New("not configured")

	ErrCouponNotRedeemable = errors.New("discount coupons are applied at checkout, not redeemed")
)

// Ledger outcomes pass through from the repository unchanged.
var (
	ErrAccountNotFound     = repository.ErrAccountNotFound
	ErrInsufficientCredits = repository.ErrInsufficientCredits
	ErrCouponNotFound      = repository.ErrCouponNotFound
	ErrCouponExpired       = repository.ErrCouponExpired
	ErrCouponExhausted     = repository.ErrCouponExhausted
	ErrCouponRedeemed      = repository.ErrCouponRedeemed
)
