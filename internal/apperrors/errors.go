package apperrors

import (
	"errors"
)

var (
	ErrUserNotFound = errors.New("user balance not found")

	ErrPaymentAlreadyApplied = errors.New("payment already applied")
	ErrBalanceInsufficient   = errors.New("insufficient balance")
	ErrAmountInvalid         = errors.New("amount must be positive")

	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrSourceIPDenied   = errors.New("webhook source ip not allowed")
	ErrPayloadInvalid   = errors.New("webhook payload invalid")
)
