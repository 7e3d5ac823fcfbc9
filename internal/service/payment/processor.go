package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/ayilmaz/creditd/internal/apperrors"
	"github.com/ayilmaz/creditd/internal/cache"
	"github.com/ayilmaz/creditd/internal/logger"
	"github.com/ayilmaz/creditd/internal/models"
	"github.com/ayilmaz/creditd/internal/repository"
	"github.com/ayilmaz/creditd/internal/signature"
)

// Terminal outcomes of a webhook delivery.
// A retried delivery of the same payment lands on the same outcome
// through the dedup key, there is no state carried between deliveries.
const (
	OutcomeApplied         = "applied"
	OutcomeAlreadyApplied  = "already_applied"
	OutcomeFailureRecorded = "failure_recorded"
)

// Retries of a refund whose clamped amount was outrun by concurrent
// spends before giving up and letting the gateway redeliver
const maxClampRetries = 3

var validate = validator.New()

type Config struct {
	// Shared secret for webhook signatures. Empty disables
	// verification, only acceptable for dev environments.
	WebhookSecret string

	// Optional source IP allowlist, empty list skips the check
	AllowedIPs []string
}

// Result of a processed delivery, echoed back to the gateway
type Result struct {
	Outcome   string
	EventType string
	PaymentID string
}

// Processor drives a webhook delivery through verification,
// validation and exactly-once ledger application.
type Processor struct {
	cfg     Config
	storage repository.Storage
	cache   *cache.BalanceCache
	logger  logger.Logger
}

func NewProcessor(cfg Config, storage repository.Storage, balanceCache *cache.BalanceCache, l logger.Logger) *Processor {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	if cfg.WebhookSecret == "" {
		l.Warn("WEBHOOK SIGNATURE VERIFICATION DISABLED: no secret configured, every payload will be trusted")
	}

	return &Processor{
		cfg:     cfg,
		storage: storage,
		cache:   balanceCache,
		logger:  l,
	}
}

// Process handles one delivery. rawBody and header are hostile until
// the signature check passes; sourceIP is the peer the gateway called
// from. Sentinel errors mark rejections, anything else is a store
// failure the caller should surface as retriable.
func (p *Processor) Process(ctx context.Context, rawBody []byte, signatureHeader string, sourceIP string) (Result, error) {
	var result Result

	if len(p.cfg.AllowedIPs) > 0 && !slices.Contains(p.cfg.AllowedIPs, sourceIP) {
		p.logger.Warn("Webhook from unexpected source", "source_ip", sourceIP)
		return result, apperrors.ErrSourceIPDenied
	}

	switch {
	case p.cfg.WebhookSecret == "":
		p.logger.Warn("Accepting UNVERIFIED webhook: signature verification is disabled")
	case !signature.Verify(rawBody, signatureHeader, p.cfg.WebhookSecret):
		p.logger.Warn("Webhook signature mismatch", "source_ip", sourceIP)
		return result, apperrors.ErrSignatureInvalid
	}

	event, err := parseEvent(rawBody)
	if err != nil {
		p.logger.Warn("Malformed webhook payload", "error", err)
		return result, err
	}

	result.EventType = event.Event
	result.PaymentID = event.PaymentID

	switch event.Event {
	case models.EventPaymentSucceeded:
		result.Outcome, err = p.applySuccess(ctx, event)
	case models.EventPaymentRefunded:
		result.Outcome, err = p.applyRefund(ctx, event)
	case models.EventPaymentFailed:
		result.Outcome, err = p.recordFailure(ctx, event)
	}

	return result, err
}

// parseEvent decodes and shape-checks the payload.
// Per-variant rule: success and refund move a user's balance, so they
// must carry the user id; failed events may arrive without one.
func parseEvent(rawBody []byte) (models.WebhookEvent, error) {
	var event models.WebhookEvent

	if err := json.Unmarshal(rawBody, &event); err != nil {
		return event, fmt.Errorf("%w: %w", apperrors.ErrPayloadInvalid, err)
	}

	if err := validate.Struct(event); err != nil {
		return event, fmt.Errorf("%w: %w", apperrors.ErrPayloadInvalid, err)
	}

	if event.Event != models.EventPaymentFailed && event.UserID <= 0 {
		return event, fmt.Errorf("%w: userId required for %s", apperrors.ErrPayloadInvalid, event.Event)
	}

	return event, nil
}

func (p *Processor) applySuccess(ctx context.Context, event models.WebhookEvent) (string, error) {
	t, err := p.storage.Ledger().Append(ctx, repository.AppendParams{
		UserID:      event.UserID,
		Kind:        models.TransactionKindPurchase,
		Amount:      event.Amount,
		Description: fmt.Sprintf("Credit purchase - %s", event.PaymentID),
		PaymentID:   event.PaymentID,
	})

	switch {
	case errors.Is(err, apperrors.ErrPaymentAlreadyApplied):
		p.logger.Info("Duplicate payment delivery ignored", "payment_id", event.PaymentID)
		return OutcomeAlreadyApplied, nil
	case err != nil:
		return "", fmt.Errorf("can't apply payment %s. Err: %w", event.PaymentID, err)
	}

	p.invalidate(ctx, event.UserID)
	p.logger.Info("Payment applied",
		"payment_id", event.PaymentID,
		"user_id", event.UserID,
		"amount", event.Amount,
		"balance", t.BalanceAfter,
	)

	return OutcomeApplied, nil
}

// applyRefund debits the user, clamping at zero: the refunded credits
// may be partially spent already. A clamp is a reconciliation
// discrepancy and is logged as such, never silently absorbed.
func (p *Processor) applyRefund(ctx context.Context, event models.WebhookEvent) (string, error) {
	amount := event.Amount

	for attempt := 0; ; attempt++ {
		t, err := p.storage.Ledger().Append(ctx, repository.AppendParams{
			UserID:      event.UserID,
			Kind:        models.TransactionKindRefund,
			Amount:      amount,
			Description: fmt.Sprintf("Refund - %s", event.PaymentID),
			PaymentID:   event.PaymentID,
		})

		switch {
		case errors.Is(err, apperrors.ErrPaymentAlreadyApplied):
			p.logger.Info("Duplicate refund delivery ignored", "payment_id", event.PaymentID)
			return OutcomeAlreadyApplied, nil

		case errors.Is(err, apperrors.ErrBalanceInsufficient):
			if attempt >= maxClampRetries {
				return "", fmt.Errorf("can't clamp refund %s after %d attempts. Err: %w", event.PaymentID, attempt, err)
			}

			// A user the ledger never credited has no balance row: the
			// failed append rolled back the one it created. Same
			// discrepancy as current = 0, clamp the same way.
			var current int64
			balance, err := p.storage.Ledger().GetBalance(ctx, event.UserID)
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound):
				current = 0
			case err != nil:
				return "", fmt.Errorf("can't read balance for refund clamp. Err: %w", err)
			default:
				current = balance.Current
			}

			p.logger.Error("Refund exceeds balance, clamping to zero: reconciliation discrepancy",
				"payment_id", event.PaymentID,
				"user_id", event.UserID,
				"requested", event.Amount,
				"clamped", current,
			)
			amount = current
			continue

		case err != nil:
			return "", fmt.Errorf("can't apply refund %s. Err: %w", event.PaymentID, err)
		}

		p.invalidate(ctx, event.UserID)
		p.logger.Info("Refund applied",
			"payment_id", event.PaymentID,
			"user_id", event.UserID,
			"amount", amount,
			"balance", t.BalanceAfter,
		)

		return OutcomeApplied, nil
	}
}

// recordFailure logs the failed attempt for traceability.
// Nothing to roll back, so from the gateway's point of view this
// always succeeds.
func (p *Processor) recordFailure(ctx context.Context, event models.WebhookEvent) (string, error) {
	err := p.storage.Ledger().RecordFailure(ctx, repository.FailureParams{
		PaymentID: event.PaymentID,
		UserID:    event.UserID,
		Amount:    event.Amount,
		Reason:    fmt.Sprintf("Payment failed - status %s", event.Status),
	})
	if err != nil {
		return "", fmt.Errorf("can't record payment failure %s. Err: %w", event.PaymentID, err)
	}

	p.logger.Info("Payment failure recorded", "payment_id", event.PaymentID, "user_id", event.UserID)
	return OutcomeFailureRecorded, nil
}

// ListFailures returns the most recent failed-payment records so
// operators can chase declined purchases with the gateway
func (p *Processor) ListFailures(ctx context.Context, limit int32) ([]models.PaymentFailure, error) {
	return p.storage.Ledger().ListFailures(ctx, limit)
}

func (p *Processor) invalidate(ctx context.Context, userID int64) {
	if err := p.cache.Invalidate(ctx, userID); err != nil {
		p.logger.Warn("Failed to invalidate balance cache", "user_id", userID, "error", err)
	}
}
