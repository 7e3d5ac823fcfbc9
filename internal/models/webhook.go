package models

// Webhook event kinds as sent by the payment gateway
const (
	EventPaymentSucceeded = "payment.success"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refund"
)

// Currencies accepted in webhook payloads
const (
	CurrencyTRY = "TRY"
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
)

// WebhookEvent is the parsed gateway notification.
// Every field is hostile input until the raw body passed signature
// verification; nothing here may be trusted before that.
type WebhookEvent struct {
	Event     string `json:"event" validate:"required,oneof=payment.success payment.failed payment.refund"`
	PaymentID string `json:"paymentId" validate:"required"`
	Status    string `json:"status" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Currency  string `json:"currency" validate:"required,oneof=TRY USD EUR"`
	UserID    int64  `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp" validate:"required"`
}
