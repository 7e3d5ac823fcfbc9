// Package gateway holds the outbound checkout-initiation client.
// It only starts purchases; the resulting payment comes back through
// the webhook processor, which shares the paymentId namespace.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ayilmaz/creditd/internal/logger"
)

const (
	CodeRejected    = "rejected"
	CodeUnavailable = "unavailable"
	CodeUnknown     = "unknown"
)

type GatewayError struct {
	Code string
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("code: %s, error: %v", e.Code, e.Err)
}

func NewGatewayError(code string, err error) *GatewayError {
	return &GatewayError{Code: code, Err: err}
}

// CheckoutRequest starts a purchase for a user.
// Amount is in the smallest currency unit; the gateway API wants a
// formatted decimal string, conversion happens at the wire boundary.
type CheckoutRequest struct {
	UserID      int64
	Amount      int64
	Currency    string
	Description string
	PackageID   string
	CallbackURL string
}

// Checkout is the gateway's answer: where to send the buyer
type Checkout struct {
	PaymentID   string `json:"paymentId"`
	Token       string `json:"token"`
	CheckoutURL string `json:"checkoutUrl"`
	Status      string `json:"status"`
}

type Client struct {
	GatewayAddr string

	apiKey string
	client *http.Client
	logger logger.Logger
}

func NewClient(addr string, apiKey string, l logger.Logger) *Client {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		GatewayAddr: addr,
		apiKey:      apiKey,
		client:      &http.Client{},
		logger:      l,
	}
}

type initiateBody struct {
	ConversationID string `json:"conversationId"`
	Price          string `json:"price"`
	PaidPrice      string `json:"paidPrice"`
	Currency       string `json:"currency"`
	BasketID       string `json:"basketId"`
	Description    string `json:"description"`
	BuyerID        int64  `json:"buyerId"`
	CallbackURL    string `json:"callbackUrl"`
}

func (c *Client) InitiateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	var checkout Checkout

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	price := decimal.NewFromInt(req.Amount).Div(decimal.NewFromInt(100)).StringFixed(2)
	body := initiateBody{
		ConversationID: uuid.NewString(),
		Price:          price,
		PaidPrice:      price,
		Currency:       req.Currency,
		BasketID:       req.PackageID,
		Description:    req.Description,
		BuyerID:        req.UserID,
		CallbackURL:    req.CallbackURL,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return checkout, NewGatewayError(CodeUnknown, fmt.Errorf("failed to encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.GatewayAddr+"/checkout/initialize", bytes.NewReader(payload))
	if err != nil {
		return checkout, NewGatewayError(CodeUnknown, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return checkout, NewGatewayError(CodeUnavailable, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(&checkout); err != nil {
			return checkout, NewGatewayError(CodeUnknown, fmt.Errorf("failed to decode response: %w", err))
		}

		c.logger.Debug("Checkout initiated", "payment_id", checkout.PaymentID, "conversation_id", body.ConversationID)
		return checkout, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Warn("Gateway rejected checkout", "status_code", resp.StatusCode, "user_id", req.UserID)
		return checkout, NewGatewayError(CodeRejected, fmt.Errorf("gateway rejected checkout with status %d", resp.StatusCode))

	default:
		c.logger.Warn("Gateway unavailable", "status_code", resp.StatusCode)
		return checkout, NewGatewayError(CodeUnavailable, fmt.Errorf("unexpected gateway status %d", resp.StatusCode))
	}
}
