package handlers

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayilmaz/creditd/internal/apperrors"
	"github.com/ayilmaz/creditd/internal/handlers/render"
	"github.com/ayilmaz/creditd/internal/logger"
)

// SignatureHeader carries the gateway's HMAC over the raw body
const SignatureHeader = "X-Provider-Signature"

const maxWebhookBody = 64 << 10

// webhookResponse is the contract with the gateway: anything but 200
// makes it retry the delivery
type webhookResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	EventType string `json:"eventType,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
}

func handleWebhook(processor webhookProcessor, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
		rawBody, err := io.ReadAll(r.Body)
		if err != nil {
			render.JSONWithStatus(w, webhookResponse{Success: false, Message: "Failed to read request body"}, http.StatusBadRequest)
			return
		}

		result, err := processor.Process(r.Context(), rawBody, r.Header.Get(SignatureHeader), sourceIP(r))

		switch {
		case err == nil:
			render.JSON(w, webhookResponse{
				Success:   true,
				EventType: result.EventType,
				PaymentID: result.PaymentID,
			})
		case errors.Is(err, apperrors.ErrSignatureInvalid):
			render.JSONWithStatus(w, webhookResponse{Success: false, Message: "Invalid webhook signature"}, http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrPayloadInvalid):
			render.JSONWithStatus(w, webhookResponse{Success: false, Message: "Invalid webhook payload"}, http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrSourceIPDenied):
			render.JSONWithStatus(w, webhookResponse{Success: false, Message: "IP address not allowed"}, http.StatusForbidden)
		default:
			// 5xx tells the gateway to retry; the dedup key makes the
			// retry safe
			l.Error("Failed to process webhook", "error", err)
			render.JSONWithStatus(w, webhookResponse{Success: false, Message: "Internal server error"}, http.StatusInternalServerError)
		}
	})
}

const (
	defaultFailuresLimit = 50
	maxFailuresLimit     = 500
)

type failureResponse struct {
	ID        int64     `json:"id"`
	PaymentID string    `json:"paymentId"`
	UserID    int64     `json:"userId,omitempty"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// handleListFailures serves the failed-payment audit log to operators
func handleListFailures(processor webhookProcessor, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := int32(defaultFailuresLimit)
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 32)
			if err != nil || parsed <= 0 || parsed > maxFailuresLimit {
				render.ServiceError(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = int32(parsed)
		}

		failures, err := processor.ListFailures(r.Context(), limit)
		if err != nil {
			l.Error("Failed to list payment failures", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		response := make([]failureResponse, 0, len(failures))
		for _, f := range failures {
			response = append(response, failureResponse{
				ID:        f.ID,
				PaymentID: f.PaymentID,
				UserID:    f.UserID,
				Amount:    f.Amount,
				Reason:    f.Reason,
				CreatedAt: f.CreatedAt,
			})
		}
		render.JSON(w, response)
	})
}

// sourceIP prefers the first X-Forwarded-For hop set by our own proxy,
// falling back to the peer address
func sourceIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
