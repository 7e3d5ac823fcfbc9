package handlers

import (
	"errors"
	"net/http"

	"github.com/ayilmaz/creditd/internal/handlers/render"
	"github.com/ayilmaz/creditd/internal/logger"
	"github.com/ayilmaz/creditd/internal/service/gateway"
)

func handleCheckout(client checkoutClient, l logger.Logger) http.Handler {
	type request struct {
		UserID      int64  `json:"userId" validate:"required,gt=0"`
		Amount      int64  `json:"amount" validate:"required,gt=0"`
		Currency    string `json:"currency" validate:"omitempty,oneof=TRY USD EUR"`
		Description string `json:"description" validate:"required"`
		PackageID   string `json:"packageId" validate:"required"`
		CallbackURL string `json:"callbackUrl" validate:"omitempty,url"`
	}

	type response struct {
		PaymentID   string `json:"paymentId"`
		Token       string `json:"token,omitempty"`
		CheckoutURL string `json:"checkoutUrl"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		currency := req.Currency
		if currency == "" {
			currency = "TRY"
		}

		checkout, err := client.InitiateCheckout(r.Context(), gateway.CheckoutRequest{
			UserID:      req.UserID,
			Amount:      req.Amount,
			Currency:    currency,
			Description: req.Description,
			PackageID:   req.PackageID,
			CallbackURL: req.CallbackURL,
		})

		var gwErr *gateway.GatewayError
		switch {
		case err == nil:
			render.JSON(w, response{
				PaymentID:   checkout.PaymentID,
				Token:       checkout.Token,
				CheckoutURL: checkout.CheckoutURL,
			})
		case errors.As(err, &gwErr) && gwErr.Code == gateway.CodeRejected:
			render.ServiceError(w, "Payment initialization rejected", http.StatusBadRequest)
		default:
			l.Error("Failed to initiate checkout", "error", err)
			render.ServiceError(w, "Payment gateway unavailable", http.StatusBadGateway)
		}
	})
}
