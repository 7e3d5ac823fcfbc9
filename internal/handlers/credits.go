package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ayilmaz/creditd/internal/apperrors"
	"github.com/ayilmaz/creditd/internal/handlers/render"
	"github.com/ayilmaz/creditd/internal/logger"
	"github.com/ayilmaz/creditd/internal/models"
)

type balanceResponse struct {
	UserID  int64 `json:"userId"`
	Current int64 `json:"current"`
}

type transactionResponse struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balanceBefore"`
	BalanceAfter  int64     `json:"balanceAfter"`
	Description   string    `json:"description"`
	PaymentID     string    `json:"paymentId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toTransactionResponse(t models.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		Kind:          t.Kind,
		Amount:        t.Amount,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		Description:   t.Description,
		PaymentID:     t.PaymentID,
		CreatedAt:     t.CreatedAt,
	}
}

// userIDFromPath parses the {userID} path segment.
// Writes the error response itself, mirroring render.BindAndValidate.
func userIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil || userID <= 0 {
		render.ServiceError(w, "Invalid user id", http.StatusBadRequest)
		return 0, false
	}

	return userID, true
}

func handleGetBalance(creditService creditService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromPath(w, r)
		if !ok {
			return
		}

		balance, err := creditService.GetBalance(r.Context(), userID)

		switch {
		case err == nil:
			render.JSON(w, balanceResponse{UserID: balance.UserID, Current: balance.Current})
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User has no balance", http.StatusNotFound)
		default:
			l.Error("Failed to get balance", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListTransactions(creditService creditService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromPath(w, r)
		if !ok {
			return
		}

		var kinds []string
		if query := r.URL.Query()["kind"]; len(query) > 0 {
			kinds = query
		}

		transactions, err := creditService.ListTransactions(r.Context(), userID, kinds)
		if err != nil {
			l.Error("Failed to list transactions", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		response := make([]transactionResponse, 0, len(transactions))
		for _, t := range transactions {
			response = append(response, toTransactionResponse(t))
		}
		render.JSON(w, response)
	})
}

func handleSpend(creditService creditService, l logger.Logger) http.Handler {
	type request struct {
		Amount      int64  `json:"amount" validate:"required,gt=0"`
		Description string `json:"description" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromPath(w, r)
		if !ok {
			return
		}

		spend, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		t, err := creditService.Spend(r.Context(), userID, spend.Amount, spend.Description)

		switch {
		case err == nil:
			render.JSON(w, toTransactionResponse(t))
		case errors.Is(err, apperrors.ErrBalanceInsufficient):
			render.ServiceError(w, "Insufficient balance", http.StatusPaymentRequired)
		default:
			l.Error("Failed to spend credits", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleGrant(creditService creditService, l logger.Logger) http.Handler {
	type request struct {
		Amount      int64  `json:"amount" validate:"required,gt=0"`
		Description string `json:"description" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromPath(w, r)
		if !ok {
			return
		}

		grant, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		t, err := creditService.Grant(r.Context(), userID, grant.Amount, grant.Description)
		if err != nil {
			l.Error("Failed to grant credits", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, toTransactionResponse(t))
	})
}

func handleRecomputeBalance(creditService creditService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromPath(w, r)
		if !ok {
			return
		}

		balance, err := creditService.RecomputeBalance(r.Context(), userID)

		switch {
		case err == nil:
			render.JSON(w, balanceResponse{UserID: balance.UserID, Current: balance.Current})
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User has no balance", http.StatusNotFound)
		default:
			l.Error("Failed to recompute balance", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
