package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dmarchuk/contentledger/internal/domain"
	"github.com/dmarchuk/contentledger/internal/ledger"
)

func (h *Handler) RegisterContentHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/contents"))
	defer timer.ObserveDuration()

	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/contents", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	req.Creator = strings.TrimSpace(req.Creator)
	req.ContentID = strings.TrimSpace(req.ContentID)
	if req.Creator == "" || req.ContentID == "" {
		httpRequestsTotal.WithLabelValues("POST", "/contents", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "creator and content_id are required")
		return
	}

	err := h.ledger.RegisterContent(r.Context(), req.Creator, req.ContentID, req.Price)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrDuplicateContent):
			httpRequestsTotal.WithLabelValues("POST", "/contents", "409").Inc()
			respondWithError(w, http.StatusConflict, "Content already exists")
		case errors.Is(err, ledger.ErrInvalidPrice):
			httpRequestsTotal.WithLabelValues("POST", "/contents", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Invalid price")
		default:
			h.log.Error("register content", zap.String("content_id", req.ContentID), zap.Error(err))
			httpRequestsTotal.WithLabelValues("POST", "/contents", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	rec, err := h.ledger.ContentInfo(req.ContentID)
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/contents", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/contents", "201").Inc()
	w.Header().Set("Location", fmt.Sprintf("/api/v1/contents/%s", rec.ID))
	respondWithJSON(w, http.StatusCreated, rec)
}

func (h *Handler) GetContentHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	rec, err := h.ledger.ContentInfo(vars["id"])
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/contents/{id}", "404").Inc()
		respondWithError(w, http.StatusNotFound, "Content not found")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/contents/{id}", "200").Inc()
	respondWithJSON(w, http.StatusOK, rec)
}

func (h *Handler) CheckAccessHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	access := h.ledger.CheckAccess(vars["user"], vars["id"])
	httpRequestsTotal.WithLabelValues("GET", "/contents/{id}/access/{user}", "200").Inc()
	respondWithJSON(w, http.StatusOK, domain.AccessResponse{
		User:      vars["user"],
		ContentID: vars["id"],
		Access:    access,
	})
}

func (h *Handler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/payments"))
	defer timer.ObserveDuration()

	var req domain.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/payments", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	req.Buyer = strings.TrimSpace(req.Buyer)
	req.ContentID = strings.TrimSpace(req.ContentID)
	if req.Buyer == "" || req.ContentID == "" {
		httpRequestsTotal.WithLabelValues("POST", "/payments", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "buyer and content_id are required")
		return
	}
	if req.Amount < 0 {
		httpRequestsTotal.WithLabelValues("POST", "/payments", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "Negative amount not allowed")
		return
	}

	retryAfter, allowed, err := h.limiter.AllowPayment(r.Context(), req.Buyer)
	if err != nil {
		h.log.Error("payment rate check", zap.String("buyer", req.Buyer), zap.Error(err))
		httpRequestsTotal.WithLabelValues("POST", "/payments", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !allowed {
		httpRequestsTotal.WithLabelValues("POST", "/payments", "429").Inc()
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		respondWithError(w, http.StatusTooManyRequests, "Too many payment attempts")
		return
	}

	receipt, err := h.ledger.MakePayment(r.Context(), req.Buyer, req.ContentID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrContentNotFound):
			paymentsTotal.WithLabelValues("not_found").Inc()
			httpRequestsTotal.WithLabelValues("POST", "/payments", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Content not found")
		case errors.Is(err, ledger.ErrAlreadyPurchased):
			paymentsTotal.WithLabelValues("duplicate").Inc()
			httpRequestsTotal.WithLabelValues("POST", "/payments", "409").Inc()
			respondWithError(w, http.StatusConflict, "Already purchased")
		case errors.Is(err, ledger.ErrIncorrectPayment):
			paymentsTotal.WithLabelValues("incorrect_amount").Inc()
			httpRequestsTotal.WithLabelValues("POST", "/payments", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Payment must match the registered price")
		case errors.Is(err, ledger.ErrPaymentRejected):
			paymentsTotal.WithLabelValues("rejected").Inc()
			httpRequestsTotal.WithLabelValues("POST", "/payments", "402").Inc()
			respondWithError(w, http.StatusPaymentRequired, "Payment rejected by custody")
		case errors.Is(err, ledger.ErrBalanceOverflow):
			paymentsTotal.WithLabelValues("overflow").Inc()
			httpRequestsTotal.WithLabelValues("POST", "/payments", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Balance overflow")
		default:
			paymentsTotal.WithLabelValues("error").Inc()
			h.log.Error("payment", zap.String("buyer", req.Buyer),
				zap.String("content_id", req.ContentID), zap.Error(err))
			httpRequestsTotal.WithLabelValues("POST", "/payments", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	paymentsTotal.WithLabelValues("success").Inc()
	httpRequestsTotal.WithLabelValues("POST", "/payments", "201").Inc()
	respondWithJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	balance := h.ledger.GetBalance(vars["id"])
	httpRequestsTotal.WithLabelValues("GET", "/balances/{id}", "200").Inc()
	respondWithJSON(w, http.StatusOK, domain.BalanceResponse{
		Identity: vars["id"],
		Balance:  balance,
	})
}

func (h *Handler) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/withdrawals"))
	defer timer.ObserveDuration()

	var req domain.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/withdrawals", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	req.Creator = strings.TrimSpace(req.Creator)
	if req.Creator == "" {
		httpRequestsTotal.WithLabelValues("POST", "/withdrawals", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "creator is required")
		return
	}

	receipt, err := h.ledger.WithdrawFunds(r.Context(), req.Creator)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNothingToWithdraw):
			httpRequestsTotal.WithLabelValues("POST", "/withdrawals", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Nothing to withdraw")
		case errors.Is(err, ledger.ErrTransferFailed):
			h.log.Error("withdrawal transfer", zap.String("creator", req.Creator), zap.Error(err))
			httpRequestsTotal.WithLabelValues("POST", "/withdrawals", "502").Inc()
			respondWithError(w, http.StatusBadGateway, "Transfer failed, balance restored")
		default:
			h.log.Error("withdrawal", zap.String("creator", req.Creator), zap.Error(err))
			httpRequestsTotal.WithLabelValues("POST", "/withdrawals", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/withdrawals", "201").Inc()
	respondWithJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) UpdateFeeHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.FeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("PUT", "/fee", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	if err := h.ledger.SetPlatformFee(req.Caller, req.FeePercent); err != nil {
		switch {
		case errors.Is(err, ledger.ErrUnauthorized):
			httpRequestsTotal.WithLabelValues("PUT", "/fee", "403").Inc()
			respondWithError(w, http.StatusForbidden, "Only the owner may change the fee")
		case errors.Is(err, ledger.ErrInvalidFee):
			httpRequestsTotal.WithLabelValues("PUT", "/fee", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Fee must be between 0 and 100")
		default:
			httpRequestsTotal.WithLabelValues("PUT", "/fee", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	httpRequestsTotal.WithLabelValues("PUT", "/fee", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]int{"fee_percent": h.ledger.FeePercent()})
}

// DevFundHandler credits an external account in the in-memory treasury.
// Only mounted when dev funding is enabled.
func (h *Handler) DevFundHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Amount  int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/treasury/fund", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Account == "" || req.Amount <= 0 {
		httpRequestsTotal.WithLabelValues("POST", "/treasury/fund", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "account and positive amount are required")
		return
	}

	h.devCustody.Fund(req.Account, req.Amount)
	httpRequestsTotal.WithLabelValues("POST", "/treasury/fund", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]int64{"balance": h.devCustody.Balance(req.Account)})
}

func (h *Handler) GetFeeHandler(w http.ResponseWriter, r *http.Request) {
	httpRequestsTotal.WithLabelValues("GET", "/fee", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"fee_percent": h.ledger.FeePercent(),
		"owner":       h.ledger.Owner(),
	})
}
