package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/billgate/billgate/app"
	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/ports"
)

type workRequest struct {
	AccountID string `json:"account_id"`
	Mode      string `json:"mode"`
	Input     string `json:"input"`
}

// HandleWork runs one unit of paid work for an account. Quota and
// budget rejections are 402/429 with an actionable message; everything
// else internal is a generic 500.
func (h *Handler) HandleWork(w http.ResponseWriter, r *http.Request) {
	var req workRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		respondError(w, http.StatusBadRequest, "account_id and input are required")
		return
	}

	res, err := h.work.Do(r.Context(), ports.WorkRequest{
		AccountID: req.AccountID,
		Mode:      req.Mode,
		Input:     req.Input,
	})

	var quotaErr *app.QuotaExceededError
	var budgetErr *app.BudgetExceededError
	switch {
	case errors.As(err, &quotaErr):
		respondJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":   quotaErr.Error(),
			"reason":  quotaErr.Result.Reason,
			"used":    quotaErr.Result.Used,
			"limit":   quotaErr.Result.Limit,
			"tier":    quotaErr.Result.Tier,
			"upgrade": true,
		})
		return
	case errors.As(err, &budgetErr):
		respondJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":  budgetErr.Error(),
			"reason": budgetErr.Decision.Reason,
		})
		return
	case err != nil:
		h.logger.Error().Err(err).Str("account_id", req.AccountID).Msg("work failed")
		respondError(w, http.StatusInternalServerError, "something went wrong, please retry")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"output": res.Output,
		"tokens": res.Tokens,
	})
}

type checkoutRequest struct {
	AccountID string `json:"account_id"`
	Tier      string `json:"tier"`
}

// HandleCheckout returns a provider-hosted checkout URL for a plan.
func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		respondError(w, http.StatusBadRequest, "account_id and tier are required")
		return
	}

	url, err := h.checkout.CheckoutURL(r.Context(), req.AccountID, billing.Tier(req.Tier))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// HandlePortal returns the provider's subscription management URL.
func (h *Handler) HandlePortal(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	url, err := h.checkout.PortalURL(r.Context(), accountID)
	if errors.Is(err, ports.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no active subscription")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "portal unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}
