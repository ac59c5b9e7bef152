package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/billgate/billgate/domain/billing"
)

// HandleBillingWebhook receives provider webhook deliveries. The
// signature is verified over the raw body before anything is parsed;
// an unsigned or mis-signed delivery learns nothing but "401".
func (h *Handler) HandleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	signature := r.Header.Get("X-Signature")
	if err := h.provider.VerifyWebhook(body, signature); err != nil {
		h.logger.Warn().
			Str("remote", r.RemoteAddr).
			Msg("webhook signature verification failed")
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	res, err := h.webhooks.Process(r.Context(), body)
	if errors.Is(err, billing.ErrBadPayload) {
		respondError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if err != nil {
		// Non-2xx makes the provider redeliver; the ledger insert rolled
		// back with the rest of the transaction, so the retry can apply.
		respondError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	resp := map[string]any{"received": true}
	if res.Duplicate {
		resp["duplicate"] = true
	}
	respondJSON(w, http.StatusOK, resp)
}
