package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"weather-options/internal/models"
	"weather-options/internal/services"
)

// VaultRequest is the body of POST /api/vault/{action}
type VaultRequest struct {
	Amount string `json:"amount"`
}

// VaultResponse combines fresh reads with the in-flight action status
type VaultResponse struct {
	Metrics  *models.VaultMetrics      `json:"metrics"`
	Position *models.LiquidityPosition `json:"position,omitempty"`
	Status   services.VaultStatus      `json:"status"`
}

// GetVault handles GET /api/vault
func (h *OptionHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/vault"
	defer h.observe(endpoint)()
	ctx := r.Context()

	m, err := h.vault.Metrics(ctx)
	if err != nil {
		h.sendServiceError(w, r, endpoint, "failed to read vault metrics", err, http.StatusBadGateway)
		return
	}

	resp := VaultResponse{Metrics: m}
	pos, err := h.vault.Position(ctx)
	switch {
	case errors.Is(err, models.ErrNotConnected):
		// metrics stay readable without a signer
	case err != nil:
		h.sendServiceError(w, r, endpoint, "failed to read liquidity position", err, http.StatusBadGateway)
		return
	default:
		resp.Position = pos
	}
	resp.Status = h.vault.Status()

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, resp, http.StatusOK)
}

// VaultAction handles POST /api/vault/{action}
func (h *OptionHandler) VaultAction(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/vault/{action}"
	defer h.observe(endpoint)()

	var send func(ctx context.Context, amount string) (common.Hash, error)
	switch mux.Vars(r)["action"] {
	case "wrap":
		send = h.vault.Wrap
	case "approve":
		send = h.vault.Approve
	case "deposit":
		send = h.vault.Deposit
	case "withdraw":
		send = h.vault.Withdraw
	default:
		h.sendError(w, r, "unknown vault action, expected wrap, approve, deposit or withdraw", http.StatusNotFound)
		return
	}

	var req VaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.RecordAPIError("bad_request", endpoint)
		h.sendError(w, r, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}

	hash, err := send(r.Context(), req.Amount)
	if err != nil {
		h.sendServiceError(w, r, endpoint, "vault action failed", err, http.StatusBadGateway)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "POST", "202")
	h.sendJSON(w, TxResponse{TxHash: hash.Hex()}, http.StatusAccepted)
}
