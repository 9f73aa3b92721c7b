package handlers

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"weather-options/pkg/logging"
)

// GetPositions handles GET /api/positions
func (h *OptionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/positions"
	defer h.observe(endpoint)()

	views, err := h.settlement.List(r.Context())
	if err != nil {
		h.sendServiceError(w, r, endpoint, "failed to discover positions", err, http.StatusBadGateway)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, map[string]interface{}{
		"data":  views,
		"total": len(views),
	}, http.StatusOK)
}

// GetPosition handles GET /api/positions/{id}
func (h *OptionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/positions/{id}"
	defer h.observe(endpoint)()

	id, ok := h.tokenID(w, r)
	if !ok {
		return
	}

	view, err := h.settlement.View(r.Context(), id)
	if err != nil {
		h.sendServiceError(w, r, endpoint, "failed to read position", err, http.StatusBadGateway)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, view, http.StatusOK)
}

// GetPositionSnapshots handles GET /api/positions/snapshots
func (h *OptionHandler) GetPositionSnapshots(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/positions/snapshots"
	defer h.observe(endpoint)()
	ctx := r.Context()

	if h.journal == nil {
		h.sendError(w, r, "journal is disabled", http.StatusServiceUnavailable)
		return
	}

	owner := r.URL.Query().Get("owner")
	if !common.IsHexAddress(owner) {
		h.sendError(w, r, "owner must be a hex address", http.StatusBadRequest)
		return
	}

	page, limit := pagination(r)
	snaps, err := h.journal.ListPositions(ctx, common.HexToAddress(owner).Hex(), limit, (page-1)*limit)
	if err != nil {
		h.logger.Error(ctx, "[API_SNAPSHOTS_ERROR] Failed to list position snapshots", logging.Fields{
			"owner": owner,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, "failed to retrieve position snapshots", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, map[string]interface{}{
		"data":  snaps,
		"page":  page,
		"limit": limit,
	}, http.StatusOK)
}

// RequestSettlement handles POST /api/positions/{id}/settlement
func (h *OptionHandler) RequestSettlement(w http.ResponseWriter, r *http.Request) {
	h.positionAction(w, r, "/api/positions/{id}/settlement", "failed to request settlement", h.settlement.RequestSettlement)
}

// FinalizeSettlement handles POST /api/positions/{id}/settlement/finalize
func (h *OptionHandler) FinalizeSettlement(w http.ResponseWriter, r *http.Request) {
	h.positionAction(w, r, "/api/positions/{id}/settlement/finalize", "failed to finalize settlement", h.settlement.FinalizeSettlement)
}

// ClaimPayout handles POST /api/positions/{id}/claim
func (h *OptionHandler) ClaimPayout(w http.ResponseWriter, r *http.Request) {
	h.positionAction(w, r, "/api/positions/{id}/claim", "failed to claim payout", h.settlement.ClaimPayout)
}

type positionSend func(ctx context.Context, tokenID *big.Int) (common.Hash, error)

func (h *OptionHandler) positionAction(w http.ResponseWriter, r *http.Request, endpoint, message string, send positionSend) {
	defer h.observe(endpoint)()

	id, ok := h.tokenID(w, r)
	if !ok {
		return
	}

	hash, err := send(r.Context(), id)
	if err != nil {
		h.sendServiceError(w, r, endpoint, message, err, http.StatusBadGateway)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "POST", "202")
	h.sendJSON(w, TxResponse{TxHash: hash.Hex()}, http.StatusAccepted)
}

func (h *OptionHandler) tokenID(w http.ResponseWriter, r *http.Request) (*big.Int, bool) {
	raw := mux.Vars(r)["id"]
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 {
		h.sendError(w, r, "invalid token id "+raw, http.StatusBadRequest)
		return nil, false
	}
	return id, true
}
