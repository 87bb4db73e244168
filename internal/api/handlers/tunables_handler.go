package handlers

import (
	"encoding/json"
	"net/http"

	"spotarb/internal/config"
)

// TunablesHandler exposes the small set of runtime-adjustable knobs
// described by spec §5: min_profit_threshold and trade_amount_usd.
// Both live behind config.TunableParams' RWMutex, so reads never block
// on the detection engine's hot path.
type TunablesHandler struct {
	tunables *config.TunableParams
}

// NewTunablesHandler builds a TunablesHandler over the shared tunables.
func NewTunablesHandler(tunables *config.TunableParams) *TunablesHandler {
	return &TunablesHandler{tunables: tunables}
}

// TunablesResponse is the wire shape of the current tunable values.
type TunablesResponse struct {
	MinProfitThreshold float64 `json:"min_profit_threshold"`
	TradeAmountUSD     float64 `json:"trade_amount_usd"`
}

// GetTunables returns the current tunable values.
//
// GET /v1/tunables
func (h *TunablesHandler) GetTunables(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.tunables == nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "tunables not initialized"})
		return
	}

	minProfit, tradeAmount := h.tunables.Snapshot()
	json.NewEncoder(w).Encode(TunablesResponse{
		MinProfitThreshold: minProfit,
		TradeAmountUSD:     tradeAmount,
	})
}

// UpdateTunablesRequest is the body of a PATCH /v1/tunables call. Both
// fields are optional; only the ones provided are updated.
type UpdateTunablesRequest struct {
	MinProfitThreshold *float64 `json:"min_profit_threshold,omitempty"`
	TradeAmountUSD     *float64 `json:"trade_amount_usd,omitempty"`
}

// UpdateTunables applies a partial update to the tunables, rejecting
// any field that fails config.TunableParams' own validation (must be
// positive) with 400 rather than silently ignoring it.
//
// PATCH /v1/tunables
func (h *TunablesHandler) UpdateTunables(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.tunables == nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "tunables not initialized"})
		return
	}

	var req UpdateTunablesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	if req.MinProfitThreshold != nil {
		if !h.tunables.SetMinProfitThreshold(*req.MinProfitThreshold) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "min_profit_threshold must be > 0"})
			return
		}
	}
	if req.TradeAmountUSD != nil {
		if !h.tunables.SetTradeAmountUSD(*req.TradeAmountUSD) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "trade_amount_usd must be > 0"})
			return
		}
	}

	minProfit, tradeAmount := h.tunables.Snapshot()
	json.NewEncoder(w).Encode(TunablesResponse{
		MinProfitThreshold: minProfit,
		TradeAmountUSD:     tradeAmount,
	})
}
