package handlers

import (
	"fmt"
	"net/http"

	"bridgesentinel/types"

	"github.com/go-chi/chi"
)

func (a *API) bridgeList(ids []types.BridgeID) []BridgeResponse {
	out := make([]BridgeResponse, 0, len(ids))
	for _, id := range ids {
		cfg, err := a.Registry.GetBridge(id)
		if err != nil {
			continue
		}
		out = append(out, bridgeResponse(cfg))
	}
	return out
}

func (a *API) ActiveBridges(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, a.bridgeList(a.Registry.GetActiveBridges()), http.StatusOK)
}

func (a *API) BridgesByType(w http.ResponseWriter, r *http.Request) {
	t, ok := types.ParseBridgeType(chi.URLParam(r, "type"))
	if !ok {
		responseError(w, fmt.Errorf("%w: unknown bridge type %q", types.ErrValidation, chi.URLParam(r, "type")), "type")
		return
	}
	responseJSON(w, a.bridgeList(a.Registry.GetBridgesByType(t)), http.StatusOK)
}

func (a *API) Bridge(w http.ResponseWriter, r *http.Request) {
	id := bridgeID(r)
	cfg, err := a.Registry.GetBridge(id)
	if err != nil {
		responseError(w, err, "id")
		return
	}
	res := bridgeResponse(cfg)
	if cfg.IsUpgradeable {
		history, err := a.Registry.GetImplementationHistory(id)
		if err != nil {
			responseError(w, err, "id")
			return
		}
		for _, impl := range history {
			res.ImplementationHistory = append(res.ImplementationHistory, impl.Hex())
		}
	}
	responseJSON(w, res, http.StatusOK)
}

func (a *API) GlobalConfig(w http.ResponseWriter, r *http.Request) {
	g := a.Registry.GetGlobalConfig()
	responseJSON(w, &GlobalConfigResponse{
		DefaultMinTvlUsd:        formatAmount(g.DefaultMinTvlUsd),
		DefaultMaxInactivity:    g.DefaultMaxInactivity.String(),
		CircuitBreakerThreshold: g.CircuitBreakerThreshold,
		HealthCheckCooldown:     g.HealthCheckCooldown.String(),
	}, http.StatusOK)
}
