package handlers

import (
	"net/http"

	"bridgesentinel/types"
)

// Report serves the cached report, never probing.
func (a *API) Report(w http.ResponseWriter, r *http.Request) {
	id := bridgeID(r)
	if _, err := a.Registry.GetBridge(id); err != nil {
		responseError(w, err, "id")
		return
	}
	report, ok := a.Checker.GetReport(id)
	if !ok {
		report = types.BridgeHealthReport{BridgeID: id, Status: types.StatusUnknown}
	}
	res := healthResponse(report)
	if b, ok := a.Checker.Assessment(id); ok {
		res.Assessment = &b
	}
	responseJSON(w, res, http.StatusOK)
}

func (a *API) Safe(w http.ResponseWriter, r *http.Request) {
	id := bridgeID(r)
	if _, err := a.Registry.GetBridge(id); err != nil {
		responseError(w, err, "id")
		return
	}
	minScore, err := queryInt(r, "min", 0)
	if err != nil {
		responseError(w, err, "min")
		return
	}
	safe, reason := a.Checker.IsBridgeSafe(id, minScore)
	responseJSON(w, &SafeResponse{
		BridgeID: id.Hex(),
		Safe:     safe,
		Reason:   reason,
		MinScore: minScore,
	}, http.StatusOK)
}

func (a *API) Operational(w http.ResponseWriter, r *http.Request) {
	minTvl, err := queryUSD(r, "minTvl")
	if err != nil {
		responseError(w, err, "minTvl")
		return
	}
	minScore, err := queryInt(r, "minScore", 0)
	if err != nil {
		responseError(w, err, "minScore")
		return
	}
	responseJSON(w, a.bridgeList(a.Checker.GetOperationalBridges(minTvl, minScore)), http.StatusOK)
}

func (a *API) Breaker(w http.ResponseWriter, r *http.Request) {
	id := bridgeID(r)
	if _, err := a.Registry.GetBridge(id); err != nil {
		responseError(w, err, "id")
		return
	}
	st := a.Checker.GetCircuitBreakerState(id)
	responseJSON(w, &BreakerResponse{
		BridgeID:            id.Hex(),
		ConsecutiveFailures: st.ConsecutiveFailures,
		IsOpen:              st.IsOpen,
	}, http.StatusOK)
}
