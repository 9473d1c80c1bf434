package handlers

import (
	"net/http"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, &APIResponse{
		Status: "ok",
	}, http.StatusOK)
}

// State summarises the service for dashboards.
func (a *API) State(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if a.Access.Paused() {
		status = "paused"
	}
	responseJSON(w, &APIStateResponse{
		Status:        status,
		Paused:        a.Access.Paused(),
		Bridges:       a.Registry.BridgeCount(),
		ActiveBridges: len(a.Registry.GetActiveBridges()),
		Events:        a.Monitor.TotalEventCount(),
		LastSequence:  a.Monitor.LastSequence(),
	}, http.StatusOK)
}
