package handlers

import (
	"fmt"
	"net/http"

	"bridgesentinel/types"
)

func (a *API) Events(w http.ResponseWriter, r *http.Request) {
	id := bridgeID(r)
	from, err := queryUint(r, "from", 0)
	if err != nil {
		responseError(w, err, "from")
		return
	}
	to, err := queryUint(r, "to", ^uint64(0))
	if err != nil {
		responseError(w, err, "to")
		return
	}
	events, err := a.Monitor.GetSecurityEvents(r.Context(), id, from, to)
	if err != nil {
		responseError(w, err, "id")
		return
	}
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse(ev))
	}
	responseJSON(w, out, http.StatusOK)
}

func (a *API) Quarantine(w http.ResponseWriter, r *http.Request) {
	id := bridgeID(r)
	if _, err := a.Registry.GetBridge(id); err != nil {
		responseError(w, err, "id")
		return
	}
	res := QuarantineResponse{BridgeID: id.Hex()}
	if rec, ok := a.Monitor.GetQuarantineRecord(id); ok {
		res.Quarantined = rec.Active
		res.QuarantinedAt = formatTime(rec.QuarantinedAt)
		res.QuarantinedBy = rec.QuarantinedBy
		res.Reason = rec.Reason
		res.RequiresMultiPartyRelease = rec.RequiresMultiPartyRelease
		res.ReleaseApprovals = rec.ReleaseApprovals
		res.ReleasedAt = formatTime(rec.ReleasedAt)
		res.ReleasedBy = rec.ReleasedBy
	}
	responseJSON(w, res, http.StatusOK)
}

func (a *API) Notifications(w http.ResponseWriter, r *http.Request) {
	if a.Recorder == nil {
		responseError(w, fmt.Errorf("%w: notification buffer disabled", types.ErrNotFound), "")
		return
	}
	responseJSON(w, a.Recorder.All(), http.StatusOK)
}
