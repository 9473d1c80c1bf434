package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"bridgesentinel/registry"
	"bridgesentinel/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, types.ErrProbeFailure):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrCircuitOpen), errors.Is(err, types.ErrServicePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func responseError(w http.ResponseWriter, err error, field string) {
	responseJSON(w, &APIResponse{
		Status:  "error",
		Message: err.Error(),
		Field:   field,
	}, errorCode(err))
}

// bridgeID accepts either the 32 byte id in hex or the bridge name.
func bridgeID(r *http.Request) types.BridgeID {
	raw := chi.URLParam(r, "id")
	if strings.HasPrefix(raw, "0x") && len(raw) == 2+2*common.HashLength {
		return common.HexToHash(raw)
	}
	return registry.ComputeID(raw)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", types.ErrValidation, name)
	}
	return v, nil
}

func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", types.ErrValidation, name)
	}
	return v, nil
}

// queryUSD reads whole dollars.
func queryUSD(r *http.Request, name string) (*big.Int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return new(big.Int), nil
	}
	dollars, ok := new(big.Int).SetString(raw, 10)
	if !ok || dollars.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a whole dollar amount", types.ErrValidation, name)
	}
	return dollars.Mul(dollars, types.USD), nil
}
