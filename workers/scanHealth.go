package workers

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"bridgesentinel/health"
	"bridgesentinel/types"
)

// WorkerShutdown is set once the HTTP service stops; loops exit on their
// next iteration.
var WorkerShutdown atomic.Bool

// ActiveSet lists the bridges a scan covers.
type ActiveSet interface {
	GetActiveBridges() []types.BridgeID
}

func Worker_scanHealth(checker *health.Checker, bridges ActiveSet, interval time.Duration) {
	for !WorkerShutdown.Load() {
		time.Sleep(interval)

		ScanHealth(context.Background(), checker, bridges)
	}
}

// ScanHealth checks every active bridge once and returns how many checks
// succeeded and failed. Bridges with an open breaker count as failed but
// are not logged each round.
func ScanHealth(ctx context.Context, checker *health.Checker, bridges ActiveSet) (checked, failed int) {
	ids := bridges.GetActiveBridges()
	if len(ids) == 0 {
		return 0, 0
	}

	for _, res := range checker.BatchCheckHealth(ctx, ids) {
		if res.Err == nil {
			checked++
			continue
		}
		failed++
		if errors.Is(res.Err, types.ErrCircuitOpen) {
			continue
		}
		log.Printf("Error checking bridge %s: %s", res.ID.Hex(), res.Err.Error())
	}

	log.Printf("Health scan done: %d checked, %d failed", checked, failed)
	return checked, failed
}
