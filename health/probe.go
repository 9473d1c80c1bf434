package health

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Probe queries a live bridge endpoint. All calls are read-only and must
// honour ctx.
type Probe interface {
	IsPaused(ctx context.Context, endpoint common.Address) (bool, error)
	// TVLUsd returns the locked value in 18-decimal USD.
	TVLUsd(ctx context.Context, endpoint common.Address) (*big.Int, error)
	// CurrentImplementation returns ok=false when the endpoint exposes no
	// implementation.
	CurrentImplementation(ctx context.Context, endpoint common.Address) (impl common.Address, ok bool, err error)
	CodeFingerprint(ctx context.Context, addr common.Address) (common.Hash, error)
}

// ActivityProbe is implemented by probes that can tell when the bridge
// last moved funds. Without it a bridge is never reported Inactive.
type ActivityProbe interface {
	LastActivity(ctx context.Context, endpoint common.Address) (time.Time, error)
}
