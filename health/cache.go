package health

import (
	"context"
	"sync"

	"bridgesentinel/types"
)

// ReportCache stores the last successful report per bridge.
type ReportCache interface {
	Get(ctx context.Context, id types.BridgeID) (types.BridgeHealthReport, bool, error)
	Put(ctx context.Context, report types.BridgeHealthReport) error
}

type MemoryCache struct {
	mu      sync.RWMutex
	reports map[types.BridgeID]types.BridgeHealthReport
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{reports: make(map[types.BridgeID]types.BridgeHealthReport)}
}

func (c *MemoryCache) Get(_ context.Context, id types.BridgeID) (types.BridgeHealthReport, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.reports[id]
	if !ok {
		return types.BridgeHealthReport{}, false, nil
	}
	return r.Copy(), true, nil
}

func (c *MemoryCache) Put(_ context.Context, report types.BridgeHealthReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[report.BridgeID] = report.Copy()
	return nil
}
