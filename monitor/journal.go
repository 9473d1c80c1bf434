package monitor

import (
	"context"
	"sync"

	"bridgesentinel/types"
)

// Journal is the append-only store of security events. Append must be
// durable once it returns nil.
type Journal interface {
	Append(ctx context.Context, ev types.SecurityEvent) error
	// Range returns events of a bridge whose sequence number lies within
	// [fromSeq, toSeq], in recording order.
	Range(ctx context.Context, id types.BridgeID, fromSeq, toSeq uint64) ([]types.SecurityEvent, error)
	Count(ctx context.Context, id types.BridgeID) (int, error)
}

type MemoryJournal struct {
	mu     sync.RWMutex
	events map[types.BridgeID][]types.SecurityEvent
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{events: make(map[types.BridgeID][]types.SecurityEvent)}
}

func (j *MemoryJournal) Append(_ context.Context, ev types.SecurityEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events[ev.BridgeID] = append(j.events[ev.BridgeID], ev)
	return nil
}

func (j *MemoryJournal) Range(_ context.Context, id types.BridgeID, fromSeq, toSeq uint64) ([]types.SecurityEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return FilterRange(j.events[id], fromSeq, toSeq), nil
}

func (j *MemoryJournal) Count(_ context.Context, id types.BridgeID) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.events[id]), nil
}

// FilterRange keeps events with fromSeq <= SequenceNumber <= toSeq.
func FilterRange(events []types.SecurityEvent, fromSeq, toSeq uint64) []types.SecurityEvent {
	out := make([]types.SecurityEvent, 0)
	for _, ev := range events {
		if ev.SequenceNumber >= fromSeq && ev.SequenceNumber <= toSeq {
			out = append(out, ev)
		}
	}
	return out
}
