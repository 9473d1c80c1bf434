package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"bridgesentinel/access"
	"bridgesentinel/locker"
	"bridgesentinel/notify"
	"bridgesentinel/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// multiPartyApprovals is how many distinct release holders must approve a
// release flagged as multi-party.
const multiPartyApprovals = 2

// BridgeReader is the read-only view of the registry the monitor needs.
type BridgeReader interface {
	GetBridge(id types.BridgeID) (types.BridgeConfig, error)
	IsImplementationWhitelisted(id types.BridgeID, impl common.Address) (bool, error)
}

type Deps struct {
	Access   *access.Control
	Locks    *locker.Keyed
	Notifier notify.Notifier
	Journal  Journal
	Now      func() time.Time
}

type bridgeState struct {
	paused       bool
	quarantine   *types.QuarantineRecord
	observedImpl common.Address
}

// Monitor journals security events per bridge and owns the quarantine flag.
type Monitor struct {
	mu     sync.RWMutex
	state  map[types.BridgeID]*bridgeState
	seq    uint64
	events int

	registry BridgeReader
	access   *access.Control
	locks    *locker.Keyed
	notifier notify.Notifier
	journal  Journal
	now      func() time.Time
}

func New(registry BridgeReader, deps Deps) (*Monitor, error) {
	if registry == nil || deps.Access == nil {
		return nil, fmt.Errorf("%w: registry and access control are required", types.ErrValidation)
	}
	if deps.Locks == nil {
		deps.Locks = locker.New()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}
	if deps.Journal == nil {
		deps.Journal = NewMemoryJournal()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Monitor{
		state:    make(map[types.BridgeID]*bridgeState),
		registry: registry,
		access:   deps.Access,
		locks:    deps.Locks,
		notifier: deps.Notifier,
		journal:  deps.Journal,
		now:      deps.Now,
	}, nil
}

// snapshot returns a copy of the bridge state, zero value when nothing was
// recorded yet.
func (m *Monitor) snapshot(id types.BridgeID) bridgeState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.state[id]
	if !ok {
		return bridgeState{}
	}
	out := *st
	if st.quarantine != nil {
		q := st.quarantine.Copy()
		out.quarantine = &q
	}
	return out
}

// record appends the event to the journal and, only when that succeeded,
// applies the state change. Callers hold the per-id lock.
func (m *Monitor) record(ctx context.Context, ev types.SecurityEvent, apply func(st *bridgeState)) (types.SecurityEvent, error) {
	m.mu.Lock()
	m.seq++
	ev.SequenceNumber = m.seq
	m.mu.Unlock()

	ev.ID = uuid.New().String()
	ev.Timestamp = m.now().UTC()

	if err := m.journal.Append(ctx, ev); err != nil {
		return ev, fmt.Errorf("journal append for %s: %w", ev.BridgeID.Hex(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[ev.BridgeID]
	if !ok {
		st = &bridgeState{}
		m.state[ev.BridgeID] = st
	}
	apply(st)
	m.events++
	return ev, nil
}

func (m *Monitor) RecordPauseEvent(ctx context.Context, caller access.Caller, id types.BridgeID) error {
	return m.recordPause(ctx, caller, id, true)
}

func (m *Monitor) RecordUnpauseEvent(ctx context.Context, caller access.Caller, id types.BridgeID) error {
	return m.recordPause(ctx, caller, id, false)
}

func (m *Monitor) recordPause(ctx context.Context, caller access.Caller, id types.BridgeID, paused bool) error {
	if err := m.access.RequireActive(caller, access.RoleMonitor); err != nil {
		return err
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	cfg, err := m.registry.GetBridge(id)
	if err != nil {
		return err
	}
	if m.snapshot(id).paused == paused {
		return fmt.Errorf("%w: bridge %s paused=%t already recorded", types.ErrInvalidState, id.Hex(), paused)
	}

	eventType, kind := types.EventPaused, notify.BridgePaused
	if !paused {
		eventType, kind = types.EventUnpaused, notify.BridgeUnpaused
	}
	ev, err := m.record(ctx, types.SecurityEvent{
		BridgeID:         id,
		EventType:        eventType,
		AffectedEndpoint: cfg.Endpoint,
		OldValue:         strconv.FormatBool(!paused),
		NewValue:         strconv.FormatBool(paused),
	}, func(st *bridgeState) { st.paused = paused })
	if err != nil {
		return err
	}

	m.notifier.Notify(notify.New(kind, id, "seq", strconv.FormatUint(ev.SequenceNumber, 10), "by", caller.ID))
	return nil
}

// RecordUpgradeEvent records an observed implementation change. Upgrades
// are facts: an unwhitelisted implementation raises an anomaly but is
// still recorded.
func (m *Monitor) RecordUpgradeEvent(ctx context.Context, caller access.Caller, id types.BridgeID, newImpl common.Address) error {
	if err := m.access.RequireActive(caller, access.RoleMonitor); err != nil {
		return err
	}
	if newImpl == (common.Address{}) {
		return fmt.Errorf("%w: empty implementation", types.ErrValidation)
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	cfg, err := m.registry.GetBridge(id)
	if err != nil {
		return err
	}
	if !cfg.IsUpgradeable {
		return fmt.Errorf("%w: bridge %s is not upgradeable", types.ErrValidation, id.Hex())
	}

	oldImpl := m.snapshot(id).observedImpl
	if oldImpl == (common.Address{}) {
		oldImpl = cfg.CurrentImplementation
	}
	if oldImpl == newImpl {
		return fmt.Errorf("%w: bridge %s already runs %s", types.ErrInvalidState, id.Hex(), newImpl.Hex())
	}

	whitelisted, err := m.registry.IsImplementationWhitelisted(id, newImpl)
	if err != nil {
		return err
	}

	ev, err := m.record(ctx, types.SecurityEvent{
		BridgeID:         id,
		EventType:        types.EventUpgraded,
		AffectedEndpoint: cfg.Endpoint,
		OldValue:         oldImpl.Hex(),
		NewValue:         newImpl.Hex(),
	}, func(st *bridgeState) { st.observedImpl = newImpl })
	if err != nil {
		return err
	}

	m.notifier.Notify(notify.New(notify.BridgeUpgraded, id,
		"old", oldImpl.Hex(), "new", newImpl.Hex(),
		"seq", strconv.FormatUint(ev.SequenceNumber, 10), "by", caller.ID))
	if !whitelisted {
		m.notifier.Notify(notify.New(notify.AnomalyDetected, id,
			"reason", "upgrade to unwhitelisted implementation",
			"implementation", newImpl.Hex()))
	}
	return nil
}

func (m *Monitor) QuarantineBridge(ctx context.Context, caller access.Caller, id types.BridgeID, reason string, requiresMultiPartyRelease bool) error {
	if err := m.access.RequireActive(caller, access.RoleQuarantine); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: quarantine reason is required", types.ErrValidation)
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	cfg, err := m.registry.GetBridge(id)
	if err != nil {
		return err
	}
	if q := m.snapshot(id).quarantine; q != nil && q.Active {
		return fmt.Errorf("%w: bridge %s is already quarantined", types.ErrInvalidState, id.Hex())
	}

	ev, err := m.record(ctx, types.SecurityEvent{
		BridgeID:         id,
		EventType:        types.EventQuarantined,
		AffectedEndpoint: cfg.Endpoint,
		NewValue:         reason,
	}, func(st *bridgeState) {
		st.quarantine = &types.QuarantineRecord{
			Active:                    true,
			QuarantinedAt:             m.now().UTC(),
			QuarantinedBy:             caller.ID,
			Reason:                    reason,
			RequiresMultiPartyRelease: requiresMultiPartyRelease,
		}
	})
	if err != nil {
		return err
	}

	m.notifier.Notify(notify.New(notify.BridgeQuarantined, id,
		"reason", reason,
		"multi_party", strconv.FormatBool(requiresMultiPartyRelease),
		"seq", strconv.FormatUint(ev.SequenceNumber, 10),
		"by", caller.ID))
	return nil
}

// ReleaseBridge lifts a quarantine. For multi-party records every call but
// the last approval returns ErrReleasePending.
func (m *Monitor) ReleaseBridge(ctx context.Context, caller access.Caller, id types.BridgeID) error {
	if err := m.access.RequireActive(caller, access.RoleRelease); err != nil {
		return err
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	cfg, err := m.registry.GetBridge(id)
	if err != nil {
		return err
	}
	q := m.snapshot(id).quarantine
	if q == nil || !q.Active {
		return fmt.Errorf("%w: bridge %s is not quarantined", types.ErrInvalidState, id.Hex())
	}

	if q.RequiresMultiPartyRelease {
		for _, approver := range q.ReleaseApprovals {
			if approver == caller.ID {
				return fmt.Errorf("%w: %q already approved release of %s", types.ErrInvalidState, caller.ID, id.Hex())
			}
		}
		if len(q.ReleaseApprovals)+1 < multiPartyApprovals {
			m.mu.Lock()
			live := m.state[id].quarantine
			live.ReleaseApprovals = append(live.ReleaseApprovals, caller.ID)
			approvals := len(live.ReleaseApprovals)
			m.mu.Unlock()

			m.notifier.Notify(notify.New(notify.ReleaseApproved, id,
				"approvals", strconv.Itoa(approvals),
				"required", strconv.Itoa(multiPartyApprovals),
				"by", caller.ID))
			return fmt.Errorf("%w: %d of %d approvals for %s", types.ErrReleasePending, approvals, multiPartyApprovals, id.Hex())
		}
	}

	ev, err := m.record(ctx, types.SecurityEvent{
		BridgeID:         id,
		EventType:        types.EventReleased,
		AffectedEndpoint: cfg.Endpoint,
		OldValue:         q.Reason,
	}, func(st *bridgeState) {
		st.quarantine.Active = false
		st.quarantine.ReleasedAt = m.now().UTC()
		st.quarantine.ReleasedBy = caller.ID
		if st.quarantine.RequiresMultiPartyRelease {
			st.quarantine.ReleaseApprovals = append(st.quarantine.ReleaseApprovals, caller.ID)
		}
	})
	if err != nil {
		return err
	}

	m.notifier.Notify(notify.New(notify.BridgeReleased, id,
		"seq", strconv.FormatUint(ev.SequenceNumber, 10), "by", caller.ID))
	return nil
}

func (m *Monitor) IsQuarantined(id types.BridgeID) bool {
	q := m.snapshot(id).quarantine
	return q != nil && q.Active
}

// GetQuarantineRecord returns the active record, or the last released one.
func (m *Monitor) GetQuarantineRecord(id types.BridgeID) (types.QuarantineRecord, bool) {
	q := m.snapshot(id).quarantine
	if q == nil {
		return types.QuarantineRecord{}, false
	}
	return *q, true
}

func (m *Monitor) IsPausedRecorded(id types.BridgeID) bool {
	return m.snapshot(id).paused
}

// GetImplementationStatus returns the last observed implementation, or the
// one the registry recorded when no upgrade was observed yet.
func (m *Monitor) GetImplementationStatus(id types.BridgeID) (common.Address, bool, error) {
	cfg, err := m.registry.GetBridge(id)
	if err != nil {
		return common.Address{}, false, err
	}
	impl := m.snapshot(id).observedImpl
	if impl == (common.Address{}) {
		impl = cfg.CurrentImplementation
	}
	if impl == (common.Address{}) {
		return impl, false, nil
	}
	whitelisted, err := m.registry.IsImplementationWhitelisted(id, impl)
	if err != nil {
		return common.Address{}, false, err
	}
	return impl, whitelisted, nil
}

func (m *Monitor) GetSecurityEvents(ctx context.Context, id types.BridgeID, fromSeq, toSeq uint64) ([]types.SecurityEvent, error) {
	if fromSeq > toSeq {
		return nil, fmt.Errorf("%w: fromSeq %d > toSeq %d", types.ErrValidation, fromSeq, toSeq)
	}
	if _, err := m.registry.GetBridge(id); err != nil {
		return nil, err
	}
	return m.journal.Range(ctx, id, fromSeq, toSeq)
}

func (m *Monitor) EventCount(ctx context.Context, id types.BridgeID) (int, error) {
	if _, err := m.registry.GetBridge(id); err != nil {
		return 0, err
	}
	return m.journal.Count(ctx, id)
}

// TotalEventCount counts events recorded by this process.
func (m *Monitor) TotalEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events
}

// LastSequence is the sequence number handed out most recently.
func (m *Monitor) LastSequence() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}

// Restore rebuilds pause, upgrade and quarantine state from the journal,
// used at startup with a durable journal. Quarantine actor and multi-party
// approvals are not journaled and stay empty.
func (m *Monitor) Restore(ctx context.Context, ids []types.BridgeID) error {
	for _, id := range ids {
		events, err := m.journal.Range(ctx, id, 0, ^uint64(0))
		if err != nil {
			return fmt.Errorf("restoring %s: %w", id.Hex(), err)
		}

		st := &bridgeState{}
		var maxSeq uint64
		for _, ev := range events {
			switch ev.EventType {
			case types.EventPaused:
				st.paused = true
			case types.EventUnpaused:
				st.paused = false
			case types.EventUpgraded:
				st.observedImpl = common.HexToAddress(ev.NewValue)
			case types.EventQuarantined:
				st.quarantine = &types.QuarantineRecord{
					Active:        true,
					QuarantinedAt: ev.Timestamp,
					Reason:        ev.NewValue,
				}
			case types.EventReleased:
				if st.quarantine != nil {
					st.quarantine.Active = false
					st.quarantine.ReleasedAt = ev.Timestamp
				}
			}
			if ev.SequenceNumber > maxSeq {
				maxSeq = ev.SequenceNumber
			}
		}

		m.mu.Lock()
		m.state[id] = st
		if maxSeq > m.seq {
			m.seq = maxSeq
		}
		m.mu.Unlock()
	}
	return nil
}
