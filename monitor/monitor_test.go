package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"bridgesentinel/access"
	"bridgesentinel/locker"
	"bridgesentinel/notify"
	"bridgesentinel/registry"
	"bridgesentinel/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin      = access.As("admin")
	registrar  = access.As("registrar")
	watcher    = access.As("watcher")
	guard      = access.As("guard")
	releaserA  = access.As("releaser-a")
	releaserB  = access.As("releaser-b")
	endpoint   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	implV1     = common.HexToAddress("0x0000000000000000000000000000000000001001")
	implV2     = common.HexToAddress("0x0000000000000000000000000000000000001002")
	background = context.Background()
)

type failingJournal struct {
	*MemoryJournal
	fail bool
}

func (f *failingJournal) Append(ctx context.Context, ev types.SecurityEvent) error {
	if f.fail {
		return errors.New("redis: connection refused")
	}
	return f.MemoryJournal.Append(ctx, ev)
}

type fixture struct {
	reg     *registry.Registry
	mon     *Monitor
	rec     *notify.Recorder
	journal *failingJournal
	proxy   types.BridgeID
	plain   types.BridgeID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ac := access.New(nil, admin.ID)
	require.NoError(t, ac.Grant(admin, registrar.ID, access.RoleRegistrar))
	require.NoError(t, ac.Grant(admin, watcher.ID, access.RoleMonitor))
	require.NoError(t, ac.Grant(admin, guard.ID, access.RoleQuarantine))
	require.NoError(t, ac.Grant(admin, releaserA.ID, access.RoleRelease))
	require.NoError(t, ac.Grant(admin, releaserB.ID, access.RoleRelease))

	locks := locker.New()
	rec := &notify.Recorder{}
	reg, err := registry.New(types.GlobalConfig{
		DefaultMinTvlUsd:        types.USDAmount(1),
		DefaultMaxInactivity:    time.Hour,
		CircuitBreakerThreshold: 3,
		HealthCheckCooldown:     time.Minute,
	}, registry.Deps{Access: ac, Locks: locks})
	require.NoError(t, err)

	proxy, err := reg.RegisterBridge(registrar, types.BridgeConfig{
		Name: "proxy", Endpoint: endpoint, IsUpgradeable: true, CurrentImplementation: implV1,
	})
	require.NoError(t, err)
	plain, err := reg.RegisterBridge(registrar, types.BridgeConfig{Name: "plain", Endpoint: endpoint})
	require.NoError(t, err)

	journal := &failingJournal{MemoryJournal: NewMemoryJournal()}
	mon, err := New(reg, Deps{Access: ac, Locks: locks, Notifier: rec, Journal: journal})
	require.NoError(t, err)

	return &fixture{reg: reg, mon: mon, rec: rec, journal: journal, proxy: proxy, plain: plain}
}

func TestPauseTracking(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mon.RecordPauseEvent(background, watcher, f.plain))
	assert.True(t, f.mon.IsPausedRecorded(f.plain))
	assert.ErrorIs(t, f.mon.RecordPauseEvent(background, watcher, f.plain), types.ErrInvalidState)

	require.NoError(t, f.mon.RecordUnpauseEvent(background, watcher, f.plain))
	assert.False(t, f.mon.IsPausedRecorded(f.plain))
	assert.ErrorIs(t, f.mon.RecordUnpauseEvent(background, watcher, f.plain), types.ErrInvalidState)

	assert.ErrorIs(t, f.mon.RecordPauseEvent(background, guard, f.plain), types.ErrUnauthorized)
	assert.ErrorIs(t, f.mon.RecordPauseEvent(background, watcher, registry.ComputeID("ghost")), types.ErrNotFound)

	events, err := f.mon.GetSecurityEvents(background, f.plain, 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventPaused, events[0].EventType)
	assert.Equal(t, types.EventUnpaused, events[1].EventType)
	assert.Equal(t, endpoint, events[0].AffectedEndpoint)
	assert.Less(t, events[0].SequenceNumber, events[1].SequenceNumber)
	assert.NotEmpty(t, events[0].ID)

	assert.Equal(t, []notify.Kind{notify.BridgePaused, notify.BridgeUnpaused}, f.rec.Kinds())
}

func TestRecordUpgradeEvent(t *testing.T) {
	f := newFixture(t)

	impl, whitelisted, err := f.mon.GetImplementationStatus(f.proxy)
	require.NoError(t, err)
	assert.Equal(t, implV1, impl, "falls back to the registry implementation")
	assert.True(t, whitelisted)

	require.NoError(t, f.mon.RecordUpgradeEvent(background, watcher, f.proxy, implV2))
	impl, whitelisted, err = f.mon.GetImplementationStatus(f.proxy)
	require.NoError(t, err)
	assert.Equal(t, implV2, impl)
	assert.False(t, whitelisted)

	assert.Equal(t, 1, f.rec.Count(notify.BridgeUpgraded))
	assert.Equal(t, 1, f.rec.Count(notify.AnomalyDetected), "unwhitelisted upgrade raises an anomaly")

	events, _ := f.mon.GetSecurityEvents(background, f.proxy, 0, 100)
	require.Len(t, events, 1)
	assert.Equal(t, implV1.Hex(), events[0].OldValue)
	assert.Equal(t, implV2.Hex(), events[0].NewValue)

	// upgrade back to the whitelisted one, no anomaly
	require.NoError(t, f.mon.RecordUpgradeEvent(background, watcher, f.proxy, implV1))
	assert.Equal(t, 1, f.rec.Count(notify.AnomalyDetected))

	assert.ErrorIs(t, f.mon.RecordUpgradeEvent(background, watcher, f.proxy, implV1), types.ErrInvalidState)
	assert.ErrorIs(t, f.mon.RecordUpgradeEvent(background, watcher, f.proxy, common.Address{}), types.ErrValidation)
	assert.ErrorIs(t, f.mon.RecordUpgradeEvent(background, watcher, f.plain, implV2), types.ErrValidation)
}

func TestImplementationStatus_NonUpgradeable(t *testing.T) {
	f := newFixture(t)
	impl, whitelisted, err := f.mon.GetImplementationStatus(f.plain)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, impl)
	assert.False(t, whitelisted)

	_, _, err = f.mon.GetImplementationStatus(registry.ComputeID("ghost"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestQuarantineRelease_MutuallyExclusive(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.mon.ReleaseBridge(background, releaserA, f.plain), types.ErrInvalidState)

	require.NoError(t, f.mon.QuarantineBridge(background, guard, f.plain, "oracle manipulation", false))
	assert.True(t, f.mon.IsQuarantined(f.plain))
	assert.ErrorIs(t, f.mon.QuarantineBridge(background, guard, f.plain, "again", false), types.ErrInvalidState)

	rec, ok := f.mon.GetQuarantineRecord(f.plain)
	require.True(t, ok)
	assert.True(t, rec.Active)
	assert.Equal(t, "guard", rec.QuarantinedBy)
	assert.Equal(t, "oracle manipulation", rec.Reason)

	require.NoError(t, f.mon.ReleaseBridge(background, releaserA, f.plain))
	assert.False(t, f.mon.IsQuarantined(f.plain))
	assert.ErrorIs(t, f.mon.ReleaseBridge(background, releaserA, f.plain), types.ErrInvalidState)

	rec, ok = f.mon.GetQuarantineRecord(f.plain)
	require.True(t, ok, "released record is retained")
	assert.False(t, rec.Active)
	assert.Equal(t, "releaser-a", rec.ReleasedBy)

	events, _ := f.mon.GetSecurityEvents(background, f.plain, 0, 100)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventQuarantined, events[0].EventType)
	assert.Equal(t, types.EventReleased, events[1].EventType)
}

func TestQuarantine_Authorization(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.mon.QuarantineBridge(background, guard, f.plain, "", false), types.ErrValidation)
	assert.ErrorIs(t, f.mon.QuarantineBridge(background, guard, f.plain, "   ", false), types.ErrValidation)
	assert.ErrorIs(t, f.mon.QuarantineBridge(background, releaserA, f.plain, "x", false), types.ErrUnauthorized)
	assert.ErrorIs(t, f.mon.QuarantineBridge(background, guard, registry.ComputeID("ghost"), "x", false), types.ErrNotFound)

	require.NoError(t, f.mon.QuarantineBridge(background, guard, f.plain, "x", false))
	// the quarantine role cannot unlock what it locked
	assert.ErrorIs(t, f.mon.ReleaseBridge(background, guard, f.plain), types.ErrUnauthorized)
	assert.ErrorIs(t, f.mon.ReleaseBridge(background, admin, f.plain), types.ErrUnauthorized)
	assert.True(t, f.mon.IsQuarantined(f.plain))
}

func TestRelease_MultiParty(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mon.QuarantineBridge(background, guard, f.proxy, "drained", true))

	err := f.mon.ReleaseBridge(background, releaserA, f.proxy)
	assert.ErrorIs(t, err, types.ErrReleasePending)
	assert.True(t, f.mon.IsQuarantined(f.proxy))

	assert.ErrorIs(t, f.mon.ReleaseBridge(background, releaserA, f.proxy), types.ErrInvalidState)

	require.NoError(t, f.mon.ReleaseBridge(background, releaserB, f.proxy))
	assert.False(t, f.mon.IsQuarantined(f.proxy))

	rec, _ := f.mon.GetQuarantineRecord(f.proxy)
	assert.Equal(t, []string{"releaser-a", "releaser-b"}, rec.ReleaseApprovals)
	assert.Equal(t, 1, f.rec.Count(notify.ReleaseApproved))
	assert.Equal(t, 1, f.rec.Count(notify.BridgeReleased))

	count, _ := f.mon.EventCount(background, f.proxy)
	assert.Equal(t, 2, count, "approvals are not journaled")
}

func TestJournalFailure_NoStateChange(t *testing.T) {
	f := newFixture(t)
	f.journal.fail = true

	assert.Error(t, f.mon.QuarantineBridge(background, guard, f.plain, "x", false))
	assert.False(t, f.mon.IsQuarantined(f.plain))
	assert.Error(t, f.mon.RecordPauseEvent(background, watcher, f.plain))
	assert.False(t, f.mon.IsPausedRecorded(f.plain))
	assert.Empty(t, f.rec.All())
	assert.Equal(t, 0, f.mon.TotalEventCount())
}

func TestGetSecurityEvents_Range(t *testing.T) {
	f := newFixture(t)

	// interleave two bridges so sequence numbers are not dense per bridge:
	// plain gets 1, 3, 4, 5 and proxy gets 2
	require.NoError(t, f.mon.RecordPauseEvent(background, watcher, f.plain))
	require.NoError(t, f.mon.RecordPauseEvent(background, watcher, f.proxy))
	require.NoError(t, f.mon.RecordUnpauseEvent(background, watcher, f.plain))
	require.NoError(t, f.mon.QuarantineBridge(background, guard, f.plain, "x", false))
	require.NoError(t, f.mon.ReleaseBridge(background, releaserA, f.plain))

	seqs := func(from, to uint64) []uint64 {
		events, err := f.mon.GetSecurityEvents(background, f.plain, from, to)
		require.NoError(t, err)
		var out []uint64
		for _, ev := range events {
			out = append(out, ev.SequenceNumber)
		}
		return out
	}

	assert.Equal(t, []uint64{1, 3, 4, 5}, seqs(0, 10))
	assert.Equal(t, []uint64{3, 4}, seqs(2, 4))
	assert.Equal(t, []uint64{5}, seqs(5, 5))
	assert.Empty(t, seqs(6, 9))

	_, err := f.mon.GetSecurityEvents(background, f.plain, 4, 3)
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = f.mon.GetSecurityEvents(background, registry.ComputeID("ghost"), 0, 1)
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.Equal(t, 5, f.mon.TotalEventCount())
	assert.Equal(t, uint64(5), f.mon.LastSequence())
	count, err := f.mon.EventCount(background, f.plain)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mon.RecordPauseEvent(background, watcher, f.plain))
	require.NoError(t, f.mon.QuarantineBridge(background, guard, f.plain, "drained", false))
	require.NoError(t, f.mon.RecordUpgradeEvent(background, watcher, f.proxy, implV2))

	restored, err := New(f.reg, Deps{Access: access.New(nil, admin.ID), Journal: f.journal})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(background, []types.BridgeID{f.plain, f.proxy}))

	assert.True(t, restored.IsPausedRecorded(f.plain))
	assert.True(t, restored.IsQuarantined(f.plain))
	rec, _ := restored.GetQuarantineRecord(f.plain)
	assert.Equal(t, "drained", rec.Reason)
	impl, _, err := restored.GetImplementationStatus(f.proxy)
	require.NoError(t, err)
	assert.Equal(t, implV2, impl)
	assert.Equal(t, uint64(3), restored.LastSequence())
}

func TestServicePausedBlocksTransitions(t *testing.T) {
	f := newFixture(t)
	ac := access.New(nil, admin.ID)
	require.NoError(t, ac.Grant(admin, guard.ID, access.RoleQuarantine))
	mon, err := New(f.reg, Deps{Access: ac})
	require.NoError(t, err)

	require.NoError(t, ac.Pause(admin))
	assert.ErrorIs(t, mon.QuarantineBridge(background, guard, f.plain, "x", false), types.ErrServicePaused)
}
