package health

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"sync"
	"time"

	"bridgesentinel/access"
	"bridgesentinel/locker"
	"bridgesentinel/notify"
	"bridgesentinel/scoring"
	"bridgesentinel/types"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeTimeout = 10 * time.Second
	DefaultParallelism  = 8
)

// BridgeSource is the read-only registry view used by the checker.
type BridgeSource interface {
	GetBridge(id types.BridgeID) (types.BridgeConfig, error)
	GetActiveBridges() []types.BridgeID
	GetGlobalConfig() types.GlobalConfig
	ImplementationApproval(id types.BridgeID, impl common.Address) (version uint64, approved bool, err error)
}

// StateSource is the read-only monitor view used by the checker.
type StateSource interface {
	IsQuarantined(id types.BridgeID) bool
	GetImplementationStatus(id types.BridgeID) (common.Address, bool, error)
}

type Deps struct {
	Access   *access.Control
	Locks    *locker.Keyed
	Notifier notify.Notifier
	Cache    ReportCache

	// Probes is consulted by bridge type, DefaultProbe otherwise.
	Probes       map[types.BridgeType]Probe
	DefaultProbe Probe

	ProbeTimeout time.Duration
	Parallelism  int
	Now          func() time.Time
}

type BatchResult struct {
	ID     types.BridgeID
	Report types.BridgeHealthReport
	Err    error
}

type fingerprintKey struct {
	id   types.BridgeID
	impl common.Address
}

// baseline is the code first seen under one approval of an implementation.
// A new approval version replaces it.
type baseline struct {
	fingerprint common.Hash
	approval    uint64
}

// Checker probes bridges, caches their reports and owns the per bridge
// circuit breakers.
type Checker struct {
	mu           sync.RWMutex
	breakers     map[types.BridgeID]*types.CircuitBreakerState
	assessments  map[types.BridgeID]scoring.Breakdown
	fingerprints map[fingerprintKey]baseline

	registry BridgeSource
	monitor  StateSource
	access   *access.Control
	locks    *locker.Keyed
	notifier notify.Notifier
	cache    ReportCache

	probes       map[types.BridgeType]Probe
	defaultProbe Probe
	probeTimeout time.Duration
	parallelism  int
	now          func() time.Time
}

func New(registry BridgeSource, monitor StateSource, deps Deps) (*Checker, error) {
	if registry == nil || monitor == nil || deps.Access == nil {
		return nil, fmt.Errorf("%w: registry, monitor and access control are required", types.ErrValidation)
	}
	if deps.DefaultProbe == nil && len(deps.Probes) == 0 {
		return nil, fmt.Errorf("%w: at least one probe is required", types.ErrValidation)
	}
	if deps.Locks == nil {
		deps.Locks = locker.New()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}
	if deps.Cache == nil {
		deps.Cache = NewMemoryCache()
	}
	if deps.ProbeTimeout <= 0 {
		deps.ProbeTimeout = DefaultProbeTimeout
	}
	if deps.Parallelism <= 0 {
		deps.Parallelism = DefaultParallelism
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	probes := make(map[types.BridgeType]Probe, len(deps.Probes))
	for t, p := range deps.Probes {
		probes[t] = p
	}

	return &Checker{
		breakers:     make(map[types.BridgeID]*types.CircuitBreakerState),
		assessments:  make(map[types.BridgeID]scoring.Breakdown),
		fingerprints: make(map[fingerprintKey]baseline),
		registry:     registry,
		monitor:      monitor,
		access:       deps.Access,
		locks:        deps.Locks,
		notifier:     deps.Notifier,
		cache:        deps.Cache,
		probes:       probes,
		defaultProbe: deps.DefaultProbe,
		probeTimeout: deps.ProbeTimeout,
		parallelism:  deps.Parallelism,
		now:          deps.Now,
	}, nil
}

func (c *Checker) probeFor(t types.BridgeType) Probe {
	if p, ok := c.probes[t]; ok {
		return p
	}
	return c.defaultProbe
}

// CheckHealth probes the bridge unless a report younger than the cooldown
// is cached, in which case that report is returned unchanged.
func (c *Checker) CheckHealth(ctx context.Context, id types.BridgeID) (types.BridgeHealthReport, error) {
	if err := c.access.RequireNotPaused(); err != nil {
		return types.BridgeHealthReport{}, err
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	if c.GetCircuitBreakerState(id).IsOpen {
		return types.BridgeHealthReport{}, fmt.Errorf("%w: bridge %s", types.ErrCircuitOpen, id.Hex())
	}

	cfg, err := c.registry.GetBridge(id)
	if err != nil {
		return types.BridgeHealthReport{}, err
	}
	if !cfg.IsActive {
		return types.BridgeHealthReport{}, fmt.Errorf("%w: bridge %s is inactive", types.ErrInvalidState, id.Hex())
	}

	global := c.registry.GetGlobalConfig()
	now := c.now().UTC()

	if cached, ok := c.GetReport(id); ok && now.Sub(cached.LastCheckTimestamp) < global.HealthCheckCooldown {
		return cached, nil
	}

	res, err := c.probe(ctx, cfg, now)
	if err != nil {
		if errors.Is(err, types.ErrProbeFailure) {
			c.recordFailure(id, global.CircuitBreakerThreshold, err)
		}
		return types.BridgeHealthReport{}, err
	}

	if err := c.cache.Put(ctx, res.report); err != nil {
		return types.BridgeHealthReport{}, fmt.Errorf("caching report for %s: %w", id.Hex(), err)
	}

	c.mu.Lock()
	c.assessments[id] = res.breakdown
	if res.approval != 0 {
		key := fingerprintKey{id: id, impl: res.report.CurrentImplementation}
		if known, ok := c.fingerprints[key]; !ok || known.approval != res.approval {
			c.fingerprints[key] = baseline{fingerprint: res.report.CurrentImplementationFingerprint, approval: res.approval}
		}
	}
	if st, ok := c.breakers[id]; ok {
		st.ConsecutiveFailures = 0
	}
	c.mu.Unlock()

	if res.anomaly != "" {
		c.notifier.Notify(notify.New(notify.AnomalyDetected, id,
			"reason", res.anomaly,
			"implementation", res.report.CurrentImplementation.Hex(),
			"fingerprint", res.report.CurrentImplementationFingerprint.Hex()))
	}
	c.notifier.Notify(notify.New(notify.HealthChecked, id,
		"status", res.report.Status.String(),
		"score", strconv.Itoa(res.report.RiskScore)))

	return res.report.Copy(), nil
}

type probeResult struct {
	report    types.BridgeHealthReport
	breakdown scoring.Breakdown
	anomaly   string
	// approval version of the resolved implementation, 0 when not approved
	approval uint64
	err      error
}

// probe runs one probe session bounded by the probe timeout. When the
// timeout fires first the session is abandoned and its result dropped.
func (c *Checker) probe(ctx context.Context, cfg types.BridgeConfig, now time.Time) (probeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	done := make(chan probeResult, 1)
	go func() {
		done <- c.performCheck(probeCtx, cfg, now)
	}()

	var res probeResult
	select {
	case res = <-done:
	case <-probeCtx.Done():
		res.err = fmt.Errorf("%w: %s timed out after %s", types.ErrProbeFailure, cfg.Name, c.probeTimeout)
	}
	// caller cancellation does not count toward the breaker
	if res.err != nil && ctx.Err() != nil {
		return probeResult{}, ctx.Err()
	}
	return res, res.err
}

func probeFailure(cfg types.BridgeConfig, call string, err error) probeResult {
	return probeResult{err: fmt.Errorf("%w: %s %s: %v", types.ErrProbeFailure, cfg.Name, call, err)}
}

// performCheck must not mutate checker state; its result may be abandoned.
func (c *Checker) performCheck(ctx context.Context, cfg types.BridgeConfig, now time.Time) probeResult {
	probe := c.probeFor(cfg.Type)
	if probe == nil {
		return probeFailure(cfg, "probe", fmt.Errorf("no probe for type %s", cfg.Type))
	}
	report := types.BridgeHealthReport{
		BridgeID:           cfg.ID,
		LastCheckTimestamp: now,
		LastActivityMarker: now,
	}
	in := scoring.Input{
		Type:                      cfg.Type,
		AgeMonths:                 cfg.AgeMonths,
		HasKnownExploits:          cfg.HasKnownExploits,
		IsUpgradeable:             cfg.IsUpgradeable,
		ImplementationWhitelisted: true,
	}

	if c.monitor.IsQuarantined(cfg.ID) {
		report.Status = types.StatusQuarantined
		report.IsQuarantined = true
		in.IsQuarantined = true
		b := scoring.Assess(in)
		report.RiskScore = b.Score
		return probeResult{report: report, breakdown: b}
	}

	paused, err := probe.IsPaused(ctx, cfg.Endpoint)
	if err != nil {
		return probeFailure(cfg, "isPaused", err)
	}
	if paused {
		report.Status = types.StatusPaused
		report.IsPaused = true
		in.IsPaused = true
		b := scoring.Assess(in)
		report.RiskScore = b.Score
		return probeResult{report: report, breakdown: b}
	}

	var anomaly string
	var approval uint64
	if cfg.IsUpgradeable {
		impl, ok, err := probe.CurrentImplementation(ctx, cfg.Endpoint)
		if err != nil {
			return probeFailure(cfg, "currentImplementation", err)
		}
		if ok {
			fp, err := probe.CodeFingerprint(ctx, impl)
			if err != nil {
				return probeFailure(cfg, "codeFingerprint", err)
			}
			report.CurrentImplementation = impl
			report.CurrentImplementationFingerprint = fp

			version, whitelisted, err := c.registry.ImplementationApproval(cfg.ID, impl)
			if err != nil {
				return probeResult{err: err}
			}
			c.mu.RLock()
			known, seen := c.fingerprints[fingerprintKey{id: cfg.ID, impl: impl}]
			c.mu.RUnlock()

			switch {
			case !whitelisted:
				anomaly = "implementation not whitelisted"
			case seen && known.approval == version && known.fingerprint != fp:
				whitelisted = false
				anomaly = "implementation code changed"
			}
			if anomaly != "" {
				report.Status = types.StatusUpgradePending
			} else {
				approval = version
			}
			in.ImplementationWhitelisted = whitelisted
		} else {
			impl, whitelisted, err := c.monitor.GetImplementationStatus(cfg.ID)
			if err != nil {
				return probeResult{err: err}
			}
			report.CurrentImplementation = impl
			// nothing known to be running is not an unapproved implementation
			in.ImplementationWhitelisted = whitelisted || impl == (common.Address{})
		}
	}

	tvl, err := probe.TVLUsd(ctx, cfg.Endpoint)
	if err != nil {
		return probeFailure(cfg, "tvlUsd", err)
	}
	if tvl == nil {
		tvl = new(big.Int)
	}
	report.TvlUsd = tvl
	in.TvlUsd = tvl
	if report.Status == types.StatusUnknown && cfg.MinTvlUsd != nil && tvl.Cmp(cfg.MinTvlUsd) < 0 {
		report.Status = types.StatusLowLiquidity
	}

	if ap, ok := probe.(ActivityProbe); ok {
		last, err := ap.LastActivity(ctx, cfg.Endpoint)
		if err != nil {
			return probeFailure(cfg, "lastActivity", err)
		}
		if !last.IsZero() {
			report.LastActivityMarker = last.UTC()
			if report.Status == types.StatusUnknown && cfg.MaxInactivityPeriod > 0 && now.Sub(last) > cfg.MaxInactivityPeriod {
				report.Status = types.StatusInactive
			}
		}
	}

	if report.Status == types.StatusUnknown {
		report.Status = types.StatusOperational
	}

	b := scoring.Assess(in)
	report.RiskScore = b.Score
	return probeResult{report: report, breakdown: b, anomaly: anomaly, approval: approval}
}

func (c *Checker) recordFailure(id types.BridgeID, threshold int, cause error) {
	c.mu.Lock()
	st, ok := c.breakers[id]
	if !ok {
		st = &types.CircuitBreakerState{}
		c.breakers[id] = st
	}
	st.ConsecutiveFailures++
	failures := st.ConsecutiveFailures
	tripped := !st.IsOpen && failures >= threshold
	if tripped {
		st.IsOpen = true
	}
	c.mu.Unlock()

	log.Printf("health check failed for %s (%d consecutive): %v", id.Hex(), failures, cause)
	c.notifier.Notify(notify.New(notify.HealthCheckFailed, id,
		"failures", strconv.Itoa(failures),
		"error", cause.Error()))
	if tripped {
		c.notifier.Notify(notify.New(notify.CircuitBreakerTripped, id,
			"failures", strconv.Itoa(failures),
			"threshold", strconv.Itoa(threshold)))
	}
}

// BatchCheckHealth checks every id concurrently, bounded by the configured
// parallelism. Results follow the order of ids. A failed entry carries the
// stale cached report with status Unknown.
func (c *Checker) BatchCheckHealth(ctx context.Context, ids []types.BridgeID) []BatchResult {
	results := make([]BatchResult, len(ids))

	var g errgroup.Group
	g.SetLimit(c.parallelism)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			report, err := c.CheckHealth(ctx, id)
			if err != nil {
				stale, _ := c.GetReport(id)
				stale.BridgeID = id
				stale.Status = types.StatusUnknown
				results[i] = BatchResult{ID: id, Report: stale, Err: err}
				return nil
			}
			results[i] = BatchResult{ID: id, Report: report}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ResetCircuitBreaker closes the breaker and clears the failure count.
func (c *Checker) ResetCircuitBreaker(caller access.Caller, id types.BridgeID) error {
	if err := c.access.RequireActive(caller, access.RoleSuperAdmin); err != nil {
		return err
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	if _, err := c.registry.GetBridge(id); err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.breakers[id]
	delete(c.breakers, id)
	c.mu.Unlock()

	wasOpen := prev != nil && prev.IsOpen
	c.notifier.Notify(notify.New(notify.CircuitBreakerReset, id,
		"by", caller.ID,
		"wasOpen", strconv.FormatBool(wasOpen)))
	return nil
}

func (c *Checker) GetCircuitBreakerState(id types.BridgeID) types.CircuitBreakerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.breakers[id]; ok {
		return *st
	}
	return types.CircuitBreakerState{}
}

// GetReport returns the cached report; ok is false when the bridge was
// never checked successfully.
func (c *Checker) GetReport(id types.BridgeID) (types.BridgeHealthReport, bool) {
	report, ok, err := c.cache.Get(context.Background(), id)
	if err != nil {
		log.Printf("report cache read for %s: %v", id.Hex(), err)
		return types.BridgeHealthReport{}, false
	}
	return report, ok
}

// Assessment returns the scoring breakdown of the last successful check.
func (c *Checker) Assessment(id types.BridgeID) (scoring.Breakdown, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.assessments[id]
	if !ok {
		return scoring.Breakdown{}, false
	}
	b.Warnings = append([]string(nil), b.Warnings...)
	return b, true
}

// IsBridgeSafe answers from the cached report only.
func (c *Checker) IsBridgeSafe(id types.BridgeID, minScore int) (bool, string) {
	report, ok := c.GetReport(id)
	if !ok {
		return false, "no data"
	}
	switch report.Status {
	case types.StatusUnknown:
		return false, "no data"
	case types.StatusPaused:
		return false, "paused"
	case types.StatusQuarantined:
		return false, "quarantined"
	case types.StatusLowLiquidity:
		return false, "insufficient liquidity"
	case types.StatusInactive:
		return false, "inactive"
	case types.StatusUpgradePending:
		return false, "pending review"
	}
	if !scoring.MeetsMinimum(report.RiskScore, minScore) {
		return false, "below threshold"
	}
	return true, "safe"
}

// GetOperationalBridges filters the active set, in registration order, by
// cached report.
func (c *Checker) GetOperationalBridges(minTvl *big.Int, minScore int) []types.BridgeID {
	if minTvl == nil {
		minTvl = new(big.Int)
	}
	out := []types.BridgeID{}
	for _, id := range c.registry.GetActiveBridges() {
		report, ok := c.GetReport(id)
		if !ok || report.Status != types.StatusOperational {
			continue
		}
		if report.TvlUsd == nil || report.TvlUsd.Cmp(minTvl) < 0 {
			continue
		}
		if report.RiskScore < minScore {
			continue
		}
		out = append(out, id)
	}
	return out
}
