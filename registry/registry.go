package registry

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"bridgesentinel/access"
	"bridgesentinel/locker"
	"bridgesentinel/notify"
	"bridgesentinel/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CodeInspector verifies an implementation address carries executable code.
type CodeInspector interface {
	HasCode(ctx context.Context, addr common.Address) (bool, error)
}

type Deps struct {
	Access   *access.Control
	Locks    *locker.Keyed
	Notifier notify.Notifier
	Code     CodeInspector
	Now      func() time.Time
}

type entry struct {
	config types.BridgeConfig
	// implementation -> approval version, absent when not approved
	approved map[common.Address]uint64
	history  []common.Address
}

// Registry owns bridge configs, implementation whitelists and the
// global config.
type Registry struct {
	mu      sync.RWMutex
	global  types.GlobalConfig
	bridges map[types.BridgeID]*entry
	// registration order, IsActive acts as the tombstone
	order []types.BridgeID
	// bumped on every approval, so a re-approval is distinguishable
	approvals uint64

	access   *access.Control
	locks    *locker.Keyed
	notifier notify.Notifier
	code     CodeInspector
	now      func() time.Time
}

func New(global types.GlobalConfig, deps Deps) (*Registry, error) {
	if err := validateGlobal(global); err != nil {
		return nil, err
	}
	if deps.Access == nil {
		return nil, fmt.Errorf("%w: access control is required", types.ErrValidation)
	}
	if deps.Locks == nil {
		deps.Locks = locker.New()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Registry{
		global:   global.Copy(),
		bridges:  make(map[types.BridgeID]*entry),
		access:   deps.Access,
		locks:    deps.Locks,
		notifier: deps.Notifier,
		code:     deps.Code,
		now:      deps.Now,
	}, nil
}

// ComputeID derives the bridge id from its name.
func ComputeID(name string) types.BridgeID {
	return crypto.Keccak256Hash([]byte(name))
}

func (r *Registry) ComputeID(name string) types.BridgeID {
	return ComputeID(name)
}

// ParseAddress validates a hex address as read from config or user input.
// The zero address is rejected.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not a hex address", types.ErrValidation, s)
	}
	addr := common.HexToAddress(s)
	if err := ethav.Validate(addr.Hex()); err != nil {
		return common.Address{}, fmt.Errorf("%w: invalid address %q: %s", types.ErrValidation, s, err.Error())
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", types.ErrValidation)
	}
	return addr, nil
}

func (r *Registry) RegisterBridge(caller access.Caller, cfg types.BridgeConfig) (types.BridgeID, error) {
	if err := r.access.RequireActive(caller, access.RoleRegistrar); err != nil {
		return types.BridgeID{}, err
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return types.BridgeID{}, fmt.Errorf("%w: empty bridge name", types.ErrValidation)
	}
	if cfg.Endpoint == (common.Address{}) {
		return types.BridgeID{}, fmt.Errorf("%w: empty endpoint for %q", types.ErrValidation, cfg.Name)
	}
	if cfg.AgeMonths < 0 {
		return types.BridgeID{}, fmt.Errorf("%w: negative age for %q", types.ErrValidation, cfg.Name)
	}
	if cfg.MinTvlUsd != nil && cfg.MinTvlUsd.Sign() < 0 {
		return types.BridgeID{}, fmt.Errorf("%w: negative min TVL for %q", types.ErrValidation, cfg.Name)
	}
	if cfg.MaxInactivityPeriod < 0 {
		return types.BridgeID{}, fmt.Errorf("%w: negative max inactivity for %q", types.ErrValidation, cfg.Name)
	}

	id := ComputeID(cfg.Name)
	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bridges[id]; ok {
		return types.BridgeID{}, fmt.Errorf("%w: bridge %q already registered", types.ErrValidation, cfg.Name)
	}

	stored := cfg.Copy()
	stored.ID = id
	stored.IsActive = true
	stored.RegisteredAt = r.now().UTC()
	if stored.MinTvlUsd == nil || stored.MinTvlUsd.Sign() == 0 {
		stored.MinTvlUsd = new(big.Int).Set(r.global.DefaultMinTvlUsd)
	}
	if stored.MaxInactivityPeriod == 0 {
		stored.MaxInactivityPeriod = r.global.DefaultMaxInactivity
	}

	e := &entry{
		config:   stored,
		approved: make(map[common.Address]uint64),
	}
	if stored.IsUpgradeable && stored.CurrentImplementation != (common.Address{}) {
		r.approvals++
		e.approved[stored.CurrentImplementation] = r.approvals
		e.history = append(e.history, stored.CurrentImplementation)
	}

	r.bridges[id] = e
	r.order = append(r.order, id)

	r.notifier.Notify(notify.New(notify.BridgeRegistered, id,
		"name", stored.Name,
		"type", stored.Type.String(),
		"endpoint", stored.Endpoint.Hex(),
		"by", caller.ID,
	))
	if len(e.history) > 0 {
		r.notifier.Notify(notify.New(notify.ImplementationWhitelisted, id,
			"implementation", stored.CurrentImplementation.Hex(),
			"by", caller.ID,
		))
	}
	return id, nil
}

// UpdateBridge applies the fields of upd that are set and differ from the
// stored config. Unset fields keep their current value.
func (r *Registry) UpdateBridge(caller access.Caller, id types.BridgeID, upd types.BridgeUpdate) error {
	if err := r.access.RequireActive(caller, access.RoleRegistrar); err != nil {
		return err
	}
	if upd.MinTvlUsd != nil && upd.MinTvlUsd.Sign() < 0 {
		return fmt.Errorf("%w: negative min TVL", types.ErrValidation)
	}
	if upd.MaxInactivityPeriod < 0 {
		return fmt.Errorf("%w: negative max inactivity", types.ErrValidation)
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.bridges[id]
	if !ok {
		return fmt.Errorf("%w: bridge %s", types.ErrNotFound, id.Hex())
	}
	cur := &e.config

	changed := func(field, oldValue, newValue string) {
		r.notifier.Notify(notify.New(notify.BridgeUpdated, id,
			"field", field, "old", oldValue, "new", newValue, "by", caller.ID))
	}

	if upd.Endpoint != (common.Address{}) && upd.Endpoint != cur.Endpoint {
		old := cur.Endpoint
		cur.Endpoint = upd.Endpoint
		changed("endpoint", old.Hex(), cur.Endpoint.Hex())
	}
	if upd.MinTvlUsd != nil && upd.MinTvlUsd.Sign() > 0 && upd.MinTvlUsd.Cmp(cur.MinTvlUsd) != 0 {
		old := cur.MinTvlUsd
		cur.MinTvlUsd = new(big.Int).Set(upd.MinTvlUsd)
		changed("min_tvl_usd", old.String(), cur.MinTvlUsd.String())
	}
	if upd.MaxInactivityPeriod > 0 && upd.MaxInactivityPeriod != cur.MaxInactivityPeriod {
		old := cur.MaxInactivityPeriod
		cur.MaxInactivityPeriod = upd.MaxInactivityPeriod
		changed("max_inactivity", old.String(), cur.MaxInactivityPeriod.String())
	}
	if upd.HasKnownExploits != nil && *upd.HasKnownExploits != cur.HasKnownExploits {
		old := cur.HasKnownExploits
		cur.HasKnownExploits = *upd.HasKnownExploits
		changed("has_known_exploits", strconv.FormatBool(old), strconv.FormatBool(cur.HasKnownExploits))
	}
	return nil
}

func (r *Registry) DeactivateBridge(caller access.Caller, id types.BridgeID, reason string) error {
	return r.setActive(caller, id, false, reason)
}

func (r *Registry) ReactivateBridge(caller access.Caller, id types.BridgeID) error {
	return r.setActive(caller, id, true, "")
}

func (r *Registry) setActive(caller access.Caller, id types.BridgeID, active bool, reason string) error {
	if err := r.access.RequireActive(caller, access.RoleRegistrar); err != nil {
		return err
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.bridges[id]
	if !ok {
		return fmt.Errorf("%w: bridge %s", types.ErrNotFound, id.Hex())
	}
	if e.config.IsActive == active {
		return fmt.Errorf("%w: bridge %s active=%t already", types.ErrInvalidState, id.Hex(), active)
	}
	e.config.IsActive = active

	if active {
		r.notifier.Notify(notify.New(notify.BridgeReactivated, id, "by", caller.ID))
	} else {
		r.notifier.Notify(notify.New(notify.BridgeDeactivated, id, "reason", reason, "by", caller.ID))
	}
	return nil
}

func (r *Registry) WhitelistImplementation(ctx context.Context, caller access.Caller, id types.BridgeID, impl common.Address) error {
	if err := r.access.RequireActive(caller, access.RoleImplementationAdmin); err != nil {
		return err
	}
	if impl == (common.Address{}) {
		return fmt.Errorf("%w: empty implementation", types.ErrValidation)
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	if err := r.checkImplementation(id, impl, false); err != nil {
		return err
	}

	// the code probe runs without the registry lock, the per-id lock keeps
	// concurrent whitelist calls for this bridge out
	if r.code == nil {
		return fmt.Errorf("%w: no code inspector configured", types.ErrProbeFailure)
	}
	hasCode, err := r.code.HasCode(ctx, impl)
	if err != nil {
		return fmt.Errorf("%w: code lookup for %s: %s", types.ErrProbeFailure, impl.Hex(), err.Error())
	}
	if !hasCode {
		return fmt.Errorf("%w: implementation %s has no code", types.ErrValidation, impl.Hex())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.bridges[id]
	r.approvals++
	e.approved[impl] = r.approvals
	e.history = append(e.history, impl)

	r.notifier.Notify(notify.New(notify.ImplementationWhitelisted, id, "implementation", impl.Hex(), "by", caller.ID))
	return nil
}

func (r *Registry) RevokeImplementation(caller access.Caller, id types.BridgeID, impl common.Address) error {
	if err := r.access.RequireActive(caller, access.RoleImplementationAdmin); err != nil {
		return err
	}
	if impl == (common.Address{}) {
		return fmt.Errorf("%w: empty implementation", types.ErrValidation)
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	if err := r.checkImplementation(id, impl, true); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bridges[id].approved, impl)

	r.notifier.Notify(notify.New(notify.ImplementationRevoked, id, "implementation", impl.Hex(), "by", caller.ID))
	return nil
}

// checkImplementation verifies the bridge can take a whitelist change for
// impl, wantApproved is the approval state the change requires.
func (r *Registry) checkImplementation(id types.BridgeID, impl common.Address, wantApproved bool) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.bridges[id]
	if !ok {
		return fmt.Errorf("%w: bridge %s", types.ErrNotFound, id.Hex())
	}
	if !e.config.IsUpgradeable {
		return fmt.Errorf("%w: bridge %s is not upgradeable", types.ErrValidation, id.Hex())
	}
	if _, approved := e.approved[impl]; approved != wantApproved {
		if wantApproved {
			return fmt.Errorf("%w: implementation %s is not whitelisted", types.ErrInvalidState, impl.Hex())
		}
		return fmt.Errorf("%w: implementation %s already whitelisted", types.ErrInvalidState, impl.Hex())
	}
	return nil
}

func validateGlobal(g types.GlobalConfig) error {
	switch {
	case g.DefaultMinTvlUsd == nil || g.DefaultMinTvlUsd.Sign() <= 0:
		return fmt.Errorf("%w: default min TVL must be positive", types.ErrValidation)
	case g.DefaultMaxInactivity <= 0:
		return fmt.Errorf("%w: default max inactivity must be positive", types.ErrValidation)
	case g.CircuitBreakerThreshold <= 0:
		return fmt.Errorf("%w: circuit breaker threshold must be positive", types.ErrValidation)
	case g.HealthCheckCooldown <= 0:
		return fmt.Errorf("%w: health check cooldown must be positive", types.ErrValidation)
	}
	return nil
}

func (r *Registry) SetGlobalConfig(caller access.Caller, g types.GlobalConfig) error {
	if err := r.access.RequireActive(caller, access.RoleConfigAdmin); err != nil {
		return err
	}
	if err := validateGlobal(g); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.global
	r.global = g.Copy()

	changed := func(field, oldValue, newValue string) {
		r.notifier.Notify(notify.New(notify.GlobalConfigChanged, types.BridgeID{},
			"field", field, "old", oldValue, "new", newValue, "by", caller.ID))
	}
	if old.DefaultMinTvlUsd.Cmp(g.DefaultMinTvlUsd) != 0 {
		changed("default_min_tvl_usd", old.DefaultMinTvlUsd.String(), g.DefaultMinTvlUsd.String())
	}
	if old.DefaultMaxInactivity != g.DefaultMaxInactivity {
		changed("default_max_inactivity", old.DefaultMaxInactivity.String(), g.DefaultMaxInactivity.String())
	}
	if old.CircuitBreakerThreshold != g.CircuitBreakerThreshold {
		changed("circuit_breaker_threshold", strconv.Itoa(old.CircuitBreakerThreshold), strconv.Itoa(g.CircuitBreakerThreshold))
	}
	if old.HealthCheckCooldown != g.HealthCheckCooldown {
		changed("health_check_cooldown", old.HealthCheckCooldown.String(), g.HealthCheckCooldown.String())
	}
	return nil
}

func (r *Registry) GetGlobalConfig() types.GlobalConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.global.Copy()
}

func (r *Registry) GetBridge(id types.BridgeID) (types.BridgeConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bridges[id]
	if !ok {
		return types.BridgeConfig{}, fmt.Errorf("%w: bridge %s", types.ErrNotFound, id.Hex())
	}
	return e.config.Copy(), nil
}

// GetActiveBridges lists active bridge ids in registration order.
func (r *Registry) GetActiveBridges() []types.BridgeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]types.BridgeID, 0, len(r.order))
	for _, id := range r.order {
		if r.bridges[id].config.IsActive {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) GetBridgesByType(t types.BridgeType) []types.BridgeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []types.BridgeID
	for _, id := range r.order {
		cfg := r.bridges[id].config
		if cfg.IsActive && cfg.Type == t {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) BridgeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) IsImplementationWhitelisted(id types.BridgeID, impl common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bridges[id]
	if !ok {
		return false, fmt.Errorf("%w: bridge %s", types.ErrNotFound, id.Hex())
	}
	_, approved := e.approved[impl]
	return approved, nil
}

// ImplementationApproval reports whether impl is approved for the bridge
// and the version of that approval. Each whitelist call yields a new
// version, so revoking and approving again is visible to readers.
func (r *Registry) ImplementationApproval(id types.BridgeID, impl common.Address) (uint64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bridges[id]
	if !ok {
		return 0, false, fmt.Errorf("%w: bridge %s", types.ErrNotFound, id.Hex())
	}
	version, approved := e.approved[impl]
	return version, approved, nil
}

// GetImplementationHistory lists every implementation ever whitelisted, in
// approval order, revoked ones included.
func (r *Registry) GetImplementationHistory(id types.BridgeID) ([]common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bridges[id]
	if !ok {
		return nil, fmt.Errorf("%w: bridge %s", types.ErrNotFound, id.Hex())
	}
	return append([]common.Address(nil), e.history...), nil
}
