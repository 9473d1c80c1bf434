package access

import (
	"fmt"
	"sort"
	"sync"

	"bridgesentinel/notify"
	"bridgesentinel/types"

	"github.com/ethereum/go-ethereum/common"
)

type Role string

const (
	RoleSuperAdmin          Role = "super_admin"
	RoleRegistrar           Role = "registrar"
	RoleImplementationAdmin Role = "implementation_admin"
	RoleConfigAdmin         Role = "config_admin"
	RoleMonitor             Role = "monitor"
	RoleQuarantine          Role = "quarantine"
	RoleRelease             Role = "release"
)

var AllRoles = []Role{
	RoleSuperAdmin,
	RoleRegistrar,
	RoleImplementationAdmin,
	RoleConfigAdmin,
	RoleMonitor,
	RoleQuarantine,
	RoleRelease,
}

func ParseRole(s string) (Role, bool) {
	for _, r := range AllRoles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

// Caller identifies who performs a mutating call, it is passed explicitly
// with every operation.
type Caller struct {
	ID string
}

func As(id string) Caller {
	return Caller{ID: id}
}

// Control holds role grants and the service wide emergency stop.
// Roles are disjoint, super admin does not imply any other role.
type Control struct {
	mu       sync.RWMutex
	grants   map[string]map[Role]bool
	paused   bool
	notifier notify.Notifier
}

func New(notifier notify.Notifier, superAdmins ...string) *Control {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	c := &Control{
		grants:   make(map[string]map[Role]bool),
		notifier: notifier,
	}
	for _, id := range superAdmins {
		c.grantLocked(id, RoleSuperAdmin)
	}
	return c
}

func (c *Control) grantLocked(id string, role Role) bool {
	roles, ok := c.grants[id]
	if !ok {
		roles = make(map[Role]bool)
		c.grants[id] = roles
	}
	if roles[role] {
		return false
	}
	roles[role] = true
	return true
}

func (c *Control) hasLocked(id string, role Role) bool {
	return c.grants[id][role]
}

// Require fails with ErrUnauthorized unless caller holds role.
func (c *Control) Require(caller Caller, role Role) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if caller.ID == "" || !c.hasLocked(caller.ID, role) {
		return fmt.Errorf("%w: %q lacks role %s", types.ErrUnauthorized, caller.ID, role)
	}
	return nil
}

// RequireActive is Require plus the emergency stop check.
func (c *Control) RequireActive(caller Caller, role Role) error {
	if err := c.Require(caller, role); err != nil {
		return err
	}
	return c.RequireNotPaused()
}

func (c *Control) RequireNotPaused() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.paused {
		return types.ErrServicePaused
	}
	return nil
}

func (c *Control) HasRole(id string, role Role) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasLocked(id, role)
}

// Roles lists the roles granted to id, sorted.
func (c *Control) Roles(id string) []Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	roles := make([]Role, 0, len(c.grants[id]))
	for r := range c.grants[id] {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

func (c *Control) Grant(caller Caller, id string, role Role) error {
	if id == "" {
		return fmt.Errorf("%w: empty identity", types.ErrValidation)
	}
	if _, ok := ParseRole(string(role)); !ok {
		return fmt.Errorf("%w: unknown role %q", types.ErrValidation, role)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLocked(caller.ID, RoleSuperAdmin) {
		return fmt.Errorf("%w: %q lacks role %s", types.ErrUnauthorized, caller.ID, RoleSuperAdmin)
	}
	if !c.grantLocked(id, role) {
		return fmt.Errorf("%w: %q already holds %s", types.ErrInvalidState, id, role)
	}
	c.notifier.Notify(notify.New(notify.RoleGranted, common.Hash{}, "identity", id, "role", string(role), "by", caller.ID))
	return nil
}

func (c *Control) Revoke(caller Caller, id string, role Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLocked(caller.ID, RoleSuperAdmin) {
		return fmt.Errorf("%w: %q lacks role %s", types.ErrUnauthorized, caller.ID, RoleSuperAdmin)
	}
	if !c.hasLocked(id, role) {
		return fmt.Errorf("%w: %q does not hold %s", types.ErrInvalidState, id, role)
	}
	if role == RoleSuperAdmin && c.countLocked(RoleSuperAdmin) == 1 {
		return fmt.Errorf("%w: cannot revoke the last super admin", types.ErrInvalidState)
	}
	delete(c.grants[id], role)
	c.notifier.Notify(notify.New(notify.RoleRevoked, common.Hash{}, "identity", id, "role", string(role), "by", caller.ID))
	return nil
}

func (c *Control) countLocked(role Role) int {
	n := 0
	for _, roles := range c.grants {
		if roles[role] {
			n++
		}
	}
	return n
}

// Pause is the emergency stop, independent of per-bridge pause tracking.
func (c *Control) Pause(caller Caller) error {
	return c.setPaused(caller, true)
}

func (c *Control) Unpause(caller Caller) error {
	return c.setPaused(caller, false)
}

func (c *Control) setPaused(caller Caller, paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLocked(caller.ID, RoleSuperAdmin) {
		return fmt.Errorf("%w: %q lacks role %s", types.ErrUnauthorized, caller.ID, RoleSuperAdmin)
	}
	if c.paused == paused {
		return fmt.Errorf("%w: service paused=%t already", types.ErrInvalidState, paused)
	}
	c.paused = paused

	kind := notify.ServiceUnpaused
	if paused {
		kind = notify.ServicePaused
	}
	c.notifier.Notify(notify.New(kind, common.Hash{}, "by", caller.ID))
	return nil
}

func (c *Control) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}
