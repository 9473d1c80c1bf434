package access

import (
	"testing"

	"bridgesentinel/notify"
	"bridgesentinel/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequire(t *testing.T) {
	c := New(nil, "root")
	require.NoError(t, c.Grant(As("root"), "alice", RoleRegistrar))

	assert.NoError(t, c.Require(As("alice"), RoleRegistrar))
	assert.ErrorIs(t, c.Require(As("alice"), RoleConfigAdmin), types.ErrUnauthorized)
	assert.ErrorIs(t, c.Require(As("bob"), RoleRegistrar), types.ErrUnauthorized)
	assert.ErrorIs(t, c.Require(Caller{}, RoleRegistrar), types.ErrUnauthorized)
}

func TestRolesAreDisjoint(t *testing.T) {
	c := New(nil, "root")
	require.NoError(t, c.Grant(As("root"), "sec", RoleQuarantine))

	assert.ErrorIs(t, c.Require(As("root"), RoleRelease), types.ErrUnauthorized)
	assert.ErrorIs(t, c.Require(As("sec"), RoleRelease), types.ErrUnauthorized)
	assert.Equal(t, []Role{RoleQuarantine}, c.Roles("sec"))
}

func TestGrantRevoke(t *testing.T) {
	rec := &notify.Recorder{}
	c := New(rec, "root")

	assert.ErrorIs(t, c.Grant(As("alice"), "bob", RoleMonitor), types.ErrUnauthorized)
	assert.ErrorIs(t, c.Grant(As("root"), "bob", Role("nope")), types.ErrValidation)
	assert.ErrorIs(t, c.Grant(As("root"), "", RoleMonitor), types.ErrValidation)

	require.NoError(t, c.Grant(As("root"), "bob", RoleMonitor))
	assert.ErrorIs(t, c.Grant(As("root"), "bob", RoleMonitor), types.ErrInvalidState)
	assert.True(t, c.HasRole("bob", RoleMonitor))

	require.NoError(t, c.Revoke(As("root"), "bob", RoleMonitor))
	assert.False(t, c.HasRole("bob", RoleMonitor))
	assert.ErrorIs(t, c.Revoke(As("root"), "bob", RoleMonitor), types.ErrInvalidState)

	assert.Equal(t, []notify.Kind{notify.RoleGranted, notify.RoleRevoked}, rec.Kinds())
}

func TestRevokeLastSuperAdmin(t *testing.T) {
	c := New(nil, "root")
	assert.ErrorIs(t, c.Revoke(As("root"), "root", RoleSuperAdmin), types.ErrInvalidState)

	require.NoError(t, c.Grant(As("root"), "root2", RoleSuperAdmin))
	assert.NoError(t, c.Revoke(As("root2"), "root", RoleSuperAdmin))
}

func TestEmergencyStop(t *testing.T) {
	c := New(nil, "root")
	require.NoError(t, c.Grant(As("root"), "alice", RoleRegistrar))

	assert.ErrorIs(t, c.Pause(As("alice")), types.ErrUnauthorized)
	require.NoError(t, c.Pause(As("root")))
	assert.True(t, c.Paused())
	assert.ErrorIs(t, c.Pause(As("root")), types.ErrInvalidState)

	assert.ErrorIs(t, c.RequireActive(As("alice"), RoleRegistrar), types.ErrServicePaused)
	assert.NoError(t, c.Require(As("alice"), RoleRegistrar))

	require.NoError(t, c.Unpause(As("root")))
	assert.NoError(t, c.RequireActive(As("alice"), RoleRegistrar))
	assert.ErrorIs(t, c.Unpause(As("root")), types.ErrInvalidState)
}
