package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bridgesentinel/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
server:
  addr: ":9090"
  use_redis: true
  redis_host: localhost
nats:
  url: nats://localhost:4222
probe:
  timeout: 5s
  rpc_list:
    - https://eth.drpc.org
    - https://eth.llamarpc.com
  native_price_usd: 3000
  services:
    intent: http://intents.internal:8545
defaults:
  min_tvl_usd: 10000000
  health_check_cooldown: 1m
admins:
  root: [super_admin]
  ops: [registrar, monitor]
bridges:
  - name: Arbitrum Canonical
    type: canonical
    endpoint: "0x8315177aB297bA92A06054cE80a67Ed4DBd7ed3a"
    upgradeable: true
    implementation: "0x0000000000000000000000000000000000001001"
    age_months: 40
  - name: Stargate
    type: liquidity_pool
    endpoint: "0x296F55F8Fb28E498B858d0BcDA06D955B2Cb3f97"
    min_tvl_usd: 50000000
    known_exploits: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, DefaultRedisPort, cfg.Server.RedisPort)
	assert.Equal(t, 5*time.Second, cfg.Probe.Timeout)
	assert.Equal(t, DefaultScanInterval, cfg.Probe.ScanInterval)
	assert.Equal(t, []string{"https://eth.drpc.org", "https://eth.llamarpc.com"}, cfg.Probe.RPCList)
	assert.Equal(t, "sentinel", cfg.NATS.SubjectPrefix)
	assert.Equal(t, []string{"registrar", "monitor"}, cfg.Admins["ops"])
	assert.Equal(t, 0, cfg.NativePrice().Cmp(types.USDAmount(3000)))

	g, err := cfg.GlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, 0, g.DefaultMinTvlUsd.Cmp(types.USDAmount(10_000_000)))
	assert.Equal(t, time.Minute, g.HealthCheckCooldown)
	assert.Equal(t, DefaultBreakerThreshold, g.CircuitBreakerThreshold)
	assert.Equal(t, DefaultMaxInactivity, g.DefaultMaxInactivity)

	bridges, err := cfg.BridgeConfigs()
	require.NoError(t, err)
	require.Len(t, bridges, 2)
	assert.Equal(t, types.BridgeTypeCanonical, bridges[0].Type)
	assert.True(t, bridges[0].IsUpgradeable)
	assert.Equal(t, common.HexToAddress("0x1001"), bridges[0].CurrentImplementation)
	assert.Nil(t, bridges[0].MinTvlUsd)
	assert.Equal(t, types.BridgeTypeLiquidityPool, bridges[1].Type)
	assert.Equal(t, 0, bridges[1].MinTvlUsd.Cmp(types.USDAmount(50_000_000)))
	assert.True(t, bridges[1].HasKnownExploits)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_SERVER_REDIS_HOST", "redis.internal")
	t.Setenv("SENTINEL_PROBE_PARALLELISM", "32")
	t.Setenv("SENTINEL_DEFAULTS_CIRCUIT_BREAKER_THRESHOLD", "5")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "redis.internal", cfg.Server.RedisHost)
	assert.Equal(t, 32, cfg.Probe.Parallelism)
	assert.Equal(t, 5, cfg.Defaults.CircuitBreakerThreshold)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"no super admin": `
probe: {rpc_list: ["http://rpc"]}
admins: {ops: [registrar]}
`,
		"unknown role": `
probe: {rpc_list: ["http://rpc"]}
admins: {root: [super_admin, janitor]}
`,
		"no probe": `
admins: {root: [super_admin]}
`,
		"unknown service type": `
probe: {services: {ferry: "http://svc"}}
admins: {root: [super_admin]}
`,
		"bad bridge type": `
probe: {rpc_list: ["http://rpc"]}
admins: {root: [super_admin]}
bridges: [{name: x, type: ferry, endpoint: "0x8315177aB297bA92A06054cE80a67Ed4DBd7ed3a"}]
`,
		"bad endpoint": `
probe: {rpc_list: ["http://rpc"]}
admins: {root: [super_admin]}
bridges: [{name: x, endpoint: "nowhere"}]
`,
		"negative default": `
probe: {rpc_list: ["http://rpc"]}
admins: {root: [super_admin]}
defaults: {min_tvl_usd: -1}
`,
		"redis without host": `
server: {use_redis: true}
probe: {rpc_list: ["http://rpc"]}
admins: {root: [super_admin]}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestWatch_Reloads(t *testing.T) {
	path := writeConfig(t, validYAML)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Configuration, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Configuration) { changes <- cfg })
	}()

	updated := validYAML + "\nnotification_buffer: 42\n"
	// the watcher may not be registered yet, keep writing until it reports
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-changes:
			if cfg.NotificationBuffer != 42 {
				continue
			}
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
