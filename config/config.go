package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"bridgesentinel/access"
	"bridgesentinel/types"

	"github.com/ethereum/go-ethereum/common"
)

type Configuration struct {
	// Server config
	Server struct {
		Addr      string `yaml:"addr" envconfig:"addr"`
		UseSSL    bool   `yaml:"ssl" envconfig:"ssl"`
		UseRedis  bool   `yaml:"use_redis" envconfig:"use_redis"`
		RedisPort int    `yaml:"redis_port" envconfig:"redis_port"`
		RedisHost string `yaml:"redis_host" envconfig:"redis_host"`
		LogDir    string `yaml:"log_dir" envconfig:"log_dir"`
	} `yaml:"server"`
	// notifications are published here when URL is set
	NATS struct {
		URL           string `yaml:"url" envconfig:"url"`
		SubjectPrefix string `yaml:"subject_prefix" envconfig:"subject_prefix"`
	} `yaml:"nats"`
	Probe struct {
		Timeout      time.Duration `yaml:"timeout" envconfig:"timeout"`
		Parallelism  int           `yaml:"parallelism" envconfig:"parallelism"`
		ScanInterval time.Duration `yaml:"scan_interval" envconfig:"scan_interval"`
		RPCList      []string      `yaml:"rpc_list" envconfig:"rpc_list"`
		// whole dollars per native token, for the balance based TVL estimate
		NativePriceUsd int64 `yaml:"native_price_usd" envconfig:"native_price_usd"`
		// bridge type -> JSON-RPC service url, used instead of the chain probe
		Services map[string]string `yaml:"services" ignored:"true"`
	} `yaml:"probe"`
	Defaults struct {
		MinTvlUsd               int64         `yaml:"min_tvl_usd" envconfig:"min_tvl_usd"`
		MaxInactivity           time.Duration `yaml:"max_inactivity" envconfig:"max_inactivity"`
		CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold" envconfig:"circuit_breaker_threshold"`
		HealthCheckCooldown     time.Duration `yaml:"health_check_cooldown" envconfig:"health_check_cooldown"`
	} `yaml:"defaults"`
	// identity -> roles granted at startup
	Admins  map[string][]string `yaml:"admins" ignored:"true"`
	Bridges []BridgeSeed        `yaml:"bridges" ignored:"true"`
	// how many notifications the /notifications endpoint keeps
	NotificationBuffer int `yaml:"notification_buffer" envconfig:"notification_buffer"`
}

// BridgeSeed is a bridge registered at startup.
type BridgeSeed struct {
	Name           string        `yaml:"name"`
	Type           string        `yaml:"type"`
	Endpoint       string        `yaml:"endpoint"`
	Implementation string        `yaml:"implementation"`
	Upgradeable    bool          `yaml:"upgradeable"`
	MinTvlUsd      int64         `yaml:"min_tvl_usd"`
	MaxInactivity  time.Duration `yaml:"max_inactivity"`
	AgeMonths      int           `yaml:"age_months"`
	KnownExploits  bool          `yaml:"known_exploits"`
}

var Config Configuration

const (
	DefaultAddr               = ":8080"
	DefaultRedisPort          = 6379
	DefaultSubjectPrefix      = "sentinel"
	DefaultProbeTimeout       = 10 * time.Second
	DefaultParallelism        = 8
	DefaultScanInterval       = time.Minute
	DefaultMinTvlUsd          = 10_000_000
	DefaultMaxInactivity      = 24 * time.Hour
	DefaultBreakerThreshold   = 3
	DefaultCooldown           = 5 * time.Minute
	DefaultNotificationBuffer = 500
)

func applyDefaults(cfg *Configuration) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
		if cfg.Server.UseSSL {
			cfg.Server.Addr = ":443"
		}
	}
	if cfg.Server.RedisPort == 0 {
		cfg.Server.RedisPort = DefaultRedisPort
	}
	if cfg.Server.LogDir == "" {
		cfg.Server.LogDir = "logs"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Probe.Timeout == 0 {
		cfg.Probe.Timeout = DefaultProbeTimeout
	}
	if cfg.Probe.Parallelism == 0 {
		cfg.Probe.Parallelism = DefaultParallelism
	}
	if cfg.Probe.ScanInterval == 0 {
		cfg.Probe.ScanInterval = DefaultScanInterval
	}
	if cfg.Defaults.MinTvlUsd == 0 {
		cfg.Defaults.MinTvlUsd = DefaultMinTvlUsd
	}
	if cfg.Defaults.MaxInactivity == 0 {
		cfg.Defaults.MaxInactivity = DefaultMaxInactivity
	}
	if cfg.Defaults.CircuitBreakerThreshold == 0 {
		cfg.Defaults.CircuitBreakerThreshold = DefaultBreakerThreshold
	}
	if cfg.Defaults.HealthCheckCooldown == 0 {
		cfg.Defaults.HealthCheckCooldown = DefaultCooldown
	}
	if cfg.NotificationBuffer == 0 {
		cfg.NotificationBuffer = DefaultNotificationBuffer
	}
}

// Validate checks the fields Load cannot default.
func (c *Configuration) Validate() error {
	if c.Probe.Timeout < 0 || c.Probe.Parallelism < 0 || c.Probe.ScanInterval < 0 {
		return fmt.Errorf("probe: timeout, parallelism and scan_interval must be positive")
	}
	if c.Server.UseRedis && c.Server.RedisHost == "" {
		return fmt.Errorf("server: redis_host is required when use_redis is set")
	}
	if _, err := c.GlobalConfig(); err != nil {
		return err
	}
	if len(c.Probe.RPCList) == 0 && len(c.Probe.Services) == 0 {
		return fmt.Errorf("probe: rpc_list or services must be set")
	}
	for name := range c.Probe.Services {
		if _, ok := types.ParseBridgeType(name); !ok {
			return fmt.Errorf("probe.services: unknown bridge type %q", name)
		}
	}

	superAdmins := 0
	for id, roles := range c.Admins {
		for _, name := range roles {
			role, ok := access.ParseRole(name)
			if !ok {
				return fmt.Errorf("admins.%s: unknown role %q", id, name)
			}
			if role == access.RoleSuperAdmin {
				superAdmins++
			}
		}
	}
	if superAdmins == 0 {
		return fmt.Errorf("admins: at least one %s is required", access.RoleSuperAdmin)
	}

	_, err := c.BridgeConfigs()
	return err
}

// GlobalConfig converts the defaults section.
func (c *Configuration) GlobalConfig() (types.GlobalConfig, error) {
	d := c.Defaults
	if d.MinTvlUsd <= 0 || d.MaxInactivity <= 0 || d.CircuitBreakerThreshold <= 0 || d.HealthCheckCooldown <= 0 {
		return types.GlobalConfig{}, fmt.Errorf("defaults: all values must be positive")
	}
	return types.GlobalConfig{
		DefaultMinTvlUsd:        types.USDAmount(d.MinTvlUsd),
		DefaultMaxInactivity:    d.MaxInactivity,
		CircuitBreakerThreshold: d.CircuitBreakerThreshold,
		HealthCheckCooldown:     d.HealthCheckCooldown,
	}, nil
}

func (c *Configuration) NativePrice() *big.Int {
	if c.Probe.NativePriceUsd <= 0 {
		return nil
	}
	return types.USDAmount(c.Probe.NativePriceUsd)
}

// BridgeConfigs converts the seeds; zero values are left for the registry
// to default.
func (c *Configuration) BridgeConfigs() ([]types.BridgeConfig, error) {
	out := make([]types.BridgeConfig, 0, len(c.Bridges))
	for i, seed := range c.Bridges {
		bt := types.BridgeTypeGenericMessaging
		if seed.Type != "" {
			var ok bool
			if bt, ok = types.ParseBridgeType(seed.Type); !ok {
				return nil, fmt.Errorf("bridges[%d]: unknown type %q", i, seed.Type)
			}
		}
		if !common.IsHexAddress(seed.Endpoint) {
			return nil, fmt.Errorf("bridges[%d]: bad endpoint %q", i, seed.Endpoint)
		}
		cfg := types.BridgeConfig{
			Name:                strings.TrimSpace(seed.Name),
			Type:                bt,
			Endpoint:            common.HexToAddress(seed.Endpoint),
			IsUpgradeable:       seed.Upgradeable,
			MaxInactivityPeriod: seed.MaxInactivity,
			AgeMonths:           seed.AgeMonths,
			HasKnownExploits:    seed.KnownExploits,
		}
		if seed.MinTvlUsd > 0 {
			cfg.MinTvlUsd = types.USDAmount(seed.MinTvlUsd)
		}
		if seed.Implementation != "" {
			if !common.IsHexAddress(seed.Implementation) {
				return nil, fmt.Errorf("bridges[%d]: bad implementation %q", i, seed.Implementation)
			}
			cfg.CurrentImplementation = common.HexToAddress(seed.Implementation)
		}
		out = append(out, cfg)
	}
	return out, nil
}
