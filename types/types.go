package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// USD amounts are kept in 18-decimal fixed point, same as WEI, so
// 10_000_000e18 is ten million dollars.
var USD = big.NewInt(1_000_000_000_000_000_000)

// USDAmount converts whole dollars to the fixed point representation.
func USDAmount(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), USD)
}

type BridgeID = common.Hash

type BridgeType int

const (
	BridgeTypeCanonical BridgeType = iota
	BridgeTypeIntent
	BridgeTypeLightClientMessaging
	BridgeTypeLiquidityPool
	BridgeTypeGenericMessaging
)

var bridgeTypeNames = map[BridgeType]string{
	BridgeTypeCanonical:            "canonical",
	BridgeTypeIntent:               "intent",
	BridgeTypeLightClientMessaging: "light_client_messaging",
	BridgeTypeLiquidityPool:        "liquidity_pool",
	BridgeTypeGenericMessaging:     "generic_messaging",
}

func (t BridgeType) String() string {
	if name, ok := bridgeTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseBridgeType accepts the String() form, case insensitive.
func ParseBridgeType(s string) (BridgeType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range bridgeTypeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// BridgeConfig is the canonical configuration of a registered bridge,
// owned by the registry
type BridgeConfig struct {
	ID                    BridgeID
	Name                  string
	Type                  BridgeType
	Endpoint              common.Address
	CurrentImplementation common.Address // zero when not upgradeable or unknown
	IsUpgradeable         bool
	IsActive              bool
	MinTvlUsd             *big.Int
	MaxInactivityPeriod   time.Duration
	AgeMonths             int
	HasKnownExploits      bool
	RegisteredAt          time.Time
}

// BridgeUpdate holds the mutable bridge fields. Zero endpoint, nil or zero
// min TVL, zero max inactivity and nil exploit flag leave the field as is.
type BridgeUpdate struct {
	Endpoint            common.Address
	MinTvlUsd           *big.Int
	MaxInactivityPeriod time.Duration
	HasKnownExploits    *bool
}

// Copy returns a deep copy, big.Int fields included.
func (c BridgeConfig) Copy() BridgeConfig {
	if c.MinTvlUsd != nil {
		c.MinTvlUsd = new(big.Int).Set(c.MinTvlUsd)
	}
	return c
}

// GlobalConfig holds service wide defaults. All fields must be positive.
type GlobalConfig struct {
	DefaultMinTvlUsd        *big.Int
	DefaultMaxInactivity    time.Duration
	CircuitBreakerThreshold int
	HealthCheckCooldown     time.Duration
}

func (g GlobalConfig) Copy() GlobalConfig {
	if g.DefaultMinTvlUsd != nil {
		g.DefaultMinTvlUsd = new(big.Int).Set(g.DefaultMinTvlUsd)
	}
	return g
}

type SecurityEventType int

const (
	EventPaused SecurityEventType = iota
	EventUnpaused
	EventUpgraded
	EventQuarantined
	EventReleased
)

func (t SecurityEventType) String() string {
	switch t {
	case EventPaused:
		return "paused"
	case EventUnpaused:
		return "unpaused"
	case EventUpgraded:
		return "upgraded"
	case EventQuarantined:
		return "quarantined"
	case EventReleased:
		return "released"
	default:
		return "unknown"
	}
}

// SecurityEvent is an immutable journal record
type SecurityEvent struct {
	ID               string
	BridgeID         BridgeID
	EventType        SecurityEventType
	AffectedEndpoint common.Address
	OldValue         string
	NewValue         string
	Timestamp        time.Time
	SequenceNumber   uint64
}

// QuarantineRecord is kept after release for audit, with Active cleared.
type QuarantineRecord struct {
	Active                    bool
	QuarantinedAt             time.Time
	QuarantinedBy             string
	Reason                    string
	RequiresMultiPartyRelease bool
	ReleaseApprovals          []string
	ReleasedAt                time.Time
	ReleasedBy                string
}

func (q QuarantineRecord) Copy() QuarantineRecord {
	q.ReleaseApprovals = append([]string(nil), q.ReleaseApprovals...)
	return q
}

type HealthStatus int

const (
	StatusUnknown HealthStatus = iota
	StatusOperational
	StatusPaused
	StatusLowLiquidity
	StatusInactive
	StatusQuarantined
	StatusUpgradePending
)

func (s HealthStatus) String() string {
	switch s {
	case StatusOperational:
		return "operational"
	case StatusPaused:
		return "paused"
	case StatusLowLiquidity:
		return "low_liquidity"
	case StatusInactive:
		return "inactive"
	case StatusQuarantined:
		return "quarantined"
	case StatusUpgradePending:
		return "upgrade_pending"
	default:
		return "unknown"
	}
}

// BridgeHealthReport is the cached outcome of the last successful check
type BridgeHealthReport struct {
	BridgeID                         BridgeID
	Status                           HealthStatus
	RiskScore                        int
	TvlUsd                           *big.Int
	LastActivityMarker               time.Time
	LastCheckTimestamp               time.Time
	IsPaused                         bool
	IsQuarantined                    bool
	CurrentImplementation            common.Address
	CurrentImplementationFingerprint common.Hash
}

func (r BridgeHealthReport) Copy() BridgeHealthReport {
	if r.TvlUsd != nil {
		r.TvlUsd = new(big.Int).Set(r.TvlUsd)
	}
	return r
}

type CircuitBreakerState struct {
	ConsecutiveFailures int
	IsOpen              bool
}
