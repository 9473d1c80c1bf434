package handlers

import (
	"math/big"
	"time"

	"bridgesentinel/scoring"
	"bridgesentinel/types"

	"github.com/ethereum/go-ethereum/common"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type APIStateResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	Paused        bool   `json:"paused"`
	Bridges       int    `json:"bridges"`
	ActiveBridges int    `json:"activeBridges"`
	Events        int    `json:"events"`
	LastSequence  uint64 `json:"lastSequence"`
}

type BridgeResponse struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Type                  string   `json:"type"`
	Endpoint              string   `json:"endpoint"`
	CurrentImplementation string   `json:"currentImplementation,omitempty"`
	ImplementationHistory []string `json:"implementationHistory,omitempty"`
	IsUpgradeable         bool     `json:"isUpgradeable"`
	IsActive              bool     `json:"isActive"`
	MinTvlUsd             string   `json:"minTvlUsd"`
	MaxInactivity         string   `json:"maxInactivity"`
	AgeMonths             int      `json:"ageMonths"`
	HasKnownExploits      bool     `json:"hasKnownExploits"`
	RegisteredAt          string   `json:"registeredAt"`
}

type GlobalConfigResponse struct {
	DefaultMinTvlUsd        string `json:"defaultMinTvlUsd"`
	DefaultMaxInactivity    string `json:"defaultMaxInactivity"`
	CircuitBreakerThreshold int    `json:"circuitBreakerThreshold"`
	HealthCheckCooldown     string `json:"healthCheckCooldown"`
}

type HealthResponse struct {
	BridgeID                         string             `json:"bridgeId"`
	Status                           string             `json:"status"`
	RiskScore                        int                `json:"riskScore"`
	RiskLevel                        int                `json:"riskLevel"`
	RiskLabel                        string             `json:"riskLabel"`
	TvlUsd                           string             `json:"tvlUsd,omitempty"`
	LastActivityMarker               string             `json:"lastActivityMarker,omitempty"`
	LastCheckTimestamp               string             `json:"lastCheckTimestamp,omitempty"`
	IsPaused                         bool               `json:"isPaused"`
	IsQuarantined                    bool               `json:"isQuarantined"`
	CurrentImplementation            string             `json:"currentImplementation,omitempty"`
	CurrentImplementationFingerprint string             `json:"currentImplementationFingerprint,omitempty"`
	Assessment                       *scoring.Breakdown `json:"assessment,omitempty"`
}

type SafeResponse struct {
	BridgeID string `json:"bridgeId"`
	Safe     bool   `json:"safe"`
	Reason   string `json:"reason"`
	MinScore int    `json:"minScore"`
}

type BreakerResponse struct {
	BridgeID            string `json:"bridgeId"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	IsOpen              bool   `json:"isOpen"`
}

type EventResponse struct {
	ID               string `json:"id"`
	SequenceNumber   uint64 `json:"sequenceNumber"`
	EventType        string `json:"eventType"`
	AffectedEndpoint string `json:"affectedEndpoint"`
	OldValue         string `json:"oldValue,omitempty"`
	NewValue         string `json:"newValue,omitempty"`
	Timestamp        string `json:"timestamp"`
}

type QuarantineResponse struct {
	BridgeID                  string   `json:"bridgeId"`
	Quarantined               bool     `json:"quarantined"`
	QuarantinedAt             string   `json:"quarantinedAt,omitempty"`
	QuarantinedBy             string   `json:"quarantinedBy,omitempty"`
	Reason                    string   `json:"reason,omitempty"`
	RequiresMultiPartyRelease bool     `json:"requiresMultiPartyRelease"`
	ReleaseApprovals          []string `json:"releaseApprovals,omitempty"`
	ReleasedAt                string   `json:"releasedAt,omitempty"`
	ReleasedBy                string   `json:"releasedBy,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func bridgeResponse(cfg types.BridgeConfig) BridgeResponse {
	res := BridgeResponse{
		ID:               cfg.ID.Hex(),
		Name:             cfg.Name,
		Type:             cfg.Type.String(),
		Endpoint:         cfg.Endpoint.Hex(),
		IsUpgradeable:    cfg.IsUpgradeable,
		IsActive:         cfg.IsActive,
		MinTvlUsd:        formatAmount(cfg.MinTvlUsd),
		MaxInactivity:    cfg.MaxInactivityPeriod.String(),
		AgeMonths:        cfg.AgeMonths,
		HasKnownExploits: cfg.HasKnownExploits,
		RegisteredAt:     formatTime(cfg.RegisteredAt),
	}
	if cfg.IsUpgradeable {
		res.CurrentImplementation = cfg.CurrentImplementation.Hex()
	}
	return res
}

func healthResponse(r types.BridgeHealthReport) HealthResponse {
	level := scoring.ScoreToRiskLevel(r.RiskScore)
	res := HealthResponse{
		BridgeID:           r.BridgeID.Hex(),
		Status:             r.Status.String(),
		RiskScore:          r.RiskScore,
		RiskLevel:          level,
		RiskLabel:          scoring.RiskLevelLabel(level),
		TvlUsd:             formatAmount(r.TvlUsd),
		LastActivityMarker: formatTime(r.LastActivityMarker),
		LastCheckTimestamp: formatTime(r.LastCheckTimestamp),
		IsPaused:           r.IsPaused,
		IsQuarantined:      r.IsQuarantined,
	}
	if r.CurrentImplementation != (common.Address{}) {
		res.CurrentImplementation = r.CurrentImplementation.Hex()
	}
	if r.CurrentImplementationFingerprint != (common.Hash{}) {
		res.CurrentImplementationFingerprint = r.CurrentImplementationFingerprint.Hex()
	}
	return res
}

func eventResponse(ev types.SecurityEvent) EventResponse {
	return EventResponse{
		ID:               ev.ID,
		SequenceNumber:   ev.SequenceNumber,
		EventType:        ev.EventType.String(),
		AffectedEndpoint: ev.AffectedEndpoint.Hex(),
		OldValue:         ev.OldValue,
		NewValue:         ev.NewValue,
		Timestamp:        formatTime(ev.Timestamp),
	}
}
