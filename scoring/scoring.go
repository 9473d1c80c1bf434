package scoring

import (
	"fmt"
	"math/big"

	"bridgesentinel/types"
)

// Base scores by bridge architecture.
var baseScores = map[types.BridgeType]int{
	types.BridgeTypeCanonical:            95,
	types.BridgeTypeIntent:               88,
	types.BridgeTypeLightClientMessaging: 85,
	types.BridgeTypeLiquidityPool:        78,
}

const (
	defaultBaseScore = 75

	agePointsPerYear = 2
	maxAgeBonus      = 10

	highTvlBonus   = 4
	lowTvlPenalty  = 8
	exploitPenalty = 20
	implPenalty    = 30

	minScore = 1
	maxScore = 100
)

var (
	highTvlThreshold = types.USDAmount(1_000_000_000)
	lowTvlThreshold  = types.USDAmount(100_000_000)
)

// Input is everything the score depends on. ImplementationWhitelisted is
// only read when IsUpgradeable is set.
type Input struct {
	Type                      types.BridgeType
	AgeMonths                 int
	TvlUsd                    *big.Int
	HasKnownExploits          bool
	IsPaused                  bool
	IsQuarantined             bool
	IsUpgradeable             bool
	ImplementationWhitelisted bool
}

// Breakdown explains how a score was reached. Factor fields hold the
// adjustment actually applied to the running total.
type Breakdown struct {
	Score                 int      `json:"score"`
	RiskLevel             int      `json:"riskLevel"`
	RiskLabel             string   `json:"riskLabel"`
	Base                  int      `json:"base"`
	AgeBonus              int      `json:"ageBonus"`
	TvlAdjustment         int      `json:"tvlAdjustment"`
	ExploitPenalty        int      `json:"exploitPenalty"`
	ImplementationPenalty int      `json:"implementationPenalty"`
	ShortCircuited        bool     `json:"shortCircuited"`
	Warnings              []string `json:"warnings,omitempty"`
}

// Score returns the safety score, 0 only for paused or quarantined bridges,
// otherwise within [1,100].
func Score(in Input) int {
	return Assess(in).Score
}

// Assess runs the scoring steps in order. Each step applies to the running
// total, so the order matters.
func Assess(in Input) Breakdown {
	var b Breakdown

	b.Base = defaultBaseScore
	if base, ok := baseScores[in.Type]; ok {
		b.Base = base
	}
	score := b.Base

	b.AgeBonus = min((in.AgeMonths/12)*agePointsPerYear, maxAgeBonus)
	if b.AgeBonus < 0 {
		b.AgeBonus = 0
	}
	score += b.AgeBonus
	if in.AgeMonths < 12 {
		b.Warnings = append(b.Warnings, "protocol less than 1 year old")
	}

	tvl := in.TvlUsd
	if tvl == nil {
		tvl = new(big.Int)
	}
	switch {
	case tvl.Cmp(highTvlThreshold) >= 0:
		score, b.TvlAdjustment = adjust(score, highTvlBonus)
	case tvl.Cmp(lowTvlThreshold) < 0:
		score, b.TvlAdjustment = adjust(score, -lowTvlPenalty)
		b.Warnings = append(b.Warnings, fmt.Sprintf("low TVL: $%sM", new(big.Int).Div(tvl, types.USDAmount(1_000_000))))
	}

	if in.HasKnownExploits {
		score, b.ExploitPenalty = adjust(score, -exploitPenalty)
		b.Warnings = append(b.Warnings, "known exploit history")
	}

	if in.IsPaused || in.IsQuarantined {
		if in.IsPaused {
			b.Warnings = append(b.Warnings, "bridge is paused")
		}
		if in.IsQuarantined {
			b.Warnings = append(b.Warnings, "bridge is quarantined")
		}
		b.ShortCircuited = true
		b.Score = 0
		b.RiskLevel = ScoreToRiskLevel(0)
		b.RiskLabel = RiskLevelLabel(b.RiskLevel)
		return b
	}

	if in.IsUpgradeable && !in.ImplementationWhitelisted {
		score, b.ImplementationPenalty = adjust(score, -implPenalty)
		b.Warnings = append(b.Warnings, "running implementation is not whitelisted")
	}

	b.Score = clamp(score)
	b.RiskLevel = ScoreToRiskLevel(b.Score)
	b.RiskLabel = RiskLevelLabel(b.RiskLevel)
	return b
}

// adjust adds delta to score, flooring at minScore, and returns the new
// score together with the delta effectively applied.
func adjust(score, delta int) (int, int) {
	next := score + delta
	if next < minScore {
		next = minScore
	}
	return next, next - score
}

func clamp(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// ScoreToRiskLevel maps a score to 1 (safest) .. 5.
func ScoreToRiskLevel(score int) int {
	switch {
	case score >= 90:
		return 1
	case score >= 80:
		return 2
	case score >= 70:
		return 3
	case score >= 60:
		return 4
	default:
		return 5
	}
}

func RiskLevelLabel(level int) string {
	switch level {
	case 1:
		return "Excellent"
	case 2:
		return "Good"
	case 3:
		return "Moderate"
	case 4:
		return "Elevated"
	case 5:
		return "High Risk"
	default:
		return "Unknown"
	}
}

// MeetsMinimum reports whether score clears min. A zero score never does.
func MeetsMinimum(score, min int) bool {
	return score >= min && score > 0
}
