// Package compliance defines the external KYC/AML oracle contract and a
// static implementation with tiered bet limits.
//
// The settlement core treats the oracle as a risk-classification black
// box: it consumes a tier limit and an allow/review/block verdict and
// implements none of the scoring heuristics itself.
package compliance

import (
	"context"
	"errors"
)

// Recommended actions returned by fraud screening.
const (
	ActionAllow  = "allow"
	ActionReview = "review"
	ActionBlock  = "block"
)

var (
	// ErrUnknownTier is returned for KYC levels outside 0-2.
	ErrUnknownTier = errors.New("compliance: unknown kyc tier")
)

// KycTier is the compliance-assigned tier for an identity.
type KycTier struct {
	Level        uint8  `json:"level"`
	MaxBetAmount uint64 `json:"max_bet_amount"` // lamports
}

// RiskAssessment is the fraud-screening verdict for one operation.
type RiskAssessment struct {
	RiskScore         uint32 `json:"risk_score"` // 0-100
	RecommendedAction string `json:"recommended_action"`
	Reason            string `json:"reason,omitempty"`
}

// Oracle is the external compliance collaborator. Implementations must
// keep MaxBetAmount monotonic in Level: a higher tier never has a lower
// limit.
type Oracle interface {
	// GetKycTier returns the tier and bet limit for an identity.
	GetKycTier(ctx context.Context, level uint8) (KycTier, error)

	// CheckFraudRisk scores one prospective operation. ActionBlock is a
	// hard rejection; ActionReview is surfaced to operators but does
	// not block the operation.
	CheckFraudRisk(ctx context.Context, authority string, amount uint64, kind string) (RiskAssessment, error)
}

// StaticOracle is the default Oracle: fixed tier limits and a simple
// amount-based risk score. Suitable for tests and single-region
// deployments without an external compliance vendor.
type StaticOracle struct {
	// TierLimits maps KYC level to max bet in lamports. Index = level.
	TierLimits [3]uint64

	// ReviewThreshold is the amount at or above which an operation is
	// flagged for review. Zero disables flagging.
	ReviewThreshold uint64

	// Blocklist contains authorities that are always blocked.
	Blocklist map[string]bool
}

// NewStaticOracle returns an oracle with the default tier ladder:
// level 0 → 1 SOL, level 1 → 10 SOL, level 2 → 100 SOL.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{
		TierLimits:      [3]uint64{1_000_000_000, 10_000_000_000, 100_000_000_000},
		ReviewThreshold: 50_000_000_000, // 50 SOL
	}
}

func (o *StaticOracle) GetKycTier(_ context.Context, level uint8) (KycTier, error) {
	if int(level) >= len(o.TierLimits) {
		return KycTier{}, ErrUnknownTier
	}
	return KycTier{Level: level, MaxBetAmount: o.TierLimits[level]}, nil
}

func (o *StaticOracle) CheckFraudRisk(_ context.Context, authority string, amount uint64, kind string) (RiskAssessment, error) {
	if o.Blocklist[authority] {
		return RiskAssessment{
			RiskScore:         100,
			RecommendedAction: ActionBlock,
			Reason:            "authority is blocklisted",
		}, nil
	}
	if o.ReviewThreshold > 0 && amount >= o.ReviewThreshold {
		return RiskAssessment{
			RiskScore:         60,
			RecommendedAction: ActionReview,
			Reason:            "amount above review threshold for " + kind,
		}, nil
	}
	return RiskAssessment{RiskScore: 10, RecommendedAction: ActionAllow}, nil
}
