package lending

import "sort"

// RiskTier is one credit-score band together with its borrowing terms. Tiers
// are ordered best-first; the last tier is the sentinel "ineligible" band.
type RiskTier struct {
	ID                 uint8  `toml:"ID"`
	MinScore           uint64 `toml:"MinScore"`
	MaxScore           uint64 `toml:"MaxScore"`
	CollateralRatioPct uint64 `toml:"CollateralRatioPct"`
	RateModifierBps    int64  `toml:"RateModifierBps"`
	MaxLoanPct         uint64 `toml:"MaxLoanPct"`
	OriginationFeeBps  uint64 `toml:"OriginationFeeBps"`
	LatePenaltyBps     uint64 `toml:"LatePenaltyBps"`
	Eligible           bool   `toml:"Eligible"`
}

// DefaultTiers is the genesis five-band configuration. Score ranges partition
// [0,100]; the lowest band cannot borrow at all.
func DefaultTiers() []RiskTier {
	return []RiskTier{
		{ID: 1, MinScore: 90, MaxScore: 100, CollateralRatioPct: 110, RateModifierBps: -200, MaxLoanPct: 50, OriginationFeeBps: 25, LatePenaltyBps: 200, Eligible: true},
		{ID: 2, MinScore: 75, MaxScore: 89, CollateralRatioPct: 125, RateModifierBps: 0, MaxLoanPct: 35, OriginationFeeBps: 50, LatePenaltyBps: 400, Eligible: true},
		{ID: 3, MinScore: 50, MaxScore: 74, CollateralRatioPct: 150, RateModifierBps: 150, MaxLoanPct: 25, OriginationFeeBps: 75, LatePenaltyBps: 600, Eligible: true},
		{ID: 4, MinScore: 25, MaxScore: 49, CollateralRatioPct: 175, RateModifierBps: 300, MaxLoanPct: 10, OriginationFeeBps: 100, LatePenaltyBps: 800, Eligible: true},
		{ID: 5, MinScore: 0, MaxScore: 24, CollateralRatioPct: 200, RateModifierBps: 500, MaxLoanPct: 0, OriginationFeeBps: 0, LatePenaltyBps: 1000, Eligible: false},
	}
}

// ValidateTiers rejects configurations whose score ranges leave gaps in
// [0,100]. Classification must be total: every score lands in exactly one
// band, otherwise the defensive default-to-lowest fallback would become a
// normal path.
func ValidateTiers(tiers []RiskTier) error {
	if len(tiers) == 0 {
		return errNoTierConfig
	}
	ranges := make([]RiskTier, len(tiers))
	copy(ranges, tiers)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].MinScore < ranges[j].MinScore })
	if ranges[0].MinScore != 0 {
		return errTierGap
	}
	covered := ranges[0].MaxScore
	for _, tier := range ranges[1:] {
		if tier.MinScore > covered+1 {
			return errTierGap
		}
		if tier.MaxScore > covered {
			covered = tier.MaxScore
		}
	}
	if covered < 100 {
		return errTierGap
	}
	return nil
}

// ClassifyTier maps a credit score to its risk tier by first inclusive match
// in configured order. An unmatched score falls back to the last (most
// restrictive) tier; with a validated partition that branch is defensive
// only.
func ClassifyTier(tiers []RiskTier, score uint64) RiskTier {
	for _, tier := range tiers {
		if score >= tier.MinScore && score <= tier.MaxScore {
			return tier
		}
	}
	return tiers[len(tiers)-1]
}
