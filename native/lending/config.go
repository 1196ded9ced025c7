package lending

import "math/big"

// Params groups the governance-controlled limits enforced by the engine.
// Durations are seconds; percentages are whole percents unless the field name
// says basis points.
type Params struct {
	// GracePeriodSeconds is the mandatory delay between flagging a position
	// liquidatable and allowing execution.
	GracePeriodSeconds int64 `toml:"GracePeriodSeconds"`
	// SafetyBufferPct pads the partial-liquidation seize formula.
	SafetyBufferPct uint64 `toml:"SafetyBufferPct"`
	// LiquidationLTVPct is the loan-to-value percentage in the partial
	// seize denominator.
	LiquidationLTVPct uint64 `toml:"LiquidationLTVPct"`
	// MinSeizeAmount rejects dust-sized partial liquidations.
	MinSeizeAmount *big.Int `toml:"MinSeizeAmountWei"`

	// Lender ledger bounds and cooldowns.
	MinDeposit                 *big.Int `toml:"MinDepositWei"`
	MaxDeposit                 *big.Int `toml:"MaxDepositWei"`
	WithdrawCooldownSeconds    int64    `toml:"WithdrawCooldownSeconds"`
	EarlyWithdrawWindowSeconds int64    `toml:"EarlyWithdrawWindowSeconds"`
	EarlyWithdrawPenaltyPct    uint64   `toml:"EarlyWithdrawPenaltyPct"`
	// MaxIndexCatchUpDays caps the compounding loop per call; a longer gap
	// requires repeated roll-forward invocations.
	MaxIndexCatchUpDays int64 `toml:"MaxIndexCatchUpDays"`
	// CleanupDormancySeconds is how long a zero-balance position must sit
	// untouched before the cleanup sweep may reclaim it.
	CleanupDormancySeconds int64 `toml:"CleanupDormancySeconds"`
}

// DefaultParams returns the genesis parameter set: 3-day grace period, 10%
// safety buffer, 80% liquidation LTV, 7-day withdrawal cooldown and a 30-day
// early-withdrawal window at 5%.
func DefaultParams() Params {
	return Params{
		GracePeriodSeconds:         3 * secondsPerDay,
		SafetyBufferPct:            10,
		LiquidationLTVPct:          80,
		MinSeizeAmount:             big.NewInt(1),
		MinDeposit:                 big.NewInt(1),
		MaxDeposit:                 new(big.Int).Mul(wad, big.NewInt(1_000_000)),
		WithdrawCooldownSeconds:    7 * secondsPerDay,
		EarlyWithdrawWindowSeconds: 30 * secondsPerDay,
		EarlyWithdrawPenaltyPct:    5,
		MaxIndexCatchUpDays:        365,
		CleanupDormancySeconds:     90 * secondsPerDay,
	}
}

// EnsureDefaults populates nil big.Int fields so decoded TOML is safe to use.
func (p *Params) EnsureDefaults() {
	if p == nil {
		return
	}
	defaults := DefaultParams()
	if p.GracePeriodSeconds <= 0 {
		p.GracePeriodSeconds = defaults.GracePeriodSeconds
	}
	if p.LiquidationLTVPct == 0 {
		p.LiquidationLTVPct = defaults.LiquidationLTVPct
	}
	if p.MinSeizeAmount == nil {
		p.MinSeizeAmount = new(big.Int).Set(defaults.MinSeizeAmount)
	}
	if p.MinDeposit == nil {
		p.MinDeposit = new(big.Int).Set(defaults.MinDeposit)
	}
	if p.MaxDeposit == nil {
		p.MaxDeposit = new(big.Int).Set(defaults.MaxDeposit)
	}
	if p.WithdrawCooldownSeconds <= 0 {
		p.WithdrawCooldownSeconds = defaults.WithdrawCooldownSeconds
	}
	if p.EarlyWithdrawWindowSeconds <= 0 {
		p.EarlyWithdrawWindowSeconds = defaults.EarlyWithdrawWindowSeconds
	}
	if p.MaxIndexCatchUpDays <= 0 {
		p.MaxIndexCatchUpDays = defaults.MaxIndexCatchUpDays
	}
	if p.CleanupDormancySeconds <= 0 {
		p.CleanupDormancySeconds = defaults.CleanupDormancySeconds
	}
}

const (
	// installmentCount fixes every loan to a 12-payment schedule; borrow
	// amounts below it are rejected so integer division cannot produce a
	// zero installment.
	installmentCount int64 = 12
	// installmentPeriodSeconds is the 30-day gap between due dates.
	installmentPeriodSeconds int64 = 30 * secondsPerDay
	// lateGraceSeconds is how far past due a payment may arrive before the
	// annualized late penalty applies.
	lateGraceSeconds int64 = 7 * secondsPerDay
)
