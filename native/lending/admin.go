package lending

import (
	"math/big"

	"tierlend/crypto"
	"tierlend/native/permissions"
	"tierlend/native/rates"
)

// Governance entry points. Unlike the wiring setters, these are gated to the
// admin role and are the only mutation path once the engine is live.

func (e *Engine) requireAdmin(caller crypto.Address) error {
	if e == nil {
		return errNilState
	}
	if e.roles == nil {
		return permissions.ErrNilState
	}
	return e.roles.RequireRole(caller, permissions.RoleAdmin)
}

// UpdateParams replaces the protocol limits.
func (e *Engine) UpdateParams(caller crypto.Address, params Params) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	params.EnsureDefaults()
	e.params = params
	return nil
}

// UpdateTiers replaces the risk tier table after range validation.
func (e *Engine) UpdateTiers(caller crypto.Address, tiers []RiskTier) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	return e.SetTiers(tiers)
}

// UpdateRateModel swaps the interest rate model coefficients.
func (e *Engine) UpdateRateModel(caller crypto.Address, model *rates.Model) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if model == nil {
		return errNoRateModel
	}
	if err := model.Validate(); err != nil {
		return err
	}
	e.rateModel = model.Clone()
	return nil
}

// WithdrawReserve moves accumulated fee revenue from the reserve account to
// the recipient. The fee accrual counters are left untouched so the lifetime
// totals remain readable after a sweep.
func (e *Engine) WithdrawReserve(caller, recipient crypto.Address, amount *big.Int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if recipient.IsZero() {
		return errInvalidRecipient
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := e.moveToken(e.reserveAddress, recipient, e.principalToken, amount); err != nil {
		return err
	}
	e.emit(newReserveWithdrawnEvent(recipient, amount))
	return nil
}

// UpdateCollateralTokens replaces the collateral allow-list.
func (e *Engine) UpdateCollateralTokens(caller crypto.Address, tokens []string) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.SetCollateralTokens(tokens)
	return nil
}
