package lending

import (
	"math/big"

	"tierlend/crypto"
	nativecommon "tierlend/native/common"
)

// DepositCollateral pledges amount of an allow-listed token. Funds move from
// the depositor's account into the vault and are recorded on the collateral
// ledger. While a liquidation flag is set the position is frozen and top-ups
// must go through RecoverFromLiquidation, which clears the flag when the
// deposit restores health.
func (e *Engine) DepositCollateral(addr crypto.Address, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !e.tokenAllowed(token) {
		return errTokenNotAllowed
	}
	status, err := e.liquidationStatus(addr)
	if err != nil {
		return err
	}
	if status.Flagged {
		return errPositionFrozen
	}
	if err := e.moveToken(addr, e.vaultAddress, token, amount); err != nil {
		return err
	}
	position, err := e.ensureCollateral(addr)
	if err != nil {
		return err
	}
	position.SetBalance(token, new(big.Int).Add(position.Balance(token), amount))
	if err := e.state.PutCollateral(position); err != nil {
		return err
	}
	e.emit(newCollateralEvent(EventTypeCollateralDeposited, addr, token, amount))
	return nil
}

// WithdrawCollateral releases pledged tokens back to the owner. Withdrawals
// are frozen while a liquidation flag is set, and with an active loan the
// remaining collateral must still satisfy the tier's required ratio at fresh
// oracle prices.
func (e *Engine) WithdrawCollateral(addr crypto.Address, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	status, err := e.liquidationStatus(addr)
	if err != nil {
		return err
	}
	if status.Flagged {
		return errPositionFrozen
	}
	position, err := e.ensureCollateral(addr)
	if err != nil {
		return err
	}
	if position.Balance(token).Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	loan, err := e.state.GetLoan(addr)
	if err != nil {
		return err
	}
	if loan != nil && loan.Active && loan.Outstanding.Sign() > 0 {
		remaining := position.Clone()
		remaining.SetBalance(token, new(big.Int).Sub(position.Balance(token), amount))
		value, err := e.collateralValue(remaining)
		if err != nil {
			return err
		}
		debt, err := e.debtValue(loan.Outstanding)
		if err != nil {
			return err
		}
		tier, err := e.tierByID(loan.Tier)
		if err != nil {
			return err
		}
		if !positionHealthy(value, debt, tier.CollateralRatioPct) {
			return errCollateralShortfall
		}
	}
	position.SetBalance(token, new(big.Int).Sub(position.Balance(token), amount))
	if err := e.moveToken(e.vaultAddress, addr, token, amount); err != nil {
		return err
	}
	if err := e.state.PutCollateral(position); err != nil {
		return err
	}
	e.emit(newCollateralEvent(EventTypeCollateralWithdrawn, addr, token, amount))
	return nil
}

// TotalCollateralValue prices the caller's pledged balances at fresh oracle
// quotes, in 1e18 USD terms.
func (e *Engine) TotalCollateralValue(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.ensureCollateral(addr)
	if err != nil {
		return nil, err
	}
	return e.collateralValue(position)
}

func (e *Engine) tierByID(id uint8) (RiskTier, error) {
	for _, tier := range e.tiers {
		if tier.ID == id {
			return tier, nil
		}
	}
	return RiskTier{}, errNoTierConfig
}
