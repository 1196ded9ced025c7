package lending

import (
	"math/big"
	"strconv"

	"tierlend/crypto"
	nativecommon "tierlend/native/common"
	"tierlend/native/permissions"
)

// CheckCollateralization reports whether the borrower's pledged collateral
// covers their outstanding debt at the loan tier's required ratio, using
// fresh oracle prices.
func (e *Engine) CheckCollateralization(addr crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	loan, err := e.state.GetLoan(addr)
	if err != nil {
		return false, err
	}
	if loan == nil || !loan.Active || loan.Outstanding.Sign() == 0 {
		return true, nil
	}
	position, err := e.ensureCollateral(addr)
	if err != nil {
		return false, err
	}
	value, err := e.collateralValue(position)
	if err != nil {
		return false, err
	}
	debt, err := e.debtValue(loan.Outstanding)
	if err != nil {
		return false, err
	}
	tier, err := e.tierByID(loan.Tier)
	if err != nil {
		return false, err
	}
	return positionHealthy(value, debt, tier.CollateralRatioPct), nil
}

// StartLiquidation flags an under-collateralized position and starts the
// grace timer. Healthy positions and already-flagged positions are rejected.
func (e *Engine) StartLiquidation(addr crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	status, err := e.liquidationStatus(addr)
	if err != nil {
		return err
	}
	if status.Flagged {
		return errAlreadyFlagged
	}
	healthy, err := e.CheckCollateralization(addr)
	if err != nil {
		return err
	}
	if healthy {
		return errNotLiquidatable
	}
	status.Flagged = true
	status.StartedAt = e.nowFn()
	if err := e.state.PutLiquidation(addr, status); err != nil {
		return err
	}
	e.emit(newLiquidationEvent(EventTypeLiquidationStarted, addr, map[string]string{
		"startedAt": strconv.FormatInt(status.StartedAt, 10),
	}))
	return nil
}

// oraclesHealthy is the liquidation circuit breaker: every allow-listed
// collateral token's feed must report a fresh round or nothing is seized.
func (e *Engine) oraclesHealthy() error {
	if e.prices == nil {
		return errNoPriceSource
	}
	for _, token := range e.collateralTokens {
		if !e.prices.Healthy(token) {
			return errOracleUnhealthy
		}
	}
	return nil
}

// ExecuteLiquidation seizes the borrower's entire collateral position after
// the grace period, transferring it to the liquidator and closing the loan.
// The forgiven debt is counted as repaid in the aggregate counters.
func (e *Engine) ExecuteLiquidation(liquidator, addr crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, status, err := e.liquidationReady(addr)
	if err != nil {
		return err
	}
	position, err := e.ensureCollateral(addr)
	if err != nil {
		return err
	}
	for _, token := range e.collateralTokens {
		balance := position.Balance(token)
		if balance.Sign() == 0 {
			continue
		}
		if err := e.moveToken(e.vaultAddress, liquidator, token, balance); err != nil {
			return err
		}
		position.SetBalance(token, big.NewInt(0))
	}
	if err := e.state.PutCollateral(position); err != nil {
		return err
	}
	if err := e.closeLiquidatedLoan(addr, loan, status); err != nil {
		return err
	}
	e.emit(newLiquidationEvent(EventTypeLiquidationExecuted, addr, map[string]string{
		"liquidator": liquidator.String(),
		"mode":       "full",
		"debt":       bigAttr(loan.Principal),
	}))
	return nil
}

// ExecutePartialLiquidation seizes a single collateral token, sized to cover
// the debt plus the safety buffer at the configured liquidation LTV. The
// seizure is clamped to the pledged balance and rejected below the minimum
// seize floor. The borrower's entire debt is cleared regardless of how much
// was actually seized.
func (e *Engine) ExecutePartialLiquidation(liquidator, addr crypto.Address, token string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.tokenAllowed(token) {
		return errTokenNotAllowed
	}
	loan, status, err := e.liquidationReady(addr)
	if err != nil {
		return err
	}
	quote, err := e.prices.LatestPrice(token)
	if err != nil {
		return err
	}
	seize := seizeAmount(loan.Outstanding, e.params.SafetyBufferPct, e.params.LiquidationLTVPct, quote.Price)
	position, err := e.ensureCollateral(addr)
	if err != nil {
		return err
	}
	seize = minBig(seize, position.Balance(token))
	if seize.Cmp(e.params.MinSeizeAmount) < 0 {
		return errSeizeBelowMinimum
	}
	if err := e.moveToken(e.vaultAddress, liquidator, token, seize); err != nil {
		return err
	}
	position.SetBalance(token, new(big.Int).Sub(position.Balance(token), seize))
	if err := e.state.PutCollateral(position); err != nil {
		return err
	}
	if err := e.closeLiquidatedLoan(addr, loan, status); err != nil {
		return err
	}
	e.emit(newLiquidationEvent(EventTypeLiquidationExecuted, addr, map[string]string{
		"liquidator": liquidator.String(),
		"mode":       "partial",
		"token":      token,
		"seized":     bigAttr(seize),
	}))
	return nil
}

// RecoverFromLiquidation lets a flagged borrower pledge additional collateral
// through the freeze. If the position returns to health the flag clears
// without penalty; otherwise the deposit stays and the flag remains.
func (e *Engine) RecoverFromLiquidation(addr crypto.Address, token string, amount *big.Int) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return false, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return false, errInvalidAmount
	}
	if !e.tokenAllowed(token) {
		return false, errTokenNotAllowed
	}
	status, err := e.liquidationStatus(addr)
	if err != nil {
		return false, err
	}
	if !status.Flagged {
		return false, errNotFlagged
	}
	if err := e.moveToken(addr, e.vaultAddress, token, amount); err != nil {
		return false, err
	}
	position, err := e.ensureCollateral(addr)
	if err != nil {
		return false, err
	}
	position.SetBalance(token, new(big.Int).Add(position.Balance(token), amount))
	if err := e.state.PutCollateral(position); err != nil {
		return false, err
	}
	healthy, err := e.CheckCollateralization(addr)
	if err != nil {
		return false, err
	}
	if !healthy {
		return false, nil
	}
	status.Flagged = false
	status.StartedAt = 0
	if err := e.state.PutLiquidation(addr, status); err != nil {
		return false, err
	}
	e.emit(newLiquidationEvent(EventTypeLiquidationRecovered, addr, map[string]string{
		"token":  token,
		"amount": bigAttr(amount),
	}))
	return true, nil
}

// SweepLiquidations is the keeper entry point: it flags every newly
// under-collateralized loan and executes every flagged loan past grace,
// seizing to the caller. Positions whose oracle reads fail are skipped, not
// fatal to the sweep. Returns the number of positions flagged and executed.
func (e *Engine) SweepLiquidations(keeper crypto.Address) (int, int, error) {
	if e == nil || e.state == nil {
		return 0, 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, 0, err
	}
	if e.roles != nil {
		if err := e.roles.RequireRole(keeper, permissions.RoleKeeper); err != nil {
			return 0, 0, err
		}
	}
	addrs, err := e.state.LoanAddresses()
	if err != nil {
		return 0, 0, err
	}
	flagged, executed := 0, 0
	for _, addr := range addrs {
		loan, err := e.state.GetLoan(addr)
		if err != nil {
			return flagged, executed, err
		}
		if loan == nil || !loan.Active {
			continue
		}
		status, err := e.liquidationStatus(addr)
		if err != nil {
			return flagged, executed, err
		}
		if !status.Flagged {
			if err := e.StartLiquidation(addr); err == nil {
				flagged++
			}
			continue
		}
		if err := e.ExecuteLiquidation(keeper, addr); err == nil {
			executed++
		}
	}
	return flagged, executed, nil
}

// liquidationReady validates the common execution preconditions: loan active,
// flag set, grace elapsed and all collateral oracles healthy.
func (e *Engine) liquidationReady(addr crypto.Address) (*Loan, *LiquidationStatus, error) {
	loan, err := e.state.GetLoan(addr)
	if err != nil {
		return nil, nil, err
	}
	if loan == nil || !loan.Active {
		return nil, nil, errNoActiveLoan
	}
	status, err := e.liquidationStatus(addr)
	if err != nil {
		return nil, nil, err
	}
	if !status.Flagged {
		return nil, nil, errNotFlagged
	}
	if e.nowFn() < status.StartedAt+e.params.GracePeriodSeconds {
		return nil, nil, errGracePeriodActive
	}
	if err := e.oraclesHealthy(); err != nil {
		return nil, nil, err
	}
	return loan, status, nil
}

// closeLiquidatedLoan zeroes the debt, counts it as repaid in the aggregate
// counters and clears the liquidation flag.
func (e *Engine) closeLiquidatedLoan(addr crypto.Address, loan *Loan, status *LiquidationStatus) error {
	cleared := new(big.Int).Set(loan.Outstanding)
	loan.Outstanding = big.NewInt(0)
	loan.Active = false
	loan.Liquidated = true
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	if _, err := e.accrueIndex(pool); err != nil {
		return err
	}
	pool.TotalOutstanding = clampSub(pool.TotalOutstanding, cleared)
	pool.TotalRepaidAllTime.Add(pool.TotalRepaidAllTime, cleared)
	if tierTotal := pool.BorrowedByTier[loan.Tier]; tierTotal != nil {
		pool.BorrowedByTier[loan.Tier] = clampSub(tierTotal, cleared)
	}
	e.refreshDailyRate(pool)
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	status.Flagged = false
	status.StartedAt = 0
	return e.state.PutLiquidation(addr, status)
}

// seizeAmount computes debt*(100+buffer)*1e18/(ltv*price) in collateral token
// units.
func seizeAmount(debt *big.Int, bufferPct, ltvPct uint64, price *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 || price == nil || price.Sign() == 0 || ltvPct == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(debt, new(big.Int).SetUint64(100+bufferPct))
	numerator.Mul(numerator, wad)
	denominator := new(big.Int).Mul(new(big.Int).SetUint64(ltvPct), price)
	return numerator.Quo(numerator, denominator)
}
