package lending

import (
	"math/big"

	"tierlend/crypto"
	nativecommon "tierlend/native/common"
	"tierlend/native/permissions"
)

// accrueIndex advances the global compounding index by one daily-rate step
// per elapsed day since the last snapshot, capped at MaxIndexCatchUpDays
// steps per call. Callers persist the pool. Returns the steps taken.
func (e *Engine) accrueIndex(pool *Pool) (int, error) {
	if pool == nil {
		return 0, errNilPool
	}
	today := dayNumber(e.nowFn())
	if pool.IndexDay == 0 {
		pool.IndexDay = today
		return 0, nil
	}
	elapsed := today - pool.IndexDay
	if elapsed <= 0 {
		return 0, nil
	}
	steps := elapsed
	if steps > e.params.MaxIndexCatchUpDays {
		steps = e.params.MaxIndexCatchUpDays
	}
	for i := int64(0); i < steps; i++ {
		pool.InterestIndex = wadMul(pool.InterestIndex, pool.DailyRate)
	}
	pool.IndexDay += steps
	return int(steps), nil
}

// refreshDailyRate recomputes the daily compounding factor from the supply
// rate at current utilisation, scaled by the tier-weighted risk multiplier
// and the protocol repayment-ratio multiplier.
func (e *Engine) refreshDailyRate(pool *Pool) {
	if pool == nil || e.rateModel == nil {
		return
	}
	utilisation := e.utilisation(pool)
	borrowRate, err := e.rateModel.BorrowRate(utilisation)
	if err != nil {
		return
	}
	supplyRate, err := e.rateModel.SupplyRate(utilisation, borrowRate)
	if err != nil {
		return
	}
	effective := wadMul(wadMul(supplyRate, riskMultiplier(e.tiers, pool)), repaymentMultiplier(pool))
	daily := new(big.Int).Quo(effective, big.NewInt(daysPerYear))
	pool.DailyRate = new(big.Int).Add(wad, daily)
}

// riskMultiplier is the BorrowedByTier-weighted average of each tier's rate
// modifier, expressed as a 1e18 factor around 1.0. An empty book yields 1.0.
func riskMultiplier(tiers []RiskTier, pool *Pool) *big.Int {
	total := big.NewInt(0)
	weighted := big.NewInt(0)
	for _, tier := range tiers {
		borrowed := pool.BorrowedByTier[tier.ID]
		if borrowed == nil || borrowed.Sign() == 0 {
			continue
		}
		factor := new(big.Int).Mul(big.NewInt(tier.RateModifierBps), wad)
		factor.Quo(factor, basisPoints)
		factor.Add(factor, wad)
		weighted.Add(weighted, new(big.Int).Mul(borrowed, factor))
		total.Add(total, borrowed)
	}
	if total.Sign() == 0 {
		return new(big.Int).Set(wad)
	}
	return weighted.Quo(weighted, total)
}

// repaymentMultiplier scales yield by how much of all-time borrowing has been
// repaid: (1 + repaidRatio) / 2, capped at 1.0.
func repaymentMultiplier(pool *Pool) *big.Int {
	if pool.TotalBorrowedAllTime == nil || pool.TotalBorrowedAllTime.Sign() == 0 {
		return new(big.Int).Set(wad)
	}
	ratio := wadDiv(pool.TotalRepaidAllTime, pool.TotalBorrowedAllTime)
	if ratio.Cmp(wad) > 0 {
		ratio.Set(wad)
	}
	out := new(big.Int).Add(wad, ratio)
	return out.Rsh(out, 1)
}

// creditInterest settles interest owed since the lender's index snapshot into
// the balance and the earned-interest tally, then moves the snapshot forward.
// A second call against the same snapshot is a no-op.
func (e *Engine) creditInterest(lender *LenderPosition, pool *Pool) {
	if lender.InterestIndex == nil || lender.InterestIndex.Sign() == 0 {
		lender.InterestIndex = new(big.Int).Set(pool.InterestIndex)
		return
	}
	if lender.InterestIndex.Cmp(pool.InterestIndex) >= 0 {
		return
	}
	if lender.Balance.Sign() > 0 {
		grown := mulDiv(lender.Balance, pool.InterestIndex, lender.InterestIndex)
		interest := clampSub(grown, lender.Balance)
		if interest.Sign() > 0 {
			lender.Balance.Add(lender.Balance, interest)
			lender.EarnedInterest.Add(lender.EarnedInterest, interest)
			pool.TotalFunds.Add(pool.TotalFunds, interest)
		}
	}
	lender.InterestIndex = new(big.Int).Set(pool.InterestIndex)
}

func (e *Engine) ensureLender(addr crypto.Address) (*LenderPosition, error) {
	lender, err := e.state.GetLender(addr)
	if err != nil {
		return nil, err
	}
	if lender == nil {
		lender = &LenderPosition{Address: addr}
	}
	if lender.Balance == nil {
		lender.Balance = big.NewInt(0)
	}
	if lender.EarnedInterest == nil {
		lender.EarnedInterest = big.NewInt(0)
	}
	if lender.PendingWithdrawal == nil {
		lender.PendingWithdrawal = big.NewInt(0)
	}
	return lender, nil
}

// DepositFunds supplies principal to the pool. Pending interest is credited
// on the old balance before the new principal lands; a first deposit pins the
// lender's index snapshot to the current global index.
func (e *Engine) DepositFunds(addr crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if amount.Cmp(e.params.MinDeposit) < 0 || amount.Cmp(e.params.MaxDeposit) > 0 {
		return errDepositOutOfBounds
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	if _, err := e.accrueIndex(pool); err != nil {
		return err
	}
	lender, err := e.ensureLender(addr)
	if err != nil {
		return err
	}
	e.creditInterest(lender, pool)
	if err := e.moveToken(addr, e.poolAddress, e.principalToken, amount); err != nil {
		return err
	}
	if lender.Balance.Sign() == 0 {
		lender.DepositTimestamp = e.nowFn()
	}
	lender.Balance.Add(lender.Balance, amount)
	pool.TotalFunds.Add(pool.TotalFunds, amount)
	e.refreshDailyRate(pool)
	if err := e.state.PutLender(lender); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emit(newLenderEvent(EventTypeFundsDeposited, addr, amount))
	return nil
}

// RequestWithdrawal flags principal for withdrawal after the cooldown since
// the lender's last withdrawal action has elapsed.
func (e *Engine) RequestWithdrawal(addr crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	if _, err := e.accrueIndex(pool); err != nil {
		return err
	}
	lender, err := e.ensureLender(addr)
	if err != nil {
		return err
	}
	e.creditInterest(lender, pool)
	if lender.PendingWithdrawal.Sign() > 0 {
		return errWithdrawalPending
	}
	now := e.nowFn()
	if lender.LastWithdrawalTime > 0 && now-lender.LastWithdrawalTime < e.params.WithdrawCooldownSeconds {
		return errWithdrawCooldown
	}
	if lender.Balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	lender.PendingWithdrawal = new(big.Int).Set(amount)
	lender.WithdrawalRequestTime = now
	if err := e.state.PutLender(lender); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emit(newLenderEvent(EventTypeWithdrawalRequested, addr, amount))
	return nil
}

// CompleteWithdrawal pays out the pending request. Withdrawals inside the
// early-withdrawal window forfeit a percentage penalty to the reserve, with
// withdrawn + penalty always equal to the requested amount.
func (e *Engine) CompleteWithdrawal(addr crypto.Address) (withdrawn, penalty *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.accrueIndex(pool); err != nil {
		return nil, nil, err
	}
	lender, err := e.ensureLender(addr)
	if err != nil {
		return nil, nil, err
	}
	e.creditInterest(lender, pool)
	if lender.PendingWithdrawal.Sign() == 0 {
		return nil, nil, errNoPendingWithdrawal
	}
	requested := minBig(lender.PendingWithdrawal, lender.Balance)
	if requested.Sign() == 0 {
		return nil, nil, errInsufficientBalance
	}
	now := e.nowFn()
	penalty = big.NewInt(0)
	if now-lender.DepositTimestamp < e.params.EarlyWithdrawWindowSeconds {
		penalty = mulDiv(requested, new(big.Int).SetUint64(e.params.EarlyWithdrawPenaltyPct), hundred)
	}
	withdrawn = new(big.Int).Sub(requested, penalty)
	if withdrawn.Sign() > 0 {
		if err := e.moveToken(e.poolAddress, addr, e.principalToken, withdrawn); err != nil {
			return nil, nil, err
		}
	}
	if penalty.Sign() > 0 {
		if err := e.moveToken(e.poolAddress, e.reserveAddress, e.principalToken, penalty); err != nil {
			return nil, nil, err
		}
	}
	lender.Balance = clampSub(lender.Balance, requested)
	lender.EarnedInterest = minBig(lender.EarnedInterest, lender.Balance)
	lender.PendingWithdrawal = big.NewInt(0)
	lender.WithdrawalRequestTime = 0
	lender.LastWithdrawalTime = now
	pool.TotalFunds = clampSub(pool.TotalFunds, requested)
	e.refreshDailyRate(pool)
	if err := e.state.PutLender(lender); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, nil, err
	}
	e.emit(newLenderEvent(EventTypeWithdrawalCompleted, addr, withdrawn))
	return withdrawn, penalty, nil
}

// ClaimInterest pays out only the accrued-interest portion of the balance and
// zeroes the earned tally.
func (e *Engine) ClaimInterest(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	if _, err := e.accrueIndex(pool); err != nil {
		return nil, err
	}
	lender, err := e.ensureLender(addr)
	if err != nil {
		return nil, err
	}
	e.creditInterest(lender, pool)
	claim := minBig(lender.EarnedInterest, lender.Balance)
	if claim.Sign() > 0 {
		if err := e.moveToken(e.poolAddress, addr, e.principalToken, claim); err != nil {
			return nil, err
		}
		lender.Balance = clampSub(lender.Balance, claim)
		pool.TotalFunds = clampSub(pool.TotalFunds, claim)
	}
	lender.EarnedInterest = big.NewInt(0)
	if err := e.state.PutLender(lender); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	e.emit(newLenderEvent(EventTypeInterestClaimed, addr, claim))
	return claim, nil
}

// RollForwardIndex is the keeper entry point that advances the compounding
// index by up to MaxIndexCatchUpDays steps. Repeated calls chunk through long
// stale spans. Returns the steps applied.
func (e *Engine) RollForwardIndex(keeper crypto.Address) (int, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if e.roles != nil {
		if err := e.roles.RequireRole(keeper, permissions.RoleKeeper); err != nil {
			return 0, err
		}
	}
	pool, err := e.ensurePool()
	if err != nil {
		return 0, err
	}
	steps, err := e.accrueIndex(pool)
	if err != nil {
		return 0, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return 0, err
	}
	if steps > 0 {
		e.emit(newIndexRolledEvent(pool.InterestIndex, pool.IndexDay, steps))
	}
	return steps, nil
}

// CleanupInactive deletes lender records that have sat at zero balance with
// nothing pending past the dormancy window. Returns the number pruned.
func (e *Engine) CleanupInactive(keeper crypto.Address) (int, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if e.roles != nil {
		if err := e.roles.RequireRole(keeper, permissions.RoleKeeper); err != nil {
			return 0, err
		}
	}
	addrs, err := e.state.LenderAddresses()
	if err != nil {
		return 0, err
	}
	now := e.nowFn()
	pruned := 0
	for _, addr := range addrs {
		lender, err := e.state.GetLender(addr)
		if err != nil {
			return pruned, err
		}
		if lender == nil {
			continue
		}
		if lender.Balance != nil && lender.Balance.Sign() > 0 {
			continue
		}
		if lender.PendingWithdrawal != nil && lender.PendingWithdrawal.Sign() > 0 {
			continue
		}
		if lender.EarnedInterest != nil && lender.EarnedInterest.Sign() > 0 {
			continue
		}
		lastSeen := lender.LastWithdrawalTime
		if lender.DepositTimestamp > lastSeen {
			lastSeen = lender.DepositTimestamp
		}
		if lastSeen == 0 || now-lastSeen < e.params.CleanupDormancySeconds {
			continue
		}
		if err := e.state.DeleteLender(addr); err != nil {
			return pruned, err
		}
		pruned++
		e.emit(newLenderEvent(EventTypeLenderPruned, addr, nil))
	}
	return pruned, nil
}
