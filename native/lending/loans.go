package lending

import (
	"math/big"

	"tierlend/crypto"
	nativecommon "tierlend/native/common"
)

// Borrow originates a 12-installment amortized loan. The borrower's tier must
// be eligible, the amount must clear the amortization floor, the pool exposure
// cap and the tier's loan cap, and pledged collateral must cover the tier's
// required ratio at fresh oracle prices. The origination fee is deducted from
// the disbursed amount and routed to the reserve.
func (e *Engine) Borrow(addr crypto.Address, amount *big.Int) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if e.rateModel == nil {
		return nil, errNoRateModel
	}
	existing, err := e.state.GetLoan(addr)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Active {
		return nil, errLoanActive
	}
	status, err := e.liquidationStatus(addr)
	if err != nil {
		return nil, err
	}
	if status.Flagged {
		return nil, errPositionFrozen
	}
	tier, err := e.tierForAddress(addr)
	if err != nil {
		return nil, err
	}
	if !tier.Eligible {
		return nil, errTierIneligible
	}
	if amount.Cmp(big.NewInt(installmentCount)) < 0 {
		return nil, errBelowAmortizationMin
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	if _, err := e.accrueIndex(pool); err != nil {
		return nil, err
	}
	// amount*2 > totalFunds means more than half the pool in one loan.
	if new(big.Int).Lsh(amount, 1).Cmp(pool.TotalFunds) > 0 {
		return nil, errPoolExposureCap
	}
	tierCap := mulDiv(pool.TotalFunds, new(big.Int).SetUint64(tier.MaxLoanPct), hundred)
	if amount.Cmp(tierCap) > 0 {
		return nil, errTierLoanCap
	}
	position, err := e.ensureCollateral(addr)
	if err != nil {
		return nil, err
	}
	value, err := e.collateralValue(position)
	if err != nil {
		return nil, err
	}
	debt, err := e.debtValue(amount)
	if err != nil {
		return nil, err
	}
	if !positionHealthy(value, debt, tier.CollateralRatioPct) {
		return nil, errCollateralShortfall
	}

	utilisation := e.utilisation(pool)
	borrowRate, err := e.rateModel.BorrowRate(utilisation)
	if err != nil {
		return nil, err
	}
	modifier := new(big.Int).Mul(big.NewInt(tier.RateModifierBps), wad)
	modifier.Quo(modifier, basisPoints)
	rate := new(big.Int).Add(borrowRate, modifier)
	if rate.Sign() < 0 {
		rate.SetInt64(0)
	}

	// TotalFunds includes credited interest that is a ledger claim rather
	// than pooled tokens, so the account balance is checked separately.
	poolAccount, err := e.loadAccount(e.poolAddress)
	if err != nil {
		return nil, err
	}
	if poolAccount.Balance(e.principalToken).Cmp(amount) < 0 {
		return nil, errInsufficientLiquidity
	}

	fee := bpsShare(amount, tier.OriginationFeeBps)
	disbursed := new(big.Int).Sub(amount, fee)
	if err := e.moveToken(e.poolAddress, addr, e.principalToken, disbursed); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.moveToken(e.poolAddress, e.reserveAddress, e.principalToken, fee); err != nil {
			return nil, err
		}
		fees, err := e.ensureFees()
		if err != nil {
			return nil, err
		}
		fees.OriginationFees.Add(fees.OriginationFees, fee)
		if err := e.state.PutFees(fees); err != nil {
			return nil, err
		}
	}

	now := e.nowFn()
	loan := &Loan{
		Borrower:          addr,
		Tier:              tier.ID,
		Principal:         new(big.Int).Set(amount),
		Outstanding:       new(big.Int).Set(amount),
		InterestRate:      rate,
		InstallmentAmount: new(big.Int).Quo(amount, big.NewInt(installmentCount)),
		NextDueDate:       now + installmentPeriodSeconds,
		PenaltyBps:        tier.LatePenaltyBps,
		PenaltyAccrued:    big.NewInt(0),
		StartedAt:         now,
		Active:            true,
	}
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}

	pool.TotalFunds = clampSub(pool.TotalFunds, amount)
	pool.TotalOutstanding.Add(pool.TotalOutstanding, amount)
	pool.TotalBorrowedAllTime.Add(pool.TotalBorrowedAllTime, amount)
	tierTotal := pool.BorrowedByTier[tier.ID]
	if tierTotal == nil {
		tierTotal = big.NewInt(0)
	}
	pool.BorrowedByTier[tier.ID] = new(big.Int).Add(tierTotal, amount)
	e.refreshDailyRate(pool)
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	e.emit(newLoanOriginatedEvent(loan, fee))
	return loan.Clone(), nil
}

// RepayInstallment pays the next scheduled installment. Payments are rejected
// before the due date, and payments landing more than seven days past due
// first add a tier-scaled annualized late penalty to the outstanding balance.
func (e *Engine) RepayInstallment(addr crypto.Address, payment *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if payment == nil || payment.Sign() <= 0 {
		return errInvalidAmount
	}
	loan, err := e.state.GetLoan(addr)
	if err != nil {
		return err
	}
	if loan == nil || !loan.Active {
		return errNoActiveLoan
	}
	if payment.Cmp(loan.InstallmentAmount) < 0 {
		return errBelowInstallment
	}
	now := e.nowFn()
	if now < loan.NextDueDate {
		return errInstallmentNotDue
	}

	penalty := big.NewInt(0)
	overdue := now - loan.NextDueDate
	if overdue > lateGraceSeconds {
		penalty = latePenalty(loan.Outstanding, loan.PenaltyBps, overdue)
		if penalty.Sign() > 0 {
			loan.Outstanding.Add(loan.Outstanding, penalty)
			loan.PenaltyAccrued.Add(loan.PenaltyAccrued, penalty)
		}
	}

	paid := minBig(payment, loan.Outstanding)
	if err := e.applyRepayment(loan, paid, penalty); err != nil {
		return err
	}
	loan.NextDueDate += installmentPeriodSeconds
	if loan.Outstanding.Sign() == 0 {
		loan.Active = false
	}
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	e.emit(newRepaymentEvent(EventTypeInstallmentPaid, addr, paid, loan.Outstanding, penalty))
	return nil
}

// Repay accepts a lump-sum payment of up to the full outstanding balance.
// Payments above the debt are clamped, and any liquidation flag is cleared.
func (e *Engine) Repay(addr crypto.Address, payment *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if payment == nil || payment.Sign() <= 0 {
		return errInvalidAmount
	}
	loan, err := e.state.GetLoan(addr)
	if err != nil {
		return err
	}
	if loan == nil || !loan.Active {
		return errNoActiveLoan
	}
	paid := minBig(payment, loan.Outstanding)
	if err := e.applyRepayment(loan, paid, nil); err != nil {
		return err
	}
	if loan.Outstanding.Sign() == 0 {
		loan.Active = false
	}
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	status, err := e.liquidationStatus(addr)
	if err != nil {
		return err
	}
	if status.Flagged {
		status.Flagged = false
		status.StartedAt = 0
		if err := e.state.PutLiquidation(addr, status); err != nil {
			return err
		}
	}
	e.emit(newRepaymentEvent(EventTypeLoanRepaid, addr, paid, loan.Outstanding, nil))
	return nil
}

// applyRepayment moves the payment into the pool, routes the penalty portion
// to the reserve and updates the aggregate counters with floor-guarded
// subtraction.
func (e *Engine) applyRepayment(loan *Loan, paid, penalty *big.Int) error {
	if paid.Sign() == 0 {
		return errInvalidAmount
	}
	toReserve := big.NewInt(0)
	if penalty != nil && penalty.Sign() > 0 {
		toReserve = minBig(penalty, paid)
	}
	toPool := new(big.Int).Sub(paid, toReserve)
	if toPool.Sign() > 0 {
		if err := e.moveToken(loan.Borrower, e.poolAddress, e.principalToken, toPool); err != nil {
			return err
		}
	}
	if toReserve.Sign() > 0 {
		if err := e.moveToken(loan.Borrower, e.reserveAddress, e.principalToken, toReserve); err != nil {
			return err
		}
		fees, err := e.ensureFees()
		if err != nil {
			return err
		}
		fees.LateFees.Add(fees.LateFees, toReserve)
		if err := e.state.PutFees(fees); err != nil {
			return err
		}
	}
	loan.Outstanding = clampSub(loan.Outstanding, paid)

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	if _, err := e.accrueIndex(pool); err != nil {
		return err
	}
	pool.TotalFunds.Add(pool.TotalFunds, toPool)
	pool.TotalOutstanding = clampSub(pool.TotalOutstanding, paid)
	pool.TotalRepaidAllTime.Add(pool.TotalRepaidAllTime, paid)
	if tierTotal := pool.BorrowedByTier[loan.Tier]; tierTotal != nil {
		pool.BorrowedByTier[loan.Tier] = clampSub(tierTotal, paid)
	}
	e.refreshDailyRate(pool)
	return e.state.PutPool(pool)
}

// latePenalty computes an annualized penalty on the outstanding balance,
// prorated by how long the installment has been overdue.
func latePenalty(outstanding *big.Int, penaltyBps uint64, overdueSeconds int64) *big.Int {
	if outstanding == nil || outstanding.Sign() == 0 || penaltyBps == 0 || overdueSeconds <= 0 {
		return big.NewInt(0)
	}
	penalty := new(big.Int).Mul(outstanding, new(big.Int).SetUint64(penaltyBps))
	penalty.Mul(penalty, big.NewInt(overdueSeconds))
	denom := new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear))
	return penalty.Quo(penalty, denom)
}
