package lending

import (
	"math/big"

	"tierlend/crypto"
)

// Pool captures the global accounting state for the lending pool. Amount
// values are denominated in the principal token's smallest unit and expressed
// as big integers to keep fixed-point arithmetic exact.
type Pool struct {
	// TotalFunds is the principal liquidity currently supplied by lenders
	// and not lent out.
	TotalFunds *big.Int
	// TotalOutstanding tracks the aggregate borrower debt currently owed.
	TotalOutstanding *big.Int
	// TotalBorrowedAllTime and TotalRepaidAllTime are monotone counters;
	// their difference approximates TotalOutstanding and feeds the
	// repayment-ratio multiplier that scales lender yield.
	TotalBorrowedAllTime *big.Int
	TotalRepaidAllTime   *big.Int
	// BorrowedByTier holds outstanding principal per risk tier, feeding the
	// protocol-wide weighted risk multiplier.
	BorrowedByTier map[uint8]*big.Int
	// InterestIndex is the day-indexed compounding factor applied to lender
	// balances, 1e18 fixed point, monotone non-decreasing.
	InterestIndex *big.Int
	// IndexDay is the unix day number the index was last advanced to.
	IndexDay int64
	// DailyRate is the per-day growth factor applied when the index rolls
	// forward, 1e18 fixed point (>= 1e18).
	DailyRate *big.Int
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := &Pool{IndexDay: p.IndexDay, BorrowedByTier: make(map[uint8]*big.Int, len(p.BorrowedByTier))}
	clone.TotalFunds = cloneBig(p.TotalFunds)
	clone.TotalOutstanding = cloneBig(p.TotalOutstanding)
	clone.TotalBorrowedAllTime = cloneBig(p.TotalBorrowedAllTime)
	clone.TotalRepaidAllTime = cloneBig(p.TotalRepaidAllTime)
	clone.InterestIndex = cloneBig(p.InterestIndex)
	clone.DailyRate = cloneBig(p.DailyRate)
	for tier, amount := range p.BorrowedByTier {
		clone.BorrowedByTier[tier] = cloneBig(amount)
	}
	return clone
}

// Loan is the per-borrower amortized loan record. At most one loan is active
// per address at a time.
type Loan struct {
	Borrower crypto.Address
	Tier     uint8
	// Principal is the amount originally borrowed; Outstanding is what
	// remains owed. Outstanding only decreases except for late-penalty
	// additions.
	Principal   *big.Int
	Outstanding *big.Int
	// InterestRate is the annual borrow rate fixed at origination, 1e18
	// fixed point, including the tier modifier.
	InterestRate *big.Int
	// InstallmentAmount is Principal/12 by integer division; the final
	// installment absorbs the remainder.
	InstallmentAmount *big.Int
	NextDueDate       int64
	PenaltyBps        uint64
	// PenaltyAccrued tracks late penalties folded into Outstanding and not
	// yet repaid, so the repaid penalty portion can be routed to reserve.
	PenaltyAccrued *big.Int
	StartedAt      int64
	Active         bool
	Liquidated     bool
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Principal = cloneBig(l.Principal)
	clone.Outstanding = cloneBig(l.Outstanding)
	clone.InterestRate = cloneBig(l.InterestRate)
	clone.InstallmentAmount = cloneBig(l.InstallmentAmount)
	clone.PenaltyAccrued = cloneBig(l.PenaltyAccrued)
	return &clone
}

// CollateralPosition tracks per-token collateral balances pledged by a user.
type CollateralPosition struct {
	Address  crypto.Address
	Balances map[string]*big.Int
}

// Balance returns the pledged balance for the token, never nil.
func (c *CollateralPosition) Balance(token string) *big.Int {
	if c == nil || c.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := c.Balances[token]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// SetBalance stores a token balance, allocating the table on first use.
func (c *CollateralPosition) SetBalance(token string, amount *big.Int) {
	if c == nil {
		return
	}
	if c.Balances == nil {
		c.Balances = make(map[string]*big.Int)
	}
	c.Balances[token] = amount
}

// Clone returns a deep copy of the position.
func (c *CollateralPosition) Clone() *CollateralPosition {
	if c == nil {
		return nil
	}
	clone := &CollateralPosition{Address: c.Address, Balances: make(map[string]*big.Int, len(c.Balances))}
	for token, bal := range c.Balances {
		clone.Balances[token] = cloneBig(bal)
	}
	return clone
}

// LiquidationStatus is the per-user liquidation flag and grace timer.
type LiquidationStatus struct {
	Flagged   bool
	StartedAt int64
}

// LenderPosition is the per-lender share of the pool together with the
// withdrawal state machine.
type LenderPosition struct {
	Address crypto.Address
	Balance *big.Int
	// DepositTimestamp records when the current position was opened (first
	// deposit after the balance was zero); the early-withdrawal window is
	// measured from it.
	DepositTimestamp int64
	// InterestIndex is the lender's snapshot of the global index at last
	// accrual, normalised to 1e18 on first deposit.
	InterestIndex  *big.Int
	EarnedInterest *big.Int
	// PendingWithdrawal together with WithdrawalRequestTime drives the
	// request/cooldown/complete state machine.
	PendingWithdrawal     *big.Int
	WithdrawalRequestTime int64
	LastWithdrawalTime    int64
}

// Clone returns a deep copy of the position.
func (l *LenderPosition) Clone() *LenderPosition {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Balance = cloneBig(l.Balance)
	clone.InterestIndex = cloneBig(l.InterestIndex)
	clone.EarnedInterest = cloneBig(l.EarnedInterest)
	clone.PendingWithdrawal = cloneBig(l.PendingWithdrawal)
	return &clone
}

// FeeAccrual tracks the running totals routed to the reserve address, kept
// for observability alongside the reserve account balance itself.
type FeeAccrual struct {
	OriginationFees *big.Int
	LateFees        *big.Int
}

// Clone returns a deep copy of the fee accrual record.
func (f *FeeAccrual) Clone() *FeeAccrual {
	if f == nil {
		return nil
	}
	return &FeeAccrual{
		OriginationFees: cloneBig(f.OriginationFees),
		LateFees:        cloneBig(f.LateFees),
	}
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
