package lending

import (
	"math/big"

	"tierlend/crypto"
)

// BorrowTerms summarizes what the caller's current tier lets them do against
// today's pool liquidity.
type BorrowTerms struct {
	Tier               uint8    `json:"tier"`
	Eligible           bool     `json:"eligible"`
	CollateralRatioPct uint64   `json:"collateralRatioPct"`
	RateModifierBps    int64    `json:"rateModifierBps"`
	MaxLoanAmount      *big.Int `json:"maxLoanAmount"`
}

// Loan returns a copy of the caller's loan record, nil when none exists.
func (e *Engine) Loan(addr crypto.Address) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.state.GetLoan(addr)
	if err != nil {
		return nil, err
	}
	return loan.Clone(), nil
}

// Lender returns a copy of the lender position with interest settled against
// the current index, without persisting the accrual.
func (e *Engine) Lender(addr crypto.Address) (*LenderPosition, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
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
	view := lender.Clone()
	e.creditInterest(view, pool.Clone())
	return view, nil
}

// PoolSnapshot returns a copy of the aggregate counters.
func (e *Engine) PoolSnapshot() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// LiquidationState returns the borrower's flag and grace timer.
func (e *Engine) LiquidationState(addr crypto.Address) (*LiquidationStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	status, err := e.liquidationStatus(addr)
	if err != nil {
		return nil, err
	}
	out := *status
	return &out, nil
}

// TermsFor resolves the caller's tier and derives their borrow terms from the
// current pool liquidity.
func (e *Engine) TermsFor(addr crypto.Address) (*BorrowTerms, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	tier, err := e.tierForAddress(addr)
	if err != nil {
		return nil, err
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	return &BorrowTerms{
		Tier:               tier.ID,
		Eligible:           tier.Eligible,
		CollateralRatioPct: tier.CollateralRatioPct,
		RateModifierBps:    tier.RateModifierBps,
		MaxLoanAmount:      mulDiv(pool.TotalFunds, new(big.Int).SetUint64(tier.MaxLoanPct), hundred),
	}, nil
}
