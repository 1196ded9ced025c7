package lending

import (
	"math/big"
	"strconv"

	"tierlend/core/types"
	"tierlend/crypto"
)

const (
	EventTypeCollateralDeposited  = "lending.collateralDeposited"
	EventTypeCollateralWithdrawn  = "lending.collateralWithdrawn"
	EventTypeLoanOriginated       = "lending.loanOriginated"
	EventTypeInstallmentPaid      = "lending.installmentPaid"
	EventTypeLoanRepaid           = "lending.loanRepaid"
	EventTypeLiquidationStarted   = "lending.liquidationStarted"
	EventTypeLiquidationExecuted  = "lending.liquidationExecuted"
	EventTypeLiquidationRecovered = "lending.liquidationRecovered"
	EventTypeFundsDeposited       = "lending.fundsDeposited"
	EventTypeWithdrawalRequested  = "lending.withdrawalRequested"
	EventTypeWithdrawalCompleted  = "lending.withdrawalCompleted"
	EventTypeInterestClaimed      = "lending.interestClaimed"
	EventTypeIndexRolled          = "lending.indexRolled"
	EventTypeLenderPruned         = "lending.lenderPruned"
	EventTypeReserveWithdrawn     = "lending.reserveWithdrawn"
)

func bigAttr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newCollateralEvent(eventType string, addr crypto.Address, token string, amount *big.Int) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"address": addr.String(),
			"token":   token,
			"amount":  bigAttr(amount),
		},
	}
}

func newLoanOriginatedEvent(loan *Loan, fee *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeLoanOriginated,
		Attributes: map[string]string{
			"borrower":    loan.Borrower.String(),
			"tier":        strconv.FormatUint(uint64(loan.Tier), 10),
			"principal":   bigAttr(loan.Principal),
			"installment": bigAttr(loan.InstallmentAmount),
			"rate":        bigAttr(loan.InterestRate),
			"fee":         bigAttr(fee),
			"nextDue":     strconv.FormatInt(loan.NextDueDate, 10),
		},
	}
}

func newRepaymentEvent(eventType string, borrower crypto.Address, paid, outstanding, penalty *big.Int) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"borrower":    borrower.String(),
			"paid":        bigAttr(paid),
			"outstanding": bigAttr(outstanding),
			"penalty":     bigAttr(penalty),
		},
	}
}

func newLiquidationEvent(eventType string, borrower crypto.Address, attributes map[string]string) *types.Event {
	attrs := map[string]string{"borrower": borrower.String()}
	for k, v := range attributes {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newLenderEvent(eventType string, addr crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"lender": addr.String(),
			"amount": bigAttr(amount),
		},
	}
}

func newReserveWithdrawnEvent(recipient crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeReserveWithdrawn,
		Attributes: map[string]string{
			"recipient": recipient.String(),
			"amount":    bigAttr(amount),
		},
	}
}

func newIndexRolledEvent(index *big.Int, day int64, steps int) *types.Event {
	return &types.Event{
		Type: EventTypeIndexRolled,
		Attributes: map[string]string{
			"index": bigAttr(index),
			"day":   strconv.FormatInt(day, 10),
			"steps": strconv.Itoa(steps),
		},
	}
}
