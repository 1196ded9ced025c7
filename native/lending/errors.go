package lending

import "errors"

var (
	errNilState              = errors.New("lending engine: state not configured")
	errNilPool               = errors.New("lending engine: pool not initialised")
	errInvalidAmount         = errors.New("lending engine: amount must be positive")
	errInvalidRecipient      = errors.New("lending engine: recipient address required")
	errInsufficientBalance   = errors.New("lending engine: insufficient balance")
	errInsufficientLiquidity = errors.New("lending engine: insufficient pool liquidity")
	errTokenNotAllowed       = errors.New("lending engine: collateral token not allow-listed")
	errPositionFrozen        = errors.New("lending engine: position frozen pending liquidation")
	errCollateralShortfall   = errors.New("lending engine: collateral below required ratio")
	errLoanActive            = errors.New("lending engine: borrower already has an active loan")
	errNoActiveLoan          = errors.New("lending engine: no active loan")
	errTierIneligible        = errors.New("lending engine: risk tier not eligible to borrow")
	errBelowAmortizationMin  = errors.New("lending engine: amount below amortization floor")
	errPoolExposureCap       = errors.New("lending engine: amount exceeds half of pool funds")
	errTierLoanCap           = errors.New("lending engine: amount exceeds tier loan cap")
	errBelowInstallment      = errors.New("lending engine: payment below installment amount")
	errInstallmentNotDue     = errors.New("lending engine: installment not yet due")
	errNotLiquidatable       = errors.New("lending engine: position is healthy")
	errAlreadyFlagged        = errors.New("lending engine: liquidation already started")
	errNotFlagged            = errors.New("lending engine: liquidation not started")
	errGracePeriodActive     = errors.New("lending engine: liquidation grace period still running")
	errOracleUnhealthy       = errors.New("lending engine: collateral oracle unhealthy, liquidation blocked")
	errSeizeBelowMinimum     = errors.New("lending engine: seize amount below minimum")
	errDepositOutOfBounds    = errors.New("lending engine: deposit outside configured bounds")
	errWithdrawCooldown      = errors.New("lending engine: withdrawal cooldown not elapsed")
	errWithdrawalPending     = errors.New("lending engine: withdrawal request already pending")
	errNoPendingWithdrawal   = errors.New("lending engine: no pending withdrawal request")
	errNoTierConfig          = errors.New("lending engine: risk tiers not configured")
	errTierGap               = errors.New("lending engine: tier score ranges must cover [0,100] without gaps")
	errNoRateModel           = errors.New("lending engine: interest rate model not configured")
	errNoPriceSource         = errors.New("lending engine: price source not configured")
	errNoScoreSource         = errors.New("lending engine: credit score source not configured")
)

// Exported aliases for errors callers are expected to branch on.
var (
	ErrPositionFrozen      = errPositionFrozen
	ErrCollateralShortfall = errCollateralShortfall
	ErrTierIneligible      = errTierIneligible
	ErrNotLiquidatable     = errNotLiquidatable
	ErrOracleUnhealthy     = errOracleUnhealthy
	ErrInstallmentNotDue   = errInstallmentNotDue
)
