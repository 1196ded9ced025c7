package lending

import (
	"math/big"
	"time"

	"tierlend/core/types"
	"tierlend/crypto"
	nativecommon "tierlend/native/common"
	"tierlend/native/pricing"
	"tierlend/native/rates"
)

const moduleName = "lending"

type engineState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	GetCollateral(addr crypto.Address) (*CollateralPosition, error)
	PutCollateral(position *CollateralPosition) error
	GetLoan(addr crypto.Address) (*Loan, error)
	PutLoan(loan *Loan) error
	LoanAddresses() ([]crypto.Address, error)
	GetLender(addr crypto.Address) (*LenderPosition, error)
	PutLender(position *LenderPosition) error
	DeleteLender(addr crypto.Address) error
	LenderAddresses() ([]crypto.Address, error)
	GetLiquidation(addr crypto.Address) (*LiquidationStatus, error)
	PutLiquidation(addr crypto.Address, status *LiquidationStatus) error
	GetPool() (*Pool, error)
	PutPool(pool *Pool) error
	GetFees() (*FeeAccrual, error)
	PutFees(fees *FeeAccrual) error
}

// PriceSource resolves fresh token prices and backs the liquidation circuit
// breaker. Stale reads must fail rather than return old data.
type PriceSource interface {
	LatestPrice(token string) (pricing.Quote, error)
	Healthy(token string) bool
}

// ScoreSource resolves the effective credit score used for tier lookup.
type ScoreSource interface {
	EffectiveScore(addr crypto.Address) (uint64, error)
}

type roleChecker interface {
	RequireRole(caller crypto.Address, role string) error
}

// Engine orchestrates the primary state transitions for the lending protocol:
// collateral custody, amortized loans, liquidation and the lender interest
// ledger all run through it against a pluggable persistence layer.
type Engine struct {
	state            engineState
	params           Params
	tiers            []RiskTier
	rateModel        *rates.Model
	prices           PriceSource
	scores           ScoreSource
	roles            roleChecker
	pauses           nativecommon.PauseView
	poolAddress      crypto.Address
	vaultAddress     crypto.Address
	reserveAddress   crypto.Address
	principalToken   string
	collateralTokens []string
	nowFn            func() int64
	events           func(evt *types.Event)
}

// NewEngine constructs a lending engine configured with the protocol treasury
// addresses and risk parameters. Tiers default to the genesis configuration.
func NewEngine(poolAddr, vaultAddr, reserveAddr crypto.Address, params Params) *Engine {
	params.EnsureDefaults()
	return &Engine{
		params:         params,
		tiers:          DefaultTiers(),
		poolAddress:    poolAddr,
		vaultAddress:   vaultAddr,
		reserveAddress: reserveAddr,
		nowFn:          func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetTiers replaces the risk tier table after validating the score ranges
// partition [0,100].
func (e *Engine) SetTiers(tiers []RiskTier) error {
	if e == nil {
		return errNilState
	}
	if err := ValidateTiers(tiers); err != nil {
		return err
	}
	e.tiers = append([]RiskTier(nil), tiers...)
	return nil
}

// SetRateModel configures the interest rate model used by the engine.
func (e *Engine) SetRateModel(model *rates.Model) {
	if e == nil {
		return
	}
	e.rateModel = model.Clone()
}

// SetPriceSource installs the oracle aggregator.
func (e *Engine) SetPriceSource(prices PriceSource) {
	if e == nil {
		return
	}
	e.prices = prices
}

// SetScoreSource installs the credit score oracle.
func (e *Engine) SetScoreSource(scores ScoreSource) {
	if e == nil {
		return
	}
	e.scores = scores
}

// SetRoles installs the permission registry consulted by privileged entry
// points.
func (e *Engine) SetRoles(roles roleChecker) {
	if e == nil {
		return
	}
	e.roles = roles
}

// SetPauses wires the module pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetPrincipalToken configures the token lenders supply and borrowers draw.
func (e *Engine) SetPrincipalToken(token string) {
	if e == nil {
		return
	}
	e.principalToken = token
}

// SetCollateralTokens replaces the collateral allow-list.
func (e *Engine) SetCollateralTokens(tokens []string) {
	if e == nil {
		return
	}
	e.collateralTokens = append([]string(nil), tokens...)
}

// SetNowFunc overrides the wall clock, used by tests for deterministic
// schedules.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// SetEventSink registers a callback receiving emitted events.
func (e *Engine) SetEventSink(sink func(evt *types.Event)) {
	if e == nil {
		return
	}
	e.events = sink
}

// Params returns a copy of the configured limits.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

// Tiers returns a copy of the current tier table.
func (e *Engine) Tiers() []RiskTier {
	if e == nil {
		return nil
	}
	return append([]RiskTier(nil), e.tiers...)
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.events == nil || evt == nil {
		return
	}
	e.events(evt)
}

func (e *Engine) tokenAllowed(token string) bool {
	for _, allowed := range e.collateralTokens {
		if allowed == token {
			return true
		}
	}
	return false
}

func (e *Engine) ensurePool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errNilPool
	}
	if pool.TotalFunds == nil {
		pool.TotalFunds = big.NewInt(0)
	}
	if pool.TotalOutstanding == nil {
		pool.TotalOutstanding = big.NewInt(0)
	}
	if pool.TotalBorrowedAllTime == nil {
		pool.TotalBorrowedAllTime = big.NewInt(0)
	}
	if pool.TotalRepaidAllTime == nil {
		pool.TotalRepaidAllTime = big.NewInt(0)
	}
	if pool.BorrowedByTier == nil {
		pool.BorrowedByTier = make(map[uint8]*big.Int)
	}
	if pool.InterestIndex == nil || pool.InterestIndex.Sign() == 0 {
		pool.InterestIndex = new(big.Int).Set(wad)
	}
	if pool.DailyRate == nil || pool.DailyRate.Sign() == 0 {
		pool.DailyRate = new(big.Int).Set(wad)
	}
	return pool, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	return acc, nil
}

// moveToken debits from and credits to for the given token, rejecting
// transfers the source cannot cover. Both accounts are persisted.
func (e *Engine) moveToken(from, to crypto.Address, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	fromAcc, err := e.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance(token).Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	toAcc, err := e.loadAccount(to)
	if err != nil {
		return err
	}
	fromAcc.SetBalance(token, new(big.Int).Sub(fromAcc.Balance(token), amount))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.Balance(token), amount))
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

func (e *Engine) ensureCollateral(addr crypto.Address) (*CollateralPosition, error) {
	position, err := e.state.GetCollateral(addr)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &CollateralPosition{Address: addr, Balances: make(map[string]*big.Int)}
	}
	if position.Balances == nil {
		position.Balances = make(map[string]*big.Int)
	}
	return position, nil
}

func (e *Engine) liquidationStatus(addr crypto.Address) (*LiquidationStatus, error) {
	status, err := e.state.GetLiquidation(addr)
	if err != nil {
		return nil, err
	}
	if status == nil {
		status = &LiquidationStatus{}
	}
	return status, nil
}

func (e *Engine) ensureFees() (*FeeAccrual, error) {
	fees, err := e.state.GetFees()
	if err != nil {
		return nil, err
	}
	if fees == nil {
		fees = &FeeAccrual{}
	}
	if fees.OriginationFees == nil {
		fees.OriginationFees = big.NewInt(0)
	}
	if fees.LateFees == nil {
		fees.LateFees = big.NewInt(0)
	}
	return fees, nil
}

// collateralValue prices the user's pledged balances with fresh oracle reads
// and returns the USD value in 1e18 fixed point. One stale feed fails the
// whole read.
func (e *Engine) collateralValue(position *CollateralPosition) (*big.Int, error) {
	if e.prices == nil {
		return nil, errNoPriceSource
	}
	total := big.NewInt(0)
	for _, token := range e.collateralTokens {
		balance := position.Balance(token)
		if balance.Sign() == 0 {
			continue
		}
		quote, err := e.prices.LatestPrice(token)
		if err != nil {
			return nil, err
		}
		total.Add(total, mulDiv(balance, quote.Price, wad))
	}
	return total, nil
}

// debtValue prices outstanding principal-token debt in 1e18 USD terms.
func (e *Engine) debtValue(outstanding *big.Int) (*big.Int, error) {
	if outstanding == nil || outstanding.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if e.prices == nil {
		return nil, errNoPriceSource
	}
	quote, err := e.prices.LatestPrice(e.principalToken)
	if err != nil {
		return nil, err
	}
	return mulDiv(outstanding, quote.Price, wad), nil
}

// tierForAddress resolves the caller's tier through the credit score oracle.
func (e *Engine) tierForAddress(addr crypto.Address) (RiskTier, error) {
	if e.scores == nil {
		return RiskTier{}, errNoScoreSource
	}
	if len(e.tiers) == 0 {
		return RiskTier{}, errNoTierConfig
	}
	score, err := e.scores.EffectiveScore(addr)
	if err != nil {
		return RiskTier{}, err
	}
	return ClassifyTier(e.tiers, score), nil
}

// utilisation returns outstanding debt over total supplied liquidity in 1e18
// fixed point, zero when the pool is empty.
func (e *Engine) utilisation(pool *Pool) *big.Int {
	supplied := new(big.Int).Add(pool.TotalFunds, pool.TotalOutstanding)
	if supplied.Sign() == 0 || pool.TotalOutstanding.Sign() == 0 {
		return big.NewInt(0)
	}
	u := wadDiv(pool.TotalOutstanding, supplied)
	if u.Cmp(wad) > 0 {
		u.Set(wad)
	}
	return u
}

// positionHealthy reports whether collateralValue*100 covers the tier's
// required ratio over the debt value.
func positionHealthy(collateralValue, debtValue *big.Int, requiredRatioPct uint64) bool {
	if debtValue == nil || debtValue.Sign() == 0 {
		return true
	}
	if collateralValue == nil || collateralValue.Sign() == 0 {
		return false
	}
	lhs := new(big.Int).Mul(collateralValue, hundred)
	rhs := new(big.Int).Mul(debtValue, new(big.Int).SetUint64(requiredRatioPct))
	return lhs.Cmp(rhs) >= 0
}
