package server

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tierlend/core/types"
	"tierlend/crypto"
	"tierlend/native/creditscore"
	"tierlend/native/lending"
	"tierlend/native/permissions"
	"tierlend/native/pricing"
)

type collateralRequest struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type borrowRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type repayRequest struct {
	Address string `json:"address"`
	Payment string `json:"payment"`
}

type liquidationRequest struct {
	Liquidator string `json:"liquidator,omitempty"`
	Address    string `json:"address"`
	Token      string `json:"token,omitempty"`
	Amount     string `json:"amount,omitempty"`
}

type lenderRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount,omitempty"`
}

type adminScoreRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Score   uint64 `json:"score"`
}

type attestationRequest struct {
	Caller    string `json:"caller"`
	Subject   string `json:"subject"`
	Source    string `json:"source"`
	Score     uint64 `json:"score"`
	IssuedAt  int64  `json:"issuedAt"`
	Nullifier string `json:"nullifier"`
}

type proofRequest struct {
	Caller  string `json:"caller"`
	Subject string `json:"subject"`
	Kind    string `json:"kind"`
	Proof   string `json:"proof"`
}

type loanResponse struct {
	Borrower          string `json:"borrower"`
	Tier              uint8  `json:"tier"`
	Principal         string `json:"principal"`
	Outstanding       string `json:"outstanding"`
	InterestRate      string `json:"interestRate"`
	InstallmentAmount string `json:"installmentAmount"`
	NextDueDate       int64  `json:"nextDueDate"`
	PenaltyBps        uint64 `json:"penaltyBps"`
	PenaltyAccrued    string `json:"penaltyAccrued"`
	StartedAt         int64  `json:"startedAt"`
	Active            bool   `json:"active"`
	Liquidated        bool   `json:"liquidated"`
}

type lenderResponse struct {
	Address               string `json:"address"`
	Balance               string `json:"balance"`
	DepositTimestamp      int64  `json:"depositTimestamp"`
	InterestIndex         string `json:"interestIndex"`
	EarnedInterest        string `json:"earnedInterest"`
	PendingWithdrawal     string `json:"pendingWithdrawal"`
	WithdrawalRequestTime int64  `json:"withdrawalRequestTime"`
	LastWithdrawalTime    int64  `json:"lastWithdrawalTime"`
}

type poolResponse struct {
	TotalFunds           string            `json:"totalFunds"`
	TotalOutstanding     string            `json:"totalOutstanding"`
	TotalBorrowedAllTime string            `json:"totalBorrowedAllTime"`
	TotalRepaidAllTime   string            `json:"totalRepaidAllTime"`
	BorrowedByTier       map[string]string `json:"borrowedByTier"`
	InterestIndex        string            `json:"interestIndex"`
	IndexDay             int64             `json:"indexDay"`
	DailyRate            string            `json:"dailyRate"`
}

type withdrawalResponse struct {
	Withdrawn string `json:"withdrawn"`
	Penalty   string `json:"penalty"`
}

type liquidationStateResponse struct {
	Flagged   bool  `json:"flagged"`
	StartedAt int64 `json:"startedAt"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func loanToResponse(loan *lending.Loan) *loanResponse {
	if loan == nil {
		return nil
	}
	return &loanResponse{
		Borrower:          loan.Borrower.String(),
		Tier:              loan.Tier,
		Principal:         bigString(loan.Principal),
		Outstanding:       bigString(loan.Outstanding),
		InterestRate:      bigString(loan.InterestRate),
		InstallmentAmount: bigString(loan.InstallmentAmount),
		NextDueDate:       loan.NextDueDate,
		PenaltyBps:        loan.PenaltyBps,
		PenaltyAccrued:    bigString(loan.PenaltyAccrued),
		StartedAt:         loan.StartedAt,
		Active:            loan.Active,
		Liquidated:        loan.Liquidated,
	}
}

func lenderToResponse(position *lending.LenderPosition) *lenderResponse {
	if position == nil {
		return nil
	}
	return &lenderResponse{
		Address:               position.Address.String(),
		Balance:               bigString(position.Balance),
		DepositTimestamp:      position.DepositTimestamp,
		InterestIndex:         bigString(position.InterestIndex),
		EarnedInterest:        bigString(position.EarnedInterest),
		PendingWithdrawal:     bigString(position.PendingWithdrawal),
		WithdrawalRequestTime: position.WithdrawalRequestTime,
		LastWithdrawalTime:    position.LastWithdrawalTime,
	}
}

func poolToResponse(pool *lending.Pool) *poolResponse {
	if pool == nil {
		return nil
	}
	byTier := make(map[string]string, len(pool.BorrowedByTier))
	for tier, amount := range pool.BorrowedByTier {
		byTier[strconv.Itoa(int(tier))] = bigString(amount)
	}
	return &poolResponse{
		TotalFunds:           bigString(pool.TotalFunds),
		TotalOutstanding:     bigString(pool.TotalOutstanding),
		TotalBorrowedAllTime: bigString(pool.TotalBorrowedAllTime),
		TotalRepaidAllTime:   bigString(pool.TotalRepaidAllTime),
		BorrowedByTier:       byTier,
		InterestIndex:        bigString(pool.InterestIndex),
		IndexDay:             pool.IndexDay,
		DailyRate:            bigString(pool.DailyRate),
	}
}

func (s *Server) decode(r *http.Request, w http.ResponseWriter, into interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func parseAddress(field, raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%s: not a base-10 integer", field)
	}
	return value, nil
}

func pathAddress(r *http.Request) (crypto.Address, error) {
	return parseAddress("address", chi.URLParam(r, "address"))
}

// statusForError maps engine failures onto HTTP statuses. Role failures are
// forbidden, state-machine conflicts map to 409, everything else is a bad
// request the caller can correct.
func statusForError(err error) int {
	switch {
	case errors.Is(err, permissions.ErrRoleRequired):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrPositionFrozen),
		errors.Is(err, lending.ErrNotLiquidatable),
		errors.Is(err, lending.ErrOracleUnhealthy),
		errors.Is(err, lending.ErrInstallmentNotDue):
		return http.StatusConflict
	case errors.Is(err, creditscore.ErrNullifierUsed):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, operation string, started time.Time, status int, err error) {
	s.observe(operation, status, started)
	s.writeError(w, r, status, err.Error())
}

func (s *Server) ok(w http.ResponseWriter, r *http.Request, operation string, started time.Time, status int, payload interface{}) {
	s.observe(operation, status, started)
	s.writeJSON(w, r, status, payload)
}

func (s *Server) handleCollateralDeposit(w http.ResponseWriter, r *http.Request) {
	const op = "collateral_deposit"
	started := time.Now()
	var req collateralRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return s.lending.DepositCollateral(addr, req.Token, amount)
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "deposited"})
}

func (s *Server) handleCollateralWithdraw(w http.ResponseWriter, r *http.Request) {
	const op = "collateral_withdraw"
	started := time.Now()
	var req collateralRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return s.lending.WithdrawCollateral(addr, req.Token, amount)
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (s *Server) handleCollateralValue(w http.ResponseWriter, r *http.Request) {
	const op = "collateral_value"
	started := time.Now()
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	value, err := s.lending.TotalCollateralValue(addr)
	if err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"value": bigString(value)})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	const op = "borrow"
	started := time.Now()
	var req borrowRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	var loan *lending.Loan
	if err := s.manager.WithTransaction(func() error {
		created, err := s.lending.Borrow(addr, amount)
		if err != nil {
			return err
		}
		loan = created
		return nil
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusCreated, loanToResponse(loan))
}

func (s *Server) handleRepayInstallment(w http.ResponseWriter, r *http.Request) {
	const op = "repay_installment"
	started := time.Now()
	var req repayRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	payment, err := parseAmount("payment", req.Payment)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return s.lending.RepayInstallment(addr, payment)
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "paid"})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	const op = "repay"
	started := time.Now()
	var req repayRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	payment, err := parseAmount("payment", req.Payment)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return s.lending.Repay(addr, payment)
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "repaid"})
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	const op = "loan_view"
	started := time.Now()
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	loan, err := s.lending.Loan(addr)
	if err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	if loan == nil {
		s.fail(w, r, op, started, http.StatusNotFound, errors.New("no loan on record"))
		return
	}
	s.ok(w, r, op, started, http.StatusOK, loanToResponse(loan))
}

func (s *Server) handleTerms(w http.ResponseWriter, r *http.Request) {
	const op = "borrow_terms"
	started := time.Now()
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	terms, err := s.lending.TermsFor(addr)
	if err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, terms)
}

func (s *Server) handleLiquidationStart(w http.ResponseWriter, r *http.Request) {
	const op = "liquidation_start"
	started := time.Now()
	var req liquidationRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return s.lending.StartLiquidation(addr)
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "flagged"})
}

func (s *Server) handleLiquidationExecute(w http.ResponseWriter, r *http.Request) {
	const op = "liquidation_execute"
	started := time.Now()
	var req liquidationRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return s.lending.ExecuteLiquidation(liquidator, addr)
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "executed"})
}

func (s *Server) handleLiquidationPartial(w http.ResponseWriter, r *http.Request) {
	const op = "liquidation_partial"
	started := time.Now()
	var req liquidationRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		s.fail(w, r, op, started, http.StatusBadRequest, errors.New("token: required"))
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return s.lending.ExecutePartialLiquidation(liquidator, addr, req.Token)
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "executed"})
}

func (s *Server) handleLiquidationRecover(w http.ResponseWriter, r *http.Request) {
	const op = "liquidation_recover"
	started := time.Now()
	var req liquidationRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	var recovered bool
	if err := s.manager.WithTransaction(func() error {
		healthy, err := s.lending.RecoverFromLiquidation(addr, req.Token, amount)
		if err != nil {
			return err
		}
		recovered = healthy
		return nil
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]bool{"recovered": recovered})
}

func (s *Server) handleLiquidationState(w http.ResponseWriter, r *http.Request) {
	const op = "liquidation_state"
	started := time.Now()
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	status, err := s.lending.LiquidationState(addr)
	if err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	resp := liquidationStateResponse{}
	if status != nil {
		resp.Flagged = status.Flagged
		resp.StartedAt = status.StartedAt
	}
	s.ok(w, r, op, started, http.StatusOK, resp)
}

func (s *Server) handleLenderDeposit(w http.ResponseWriter, r *http.Request) {
	const op = "lender_deposit"
	started := time.Now()
	var req lenderRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return s.lending.DepositFunds(addr, amount)
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "deposited"})
}

func (s *Server) handleWithdrawalRequest(w http.ResponseWriter, r *http.Request) {
	const op = "withdrawal_request"
	started := time.Now()
	var req lenderRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return s.lending.RequestWithdrawal(addr, amount)
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "requested"})
}

func (s *Server) handleWithdrawalComplete(w http.ResponseWriter, r *http.Request) {
	const op = "withdrawal_complete"
	started := time.Now()
	var req lenderRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	var withdrawn, penalty *big.Int
	if err := s.manager.WithTransaction(func() error {
		paid, fee, err := s.lending.CompleteWithdrawal(addr)
		if err != nil {
			return err
		}
		withdrawn, penalty = paid, fee
		return nil
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, withdrawalResponse{
		Withdrawn: bigString(withdrawn),
		Penalty:   bigString(penalty),
	})
}

func (s *Server) handleClaimInterest(w http.ResponseWriter, r *http.Request) {
	const op = "claim_interest"
	started := time.Now()
	var req lenderRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	var claimed *big.Int
	if err := s.manager.WithTransaction(func() error {
		amount, err := s.lending.ClaimInterest(addr)
		if err != nil {
			return err
		}
		claimed = amount
		return nil
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"claimed": bigString(claimed)})
}

func (s *Server) handleLenderView(w http.ResponseWriter, r *http.Request) {
	const op = "lender_view"
	started := time.Now()
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	position, err := s.lending.Lender(addr)
	if err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	if position == nil {
		s.fail(w, r, op, started, http.StatusNotFound, errors.New("no lender position on record"))
		return
	}
	s.ok(w, r, op, started, http.StatusOK, lenderToResponse(position))
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	const op = "pool_view"
	started := time.Now()
	pool, err := s.lending.PoolSnapshot()
	if err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, poolToResponse(pool))
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	const op = "fees_view"
	started := time.Now()
	fees, err := s.lending.FeeTotals()
	if err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{
		"originationFees": bigString(fees.OriginationFees),
		"lateFees":        bigString(fees.LateFees),
	})
}

type priceRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Price  string `json:"price"`
}

func (s *Server) handlePriceSet(w http.ResponseWriter, r *http.Request) {
	const op = "price_set"
	started := time.Now()
	var req priceRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.registry.RequireRole(caller, permissions.RoleAdmin); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	if err := s.oracle.SetManualPrice(req.Token, price, time.Now()); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "set"})
}

func (s *Server) handlePriceView(w http.ResponseWriter, r *http.Request) {
	const op = "price_view"
	started := time.Now()
	token := chi.URLParam(r, "token")
	quote, err := s.oracle.LatestPrice(token)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, pricing.ErrFeedNotConfigured) {
			status = http.StatusNotFound
		}
		s.fail(w, r, op, started, status, err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]interface{}{
		"token":     token,
		"price":     bigString(quote.Price),
		"updatedAt": quote.UpdatedAt.Unix(),
		"source":    quote.Source,
	})
}

type reserveWithdrawRequest struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (s *Server) handleReserveWithdraw(w http.ResponseWriter, r *http.Request) {
	const op = "reserve_withdraw"
	started := time.Now()
	var req reserveWithdrawRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return s.lending.WithdrawReserve(caller, recipient, amount)
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	const op = "events"
	started := time.Now()
	var from uint64
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.fail(w, r, op, started, http.StatusBadRequest, fmt.Errorf("from: %w", err))
			return
		}
		from = parsed
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.fail(w, r, op, started, http.StatusBadRequest, errors.New("limit: must be a positive integer"))
			return
		}
		limit = parsed
	}
	events, err := s.manager.Events(from, limit)
	if err != nil {
		s.fail(w, r, op, started, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	s.ok(w, r, op, started, http.StatusOK, events)
}

type roleRequest struct {
	Caller  string `json:"caller"`
	Grantee string `json:"grantee"`
	Role    string `json:"role"`
}

func (s *Server) handleRoleGrant(w http.ResponseWriter, r *http.Request) {
	const op = "role_grant"
	started := time.Now()
	s.handleRoleChange(w, r, op, started, s.registry.Grant)
}

func (s *Server) handleRoleRevoke(w http.ResponseWriter, r *http.Request) {
	const op = "role_revoke"
	started := time.Now()
	s.handleRoleChange(w, r, op, started, s.registry.Revoke)
}

func (s *Server) handleRoleChange(w http.ResponseWriter, r *http.Request, op string, started time.Time, change func(caller, grantee crypto.Address, role string) error) {
	var req roleRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	grantee, err := parseAddress("grantee", req.Grantee)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return change(caller, grantee, req.Role)
	}); err != nil {
		status := statusForError(err)
		if errors.Is(err, permissions.ErrAdminOnlyChange) {
			status = http.StatusForbidden
		}
		s.fail(w, r, op, started, status, err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleAdminScore(w http.ResponseWriter, r *http.Request) {
	const op = "score_admin_set"
	started := time.Now()
	var req adminScoreRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.WithTransaction(func() error {
		return s.scores.SetCreditScore(caller, addr, req.Score)
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	const op = "score_attestation"
	started := time.Now()
	var req attestationRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	subject, err := parseAddress("subject", req.Subject)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	nullifierBytes, err := hex.DecodeString(strings.TrimSpace(req.Nullifier))
	if err != nil || len(nullifierBytes) != 32 {
		s.fail(w, r, op, started, http.StatusBadRequest, errors.New("nullifier: must be 32 bytes of hex"))
		return
	}
	att := &creditscore.Attestation{
		Subject:  subject,
		Source:   creditscore.Source(strings.TrimSpace(req.Source)),
		Score:    req.Score,
		IssuedAt: req.IssuedAt,
	}
	copy(att.Nullifier[:], nullifierBytes)
	var profile *creditscore.Profile
	if err := s.manager.WithTransaction(func() error {
		updated, err := s.scores.UpdateFromAttestation(caller, att)
		if err != nil {
			return err
		}
		profile = updated
		return nil
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, profile)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	const op = "score_proof"
	started := time.Now()
	var req proofRequest
	if err := s.decode(r, w, &req); err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	subject, err := parseAddress("subject", req.Subject)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	proof, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.Proof))
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, fmt.Errorf("proof: %w", err))
		return
	}
	var profile *creditscore.Profile
	if err := s.manager.WithTransaction(func() error {
		updated, err := s.scores.SubmitProof(caller, subject, req.Kind, proof)
		if err != nil {
			return err
		}
		profile = updated
		return nil
	}); err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	s.ok(w, r, op, started, http.StatusOK, profile)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	const op = "score_profile"
	started := time.Now()
	addr, err := pathAddress(r)
	if err != nil {
		s.fail(w, r, op, started, http.StatusBadRequest, err)
		return
	}
	profile, err := s.scores.Profile(addr)
	if err != nil {
		s.fail(w, r, op, started, statusForError(err), err)
		return
	}
	if profile == nil {
		// No attestations yet; the effective score still resolves legacy
		// and admin-assigned sources, so surface those as the profile.
		score, err := s.scores.EffectiveScore(addr)
		if err != nil {
			s.fail(w, r, op, started, statusForError(err), err)
			return
		}
		profile = &creditscore.Profile{
			Address:    addr,
			Sources:    map[creditscore.Source]creditscore.SubScore{},
			FinalScore: score,
			Eligible:   score > 0,
		}
	}
	s.ok(w, r, op, started, http.StatusOK, profile)
}
