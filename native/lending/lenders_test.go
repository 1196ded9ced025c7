package lending

import (
	"errors"
	"math/big"
	"testing"
)

func TestDepositFundsBounds(t *testing.T) {
	env := newLendingEnv(t)
	lender := makeAddress(0x20)
	env.fund(t, lender, "TLD", toWei(2_000_000))

	if err := env.engine.DepositFunds(lender, big.NewInt(0)); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("zero deposit: expected invalid amount, got %v", err)
	}
	if err := env.engine.DepositFunds(lender, toWei(1_000_001)); !errors.Is(err, errDepositOutOfBounds) {
		t.Fatalf("oversized deposit: expected bounds error, got %v", err)
	}
	if err := env.engine.DepositFunds(lender, toWei(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	position, err := env.engine.Lender(lender)
	if err != nil {
		t.Fatalf("lender: %v", err)
	}
	if position.Balance.Cmp(toWei(5)) != 0 {
		t.Fatalf("balance = %s, want %s", position.Balance, toWei(5))
	}
	if position.DepositTimestamp != env.now {
		t.Fatalf("deposit timestamp = %d, want %d", position.DepositTimestamp, env.now)
	}
}

func TestCompoundingThirtyDaysExact(t *testing.T) {
	env := newLendingEnv(t)
	lender := makeAddress(0x21)
	env.fund(t, lender, "TLD", toWei(1))
	if err := env.engine.DepositFunds(lender, toWei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Pin a ~1.00013 daily factor, then let 30 days elapse.
	daily := new(big.Int).Add(new(big.Int).Set(wad), big.NewInt(130_000_000_000_000))
	env.state.pool.DailyRate = new(big.Int).Set(daily)
	env.now += 30 * secondsPerDay

	index := new(big.Int).Set(wad)
	for i := 0; i < 30; i++ {
		index = wadMul(index, daily)
	}
	wantBalance := mulDiv(toWei(1), index, wad)
	wantInterest := new(big.Int).Sub(wantBalance, toWei(1))
	if wantInterest.Sign() <= 0 {
		t.Fatalf("test setup: expected positive interest")
	}

	position, err := env.engine.Lender(lender)
	if err != nil {
		t.Fatalf("lender: %v", err)
	}
	if position.Balance.Cmp(wantBalance) != 0 {
		t.Fatalf("balance = %s, want %s (exact compounding loop)", position.Balance, wantBalance)
	}
	if position.EarnedInterest.Cmp(wantInterest) != 0 {
		t.Fatalf("earned = %s, want %s", position.EarnedInterest, wantInterest)
	}
}

func TestCreditInterestIdempotent(t *testing.T) {
	env := newLendingEnv(t)
	pool := &Pool{
		TotalFunds:    toWei(10),
		InterestIndex: mulDiv(wad, big.NewInt(11), big.NewInt(10)),
	}
	lender := &LenderPosition{
		Address:           makeAddress(0x22),
		Balance:           toWei(1),
		InterestIndex:     new(big.Int).Set(wad),
		EarnedInterest:    big.NewInt(0),
		PendingWithdrawal: big.NewInt(0),
	}

	env.engine.creditInterest(lender, pool)
	firstBalance := new(big.Int).Set(lender.Balance)
	firstEarned := new(big.Int).Set(lender.EarnedInterest)
	if firstEarned.Sign() <= 0 {
		t.Fatalf("expected interest on first accrual")
	}

	env.engine.creditInterest(lender, pool)
	if lender.Balance.Cmp(firstBalance) != 0 || lender.EarnedInterest.Cmp(firstEarned) != 0 {
		t.Fatalf("second accrual against same index changed state: balance %s->%s earned %s->%s",
			firstBalance, lender.Balance, firstEarned, lender.EarnedInterest)
	}
}

func TestWithdrawalPenaltyInvariant(t *testing.T) {
	env := newLendingEnv(t)
	lender := makeAddress(0x23)
	env.fund(t, lender, "TLD", toWei(10))
	if err := env.engine.DepositFunds(lender, toWei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	env.now += 8 * secondsPerDay
	requested := toWei(4)
	if err := env.engine.RequestWithdrawal(lender, requested); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, _, err := env.engine.CompleteWithdrawal(makeAddress(0x24)); !errors.Is(err, errNoPendingWithdrawal) {
		t.Fatalf("complete for stranger: expected no-pending error, got %v", err)
	}

	env.now += 2 * secondsPerDay
	withdrawn, penalty, err := env.engine.CompleteWithdrawal(lender)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if penalty.Sign() <= 0 {
		t.Fatalf("withdrawal 10 days after deposit should pay the early penalty")
	}
	sum := new(big.Int).Add(withdrawn, penalty)
	if sum.Cmp(requested) != 0 {
		t.Fatalf("withdrawn %s + penalty %s = %s, want requested %s", withdrawn, penalty, sum, requested)
	}
	if got := env.balance(t, lender, "TLD"); got.Cmp(withdrawn) != 0 {
		t.Fatalf("lender received %s, want %s", got, withdrawn)
	}
	if got := env.balance(t, testReserveAddr, "TLD"); got.Cmp(penalty) != 0 {
		t.Fatalf("reserve received %s, want %s", got, penalty)
	}

	// The cooldown now runs from this withdrawal.
	if err := env.engine.RequestWithdrawal(lender, toWei(1)); !errors.Is(err, errWithdrawCooldown) {
		t.Fatalf("expected cooldown rejection, got %v", err)
	}
	env.now += env.engine.Params().WithdrawCooldownSeconds
	if err := env.engine.RequestWithdrawal(lender, toWei(1)); err != nil {
		t.Fatalf("request after cooldown: %v", err)
	}
}

func TestWithdrawalAfterWindowNoPenalty(t *testing.T) {
	env := newLendingEnv(t)
	lender := makeAddress(0x25)
	env.fund(t, lender, "TLD", toWei(5))
	if err := env.engine.DepositFunds(lender, toWei(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	env.now += 31 * secondsPerDay
	if err := env.engine.RequestWithdrawal(lender, toWei(5)); err != nil {
		t.Fatalf("request: %v", err)
	}
	withdrawn, penalty, err := env.engine.CompleteWithdrawal(lender)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if penalty.Sign() != 0 {
		t.Fatalf("penalty = %s, want 0 outside the early window", penalty)
	}
	if withdrawn.Cmp(toWei(5)) != 0 {
		t.Fatalf("withdrawn = %s, want %s", withdrawn, toWei(5))
	}
}

func TestClaimInterestOnlyPaysEarnedPortion(t *testing.T) {
	env := newLendingEnv(t)
	lender := makeAddress(0x26)
	env.fund(t, lender, "TLD", toWei(1))
	if err := env.engine.DepositFunds(lender, toWei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Bump the stored global index 10% past the lender's snapshot.
	env.state.pool.InterestIndex = mulDiv(wad, big.NewInt(11), big.NewInt(10))

	claim, err := env.engine.ClaimInterest(lender)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	wantInterest := mulDiv(toWei(1), big.NewInt(1), big.NewInt(10))
	if claim.Cmp(wantInterest) != 0 {
		t.Fatalf("claim = %s, want %s", claim, wantInterest)
	}
	position, err := env.engine.Lender(lender)
	if err != nil {
		t.Fatalf("lender: %v", err)
	}
	if position.Balance.Cmp(toWei(1)) != 0 {
		t.Fatalf("principal = %s, want untouched %s", position.Balance, toWei(1))
	}
	if position.EarnedInterest.Sign() != 0 {
		t.Fatalf("earned tally should zero after claim, got %s", position.EarnedInterest)
	}
	if got := env.balance(t, lender, "TLD"); got.Cmp(wantInterest) != 0 {
		t.Fatalf("lender received %s, want %s", got, wantInterest)
	}
}

func TestRollForwardIndexCapsCatchUp(t *testing.T) {
	env := newLendingEnv(t)
	env.engine.params.MaxIndexCatchUpDays = 10
	lender := makeAddress(0x27)
	env.fund(t, lender, "TLD", toWei(1))
	if err := env.engine.DepositFunds(lender, toWei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	env.now += 25 * secondsPerDay
	keeper := makeAddress(0x28)
	for i, want := range []int{10, 10, 5, 0} {
		steps, err := env.engine.RollForwardIndex(keeper)
		if err != nil {
			t.Fatalf("roll %d: %v", i, err)
		}
		if steps != want {
			t.Fatalf("roll %d applied %d steps, want %d", i, steps, want)
		}
	}
}

func TestCleanupInactivePrunesDormantLenders(t *testing.T) {
	env := newLendingEnv(t)
	lender := makeAddress(0x29)
	env.fund(t, lender, "TLD", toWei(5))
	if err := env.engine.DepositFunds(lender, toWei(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	env.now += 31 * secondsPerDay
	if err := env.engine.RequestWithdrawal(lender, toWei(5)); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, _, err := env.engine.CompleteWithdrawal(lender); err != nil {
		t.Fatalf("complete: %v", err)
	}

	keeper := makeAddress(0x2A)
	pruned, err := env.engine.CleanupInactive(keeper)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if pruned != 0 {
		t.Fatalf("fresh zero-balance position pruned too early")
	}

	env.now += env.engine.Params().CleanupDormancySeconds
	pruned, err = env.engine.CleanupInactive(keeper)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	stored, err := env.state.GetLender(lender)
	if err != nil {
		t.Fatalf("get lender: %v", err)
	}
	if stored != nil {
		t.Fatalf("lender record should be deleted")
	}
}
