package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tierlend/core/types"
	"tierlend/crypto"
	"tierlend/native/creditscore"
	"tierlend/native/lending"
	"tierlend/native/permissions"
	"tierlend/native/pricing"
	"tierlend/native/rates"
	"tierlend/state"
	"tierlend/storage"
)

const testToken = "test-token"

func makeAddress(suffix byte) crypto.Address {
	var b [20]byte
	b[19] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, b[:])
}

func toWei(units int64) *big.Int {
	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(units), wad)
}

func ratePct(pct int64) *big.Int {
	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	out := new(big.Int).Mul(big.NewInt(pct), wad)
	return out.Quo(out, big.NewInt(100))
}

type serverEnv struct {
	ts       *httptest.Server
	manager  *state.Manager
	engine   *lending.Engine
	admin    crypto.Address
	borrower crypto.Address
	lender   crypto.Address
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())

	admin := makeAddress(0x01)
	borrower := makeAddress(0x02)
	lenderAddr := makeAddress(0x03)
	poolAddr := makeAddress(0xA0)
	vaultAddr := makeAddress(0xA1)
	reserveAddr := makeAddress(0xA2)

	registry := permissions.NewRegistry(manager)
	if err := registry.Bootstrap(admin); err != nil {
		t.Fatalf("bootstrap registry: %v", err)
	}

	oracle := pricing.NewAggregator(5*time.Minute, time.Hour)
	oracle.SetTokenClass("ETH", pricing.ClassVolatile)
	oracle.SetTokenClass("TLD", pricing.ClassStable)
	if err := oracle.SetManualPrice("ETH", toWei(1), time.Now()); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := oracle.SetManualPrice("TLD", toWei(1), time.Now()); err != nil {
		t.Fatalf("set price: %v", err)
	}

	scores := creditscore.NewEngine(registry)
	scores.SetState(manager)

	model, err := rates.NewModel(ratePct(2), ratePct(10), ratePct(100), ratePct(80), big.NewInt(0), ratePct(200), ratePct(10))
	if err != nil {
		t.Fatalf("rate model: %v", err)
	}

	engine := lending.NewEngine(poolAddr, vaultAddr, reserveAddr, lending.DefaultParams())
	engine.SetState(manager)
	if err := engine.SetTiers(lending.DefaultTiers()); err != nil {
		t.Fatalf("set tiers: %v", err)
	}
	engine.SetRateModel(model)
	engine.SetPriceSource(oracle)
	engine.SetScoreSource(scores)
	engine.SetRoles(registry)
	engine.SetPrincipalToken("TLD")
	engine.SetCollateralTokens([]string{"ETH"})
	engine.SetEventSink(func(evt *types.Event) {
		_, _ = manager.AppendEvent(evt)
	})

	srv := New(slog.Default(), manager, engine, scores, registry, oracle, Config{
		APITokens:         []string{testToken},
		RequestsPerMinute: 100000,
		Burst:             1000,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	env := &serverEnv{
		ts:       ts,
		manager:  manager,
		engine:   engine,
		admin:    admin,
		borrower: borrower,
		lender:   lenderAddr,
	}
	env.fund(t, borrower, "ETH", toWei(10))
	env.fund(t, lenderAddr, "TLD", toWei(1000))
	env.fund(t, borrower, "TLD", toWei(100))
	return env
}

func (e *serverEnv) fund(t *testing.T, addr crypto.Address, token string, amount *big.Int) {
	t.Helper()
	account, err := e.manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account == nil {
		account = types.NewAccount()
	}
	account.SetBalance(token, new(big.Int).Add(account.Balance(token), amount))
	if err := e.manager.PutAccount(addr, account); err != nil {
		t.Fatalf("put account: %v", err)
	}
}

func (e *serverEnv) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	decoded := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func (e *serverEnv) setScore(t *testing.T, addr crypto.Address, score uint64) {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/v1/creditscore/admin", adminScoreRequest{
		Caller:  e.admin.String(),
		Address: addr.String(),
		Score:   score,
	})
	if status != http.StatusOK {
		t.Fatalf("set score: status %d body %v", status, body)
	}
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	env := newServerEnv(t)
	resp, err := env.ts.Client().Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newServerEnv(t)
	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/pool", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}
}

func TestBorrowLifecycleOverHTTP(t *testing.T) {
	env := newServerEnv(t)
	env.setScore(t, env.borrower, 95)

	status, body := env.do(t, http.MethodPost, "/v1/lenders/deposit", lenderRequest{
		Address: env.lender.String(),
		Amount:  toWei(100).String(),
	})
	if status != http.StatusOK {
		t.Fatalf("lender deposit: status %d body %v", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/v1/collateral/deposit", collateralRequest{
		Address: env.borrower.String(),
		Token:   "ETH",
		Amount:  toWei(10).String(),
	})
	if status != http.StatusOK {
		t.Fatalf("collateral deposit: status %d body %v", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/v1/loans/borrow", borrowRequest{
		Address: env.borrower.String(),
		Amount:  toWei(6).String(),
	})
	if status != http.StatusCreated {
		t.Fatalf("borrow: status %d body %v", status, body)
	}
	if body["outstanding"] != toWei(6).String() {
		t.Fatalf("unexpected outstanding %v", body["outstanding"])
	}
	if body["active"] != true {
		t.Fatalf("loan should be active: %v", body)
	}

	status, body = env.do(t, http.MethodGet, "/v1/loans/"+env.borrower.String(), nil)
	if status != http.StatusOK {
		t.Fatalf("loan view: status %d body %v", status, body)
	}
	if body["borrower"] != env.borrower.String() {
		t.Fatalf("unexpected borrower %v", body["borrower"])
	}

	status, body = env.do(t, http.MethodGet, "/v1/pool", nil)
	if status != http.StatusOK {
		t.Fatalf("pool view: status %d body %v", status, body)
	}
	if body["totalOutstanding"] != toWei(6).String() {
		t.Fatalf("unexpected pool outstanding %v", body["totalOutstanding"])
	}

	status, body = env.do(t, http.MethodPost, "/v1/loans/repay", repayRequest{
		Address: env.borrower.String(),
		Payment: toWei(100).String(),
	})
	if status != http.StatusOK {
		t.Fatalf("repay: status %d body %v", status, body)
	}

	status, _ = env.do(t, http.MethodGet, "/v1/loans/"+env.borrower.String()+"/terms", nil)
	if status != http.StatusOK {
		t.Fatalf("terms view: status %d", status)
	}
}

func TestBorrowRejectionsMapToClientErrors(t *testing.T) {
	env := newServerEnv(t)
	env.setScore(t, env.borrower, 95)

	status, body := env.do(t, http.MethodPost, "/v1/loans/borrow", borrowRequest{
		Address: env.borrower.String(),
		Amount:  toWei(6).String(),
	})
	if status != http.StatusBadRequest {
		t.Fatalf("borrow against empty pool should 400, got %d body %v", status, body)
	}

	status, _ = env.do(t, http.MethodPost, "/v1/loans/borrow", borrowRequest{
		Address: env.borrower.String(),
		Amount:  "not-a-number",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("malformed amount should 400, got %d", status)
	}

	status, _ = env.do(t, http.MethodPost, "/v1/loans/borrow", borrowRequest{
		Address: "bogus",
		Amount:  toWei(6).String(),
	})
	if status != http.StatusBadRequest {
		t.Fatalf("malformed address should 400, got %d", status)
	}
}

func TestLenderWithdrawalOverHTTP(t *testing.T) {
	env := newServerEnv(t)

	status, body := env.do(t, http.MethodPost, "/v1/lenders/deposit", lenderRequest{
		Address: env.lender.String(),
		Amount:  toWei(50).String(),
	})
	if status != http.StatusOK {
		t.Fatalf("deposit: status %d body %v", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/v1/lenders/"+env.lender.String(), nil)
	if status != http.StatusOK {
		t.Fatalf("lender view: status %d body %v", status, body)
	}
	if body["balance"] != toWei(50).String() {
		t.Fatalf("unexpected balance %v", body["balance"])
	}

	status, body = env.do(t, http.MethodPost, "/v1/lenders/withdrawals/request", lenderRequest{
		Address: env.lender.String(),
		Amount:  toWei(10).String(),
	})
	if status != http.StatusOK {
		t.Fatalf("request withdrawal: status %d body %v", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/v1/lenders/withdrawals/complete", lenderRequest{
		Address: env.lender.String(),
	})
	if status != http.StatusOK {
		t.Fatalf("complete withdrawal: status %d body %v", status, body)
	}
	withdrawn, ok := new(big.Int).SetString(fmt.Sprint(body["withdrawn"]), 10)
	if !ok {
		t.Fatalf("bad withdrawn value %v", body["withdrawn"])
	}
	penalty, ok := new(big.Int).SetString(fmt.Sprint(body["penalty"]), 10)
	if !ok {
		t.Fatalf("bad penalty value %v", body["penalty"])
	}
	if got := new(big.Int).Add(withdrawn, penalty); got.Cmp(toWei(10)) != 0 {
		t.Fatalf("withdrawn %s + penalty %s != requested 10", withdrawn, penalty)
	}

	status, body = env.do(t, http.MethodPost, "/v1/lenders/withdrawals/complete", lenderRequest{
		Address: env.lender.String(),
	})
	if status != http.StatusBadRequest {
		t.Fatalf("double complete should 400, got %d body %v", status, body)
	}
}

func TestLiquidationStateView(t *testing.T) {
	env := newServerEnv(t)
	status, body := env.do(t, http.MethodGet, "/v1/liquidations/"+env.borrower.String(), nil)
	if status != http.StatusOK {
		t.Fatalf("liquidation state: status %d body %v", status, body)
	}
	if body["flagged"] != false {
		t.Fatalf("fresh position should not be flagged: %v", body)
	}

	// A debt-free position is healthy; starting liquidation conflicts with
	// its state the same way executing against an unflagged one does.
	status, body = env.do(t, http.MethodPost, "/v1/liquidations/start", liquidationRequest{
		Address: env.borrower.String(),
	})
	if status != http.StatusConflict {
		t.Fatalf("start against a healthy position should 409, got %d body %v", status, body)
	}
}

func TestEventsEndpoint(t *testing.T) {
	env := newServerEnv(t)

	status, body := env.do(t, http.MethodPost, "/v1/collateral/deposit", collateralRequest{
		Address: env.borrower.String(),
		Token:   "ETH",
		Amount:  toWei(1).String(),
	})
	if status != http.StatusOK {
		t.Fatalf("collateral deposit: status %d body %v", status, body)
	}

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/events?from=0&limit=10", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status %d", resp.StatusCode)
	}
	var events []struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one event after collateral deposit")
	}
}

func TestRoleGrantOverHTTP(t *testing.T) {
	env := newServerEnv(t)
	attestor := makeAddress(0x0B)

	status, body := env.do(t, http.MethodPost, "/v1/roles/grant", roleRequest{
		Caller:  env.admin.String(),
		Grantee: attestor.String(),
		Role:    permissions.RoleAttestor,
	})
	if status != http.StatusOK {
		t.Fatalf("grant: status %d body %v", status, body)
	}

	status, _ = env.do(t, http.MethodPost, "/v1/roles/grant", roleRequest{
		Caller:  attestor.String(),
		Grantee: attestor.String(),
		Role:    permissions.RoleAdmin,
	})
	if status != http.StatusForbidden {
		t.Fatalf("non-admin grant should 403, got %d", status)
	}

	status, _ = env.do(t, http.MethodPost, "/v1/roles/revoke", roleRequest{
		Caller:  env.admin.String(),
		Grantee: attestor.String(),
		Role:    permissions.RoleAttestor,
	})
	if status != http.StatusOK {
		t.Fatalf("revoke should succeed, got %d", status)
	}
}

func TestCreditScoreProfileOverHTTP(t *testing.T) {
	env := newServerEnv(t)
	env.setScore(t, env.borrower, 72)

	status, body := env.do(t, http.MethodGet, "/v1/creditscore/"+env.borrower.String(), nil)
	if status != http.StatusOK {
		t.Fatalf("profile: status %d body %v", status, body)
	}
	if body["finalScore"] != float64(72) {
		t.Fatalf("unexpected final score %v", body["finalScore"])
	}

	status, _ = env.do(t, http.MethodPost, "/v1/creditscore/admin", adminScoreRequest{
		Caller:  env.borrower.String(),
		Address: env.borrower.String(),
		Score:   99,
	})
	if status != http.StatusForbidden {
		t.Fatalf("non-admin score set should 403, got %d", status)
	}
}

func TestReserveWithdrawOverHTTP(t *testing.T) {
	env := newServerEnv(t)
	env.setScore(t, env.borrower, 95)

	status, body := env.do(t, http.MethodPost, "/v1/lenders/deposit", lenderRequest{
		Address: env.lender.String(),
		Amount:  toWei(100).String(),
	})
	if status != http.StatusOK {
		t.Fatalf("lender deposit: status %d body %v", status, body)
	}
	status, body = env.do(t, http.MethodPost, "/v1/collateral/deposit", collateralRequest{
		Address: env.borrower.String(),
		Token:   "ETH",
		Amount:  toWei(10).String(),
	})
	if status != http.StatusOK {
		t.Fatalf("collateral deposit: status %d body %v", status, body)
	}
	status, body = env.do(t, http.MethodPost, "/v1/loans/borrow", borrowRequest{
		Address: env.borrower.String(),
		Amount:  toWei(6).String(),
	})
	if status != http.StatusCreated {
		t.Fatalf("borrow: status %d body %v", status, body)
	}
	fee := new(big.Int).Div(new(big.Int).Mul(toWei(6), big.NewInt(25)), big.NewInt(10000))

	status, body = env.do(t, http.MethodGet, "/v1/fees", nil)
	if status != http.StatusOK {
		t.Fatalf("fees view: status %d body %v", status, body)
	}
	if body["originationFees"] != fee.String() {
		t.Fatalf("originationFees = %v, want %s", body["originationFees"], fee)
	}

	treasury := makeAddress(0x09)
	status, _ = env.do(t, http.MethodPost, "/v1/fees/withdraw", reserveWithdrawRequest{
		Caller:    env.borrower.String(),
		Recipient: treasury.String(),
		Amount:    fee.String(),
	})
	if status != http.StatusForbidden {
		t.Fatalf("non-admin reserve withdraw should 403, got %d", status)
	}

	status, _ = env.do(t, http.MethodPost, "/v1/fees/withdraw", reserveWithdrawRequest{
		Caller:    env.admin.String(),
		Recipient: treasury.String(),
		Amount:    toWei(5).String(),
	})
	if status != http.StatusBadRequest {
		t.Fatalf("over-balance reserve withdraw should 400, got %d", status)
	}

	status, body = env.do(t, http.MethodPost, "/v1/fees/withdraw", reserveWithdrawRequest{
		Caller:    env.admin.String(),
		Recipient: treasury.String(),
		Amount:    fee.String(),
	})
	if status != http.StatusOK {
		t.Fatalf("reserve withdraw: status %d body %v", status, body)
	}

	account, err := env.manager.GetAccount(treasury)
	if err != nil {
		t.Fatalf("get treasury account: %v", err)
	}
	if account == nil || account.Balance("TLD").Cmp(fee) != 0 {
		t.Fatalf("treasury balance mismatch, want %s", fee)
	}

	status, body = env.do(t, http.MethodGet, "/v1/fees", nil)
	if status != http.StatusOK {
		t.Fatalf("fees view: status %d body %v", status, body)
	}
	if body["originationFees"] != fee.String() {
		t.Fatalf("fee counter should survive sweep, got %v", body["originationFees"])
	}
}

func TestPriceAdminEndpointOverHTTP(t *testing.T) {
	env := newServerEnv(t)

	status, body := env.do(t, http.MethodGet, "/v1/prices/ETH", nil)
	if status != http.StatusOK {
		t.Fatalf("price view: status %d body %v", status, body)
	}
	if body["price"] != toWei(1).String() {
		t.Fatalf("unexpected ETH price %v", body["price"])
	}

	status, _ = env.do(t, http.MethodPost, "/v1/prices", priceRequest{
		Caller: env.borrower.String(),
		Token:  "ETH",
		Price:  toWei(2).String(),
	})
	if status != http.StatusForbidden {
		t.Fatalf("non-admin price set should 403, got %d", status)
	}

	status, body = env.do(t, http.MethodPost, "/v1/prices", priceRequest{
		Caller: env.admin.String(),
		Token:  "ETH",
		Price:  toWei(2).String(),
	})
	if status != http.StatusOK {
		t.Fatalf("admin price set: status %d body %v", status, body)
	}
	status, body = env.do(t, http.MethodGet, "/v1/prices/ETH", nil)
	if status != http.StatusOK {
		t.Fatalf("price view after set: status %d body %v", status, body)
	}
	if body["price"] != toWei(2).String() {
		t.Fatalf("price not updated, got %v", body["price"])
	}

	status, _ = env.do(t, http.MethodGet, "/v1/prices/UNKNOWN", nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown token should 404, got %d", status)
	}
}
