package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"tierlend/core/types"
	"tierlend/crypto"
	"tierlend/native/creditscore"
	"tierlend/native/lending"
	"tierlend/native/permissions"
	"tierlend/storage"
)

func makeAddress(suffix byte) crypto.Address {
	var b [20]byte
	b[19] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, b[:])
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func TestAccountRoundTrip(t *testing.T) {
	m := newTestManager(t)
	addr := makeAddress(0x01)

	missing, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Nil(t, missing)

	account := types.NewAccount()
	account.SetBalance("TLD", big.NewInt(1234))
	account.Nonce = 7
	require.NoError(t, m.PutAccount(addr, account))

	loaded, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, uint64(7), loaded.Nonce)
	require.Zero(t, loaded.Balance("TLD").Cmp(big.NewInt(1234)))
}

func TestLoanRoundTripAndIndex(t *testing.T) {
	m := newTestManager(t)
	borrower := makeAddress(0x02)
	loan := &lending.Loan{
		Borrower:          borrower,
		Tier:              2,
		Principal:         big.NewInt(1200),
		Outstanding:       big.NewInt(1100),
		InterestRate:      big.NewInt(5e16),
		InstallmentAmount: big.NewInt(100),
		NextDueDate:       1_750_000_000,
		PenaltyBps:        400,
		PenaltyAccrued:    big.NewInt(0),
		Active:            true,
	}
	require.NoError(t, m.PutLoan(loan))

	loaded, err := m.GetLoan(borrower)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.True(t, loaded.Borrower.Equal(borrower))
	require.Zero(t, loaded.Outstanding.Cmp(big.NewInt(1100)))
	require.True(t, loaded.Active)

	addrs, err := m.LoanAddresses()
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	require.True(t, addrs[0].Equal(borrower))

	// Re-putting the same loan must not duplicate the index entry.
	require.NoError(t, m.PutLoan(loan))
	addrs, err = m.LoanAddresses()
	require.NoError(t, err)
	require.Len(t, addrs, 1)
}

func TestLenderDeleteRemovesIndexEntry(t *testing.T) {
	m := newTestManager(t)
	a := makeAddress(0x03)
	b := makeAddress(0x04)
	for _, addr := range []crypto.Address{a, b} {
		require.NoError(t, m.PutLender(&lending.LenderPosition{
			Address:           addr,
			Balance:           big.NewInt(10),
			EarnedInterest:    big.NewInt(0),
			PendingWithdrawal: big.NewInt(0),
			InterestIndex:     big.NewInt(1),
		}))
	}
	require.NoError(t, m.DeleteLender(a))

	gone, err := m.GetLender(a)
	require.NoError(t, err)
	require.Nil(t, gone)

	addrs, err := m.LenderAddresses()
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	require.True(t, addrs[0].Equal(b))
}

func TestPoolDefaultsWhenUnset(t *testing.T) {
	m := newTestManager(t)
	pool, err := m.GetPool()
	require.NoError(t, err)
	require.NotNil(t, pool)

	pool.TotalFunds = big.NewInt(500)
	pool.BorrowedByTier = map[uint8]*big.Int{1: big.NewInt(200)}
	require.NoError(t, m.PutPool(pool))

	loaded, err := m.GetPool()
	require.NoError(t, err)
	require.Zero(t, loaded.TotalFunds.Cmp(big.NewInt(500)))
	require.Zero(t, loaded.BorrowedByTier[1].Cmp(big.NewInt(200)))
}

func TestCreditScoreRecords(t *testing.T) {
	m := newTestManager(t)
	addr := makeAddress(0x05)

	_, found, err := m.GetAdminScore(addr)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, m.PutAdminScore(addr, 66))
	score, found, err := m.GetAdminScore(addr)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(66), score)

	profile := &creditscore.Profile{
		Address:    addr,
		Sources:    map[creditscore.Source]creditscore.SubScore{creditscore.SourceTradFi: {Score: 80, UpdatedAt: 1_750_000_000}},
		FinalScore: 80,
		Eligible:   true,
		LastUpdate: 1_750_000_000,
	}
	require.NoError(t, m.PutProfile(profile))
	loaded, err := m.GetProfile(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(80), loaded.FinalScore)
	require.True(t, loaded.Address.Equal(addr))

	nullifier := creditscore.ComputeNullifier(addr, "tradfi", []byte("proof"))
	used, err := m.HasNullifier(nullifier)
	require.NoError(t, err)
	require.False(t, used)
	require.NoError(t, m.PutNullifier(nullifier))
	used, err = m.HasNullifier(nullifier)
	require.NoError(t, err)
	require.True(t, used)
}

func TestProfileAggregatesSourcesAcrossPersistence(t *testing.T) {
	m := newTestManager(t)
	admin := makeAddress(0x0A)
	attestor := makeAddress(0x0B)
	subject := makeAddress(0x0C)

	registry := permissions.NewRegistry(m)
	require.NoError(t, registry.Bootstrap(admin))
	require.NoError(t, registry.Grant(admin, attestor, permissions.RoleAttestor))

	engine := creditscore.NewEngine(registry)
	engine.SetState(m)
	now := int64(1_750_000_000)
	engine.SetNowFunc(func() int64 { return now })

	first := &creditscore.Attestation{
		Subject:   subject,
		Source:    creditscore.SourceTradFi,
		Score:     90,
		IssuedAt:  now,
		Nullifier: creditscore.ComputeNullifier(subject, "tradfi", []byte("proof-a")),
	}
	_, err := engine.UpdateFromAttestation(attestor, first)
	require.NoError(t, err)

	second := &creditscore.Attestation{
		Subject:   subject,
		Source:    creditscore.SourceOnChain,
		Score:     70,
		IssuedAt:  now,
		Nullifier: creditscore.ComputeNullifier(subject, "onchain", []byte("proof-b")),
	}
	profile, err := engine.UpdateFromAttestation(attestor, second)
	require.NoError(t, err)
	require.Len(t, profile.Sources, 2)
	require.Equal(t, uint64(80), profile.FinalScore)

	// The second update must land on the record loaded from the ledger, not
	// on a fresh profile under a different key.
	loaded, err := m.GetProfile(subject)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.True(t, loaded.Address.Equal(subject))
	require.Len(t, loaded.Sources, 2)
}

func TestRoleMembersBackRegistry(t *testing.T) {
	m := newTestManager(t)
	admin := makeAddress(0x06)
	registry := permissions.NewRegistry(m)

	require.NoError(t, registry.Bootstrap(admin))
	ok, err := registry.HasRole(admin, permissions.RoleAdmin)
	require.NoError(t, err)
	require.True(t, ok)

	keeper := makeAddress(0x07)
	require.NoError(t, registry.Grant(admin, keeper, permissions.RoleKeeper))
	require.NoError(t, registry.RequireRole(keeper, permissions.RoleKeeper))
}

func TestTransactionAbortRollsBack(t *testing.T) {
	m := newTestManager(t)
	addr := makeAddress(0x08)

	m.Begin()
	require.NoError(t, m.PutAdminScore(addr, 42))
	score, found, err := m.GetAdminScore(addr)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(42), score)
	m.Abort()

	_, found, err = m.GetAdminScore(addr)
	require.NoError(t, err)
	require.False(t, found)
}

func TestTransactionCommitPersists(t *testing.T) {
	m := newTestManager(t)
	addr := makeAddress(0x09)

	err := m.WithTransaction(func() error {
		return m.PutAdminScore(addr, 55)
	})
	require.NoError(t, err)

	score, found, err := m.GetAdminScore(addr)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(55), score)
}

func TestTransactionDeleteVisibility(t *testing.T) {
	m := newTestManager(t)
	addr := makeAddress(0x0A)
	require.NoError(t, m.PutLender(&lending.LenderPosition{
		Address:           addr,
		Balance:           big.NewInt(1),
		EarnedInterest:    big.NewInt(0),
		PendingWithdrawal: big.NewInt(0),
		InterestIndex:     big.NewInt(1),
	}))

	m.Begin()
	require.NoError(t, m.DeleteLender(addr))
	gone, err := m.GetLender(addr)
	require.NoError(t, err)
	require.Nil(t, gone)
	m.Abort()

	back, err := m.GetLender(addr)
	require.NoError(t, err)
	require.NotNil(t, back)
}

func TestEventLogSequence(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 3; i++ {
		seq, err := m.AppendEvent(&types.Event{Type: "lending.test", Attributes: map[string]string{"i": string(rune('a' + i))}})
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), seq)
	}
	events, err := m.Events(2, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "lending.test", events[0].Type)
}
