package creditscore

import (
	"errors"
	"testing"

	"tierlend/crypto"
	nativecommon "tierlend/native/common"
)

type mockScoreState struct {
	profiles   map[string]*Profile
	admin      map[string]uint64
	nullifiers map[[32]byte]bool
}

func newMockScoreState() *mockScoreState {
	return &mockScoreState{
		profiles:   make(map[string]*Profile),
		admin:      make(map[string]uint64),
		nullifiers: make(map[[32]byte]bool),
	}
}

func (m *mockScoreState) key(addr crypto.Address) string { return string(addr.Bytes()) }

func (m *mockScoreState) GetProfile(addr crypto.Address) (*Profile, error) {
	return m.profiles[m.key(addr)], nil
}

func (m *mockScoreState) PutProfile(profile *Profile) error {
	m.profiles[m.key(profile.Address)] = profile
	return nil
}

func (m *mockScoreState) GetAdminScore(addr crypto.Address) (uint64, bool, error) {
	score, ok := m.admin[m.key(addr)]
	return score, ok, nil
}

func (m *mockScoreState) PutAdminScore(addr crypto.Address, score uint64) error {
	m.admin[m.key(addr)] = score
	return nil
}

func (m *mockScoreState) HasNullifier(n [32]byte) (bool, error) { return m.nullifiers[n], nil }

func (m *mockScoreState) PutNullifier(n [32]byte) error {
	m.nullifiers[n] = true
	return nil
}

type allowAllRoles struct{}

func (allowAllRoles) RequireRole(crypto.Address, string) error { return nil }

type denyRoles struct{ err error }

func (d denyRoles) RequireRole(crypto.Address, string) error { return d.err }

type stubLegacy struct {
	score uint64
	err   error
}

func (s stubLegacy) FinalScore(crypto.Address) (uint64, error) { return s.score, s.err }

type stubVerifier struct {
	att *Attestation
	err error
}

func (s stubVerifier) Verify(crypto.Address, string, []byte) (*Attestation, error) {
	return s.att, s.err
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

const testNow int64 = 1_750_000_000

func newTestEngine(state *mockScoreState) *Engine {
	engine := NewEngine(allowAllRoles{})
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return testNow })
	return engine
}

func TestEffectiveScorePrefersFreshProfile(t *testing.T) {
	state := newMockScoreState()
	engine := newTestEngine(state)
	engine.SetLegacyScorer(stubLegacy{score: 40})
	user := makeAddress(0x01)

	state.profiles[state.key(user)] = &Profile{
		Address: user,
		Sources: map[Source]SubScore{
			SourceTradFi:  {Score: 90, UpdatedAt: testNow - 1000},
			SourceOnChain: {Score: 80, UpdatedAt: testNow - 2000},
		},
	}
	state.admin[state.key(user)] = 10

	score, err := engine.EffectiveScore(user)
	if err != nil {
		t.Fatalf("effective score: %v", err)
	}
	if score != 85 {
		t.Fatalf("expected averaged profile score 85, got %d", score)
	}
}

func TestEffectiveScoreExpiredProfileFallsBack(t *testing.T) {
	state := newMockScoreState()
	engine := newTestEngine(state)
	engine.SetLegacyScorer(stubLegacy{score: 55})
	user := makeAddress(0x02)

	// Both sub-scores outside the 30-day window: profile contributes nothing.
	stale := testNow - DefaultValidityWindow - 1
	state.profiles[state.key(user)] = &Profile{
		Address: user,
		Sources: map[Source]SubScore{
			SourceTradFi: {Score: 95, UpdatedAt: stale},
		},
	}

	score, err := engine.EffectiveScore(user)
	if err != nil {
		t.Fatalf("effective score: %v", err)
	}
	if score != 55 {
		t.Fatalf("expected legacy score 55, got %d", score)
	}
}

func TestEffectiveScoreLegacyFailureFallsThroughSilently(t *testing.T) {
	state := newMockScoreState()
	engine := newTestEngine(state)
	engine.SetLegacyScorer(stubLegacy{err: errors.New("legacy system down")})
	user := makeAddress(0x03)
	state.admin[state.key(user)] = 33

	score, err := engine.EffectiveScore(user)
	if err != nil {
		t.Fatalf("effective score: %v", err)
	}
	if score != 33 {
		t.Fatalf("expected admin score 33, got %d", score)
	}
}

func TestEffectiveScoreNoSources(t *testing.T) {
	state := newMockScoreState()
	engine := newTestEngine(state)
	score, err := engine.EffectiveScore(makeAddress(0x04))
	if err != nil {
		t.Fatalf("effective score: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected zero score, got %d", score)
	}
}

func TestSetCreditScoreBoundsAndGating(t *testing.T) {
	state := newMockScoreState()
	engine := newTestEngine(state)
	admin := makeAddress(0x05)
	user := makeAddress(0x06)

	if err := engine.SetCreditScore(admin, user, 101); !errors.Is(err, ErrScoreOutOfRange) {
		t.Fatalf("expected ErrScoreOutOfRange, got %v", err)
	}
	if err := engine.SetCreditScore(admin, user, 75); err != nil {
		t.Fatalf("set score: %v", err)
	}
	if got := state.admin[state.key(user)]; got != 75 {
		t.Fatalf("expected stored admin score 75, got %d", got)
	}

	gateErr := errors.New("not admin")
	gated := NewEngine(denyRoles{err: gateErr})
	gated.SetState(state)
	if err := gated.SetCreditScore(admin, user, 50); !errors.Is(err, gateErr) {
		t.Fatalf("expected role error, got %v", err)
	}
}

func TestAttestationNullifierReplayBlocked(t *testing.T) {
	state := newMockScoreState()
	engine := newTestEngine(state)
	attestor := makeAddress(0x07)
	user := makeAddress(0x08)

	att := &Attestation{
		Subject:   user,
		Source:    SourceTradFi,
		Score:     88,
		IssuedAt:  testNow - 100,
		Nullifier: ComputeNullifier(user, "tradfi-bank", []byte("proof-blob")),
	}

	profile, err := engine.UpdateFromAttestation(attestor, att)
	if err != nil {
		t.Fatalf("update from attestation: %v", err)
	}
	if profile.FinalScore != 88 {
		t.Fatalf("expected final score 88, got %d", profile.FinalScore)
	}

	if _, err := engine.UpdateFromAttestation(attestor, att); !errors.Is(err, ErrNullifierUsed) {
		t.Fatalf("expected ErrNullifierUsed, got %v", err)
	}
}

func TestSubmitProofRejectionHasNoSideEffects(t *testing.T) {
	state := newMockScoreState()
	engine := newTestEngine(state)
	engine.SetVerifier(stubVerifier{err: errors.New("presentation invalid")})
	user := makeAddress(0x09)

	if _, err := engine.SubmitProof(user, user, "tradfi-bank", []byte("junk")); !errors.Is(err, ErrProofRejected) {
		t.Fatalf("expected ErrProofRejected, got %v", err)
	}
	if state.profiles[state.key(user)] != nil {
		t.Fatalf("expected no profile write on rejection")
	}
}

func TestSubmitProofAcceptedUpdatesProfile(t *testing.T) {
	state := newMockScoreState()
	engine := newTestEngine(state)
	user := makeAddress(0x0A)
	engine.SetVerifier(stubVerifier{att: &Attestation{
		Subject:  user,
		Source:   SourceHybrid,
		Score:    70,
		IssuedAt: testNow - 10,
	}})

	profile, err := engine.SubmitProof(user, user, "hybrid-nest", []byte("presentation"))
	if err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	if profile.FinalScore != 70 || !profile.Eligible {
		t.Fatalf("unexpected profile: score=%d eligible=%v", profile.FinalScore, profile.Eligible)
	}
}

type pauseAll struct{}

func (pauseAll) IsPaused(module string) bool { return module == moduleName }

func TestMutationsBlockedWhilePaused(t *testing.T) {
	state := newMockScoreState()
	engine := newTestEngine(state)
	engine.SetPauses(pauseAll{})
	engine.SetVerifier(stubVerifier{att: &Attestation{}})
	admin := makeAddress(0x20)
	user := makeAddress(0x21)

	if err := engine.SetCreditScore(admin, user, 50); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("set score while paused: expected pause error, got %v", err)
	}
	att := &Attestation{
		Subject:   user,
		Source:    SourceTradFi,
		Score:     80,
		IssuedAt:  testNow,
		Nullifier: ComputeNullifier(user, "tradfi", []byte("proof")),
	}
	if _, err := engine.UpdateFromAttestation(admin, att); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("attestation while paused: expected pause error, got %v", err)
	}
	if _, err := engine.SubmitProof(admin, user, "tradfi", []byte("proof")); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("proof while paused: expected pause error, got %v", err)
	}

	// Reads stay open while mutations are paused.
	state.admin[state.key(user)] = 61
	score, err := engine.EffectiveScore(user)
	if err != nil {
		t.Fatalf("effective score: %v", err)
	}
	if score != 61 {
		t.Fatalf("score = %d, want 61", score)
	}
}
