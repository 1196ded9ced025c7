package creditscore

import (
	"errors"
	"time"

	"tierlend/crypto"
	nativecommon "tierlend/native/common"
	"tierlend/native/permissions"
)

const moduleName = "creditscore"

var (
	ErrNilState        = errors.New("creditscore: state not configured")
	ErrScoreOutOfRange = errors.New("creditscore: score must lie within [0,100]")
	ErrNullifierUsed   = errors.New("creditscore: proof nullifier already consumed")
	ErrProofRejected   = errors.New("creditscore: proof rejected by verifier")
	ErrNoVerifier      = errors.New("creditscore: verifier not configured")
)

type engineState interface {
	GetProfile(addr crypto.Address) (*Profile, error)
	PutProfile(profile *Profile) error
	GetAdminScore(addr crypto.Address) (uint64, bool, error)
	PutAdminScore(addr crypto.Address, score uint64) error
	HasNullifier(nullifier [32]byte) (bool, error)
	PutNullifier(nullifier [32]byte) error
}

// Verifier is the opaque attestation oracle boundary. Implementations wrap an
// external zero-knowledge / TLS-notary verification service; every call is
// treated as fallible.
type Verifier interface {
	Verify(subject crypto.Address, kind string, proof []byte) (*Attestation, error)
}

// LegacyScorer exposes the final score of an alternate, older credit system.
// It is consulted only when the attestation-backed profile yields nothing.
type LegacyScorer interface {
	FinalScore(addr crypto.Address) (uint64, error)
}

type roleChecker interface {
	RequireRole(caller crypto.Address, role string) error
}

// Engine aggregates credit scores from the attestation-backed profile, a
// legacy credit system and admin-assigned overrides, in that precedence.
type Engine struct {
	state          engineState
	verifier       Verifier
	legacy         LegacyScorer
	roles          roleChecker
	pauses         nativecommon.PauseView
	validityWindow int64
	nowFn          func() int64
	events         func(evt *EventRecord)
}

// NewEngine constructs a credit score engine with the default 30-day source
// validity window.
func NewEngine(roles roleChecker) *Engine {
	return &Engine{
		roles:          roles,
		validityWindow: DefaultValidityWindow,
		nowFn:          func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetVerifier installs the external attestation verifier.
func (e *Engine) SetVerifier(v Verifier) {
	if e == nil {
		return
	}
	e.verifier = v
}

// SetLegacyScorer installs the alternate credit system consulted as the
// second fallback source.
func (e *Engine) SetLegacyScorer(s LegacyScorer) {
	if e == nil {
		return
	}
	e.legacy = s
}

// SetPauses installs the module pause switches consulted on every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the wall clock used for validity windows.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// SetValidityWindow overrides the sub-score validity window in seconds.
func (e *Engine) SetValidityWindow(seconds int64) {
	if e == nil || seconds <= 0 {
		return
	}
	e.validityWindow = seconds
}

// SetEventSink registers a callback receiving emitted events.
func (e *Engine) SetEventSink(sink func(evt *EventRecord)) {
	if e == nil {
		return
	}
	e.events = sink
}

// EffectiveScore resolves the score used for risk-tier classification. The
// resolution order is fixed: the attestation-backed profile when fresh and
// positive, then the legacy system, then the admin-assigned score. Failures
// from the external legacy system fall through silently; only ledger errors
// abort the read. The read has no side effects.
func (e *Engine) EffectiveScore(addr crypto.Address) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	now := e.nowFn()

	profile, err := e.state.GetProfile(addr)
	if err != nil {
		return 0, err
	}
	if profile != nil {
		fresh := profile.Clone()
		fresh.Recompute(now, e.validityWindow)
		if fresh.FinalScore > 0 {
			return fresh.FinalScore, nil
		}
	}

	if e.legacy != nil {
		if score, err := e.legacy.FinalScore(addr); err == nil && score > 0 {
			if score > MaxScore {
				score = MaxScore
			}
			return score, nil
		}
	}

	score, ok, err := e.state.GetAdminScore(addr)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return score, nil
}

// Profile returns the stored profile with FinalScore recomputed against the
// current validity window. A nil profile means the address has never been
// attested.
func (e *Engine) Profile(addr crypto.Address) (*Profile, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	profile, err := e.state.GetProfile(addr)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, nil
	}
	fresh := profile.Clone()
	fresh.Recompute(e.nowFn(), e.validityWindow)
	return fresh, nil
}

// SetCreditScore records an admin-assigned score for the address. The caller
// must hold ROLE_ADMIN and the score is bounded to [0,100].
func (e *Engine) SetCreditScore(caller, addr crypto.Address, score uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.roles != nil {
		if err := e.roles.RequireRole(caller, permissions.RoleAdmin); err != nil {
			return err
		}
	}
	if score > MaxScore {
		return ErrScoreOutOfRange
	}
	if err := e.state.PutAdminScore(addr, score); err != nil {
		return err
	}
	e.emit(newScoreUpdatedEvent(addr, score, "admin"))
	return nil
}

// UpdateFromAttestation folds a verified attestation into the subject's
// profile. The caller must hold ROLE_ATTESTOR and the attestation's nullifier
// must be unused; consuming it prevents proof replay.
func (e *Engine) UpdateFromAttestation(caller crypto.Address, att *Attestation) (*Profile, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.roles != nil {
		if err := e.roles.RequireRole(caller, permissions.RoleAttestor); err != nil {
			return nil, err
		}
	}
	if err := att.Validate(); err != nil {
		return nil, err
	}

	used, err := e.state.HasNullifier(att.Nullifier)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrNullifierUsed
	}

	profile, err := e.state.GetProfile(att.Subject)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = &Profile{Address: att.Subject, Sources: make(map[Source]SubScore)}
	}
	if profile.Sources == nil {
		profile.Sources = make(map[Source]SubScore)
	}

	now := e.nowFn()
	profile.Sources[att.Source] = SubScore{Score: att.Score, UpdatedAt: att.IssuedAt}
	profile.LastUpdate = now
	profile.Recompute(now, e.validityWindow)

	if err := e.state.PutNullifier(att.Nullifier); err != nil {
		return nil, err
	}
	if err := e.state.PutProfile(profile); err != nil {
		return nil, err
	}
	e.emit(newScoreUpdatedEvent(att.Subject, profile.FinalScore, string(att.Source)))
	return profile, nil
}

// SubmitProof runs the opaque verification oracle over the proof blob and, on
// acceptance, folds the resulting attestation into the subject's profile. A
// verifier failure surfaces as a rejection; it never aborts with a partial
// profile write.
func (e *Engine) SubmitProof(caller, subject crypto.Address, kind string, proof []byte) (*Profile, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.verifier == nil {
		return nil, ErrNoVerifier
	}
	att, err := e.verifier.Verify(subject, kind, proof)
	if err != nil || att == nil {
		e.emit(newProofRejectedEvent(subject, kind))
		return nil, ErrProofRejected
	}
	if att.Nullifier == ([32]byte{}) {
		att.Nullifier = ComputeNullifier(subject, kind, proof)
	}
	return e.UpdateFromAttestation(caller, att)
}

func (e *Engine) emit(evt *EventRecord) {
	if e == nil || e.events == nil || evt == nil {
		return
	}
	e.events(evt)
}
