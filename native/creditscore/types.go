package creditscore

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tierlend/crypto"
)

// Source identifies one of the verification channels contributing a sub-score
// to a user's credit profile.
type Source string

const (
	SourceTradFi  Source = "tradfi"
	SourceOnChain Source = "onchain"
	SourceHybrid  Source = "hybrid"
)

// MaxScore bounds every score in the system to the [0,100] band.
const MaxScore uint64 = 100

// DefaultValidityWindow is how long a sub-score participates in the weighted
// average before it is excluded: 30 days, in seconds.
const DefaultValidityWindow int64 = 30 * 24 * 60 * 60

// SubScore is one source's contribution together with its report time.
type SubScore struct {
	Score     uint64 `json:"score"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Profile is the per-address credit record. FinalScore and Eligible are
// derived: they are recomputed from the currently-valid sub-scores on every
// attestation or admin update.
type Profile struct {
	Address    crypto.Address      `json:"address"`
	Sources    map[Source]SubScore `json:"sources"`
	FinalScore uint64              `json:"finalScore"`
	Eligible   bool                `json:"eligible"`
	LastUpdate int64               `json:"lastUpdate"`
}

// Recompute derives FinalScore from the sub-scores still inside the validity
// window at the supplied time. Sources are equally weighted; with no valid
// source the score is zero and the profile is ineligible.
func (p *Profile) Recompute(now int64, validityWindow int64) {
	if p == nil {
		return
	}
	if validityWindow <= 0 {
		validityWindow = DefaultValidityWindow
	}
	var sum, count uint64
	for _, sub := range p.Sources {
		if sub.UpdatedAt <= 0 || now-sub.UpdatedAt > validityWindow {
			continue
		}
		score := sub.Score
		if score > MaxScore {
			score = MaxScore
		}
		sum += score
		count++
	}
	if count == 0 {
		p.FinalScore = 0
		p.Eligible = false
		return
	}
	p.FinalScore = sum / count
	p.Eligible = p.FinalScore > 0
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := &Profile{
		Address:    p.Address,
		FinalScore: p.FinalScore,
		Eligible:   p.Eligible,
		LastUpdate: p.LastUpdate,
		Sources:    make(map[Source]SubScore, len(p.Sources)),
	}
	for source, sub := range p.Sources {
		clone.Sources[source] = sub
	}
	return clone
}

// Attestation is the sanitized output of the external verification oracle: a
// subject, the channel that produced the score, and a single-use nullifier
// binding the underlying proof.
type Attestation struct {
	Subject   crypto.Address
	Source    Source
	Score     uint64
	IssuedAt  int64
	Nullifier [32]byte
}

// Validate ensures the attestation payload is well formed.
func (a *Attestation) Validate() error {
	if a == nil {
		return errors.New("creditscore: attestation nil")
	}
	if a.Subject.IsZero() {
		return errors.New("creditscore: subject required")
	}
	switch a.Source {
	case SourceTradFi, SourceOnChain, SourceHybrid:
	default:
		return errors.New("creditscore: unknown source")
	}
	if a.Score > MaxScore {
		return errors.New("creditscore: score exceeds 100")
	}
	if a.IssuedAt <= 0 {
		return errors.New("creditscore: issuedAt must be positive")
	}
	if a.Nullifier == ([32]byte{}) {
		return errors.New("creditscore: nullifier required")
	}
	return nil
}

// ComputeNullifier derives the deterministic single-use identifier for a
// proof blob submitted on behalf of a subject.
func ComputeNullifier(subject crypto.Address, kind string, proof []byte) [32]byte {
	digest := ethcrypto.Keccak256([]byte(kind))
	hash := ethcrypto.Keccak256(subject.Bytes(), digest, ethcrypto.Keccak256(proof))
	var nullifier [32]byte
	copy(nullifier[:], hash)
	return nullifier
}
