package rates

import (
	"errors"
	"math/big"
)

var (
	// Wad is the 1e18 fixed point scale used for utilisation and rates.
	Wad = big.NewInt(1_000_000_000_000_000_000)

	ErrInvalidKink        = errors.New("rates: kink must lie strictly between 0 and 1e18")
	ErrUtilisationRange   = errors.New("rates: utilisation must lie within [0, 1e18]")
	ErrNegativeParameter  = errors.New("rates: curve parameters must be non-negative")
	ErrReserveFactorRange = errors.New("rates: reserve factor must lie within [0, 1e18]")
	ErrModelNotConfigured = errors.New("rates: model not configured")
)

// Model is the kinked borrow-rate curve. All parameters are 1e18 fixed point
// annual rates except Kink, which is a utilisation ratio. RiskAdjustment is a
// signed additive term so governance can both subsidise and surcharge the
// curve; MaxBorrowRate caps the final result.
type Model struct {
	BaseRate       *big.Int
	Slope1         *big.Int
	Slope2         *big.Int
	Kink           *big.Int
	RiskAdjustment *big.Int
	MaxBorrowRate  *big.Int
	ReserveFactor  *big.Int
}

// NewModel constructs a validated model. Construction is the single place the
// kink bounds are enforced so the division in BorrowRate can never see a zero
// or full-scale kink.
func NewModel(baseRate, slope1, slope2, kink, riskAdjustment, maxBorrowRate, reserveFactor *big.Int) (*Model, error) {
	m := &Model{
		BaseRate:       cloneOrZero(baseRate),
		Slope1:         cloneOrZero(slope1),
		Slope2:         cloneOrZero(slope2),
		Kink:           cloneOrZero(kink),
		RiskAdjustment: cloneOrZero(riskAdjustment),
		MaxBorrowRate:  cloneOrZero(maxBorrowRate),
		ReserveFactor:  cloneOrZero(reserveFactor),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate rejects parameter sets that would make the curve undefined.
func (m *Model) Validate() error {
	if m == nil {
		return ErrModelNotConfigured
	}
	if m.Kink == nil || m.Kink.Sign() <= 0 || m.Kink.Cmp(Wad) >= 0 {
		return ErrInvalidKink
	}
	for _, param := range []*big.Int{m.BaseRate, m.Slope1, m.Slope2, m.MaxBorrowRate} {
		if param == nil || param.Sign() < 0 {
			return ErrNegativeParameter
		}
	}
	if m.ReserveFactor == nil || m.ReserveFactor.Sign() < 0 || m.ReserveFactor.Cmp(Wad) > 0 {
		return ErrReserveFactorRange
	}
	if m.RiskAdjustment == nil {
		return ErrNegativeParameter
	}
	return nil
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	return &Model{
		BaseRate:       cloneOrZero(m.BaseRate),
		Slope1:         cloneOrZero(m.Slope1),
		Slope2:         cloneOrZero(m.Slope2),
		Kink:           cloneOrZero(m.Kink),
		RiskAdjustment: cloneOrZero(m.RiskAdjustment),
		MaxBorrowRate:  cloneOrZero(m.MaxBorrowRate),
		ReserveFactor:  cloneOrZero(m.ReserveFactor),
	}
}

// BorrowRate maps pool utilisation to the annual borrow rate.
//
// Below the kink the rate climbs linearly at slope1 scaled by the kink; at and
// above it slope2 takes over for the remaining utilisation range, so the curve
// is continuous at the kink by construction. The signed risk adjustment is
// applied before the cap and the result is floored at zero.
func (m *Model) BorrowRate(utilisation *big.Int) (*big.Int, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if utilisation == nil || utilisation.Sign() < 0 || utilisation.Cmp(Wad) > 0 {
		return nil, ErrUtilisationRange
	}

	rate := new(big.Int).Set(m.BaseRate)
	if utilisation.Cmp(m.Kink) <= 0 {
		// rate = base + slope1 * u / kink
		slope := new(big.Int).Mul(m.Slope1, utilisation)
		slope.Quo(slope, m.Kink)
		rate.Add(rate, slope)
	} else {
		// rate = base + slope1 + slope2 * (u - kink) / (1e18 - kink)
		rate.Add(rate, m.Slope1)
		excess := new(big.Int).Sub(utilisation, m.Kink)
		span := new(big.Int).Sub(Wad, m.Kink)
		steep := new(big.Int).Mul(m.Slope2, excess)
		steep.Quo(steep, span)
		rate.Add(rate, steep)
	}

	rate.Add(rate, m.RiskAdjustment)
	if rate.Sign() < 0 {
		rate.SetInt64(0)
	}
	if m.MaxBorrowRate.Sign() > 0 && rate.Cmp(m.MaxBorrowRate) > 0 {
		rate.Set(m.MaxBorrowRate)
	}
	return rate, nil
}

// SupplyRate derives the lender-side rate from utilisation and the borrow
// rate, removing the protocol reserve cut before lenders receive yield:
// supply = u * borrow * (1e18 - reserveFactor) / 1e36.
func (m *Model) SupplyRate(utilisation, borrowRate *big.Int) (*big.Int, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if utilisation == nil || utilisation.Sign() < 0 || utilisation.Cmp(Wad) > 0 {
		return nil, ErrUtilisationRange
	}
	if borrowRate == nil || borrowRate.Sign() < 0 {
		return nil, ErrNegativeParameter
	}

	oneMinusReserve := new(big.Int).Sub(Wad, m.ReserveFactor)
	rate := new(big.Int).Mul(utilisation, borrowRate)
	rate.Mul(rate, oneMinusReserve)
	rate.Quo(rate, Wad)
	rate.Quo(rate, Wad)
	return rate, nil
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
