package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	hundred     = big.NewInt(100)
	wad         = mustBigInt("1000000000000000000") // 1e18 fixed point
	halfWad     = new(big.Int).Rsh(wad, 1)
)

const (
	secondsPerDay  int64 = 86_400
	secondsPerYear int64 = 31_536_000
	daysPerYear    int64 = 365
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// wadMul multiplies two 1e18 fixed-point values with half-up rounding.
func wadMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfWad)
	product.Quo(product, wad)
	return product
}

// wadDiv divides two 1e18 fixed-point values with half-up rounding.
func wadDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, wad)
	numerator.Add(numerator, halfUp(b))
	numerator.Quo(numerator, b)
	return numerator
}

// mulDiv computes a*b/den in arbitrary precision, truncating toward zero. The
// widened intermediate product cannot overflow.
func mulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// bpsShare returns amount*bps/10000.
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	return mulDiv(amount, new(big.Int).SetUint64(bps), basisPoints)
}

// clampSub returns a-b floored at zero. Every aggregate-counter mutation goes
// through this so bookkeeping drift can never drive a total negative.
func clampSub(a, b *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}

func minBig(a, b *big.Int) *big.Int {
	if a == nil {
		return new(big.Int).Set(b)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	half.Rsh(half, 1)
	return half
}

func dayNumber(unix int64) int64 {
	if unix <= 0 {
		return 0
	}
	return unix / secondsPerDay
}
