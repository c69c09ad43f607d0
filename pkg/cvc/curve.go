package cvc

import (
	"crypto/elliptic"
	"math/big"
)

// WeierstrassCurve implements elliptic.Curve for y² = x³ + ax + b over GF(p)
// with an arbitrary coefficient a. crypto/elliptic only covers a = -3, which
// excludes the Brainpool curves and most card-issued domain parameters.
//
// Points use affine coordinates; the point at infinity is (0, 0), as in
// crypto/elliptic. The implementation is not constant time and is meant for
// public key operations (signature verification, ECDH with ephemeral keys).
type WeierstrassCurve struct {
	params *elliptic.CurveParams
	a      *big.Int
}

// NewWeierstrassCurve builds a curve from its domain parameters.
func NewWeierstrassCurve(name string, p, a, b, gx, gy, n *big.Int) *WeierstrassCurve {
	return &WeierstrassCurve{
		params: &elliptic.CurveParams{
			P:       new(big.Int).Set(p),
			N:       new(big.Int).Set(n),
			B:       new(big.Int).Set(b),
			Gx:      new(big.Int).Set(gx),
			Gy:      new(big.Int).Set(gy),
			BitSize: p.BitLen(),
			Name:    name,
		},
		a: new(big.Int).Set(a),
	}
}

// Params returns the curve parameters. The CurveParams methods must not be
// used directly since they assume a = -3.
func (c *WeierstrassCurve) Params() *elliptic.CurveParams {
	return c.params
}

// A returns the a coefficient.
func (c *WeierstrassCurve) A() *big.Int {
	return new(big.Int).Set(c.a)
}

func (c *WeierstrassCurve) IsOnCurve(x, y *big.Int) bool {
	p := c.params.P
	if x.Sign() < 0 || x.Cmp(p) >= 0 || y.Sign() < 0 || y.Cmp(p) >= 0 {
		return false
	}

	// y² - (x³ + ax + b) ≡ 0
	lhs := new(big.Int).Mul(y, y)
	rhs := new(big.Int).Mul(x, x)
	rhs.Mul(rhs, x)
	ax := new(big.Int).Mul(c.a, x)
	rhs.Add(rhs, ax)
	rhs.Add(rhs, c.params.B)
	lhs.Sub(lhs, rhs)
	return lhs.Mod(lhs, p).Sign() == 0
}

func isInfinity(x, y *big.Int) bool {
	return x.Sign() == 0 && y.Sign() == 0
}

func (c *WeierstrassCurve) Add(x1, y1, x2, y2 *big.Int) (*big.Int, *big.Int) {
	if isInfinity(x1, y1) {
		return new(big.Int).Set(x2), new(big.Int).Set(y2)
	}
	if isInfinity(x2, y2) {
		return new(big.Int).Set(x1), new(big.Int).Set(y1)
	}

	p := c.params.P
	if x1.Cmp(x2) == 0 {
		if y1.Cmp(y2) == 0 {
			return c.Double(x1, y1)
		}
		return new(big.Int), new(big.Int)
	}

	// λ = (y2 - y1) / (x2 - x1)
	num := new(big.Int).Sub(y2, y1)
	den := new(big.Int).Sub(x2, x1)
	den.Mod(den, p)
	den.ModInverse(den, p)
	lambda := num.Mul(num, den)
	lambda.Mod(lambda, p)

	return c.finish(lambda, x1, y1, x2)
}

func (c *WeierstrassCurve) Double(x1, y1 *big.Int) (*big.Int, *big.Int) {
	if isInfinity(x1, y1) || y1.Sign() == 0 {
		return new(big.Int), new(big.Int)
	}

	p := c.params.P

	// λ = (3x² + a) / 2y
	num := new(big.Int).Mul(x1, x1)
	num.Mul(num, big.NewInt(3))
	num.Add(num, c.a)
	den := new(big.Int).Lsh(y1, 1)
	den.Mod(den, p)
	den.ModInverse(den, p)
	lambda := num.Mul(num, den)
	lambda.Mod(lambda, p)

	return c.finish(lambda, x1, y1, x1)
}

// finish computes x3 = λ² - x1 - x2 and y3 = λ(x1 - x3) - y1.
func (c *WeierstrassCurve) finish(lambda, x1, y1, x2 *big.Int) (*big.Int, *big.Int) {
	p := c.params.P

	x3 := new(big.Int).Mul(lambda, lambda)
	x3.Sub(x3, x1)
	x3.Sub(x3, x2)
	x3.Mod(x3, p)

	y3 := new(big.Int).Sub(x1, x3)
	y3.Mul(y3, lambda)
	y3.Sub(y3, y1)
	y3.Mod(y3, p)

	return x3, y3
}

func (c *WeierstrassCurve) ScalarMult(bx, by *big.Int, k []byte) (*big.Int, *big.Int) {
	x, y := new(big.Int), new(big.Int)
	for _, b := range k {
		for bit := 7; bit >= 0; bit-- {
			x, y = c.Double(x, y)
			if b>>uint(bit)&1 == 1 {
				x, y = c.Add(x, y, bx, by)
			}
		}
	}
	return x, y
}

func (c *WeierstrassCurve) ScalarBaseMult(k []byte) (*big.Int, *big.Int) {
	return c.ScalarMult(c.params.Gx, c.params.Gy, k)
}
