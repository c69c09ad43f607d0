package cvc

import (
	"crypto/elliptic"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// EC PUBLIC KEY TEMPLATE (Tag '7F49', TR-03110 Part 3, D.3.3):
//
//	06  Object Identifier    mandatory
//	81  Prime modulus p      conditional (domain parameters)
//	82  First coefficient a  conditional
//	83  Second coefficient b conditional
//	84  Base point G         conditional (uncompressed 04 || X || Y)
//	85  Order of G (n)       conditional
//	86  Public point Y       mandatory
//	87  Cofactor h           conditional
//
// Only CVCA certificates carry the domain parameters; DV and terminal
// certificates inherit them from the chain. RSA keys reuse 81 (modulus) and
// 82 (public exponent).

// DomainParameters are the parameters of a short Weierstrass curve.
type DomainParameters struct {
	Name     string
	P        *big.Int
	A        *big.Int
	B        *big.Int
	Gx, Gy   *big.Int
	N        *big.Int
	Cofactor *big.Int
}

type keyTemplate struct {
	OID      []byte `tlv:"06"`
	Prime    []byte `tlv:"81"`
	A        []byte `tlv:"82"`
	B        []byte `tlv:"83"`
	Base     []byte `tlv:"84"`
	Order    []byte `tlv:"85"`
	Point    []byte `tlv:"86"`
	Cofactor []byte `tlv:"87"`

	Unknown []tlv.Node `tlv:",unknown"`
}

func (k *keyTemplate) hasDomain() bool {
	return k.Prime != nil || k.A != nil || k.B != nil || k.Base != nil || k.Order != nil
}

// domain builds the curve field by field: each of 81 to 85 and 87 comes from
// the template when present, from inherited otherwise. A field missing from
// both yields ErrMissingDomainParameters.
func (k *keyTemplate) domain(inherited *DomainParameters) (*DomainParameters, error) {
	d := &DomainParameters{}
	var missing []string
	field := func(name string, own []byte, from func(*DomainParameters) *big.Int) *big.Int {
		switch {
		case own != nil:
			return new(big.Int).SetBytes(own)
		case inherited != nil && from(inherited) != nil:
			return new(big.Int).Set(from(inherited))
		default:
			missing = append(missing, name)
			return nil
		}
	}
	d.P = field("81", k.Prime, func(i *DomainParameters) *big.Int { return i.P })
	d.A = field("82", k.A, func(i *DomainParameters) *big.Int { return i.A })
	d.B = field("83", k.B, func(i *DomainParameters) *big.Int { return i.B })
	d.N = field("85", k.Order, func(i *DomainParameters) *big.Int { return i.N })

	switch {
	case k.Base != nil && d.P != nil:
		x, y, err := decodePoint(k.Base, d.P)
		if err != nil {
			return nil, fmt.Errorf("%w: base point: %v", ErrInvalidCertificateStructure, err)
		}
		d.Gx, d.Gy = x, y
	case k.Base == nil && inherited != nil && inherited.Gx != nil && inherited.Gy != nil:
		d.Gx, d.Gy = new(big.Int).Set(inherited.Gx), new(big.Int).Set(inherited.Gy)
	case k.Base == nil:
		missing = append(missing, "84")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: objects %s absent", ErrMissingDomainParameters, strings.Join(missing, ", "))
	}

	switch {
	case k.Cofactor != nil:
		d.Cofactor = new(big.Int).SetBytes(k.Cofactor)
	case inherited != nil:
		d.Cofactor = new(big.Int).Set(inherited.cofactor())
	default:
		d.Cofactor = big.NewInt(1)
	}
	if !k.hasDomain() && inherited != nil {
		d.Name = inherited.Name
	}

	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DomainParameters) validate() error {
	if d.P.Sign() <= 0 || d.N.Sign() <= 0 {
		return fmt.Errorf("%w: zero modulus or order", ErrInvalidCertificateStructure)
	}
	if !d.Curve().IsOnCurve(d.Gx, d.Gy) {
		return fmt.Errorf("%w: base point is not on the curve", ErrInvalidCertificateStructure)
	}
	return nil
}

// ParseDomainParameters reads domain parameters from an encoded public key
// template ('7F49'). Objects 06 and 86 are ignored when present; 81 to 85
// are required.
func ParseDomainParameters(b []byte) (*DomainParameters, error) {
	node, err := tlv.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificateStructure, err)
	}
	if node.Tag != tagPublicKey {
		return nil, fmt.Errorf("%w: expected tag %s, got %s", ErrInvalidCertificateStructure, tagPublicKey, node.Tag)
	}

	var k keyTemplate
	if err := tlv.UnmarshalNodes(node.Children, &k); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificateStructure, err)
	}
	d, err := k.domain(nil)
	if errors.Is(err, ErrMissingDomainParameters) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificateStructure, err)
	}
	return d, err
}

// ByteLen is the size in bytes of a field element.
func (d *DomainParameters) ByteLen() int {
	return (d.P.BitLen() + 7) / 8
}

// Curve returns the crypto/elliptic implementation for the parameters:
// the standard library curve when they are those of P-256, P-384 or
// P-521, a WeierstrassCurve otherwise.
func (d *DomainParameters) Curve() elliptic.Curve {
	for _, std := range []elliptic.Curve{elliptic.P256(), elliptic.P384(), elliptic.P521()} {
		if d.matches(std.Params()) {
			return std
		}
	}
	name := d.Name
	if name == "" {
		name = fmt.Sprintf("custom-%d", d.P.BitLen())
	}
	return NewWeierstrassCurve(name, d.P, d.A, d.B, d.Gx, d.Gy, d.N)
}

func (d *DomainParameters) matches(p *elliptic.CurveParams) bool {
	aMinus3 := new(big.Int).Sub(p.P, big.NewInt(3))
	return d.P.Cmp(p.P) == 0 &&
		d.A.Cmp(aMinus3) == 0 &&
		d.B.Cmp(p.B) == 0 &&
		d.Gx.Cmp(p.Gx) == 0 &&
		d.Gy.Cmp(p.Gy) == 0 &&
		d.N.Cmp(p.N) == 0
}

// EncodePoint returns the uncompressed encoding 04 || X || Y.
func (d *DomainParameters) EncodePoint(x, y *big.Int) []byte {
	size := d.ByteLen()
	out := make([]byte, 1+2*size)
	out[0] = 0x04
	x.FillBytes(out[1 : 1+size])
	y.FillBytes(out[1+size:])
	return out
}

// DecodePoint parses an uncompressed point and checks it lies on the curve.
func (d *DomainParameters) DecodePoint(b []byte) (*big.Int, *big.Int, error) {
	x, y, err := decodePoint(b, d.P)
	if err != nil {
		return nil, nil, err
	}
	if !d.Curve().IsOnCurve(x, y) {
		return nil, nil, fmt.Errorf("point is not on the curve")
	}
	return x, y, nil
}

func decodePoint(b []byte, p *big.Int) (*big.Int, *big.Int, error) {
	size := (p.BitLen() + 7) / 8
	if len(b) != 1+2*size {
		return nil, nil, fmt.Errorf("point length %d, want %d", len(b), 1+2*size)
	}
	if b[0] != 0x04 {
		return nil, nil, fmt.Errorf("unsupported point format %02X", b[0])
	}
	x := new(big.Int).SetBytes(b[1 : 1+size])
	y := new(big.Int).SetBytes(b[1+size:])
	if x.Cmp(p) >= 0 || y.Cmp(p) >= 0 {
		return nil, nil, fmt.Errorf("coordinate exceeds the field")
	}
	return x, y, nil
}

// Node returns the parameters as public key template objects 81 to 85 and 87.
func (d *DomainParameters) Node() tlv.Node {
	size := d.ByteLen()
	return tlv.NewConstructed(tagPublicKey,
		tlv.NewPrimitive(0x81, d.P.FillBytes(make([]byte, size))),
		tlv.NewPrimitive(0x82, d.A.FillBytes(make([]byte, size))),
		tlv.NewPrimitive(0x83, d.B.FillBytes(make([]byte, size))),
		tlv.NewPrimitive(0x84, d.EncodePoint(d.Gx, d.Gy)),
		tlv.NewPrimitive(0x85, d.N.Bytes()),
		tlv.NewPrimitive(0x87, d.cofactor().Bytes()),
	)
}

func (d *DomainParameters) cofactor() *big.Int {
	if d.Cofactor == nil {
		return big.NewInt(1)
	}
	return d.Cofactor
}

// Bytes encodes the parameters as a '7F49' template readable by
// ParseDomainParameters.
func (d *DomainParameters) Bytes() []byte {
	return d.Node().Bytes()
}

func hexInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("cvc: invalid curve constant " + s)
	}
	return v
}

// BrainpoolP256r1 returns the RFC 5639 brainpoolP256r1 parameters.
func BrainpoolP256r1() *DomainParameters {
	return &DomainParameters{
		Name:     "brainpoolP256r1",
		P:        hexInt("A9FB57DBA1EEA9BC3E660A909D838D726E3BF623D52620282013481D1F6E5377"),
		A:        hexInt("7D5A0975FC2C3057EEF67530417AFFE7FB8055C126DC5C6CE94A4B44F330B5D9"),
		B:        hexInt("26DC5C6CE94A4B44F330B5D9BBD77CBF958416295CF7E1CE6BCCDC18FF8C07B6"),
		Gx:       hexInt("8BD2AEB9CB7E57CB2C4B482FFC81B7AFB9DE27E1E3BD23C23A4453BD9ACE3262"),
		Gy:       hexInt("547EF835C3DAC4FD97F8461A14611DC9C27745132DED8E545C1D54C72F046997"),
		N:        hexInt("A9FB57DBA1EEA9BC3E660A909D838D718C397AA3B561A6F7901E0E82974856A7"),
		Cofactor: big.NewInt(1),
	}
}

// BrainpoolP384r1 returns the RFC 5639 brainpoolP384r1 parameters.
func BrainpoolP384r1() *DomainParameters {
	return &DomainParameters{
		Name:     "brainpoolP384r1",
		P:        hexInt("8CB91E82A3386D280F5D6F7E50E641DF152F7109ED5456B412B1DA197FB71123ACD3A729901D1A71874700133107EC53"),
		A:        hexInt("7BC382C63D8C150C3C72080ACE05AFA0C2BEA28E4FB22787139165EFBA91F90F8AA5814A503AD4EB04A8C7DD22CE2826"),
		B:        hexInt("04A8C7DD22CE28268B39B55416F0447C2FB77DE107DCD2A62E880EA53EEB62D57CB4390295DBC9943AB78696FA504C11"),
		Gx:       hexInt("1D1C64F068CF45FFA2A63A81B7C13F6B8847A3E77EF14FE3DB7FCAFE0CBD10E8E826E03436D646AAEF87B2E247D4AF1E"),
		Gy:       hexInt("8ABE1D7520F9C2A45CB1EB8E95CFD55262B70B29FEEC5864E19C054FF99129280E4646217791811142820341263C5315"),
		N:        hexInt("8CB91E82A3386D280F5D6F7E50E641DF152F7109ED5456B31F166E6CAC0425A7CF3AB6AF6B7FC3103B883202E9046565"),
		Cofactor: big.NewInt(1),
	}
}

// NamedDomain returns the parameters of a named curve: p256, p384, p521,
// brainpoolP256r1 or brainpoolP384r1.
func NamedDomain(name string) (*DomainParameters, error) {
	switch name {
	case "p256":
		return fromCurveParams(elliptic.P256().Params()), nil
	case "p384":
		return fromCurveParams(elliptic.P384().Params()), nil
	case "p521":
		return fromCurveParams(elliptic.P521().Params()), nil
	case "brainpoolP256r1":
		return BrainpoolP256r1(), nil
	case "brainpoolP384r1":
		return BrainpoolP384r1(), nil
	default:
		return nil, fmt.Errorf("unknown curve %q", name)
	}
}

func fromCurveParams(p *elliptic.CurveParams) *DomainParameters {
	return &DomainParameters{
		Name:     p.Name,
		P:        new(big.Int).Set(p.P),
		A:        new(big.Int).Sub(p.P, big.NewInt(3)),
		B:        new(big.Int).Set(p.B),
		Gx:       new(big.Int).Set(p.Gx),
		Gy:       new(big.Int).Set(p.Gy),
		N:        new(big.Int).Set(p.N),
		Cofactor: big.NewInt(1),
	}
}
