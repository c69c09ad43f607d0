package cvc

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"math/big"
)

// KeyType returns the family announced by the public key OID.
func (c *Certificate) KeyType() KeyType {
	alg, err := LookupAlgorithm(c.oid)
	if err != nil {
		return 0
	}
	return alg.Key
}

// DomainParameters returns the curve parameters carried by the certificate
// itself (CVCA certificates), if any.
func (c *Certificate) DomainParameters() (*DomainParameters, bool) {
	if !c.key.hasDomain() {
		return nil, false
	}
	d, err := c.key.domain(nil)
	if err != nil {
		return nil, false
	}
	return d, true
}

// PublicKey reconstructs the certified key, a *rsa.PublicKey or a
// *ecdsa.PublicKey. EC keys take each domain parameter from the
// certificate when present and from domain otherwise.
//
// The first successful extraction is cached; later calls return it
// regardless of domain.
func (c *Certificate) PublicKey(domain *DomainParameters) (any, error) {
	c.mu.Lock()
	if c.publicKey != nil {
		k := c.publicKey
		c.mu.Unlock()
		return k, nil
	}
	c.mu.Unlock()

	k, err := c.extractKey(domain)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publicKey == nil {
		c.publicKey = k
		if c.state == StateParsed {
			c.state = StateKeyExtracted
		}
	}
	return c.publicKey, nil
}

func (c *Certificate) extractKey(domain *DomainParameters) (any, error) {
	alg, err := LookupAlgorithm(c.oid)
	if err != nil {
		return nil, err
	}

	switch alg.Key {
	case KeyRSA:
		return c.key.rsaKey()
	case KeyEC:
		return c.key.ecKey(domain, c.CHR())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, c.oid)
	}
}

// rsaKey reads modulus '81' and exponent '82' as unsigned big-endian integers.
func (k *keyTemplate) rsaKey() (*rsa.PublicKey, error) {
	if len(k.Prime) == 0 || len(k.A) == 0 {
		return nil, fmt.Errorf("%w: RSA key needs modulus and exponent", ErrInvalidCertificateStructure)
	}

	e := new(big.Int).SetBytes(k.A)
	if !e.IsInt64() || e.Int64() > int64(^uint32(0)>>1) || e.Int64() < 3 {
		return nil, fmt.Errorf("%w: unsupported RSA exponent %X", ErrInvalidCertificateStructure, k.A)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(k.Prime),
		E: int(e.Int64()),
	}, nil
}

func (k *keyTemplate) ecKey(domain *DomainParameters, chr string) (*ecdsa.PublicKey, error) {
	if len(k.Point) == 0 {
		return nil, fmt.Errorf("%w: EC key without public point", ErrInvalidCertificateStructure)
	}

	if !k.hasDomain() && domain == nil {
		return nil, fmt.Errorf("%w: certificate %q", ErrMissingDomainParameters, chr)
	}
	if !k.hasDomain() {
		slog.Debug("cvc: using inherited domain parameters", "chr", chr, "curve", domain.Curve().Params().Name)
	}
	merged, err := k.domain(domain)
	if err != nil {
		return nil, fmt.Errorf("certificate %q: %w", chr, err)
	}
	domain = merged

	x, y, err := domain.DecodePoint(k.Point)
	if err != nil {
		return nil, fmt.Errorf("%w: public point: %v", ErrInvalidCertificateStructure, err)
	}

	return &ecdsa.PublicKey{Curve: domain.Curve(), X: x, Y: y}, nil
}
