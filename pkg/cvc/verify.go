package cvc

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// SIGNATURE VERIFICATION:
// The signature covers the complete '7F4E' object (tag, length and value)
// exactly as received. ECDSA signatures use the plain format r || s with
// both halves of equal size; they are re-encoded as the DER
// SEQUENCE { INTEGER r, INTEGER s } expected by crypto/ecdsa.

// Verify checks the signature of cert with the key of its issuer. alg is the
// OID of the issuer's public key, which names the signature scheme.
func Verify(cert *Certificate, issuerKey any, alg asn1.ObjectIdentifier) error {
	err := verifySignature(cert.body, cert.signature, issuerKey, alg)
	if err != nil {
		if errors.Is(err, ErrSignatureInvalid) {
			cert.setState(StateRejected)
		}
		return err
	}
	cert.setState(StateVerified)
	return nil
}

// VerifyWith checks that issuer signed c. domain supplies the issuer's curve
// parameters when its certificate does not carry them.
func (c *Certificate) VerifyWith(issuer *Certificate, domain *DomainParameters) error {
	key, err := issuer.PublicKey(domain)
	if err != nil {
		return fmt.Errorf("issuer %q: %w", issuer.CHR(), err)
	}
	return Verify(c, key, issuer.PublicKeyOID())
}

// VerifyChain verifies chain starting from the trust anchor. Each
// certificate must name the previous holder as its CAR. EC curve parameters
// are inherited down the chain: anchor parameters first, then domain.
//
// On success every certificate of the chain has its public key extracted,
// so PublicKey(nil) returns it.
func VerifyChain(anchor *Certificate, domain *DomainParameters, chain ...*Certificate) error {
	if own, ok := anchor.DomainParameters(); ok {
		domain = own
	}

	issuer := anchor
	for _, cert := range chain {
		if cert.CAR() != issuer.CHR() {
			cert.setState(StateRejected)
			return fmt.Errorf("%w: %q is issued by %q, expected %q", ErrChainBroken, cert.CHR(), cert.CAR(), issuer.CHR())
		}
		if err := cert.VerifyWith(issuer, domain); err != nil {
			return fmt.Errorf("verify %q: %w", cert.CHR(), err)
		}
		slog.Debug("cvc: certificate verified", "chr", cert.CHR(), "car", cert.CAR())

		if own, ok := cert.DomainParameters(); ok {
			domain = own
		}
		issuer = cert
	}

	if len(chain) > 0 {
		if _, err := issuer.PublicKey(domain); err != nil {
			return fmt.Errorf("leaf %q: %w", issuer.CHR(), err)
		}
	}
	return nil
}

func verifySignature(body, sig []byte, key any, oid asn1.ObjectIdentifier) error {
	alg, err := LookupAlgorithm(oid)
	if err != nil {
		return err
	}

	h := alg.Hash.New()
	h.Write(body)
	digest := h.Sum(nil)

	switch alg.Key {
	case KeyEC:
		pub, ok := key.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s needs an EC key, got %T", ErrUnsupportedAlgorithm, alg.Name, key)
		}
		der, err := plainToDER(sig)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		if !ecdsa.VerifyASN1(pub, digest, der) {
			return ErrSignatureInvalid
		}
		return nil

	case KeyRSA:
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s needs an RSA key, got %T", ErrUnsupportedAlgorithm, alg.Name, key)
		}
		if alg.PSS {
			err = rsa.VerifyPSS(pub, alg.Hash, digest, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto})
		} else {
			err = rsa.VerifyPKCS1v15(pub, alg.Hash, digest, sig)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, oid)
	}
}

// plainToDER converts an r || s signature into its DER encoding.
func plainToDER(sig []byte) ([]byte, error) {
	if len(sig) == 0 || len(sig)%2 != 0 {
		return nil, fmt.Errorf("plain signature length %d is not even", len(sig))
	}
	half := len(sig) / 2
	r := new(big.Int).SetBytes(sig[:half])
	s := new(big.Int).SetBytes(sig[half:])

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}

// DERToPlain converts a DER ECDSA signature into r || s with halves of
// size bytes each.
func DERToPlain(der []byte, size int) ([]byte, error) {
	var r, s big.Int
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() ||
		!seq.ReadASN1Integer(&r) || !seq.ReadASN1Integer(&s) || !seq.Empty() {
		return nil, fmt.Errorf("malformed DER signature")
	}
	if r.BitLen() > size*8 || s.BitLen() > size*8 {
		return nil, fmt.Errorf("signature component exceeds %d bytes", size)
	}
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}
