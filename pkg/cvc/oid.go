package cvc

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// OBJECT IDENTIFIERS (BSI TR-03110 Part 3, A.6.4 Terminal Authentication):
//
// The OID inside the public key template names both the key type and the
// signature scheme the key produces. A certificate is therefore verified
// with the algorithm announced by its issuer's key.
//
//   id-TA        0.4.0.127.0.7.2.2.2
//   id-TA-RSA    id-TA 1   (v1-5 and PSS with SHA-1/256/512)
//   id-TA-ECDSA  id-TA 2   (SHA-1/224/256/384/512, r || s plain format)

var (
	OIDTA      = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 2}
	OIDTARSA   = child(OIDTA, 1)
	OIDTAECDSA = child(OIDTA, 2)

	OIDTARSAv15SHA1   = child(OIDTARSA, 1)
	OIDTARSAv15SHA256 = child(OIDTARSA, 2)
	OIDTARSAPSSSHA1   = child(OIDTARSA, 3)
	OIDTARSAPSSSHA256 = child(OIDTARSA, 4)
	OIDTARSAv15SHA512 = child(OIDTARSA, 5)
	OIDTARSAPSSSHA512 = child(OIDTARSA, 6)

	OIDTAECDSASHA1   = child(OIDTAECDSA, 1)
	OIDTAECDSASHA224 = child(OIDTAECDSA, 2)
	OIDTAECDSASHA256 = child(OIDTAECDSA, 3)
	OIDTAECDSASHA384 = child(OIDTAECDSA, 4)
	OIDTAECDSASHA512 = child(OIDTAECDSA, 5)
)

func child(parent asn1.ObjectIdentifier, arc int) asn1.ObjectIdentifier {
	out := make(asn1.ObjectIdentifier, 0, len(parent)+1)
	out = append(out, parent...)
	return append(out, arc)
}

// KeyType is the family of a certificate public key.
type KeyType int

const (
	KeyRSA KeyType = iota + 1
	KeyEC
)

func (k KeyType) String() string {
	switch k {
	case KeyRSA:
		return "RSA"
	case KeyEC:
		return "EC"
	default:
		return "unknown"
	}
}

// Algorithm describes a signature scheme identified by a TA OID.
type Algorithm struct {
	OID  asn1.ObjectIdentifier
	Name string
	Key  KeyType
	Hash crypto.Hash
	PSS  bool
}

var algorithms = []Algorithm{
	{OIDTARSAv15SHA1, "id-TA-RSA-v1-5-SHA-1", KeyRSA, crypto.SHA1, false},
	{OIDTARSAv15SHA256, "id-TA-RSA-v1-5-SHA-256", KeyRSA, crypto.SHA256, false},
	{OIDTARSAv15SHA512, "id-TA-RSA-v1-5-SHA-512", KeyRSA, crypto.SHA512, false},
	{OIDTARSAPSSSHA1, "id-TA-RSA-PSS-SHA-1", KeyRSA, crypto.SHA1, true},
	{OIDTARSAPSSSHA256, "id-TA-RSA-PSS-SHA-256", KeyRSA, crypto.SHA256, true},
	{OIDTARSAPSSSHA512, "id-TA-RSA-PSS-SHA-512", KeyRSA, crypto.SHA512, true},
	{OIDTAECDSASHA1, "id-TA-ECDSA-SHA-1", KeyEC, crypto.SHA1, false},
	{OIDTAECDSASHA224, "id-TA-ECDSA-SHA-224", KeyEC, crypto.SHA224, false},
	{OIDTAECDSASHA256, "id-TA-ECDSA-SHA-256", KeyEC, crypto.SHA256, false},
	{OIDTAECDSASHA384, "id-TA-ECDSA-SHA-384", KeyEC, crypto.SHA384, false},
	{OIDTAECDSASHA512, "id-TA-ECDSA-SHA-512", KeyEC, crypto.SHA512, false},
}

// LookupAlgorithm returns the signature scheme registered for oid.
func LookupAlgorithm(oid asn1.ObjectIdentifier) (Algorithm, error) {
	for _, a := range algorithms {
		if a.OID.Equal(oid) {
			return a, nil
		}
	}
	return Algorithm{}, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, oid)
}

// ParseOID decodes the content octets of an OBJECT IDENTIFIER ('06').
func ParseOID(content []byte) (asn1.ObjectIdentifier, error) {
	der := tlv.NewPrimitive(0x06, content).Bytes()

	var oid asn1.ObjectIdentifier
	s := cryptobyte.String(der)
	if !s.ReadASN1ObjectIdentifier(&oid) || !s.Empty() {
		return nil, fmt.Errorf("invalid object identifier %X", content)
	}
	return oid, nil
}

// EncodeOID returns the content octets of oid, without tag and length.
func EncodeOID(oid asn1.ObjectIdentifier) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1ObjectIdentifier(oid)
	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode OID %s: %w", oid, err)
	}

	s := cryptobyte.String(der)
	var content cryptobyte.String
	if !s.ReadASN1(&content, cbasn1.OBJECT_IDENTIFIER) {
		return nil, fmt.Errorf("encode OID %s: malformed output", oid)
	}
	return []byte(content), nil
}

// MustEncodeOID is EncodeOID for package level constants.
func MustEncodeOID(oid asn1.ObjectIdentifier) []byte {
	b, err := EncodeOID(oid)
	if err != nil {
		panic(err)
	}
	return b
}
