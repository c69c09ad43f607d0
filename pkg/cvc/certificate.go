// Package cvc parses and verifies Card Verifiable Certificates as defined
// by BSI TR-03110 Part 3 and ISO/IEC 7816-8.
package cvc

import (
	"encoding/asn1"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// CARD VERIFIABLE CERTIFICATE LAYOUT:
//
//	[67] Authentication template (optional wrapper)
//	 └─ 7F21 CV Certificate
//	     ├─ 7F4E Certificate Body (signed region, exact bytes)
//	     │   ├─ 5F29 Certificate Profile Identifier
//	     │   ├─ 42   Certificate Authority Reference (CAR)
//	     │   ├─ 7F49 Public Key
//	     │   ├─ 5F20 Certificate Holder Reference (CHR)
//	     │   ├─ 7F4C Certificate Holder Authorization Template (CHAT)
//	     │   ├─ 5F25 Certificate Effective Date
//	     │   ├─ 5F24 Certificate Expiration Date
//	     │   └─ 65   Certificate Extensions
//	     └─ 5F37 Signature
//
// The 7F21 template holds exactly the body followed by the signature.

const (
	tagAuthentication tlv.Tag = 0x67
	tagCertificate    tlv.Tag = 0x7F21
	tagBody           tlv.Tag = 0x7F4E
	tagSignature      tlv.Tag = 0x5F37
	tagPublicKey      tlv.Tag = 0x7F49
)

// State tracks how far a certificate went through verification.
type State int

const (
	StateParsed State = iota
	StateKeyExtracted
	StateVerified
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "Parsed"
	case StateKeyExtracted:
		return "KeyExtracted"
	case StateVerified:
		return "Verified"
	case StateRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CertificateBody maps the objects of the '7F4E' template.
type CertificateBody struct {
	ProfileIdentifier []byte   `tlv:"5F29" fmt:"int"`
	CAR               []byte   `tlv:"42" fmt:"ascii"`
	PublicKey         tlv.Node `tlv:"7F49"`
	CHR               []byte   `tlv:"5F20" fmt:"ascii"`
	CHAT              tlv.Node `tlv:"7F4C"`
	EffectiveDate     []byte   `tlv:"5F25"`
	ExpirationDate    []byte   `tlv:"5F24"`
	Extensions        tlv.Node `tlv:"65"`

	Unknown []tlv.Node `tlv:",unknown"`
}

// Certificate is a parsed CV certificate. It is safe for concurrent use.
type Certificate struct {
	Body CertificateBody

	raw       []byte
	body      []byte
	signature []byte
	key       keyTemplate
	oid       asn1.ObjectIdentifier

	mu        sync.Mutex
	state     State
	publicKey any
}

// Parse decodes a certificate, either a bare '7F21' object or one wrapped
// in an authentication template '67'.
func Parse(b []byte) (*Certificate, error) {
	node, err := tlv.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificateStructure, err)
	}

	if node.Tag == tagAuthentication {
		if node, err = unwrapAuthentication(node); err != nil {
			return nil, err
		}
	}

	return fromNode(node)
}

// ParseAll decodes a concatenation of certificates, as found in card files
// holding a device certificate followed by its issuer.
func ParseAll(b []byte) ([]*Certificate, error) {
	nodes, err := tlv.DecodeAll(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificateStructure, err)
	}

	var certs []*Certificate
	for _, n := range nodes {
		if n.Tag == tagAuthentication {
			if n, err = unwrapAuthentication(n); err != nil {
				return nil, err
			}
		}
		c, err := fromNode(n)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// unwrapAuthentication returns the certificate of an authentication
// template: exactly one '7F21', in first position.
func unwrapAuthentication(node tlv.Node) (tlv.Node, error) {
	if len(node.Children) == 0 || node.Children[0].Tag != tagCertificate {
		return tlv.Node{}, fmt.Errorf("%w: authentication template must start with '7F21'", ErrInvalidCertificateStructure)
	}
	for _, child := range node.Children[1:] {
		if child.Tag == tagCertificate {
			return tlv.Node{}, fmt.Errorf("%w: authentication template holds more than one '7F21'", ErrInvalidCertificateStructure)
		}
	}
	return node.Children[0], nil
}

func fromNode(node tlv.Node) (*Certificate, error) {
	if node.Tag != tagCertificate {
		return nil, fmt.Errorf("%w: expected tag %s, got %s", ErrInvalidCertificateStructure, tagCertificate, node.Tag)
	}
	if len(node.Children) != 2 || node.Children[0].Tag != tagBody || node.Children[1].Tag != tagSignature {
		return nil, fmt.Errorf("%w: '7F21' must hold exactly '7F4E' and '5F37'", ErrInvalidCertificateStructure)
	}

	bodyNode := node.Children[0]
	c := &Certificate{
		raw:       node.Bytes(),
		body:      bodyNode.Bytes(),
		signature: node.Children[1].Value,
	}

	if err := tlv.UnmarshalNodes(bodyNode.Children, &c.Body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificateStructure, err)
	}
	if len(c.Body.CHR) == 0 {
		return nil, fmt.Errorf("%w: missing CHR", ErrInvalidCertificateStructure)
	}
	if c.Body.PublicKey.Tag != tagPublicKey {
		return nil, fmt.Errorf("%w: missing public key", ErrInvalidCertificateStructure)
	}

	if err := tlv.UnmarshalNodes(c.Body.PublicKey.Children, &c.key); err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrInvalidCertificateStructure, err)
	}
	oid, err := ParseOID(c.key.OID)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrInvalidCertificateStructure, err)
	}
	c.oid = oid

	for _, d := range [][]byte{c.Body.EffectiveDate, c.Body.ExpirationDate} {
		if d == nil {
			continue
		}
		if _, err := parseDate(d); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCertificateStructure, err)
		}
	}

	return c, nil
}

// Raw returns the encoded '7F21' object.
func (c *Certificate) Raw() []byte { return c.raw }

// BodyBytes returns the exact bytes of the '7F4E' object covered by the signature.
func (c *Certificate) BodyBytes() []byte { return c.body }

// Signature returns the raw signature bytes ('5F37' value).
func (c *Certificate) Signature() []byte { return c.signature }

// CHR returns the Certificate Holder Reference.
func (c *Certificate) CHR() string { return string(c.Body.CHR) }

// CAR returns the Certificate Authority Reference.
func (c *Certificate) CAR() string { return string(c.Body.CAR) }

// PublicKeyOID returns the OID of the public key template.
func (c *Certificate) PublicKeyOID() asn1.ObjectIdentifier { return c.oid }

// ProfileIdentifier returns the certificate profile identifier (0 when absent).
func (c *Certificate) ProfileIdentifier() int {
	var v int
	for _, b := range c.Body.ProfileIdentifier {
		v = v<<8 | int(b)
	}
	return v
}

// EffectiveDate returns the effective date, zero when absent.
func (c *Certificate) EffectiveDate() time.Time {
	t, _ := parseDate(c.Body.EffectiveDate)
	return t
}

// ExpirationDate returns the last day of validity, zero when absent.
func (c *Certificate) ExpirationDate() time.Time {
	t, _ := parseDate(c.Body.ExpirationDate)
	return t
}

// CHAT returns the role OID and the access rights of the holder
// authorization template.
func (c *Certificate) CHAT() (asn1.ObjectIdentifier, []byte, bool) {
	if c.Body.CHAT.Tag == 0 {
		return nil, nil, false
	}
	oidNode, ok := c.Body.CHAT.Find(0x06)
	if !ok {
		return nil, nil, false
	}
	oid, err := ParseOID(oidNode.Value)
	if err != nil {
		return nil, nil, false
	}
	rights, _ := c.Body.CHAT.Find(0x53)
	return oid, rights.Value, true
}

// SelfSigned reports whether CAR and CHR name the same authority.
func (c *Certificate) SelfSigned() bool {
	return c.CAR() == c.CHR()
}

// State returns the verification state.
func (c *Certificate) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Certificate) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// parseDate decodes six unpacked BCD digits YYMMDD (years 20YY).
func parseDate(b []byte) (time.Time, error) {
	if b == nil {
		return time.Time{}, nil
	}
	if len(b) != 6 {
		return time.Time{}, fmt.Errorf("date length %d, want 6", len(b))
	}
	for _, d := range b {
		if d > 9 {
			return time.Time{}, fmt.Errorf("invalid date digit %02X", d)
		}
	}
	year := 2000 + int(b[0])*10 + int(b[1])
	month := time.Month(int(b[2])*10 + int(b[3]))
	day := int(b[4])*10 + int(b[5])
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Month() != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("invalid date %X", b)
	}
	return t, nil
}

// EncodeDate returns the unpacked BCD form of t.
func EncodeDate(t time.Time) []byte {
	y, m, d := t.Date()
	y %= 100
	return []byte{byte(y / 10), byte(y % 10), byte(m / 10), byte(m % 10), byte(d / 10), byte(d % 10)}
}

// Describe generates a human-readable report of the certificate.
func (c *Certificate) Describe() string {
	var sb strings.Builder

	sb.WriteString("=== CARD VERIFIABLE CERTIFICATE ===\n")
	fmt.Fprintf(&sb, "  CHR: %s\n", tlv.MakeSafeASCII(c.Body.CHR))
	fmt.Fprintf(&sb, "  CAR: %s\n", tlv.MakeSafeASCII(c.Body.CAR))
	name := c.oid.String()
	if alg, err := LookupAlgorithm(c.oid); err == nil {
		name = fmt.Sprintf("%s (%s)", alg.Name, c.oid)
	}
	fmt.Fprintf(&sb, "  Key: %s\n", name)
	if c.key.hasDomain() {
		sb.WriteString("  Domain parameters: explicit\n")
	}
	if t := c.EffectiveDate(); !t.IsZero() {
		fmt.Fprintf(&sb, "  Effective: %s\n", t.Format(time.DateOnly))
	}
	if t := c.ExpirationDate(); !t.IsZero() {
		fmt.Fprintf(&sb, "  Expires: %s\n", t.Format(time.DateOnly))
	}
	fmt.Fprintf(&sb, "  State: %s\n", c.State())

	sb.WriteString("\n--- TLV ---\n")
	if n, err := tlv.Decode(c.raw); err == nil {
		sb.WriteString(tlv.Describe([]tlv.Node{n}))
	}
	return sb.String()
}
