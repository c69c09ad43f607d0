// Package eac implements EAC 2.0 Chip Authentication (BSI TR-03110) in its
// ECDH / 3DES flavour and the ISO 7816-4 secure messaging that protects the
// commands sent once the chip is authenticated.
package eac

import (
	"crypto/rand"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"

	"github.com/gregLibert/smartcard-middleware/pkg/cvc"
	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// OIDCAECDH3DESCBCCBC is id-CA-ECDH-3DES-CBC-CBC.
var OIDCAECDH3DESCBCCBC = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 3, 2, 1}

var (
	// ErrAuthenticationTokenMismatch is returned when the token sent by the
	// chip does not match the one computed from the derived MAC key.
	ErrAuthenticationTokenMismatch = errors.New("eac: authentication token mismatch")

	// ErrInvalidCardKey is returned when the chip's static key does not lie
	// on the configured curve.
	ErrInvalidCardKey = errors.New("eac: card public key is not on the protocol curve")

	// ErrMalformedAuthenticationData is returned when the GENERAL
	// AUTHENTICATE response is not 7C{81 nonce, 82 token}.
	ErrMalformedAuthenticationData = errors.New("eac: malformed dynamic authentication data")
)

// Data objects of the protocol.
const (
	tagDynamicAuthData tlv.Tag = 0x7C
	tagEphemeralKey    tlv.Tag = 0x80
	tagNonce           tlv.Tag = 0x81
	tagToken           tlv.Tag = 0x82
	tagPublicKey       tlv.Tag = 0x7F49
	tagOID             tlv.Tag = 0x06
	tagPoint           tlv.Tag = 0x86

	tagCRTProtocol     tlv.Tag = 0x80
	tagCRTKeyReference tlv.Tag = 0x84
)

// TokenSize is the length of the authentication token.
const TokenSize = 8

// Step identifies one stage of a Chip Authentication run.
type Step int

const (
	StepGenerateKey Step = iota + 1
	StepSetAT
	StepGeneralAuthenticate
	StepParseResponse
	StepKeyAgreement
	StepVerifyToken
	StepInstall
)

var stepNames = map[Step]string{
	StepGenerateKey:         "ephemeral key generation",
	StepSetAT:               "MSE SET AT",
	StepGeneralAuthenticate: "GENERAL AUTHENTICATE",
	StepParseResponse:       "response parsing",
	StepKeyAgreement:        "key agreement",
	StepVerifyToken:         "token verification",
	StepInstall:             "credential installation",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// StepError reports the step at which a Chip Authentication run aborted.
type StepError struct {
	Step  Step
	Cause error
}

func (e *StepError) Error() string {
	if e == nil {
		return "eac: chip authentication error"
	}
	return fmt.Sprintf("eac: chip authentication %s failed: %v", e.Step, e.Cause)
}

func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Config selects the protocol variant.
type Config struct {
	// Protocol is sent in MSE SET AT and bound into the authentication token.
	Protocol asn1.ObjectIdentifier

	// Domain holds the curve of the chip's static key. The ephemeral key is
	// generated on the same curve.
	Domain *cvc.DomainParameters

	// KeyReference selects a chip private key ('84'). Omitted when empty.
	KeyReference []byte

	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

// DefaultConfig returns id-CA-ECDH-3DES-CBC-CBC over brainpoolP256r1.
func DefaultConfig() Config {
	return Config{
		Protocol: OIDCAECDH3DESCBCCBC,
		Domain:   cvc.BrainpoolP256r1(),
	}
}

func (c Config) withDefaults() Config {
	if len(c.Protocol) == 0 {
		c.Protocol = OIDCAECDH3DESCBCCBC
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	return c
}

// Card is the command channel of a run. *iso7816.Client implements it.
type Card interface {
	Execute(cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error)
}
