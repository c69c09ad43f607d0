package eac

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// SECURE MESSAGING (ISO 7816-4, 3DES):
// Command:  CLA|0C INS P1 P2 Lc [87 01||E(data)] [97 Le] [8E MAC] 00
// Response: [87 01||E(data)] [99 SW1 SW2] [8E MAC] 90 00
//
// E is 3DES-CBC under K_ENC with a zero IV over ISO 9797-1 method 2 padded
// data. MAC is the retail MAC under K_MAC over
//  - command:  SSC || pad(header) || DO87 || DO97, padded
//  - response: SSC || DO87 || DO99, padded
// The SSC is the credential counter. It is incremented once before each
// command MAC and once before each response MAC.

var (
	// ErrResponseMAC is returned when a protected response fails MAC
	// verification.
	ErrResponseMAC = errors.New("eac: response MAC mismatch")

	// ErrMalformedResponse is returned when a protected response does not
	// have the DO87 / DO99 / DO8E layout.
	ErrMalformedResponse = errors.New("eac: malformed secure messaging response")
)

const (
	tagCryptogram tlv.Tag = 0x87
	tagLe         tlv.Tag = 0x97
	tagStatus     tlv.Tag = 0x99
	tagMAC        tlv.Tag = 0x8E

	paddingIndicator byte = 0x01
	macSize               = 8
)

// SecureMessaging implements iso7816.Wrapper with the keys of a Chip
// Authentication credential.
type SecureMessaging struct {
	cred *securechannel.Credential
}

// NewSecureMessaging returns a wrapper driven by cred.
func NewSecureMessaging(cred *securechannel.Credential) *SecureMessaging {
	return &SecureMessaging{cred: cred}
}

// Credential returns the credential protecting the channel.
func (s *SecureMessaging) Credential() *securechannel.Credential {
	return s.cred
}

// Wrap protects cmd. The caller's command is left untouched.
func (s *SecureMessaging) Wrap(cmd *iso7816.CommandAPDU) (*iso7816.CommandAPDU, error) {
	if cmd.Class.IsProprietary {
		return nil, fmt.Errorf("eac: proprietary class %02X cannot carry ISO secure messaging", cmd.Class.Raw)
	}
	cla, err := cmd.Class.WithSecureMessaging(iso7816.SMHeaderAuth)
	if err != nil {
		return nil, fmt.Errorf("eac: %w", err)
	}

	out := cmd.Clone()
	out.Class = cla

	header, err := out.Header()
	if err != nil {
		return nil, err
	}

	var objects []tlv.Node
	if len(cmd.Data) > 0 {
		enc, err := securechannel.TripleDESEncryptCBC(s.cred.EncKey, securechannel.ZeroIV(), securechannel.Pad80(cmd.Data, securechannel.BlockSize))
		if err != nil {
			return nil, fmt.Errorf("eac: encrypt command: %w", err)
		}
		objects = append(objects, tlv.NewPrimitive(tagCryptogram, append([]byte{paddingIndicator}, enc...)))
	}
	if cmd.Ne > 0 {
		objects = append(objects, tlv.NewPrimitive(tagLe, encodeLe(cmd.Ne)))
	}

	ssc, err := s.cred.NextCounter()
	if err != nil {
		return nil, err
	}
	mac, err := s.mac(ssc, securechannel.Pad80(header[:], securechannel.BlockSize), tlv.EncodeAll(objects))
	if err != nil {
		return nil, err
	}
	objects = append(objects, tlv.NewPrimitive(tagMAC, mac))

	out.Data = tlv.EncodeAll(objects)
	out.Ne = iso7816.MaxShortLe
	if cmd.Ne > iso7816.MaxShortLe || len(out.Data) > iso7816.MaxShortLc {
		out.Ne = iso7816.MaxExtendedLe
	}

	slog.Debug("eac: command wrapped", "ins", fmt.Sprintf("%02X", byte(cmd.Instruction.Raw)), "ssc", fmt.Sprintf("%X", ssc))
	return out, nil
}

// Unwrap verifies and decrypts resp. Responses without data are errors
// reported in clear by the card and are returned unchanged.
func (s *SecureMessaging) Unwrap(resp *iso7816.ResponseAPDU) (*iso7816.ResponseAPDU, error) {
	if len(resp.Data) == 0 {
		// The chip drops its session keys when it rejects secure messaging.
		if resp.Status.IsSecureMessagingError() {
			slog.Debug("eac: secure messaging aborted by chip", "sw", fmt.Sprintf("%04X", uint16(resp.Status)))
			s.cred.Destroy()
		}
		return resp, nil
	}

	nodes, err := tlv.DecodeAll(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(nodes) == 0 || nodes[len(nodes)-1].Tag != tagMAC {
		return nil, fmt.Errorf("%w: missing trailing 8E", ErrMalformedResponse)
	}

	var cryptogram, status []byte
	var covered []byte
	for _, n := range nodes[:len(nodes)-1] {
		switch n.Tag {
		case tagCryptogram:
			cryptogram = n.Value
		case tagStatus:
			status = n.Value
		default:
			return nil, fmt.Errorf("%w: unexpected object %s", ErrMalformedResponse, n.Tag)
		}
		covered = append(covered, n.Bytes()...)
	}

	ssc, err := s.cred.NextCounter()
	if err != nil {
		return nil, err
	}
	expected, err := s.mac(ssc, covered)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(expected, nodes[len(nodes)-1].Value) != 1 {
		return nil, ErrResponseMAC
	}

	out := &iso7816.ResponseAPDU{Status: resp.Status}
	if status != nil {
		if len(status) != 2 {
			return nil, fmt.Errorf("%w: status object of %d bytes", ErrMalformedResponse, len(status))
		}
		out.Status = iso7816.NewStatusWord(status[0], status[1])
	}

	if cryptogram != nil {
		if len(cryptogram) < 1 || cryptogram[0] != paddingIndicator {
			return nil, fmt.Errorf("%w: unsupported padding indicator", ErrMalformedResponse)
		}
		plain, err := securechannel.TripleDESDecryptCBC(s.cred.EncKey, securechannel.ZeroIV(), cryptogram[1:])
		if err != nil {
			return nil, fmt.Errorf("eac: decrypt response: %w", err)
		}
		if out.Data, err = securechannel.Unpad80(plain); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}

	return out, nil
}

func (s *SecureMessaging) mac(ssc []byte, parts ...[]byte) ([]byte, error) {
	input := append([]byte(nil), ssc...)
	for _, p := range parts {
		input = append(input, p...)
	}
	mac, err := securechannel.RetailMAC(s.cred.MACKey, securechannel.ZeroIV(), securechannel.Pad80(input, securechannel.BlockSize))
	if err != nil {
		return nil, fmt.Errorf("eac: MAC: %w", err)
	}
	return mac[:macSize], nil
}

func encodeLe(ne int) []byte {
	switch {
	case ne == iso7816.MaxShortLe:
		return []byte{0x00}
	case ne < iso7816.MaxShortLe:
		return []byte{byte(ne)}
	case ne == iso7816.MaxExtendedLe:
		return []byte{0x00, 0x00}
	default:
		return []byte{byte(ne >> 8), byte(ne)}
	}
}
