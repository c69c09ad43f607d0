// Package scp02 implements the GlobalPlatform Secure Channel Protocol '02'
// with explicit initiation and three static keys, and the card content
// management commands sent through it.
//
// STATE MACHINE:
//
//	Selected --GET DATA 66, INITIALIZE UPDATE--> KeysNegotiated
//	KeysNegotiated --EXTERNAL AUTHENTICATE 9000--> Authenticated
//	Authenticated: every command is wrapped by the Channel (C-MAC, C-ENC)
//
// Any failure leaves the channel at security level NONE and no Channel is
// returned.
package scp02

import (
	"github.com/pkg/errors"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
)

var (
	// ErrUnsupportedProtocolOption is returned when the card announces a
	// protocol or an "i" parameter that this package does not implement.
	ErrUnsupportedProtocolOption = errors.New("scp02: unsupported secure channel protocol option")

	// ErrUnsupportedSecurityLevel is returned for security levels other than
	// NONE, C-MAC and C-MAC + C-ENC.
	ErrUnsupportedSecurityLevel = errors.New("scp02: unsupported security level")

	// ErrCardCryptogramMismatch is returned when the card cryptogram does not
	// match the one computed from the session keys.
	ErrCardCryptogramMismatch = errors.New("scp02: card cryptogram mismatch")
)

// GlobalPlatform instructions.
const (
	INS_INITIALIZE_UPDATE     iso7816.InsCode = 0x50
	INS_EXTERNAL_AUTHENTICATE iso7816.InsCode = 0x82
	INS_DELETE                iso7816.InsCode = 0xE4
	INS_INSTALL               iso7816.InsCode = 0xE6
	INS_LOAD                  iso7816.InsCode = 0xE8
)

// Static key identifiers.
const (
	KeyIDEnc byte = 0x01
	KeyIDMac byte = 0x02
	KeyIDDek byte = 0x03
)

const (
	claGP byte = 0x80

	// claSecureMessaging is the GlobalPlatform secure messaging indicator.
	claSecureMessaging byte = 0x04

	macSize = 8
)

// Card is the command channel. *iso7816.Client implements it.
type Card interface {
	Execute(cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error)
}

func gpCommand(ins iso7816.InsCode, p1, p2 byte, data []byte, ne int) *iso7816.CommandAPDU {
	cla, _ := iso7816.NewClass(claGP)
	i, _ := iso7816.NewInstruction(ins)
	return iso7816.NewCommandAPDU(cla, i, p1, p2, data, ne)
}
