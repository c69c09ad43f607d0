package scp02

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
)

// COMMAND PROTECTION:
//
//	C-MAC  = retail MAC under S-MAC, chained from the ICV, over
//	         pad(CLA' INS P1 P2 Lc' data)
//	C-ENC  = 3DES-CBC under S-ENC with a zero IV, over pad(data)
//	wire   = CLA|04 INS P1 P2 Lc'' [C-ENC or data] C-MAC [Le]
//
// CLA' is the class with the secure messaging bit set and the logical channel
// bits cleared, and Lc' counts the MAC. With option '02' the MAC covers the
// command as given instead. The MAC is always computed on the plain data.
//
// The ICV of a command is the C-MAC of the previous one, the ICV of
// EXTERNAL AUTHENTICATE is zero. With option '10' every ICV except the zero
// one is first encrypted with single DES under the left half of S-MAC.

// Channel implements iso7816.Wrapper for an authenticated SCP02 session.
type Channel struct {
	mu     sync.Mutex
	cred   *securechannel.Credential
	level  securechannel.Level
	option Option
	dek    []byte
	icv    []byte
	first  bool
}

func newChannel(cred *securechannel.Credential, option Option, dek []byte) *Channel {
	return &Channel{
		cred:   cred,
		level:  securechannel.LevelNone,
		option: option,
		dek:    append([]byte(nil), dek...),
		first:  true,
	}
}

// Level returns the security level applied to commands.
func (c *Channel) Level() securechannel.Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Option returns the negotiated "i" parameter.
func (c *Channel) Option() Option {
	return c.option
}

// Credential returns the credential installed for the channel.
func (c *Channel) Credential() *securechannel.Credential {
	return c.cred
}

// Wrap protects cmd at the channel security level.
func (c *Channel) Wrap(cmd *iso7816.CommandAPDU) (*iso7816.CommandAPDU, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wrap(cmd, c.level)
}

// Unwrap returns resp unchanged: R-MAC is not negotiated.
func (c *Channel) Unwrap(resp *iso7816.ResponseAPDU) (*iso7816.ResponseAPDU, error) {
	return resp, nil
}

func (c *Channel) wrap(cmd *iso7816.CommandAPDU, level securechannel.Level) (*iso7816.CommandAPDU, error) {
	// One step of the sequence counter per command, EXTERNAL AUTHENTICATE included.
	if _, err := c.cred.NextCounter(); err != nil {
		return nil, err
	}
	if level == securechannel.LevelNone {
		return cmd.Clone(), nil
	}

	encrypt := level == securechannel.LevelMACEnc && len(cmd.Data) > 0
	body := len(cmd.Data)
	if encrypt {
		body = (body/securechannel.BlockSize + 1) * securechannel.BlockSize
	}
	if body+macSize > iso7816.MaxShortLc {
		return nil, errors.Errorf("scp02: %d bytes of command data cannot be protected", len(cmd.Data))
	}

	out := cmd.Clone()
	cla, err := secureClass(cmd.Class)
	if err != nil {
		return nil, err
	}
	out.Class = cla

	icv, err := c.nextICV()
	if err != nil {
		return nil, err
	}

	mac, err := c.cmac(cmd, icv)
	if err != nil {
		return nil, err
	}
	c.icv = mac

	data := cmd.Data
	if encrypt {
		data, err = securechannel.TripleDESEncryptCBC(c.cred.EncKey, securechannel.ZeroIV(),
			securechannel.Pad80(cmd.Data, securechannel.BlockSize))
		if err != nil {
			return nil, errors.Wrap(err, "scp02: C-ENC")
		}
	}
	out.Data = append(append(make([]byte, 0, len(data)+macSize), data...), mac...)
	return out, nil
}

// nextICV returns the chaining value of the next command.
func (c *Channel) nextICV() ([]byte, error) {
	if c.first {
		c.first = false
		return securechannel.ZeroIV(), nil
	}
	if !c.option.has(OptionICVEncryption) {
		return append([]byte(nil), c.icv...), nil
	}
	icv, err := securechannel.DESEncryptBlock(c.cred.MACKey, c.icv)
	if err != nil {
		return nil, errors.Wrap(err, "scp02: ICV encryption")
	}
	return icv, nil
}

func (c *Channel) cmac(cmd *iso7816.CommandAPDU, icv []byte) ([]byte, error) {
	header, err := cmd.Header()
	if err != nil {
		return nil, err
	}

	lc := len(cmd.Data)
	if !c.option.has(OptionCMACUnmodified) {
		header[0] = header[0]&^0x03 | claSecureMessaging
		lc += macSize
	}

	input := make([]byte, 0, 5+len(cmd.Data)+securechannel.BlockSize)
	input = append(input, header[:]...)
	input = append(input, byte(lc))
	input = append(input, cmd.Data...)

	mac, err := securechannel.RetailMAC(c.cred.MACKey, icv, securechannel.Pad80(input, securechannel.BlockSize))
	if err != nil {
		return nil, errors.Wrap(err, "scp02: C-MAC")
	}
	return mac, nil
}

// secureClass sets the GlobalPlatform secure messaging indicator on cla.
func secureClass(cla iso7816.Class) (iso7816.Class, error) {
	out, err := cla.WithSecureMessaging(iso7816.SMProprietary)
	if err != nil {
		return iso7816.Class{}, errors.Wrap(err, "scp02")
	}
	return out, nil
}

// EncryptWithDEK encrypts key material with the session data encryption key
// in 3DES ECB mode. data must be a multiple of 8 bytes.
func (c *Channel) EncryptWithDEK(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cred.Destroyed() {
		return nil, securechannel.ErrCredentialDestroyed
	}
	if len(data) == 0 || len(data)%securechannel.BlockSize != 0 {
		return nil, errors.Errorf("scp02: DEK input of %d bytes is not block aligned", len(data))
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i += securechannel.BlockSize {
		block, err := securechannel.TripleDESEncryptCBC(c.dek, securechannel.ZeroIV(), data[i:i+securechannel.BlockSize])
		if err != nil {
			return nil, errors.Wrap(err, "scp02: DEK encryption")
		}
		out = append(out, block...)
	}
	return out, nil
}

// Close wipes the channel keys. The credential is destroyed with them.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cred.Destroy()
	for i := range c.dek {
		c.dek[i] = 0
	}
	c.level = securechannel.LevelNone
}
