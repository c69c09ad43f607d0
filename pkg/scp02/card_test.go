package scp02

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

var (
	testStatic        = tlv.Hex("404142434445464748494A4B4C4D4E4F")
	testSequence      = [2]byte{0x00, 0x2A}
	testHostChallenge = tlv.Hex("0102030405060708")
	testCardChallenge = tlv.Hex("A1A2A3A4A5A6")

	testKeys = StaticKeys{ENC: testStatic, MAC: testStatic, DEK: testStatic}

	// GP 2.1.1, SCP02 i=15
	testCRD = tlv.Hex("664C734A06072A864886FC6B01600C060A2A864886FC6B02020101630906072A864886FC6B03640B06092A864886FC6B040215650B06092B8510864864020103660C060A2B060104012A026E0102")
)

const testPath = "A000000151000000"

// crd builds card recognition data announcing one protocol.
func crd(scp byte, option Option) []byte {
	oid := append(append([]byte(nil), oidSCP...), scp, byte(option))
	return tlv.NewConstructed(0x66,
		tlv.NewConstructed(0x73,
			tlv.NewPrimitive(0x06, tlv.Hex("2A864886FC6B01")),
			tlv.NewConstructed(0x64, tlv.NewPrimitive(0x06, oid)),
		),
	).Bytes()
}

// fakeSD plays a GlobalPlatform security domain holding testKeys.
type fakeSD struct {
	t *testing.T

	crd []byte

	// Faults
	crdStatus      iso7816.StatusWord
	badCryptogram  bool
	extAuthStatus  iso7816.StatusWord
	loadFailBlock  int
	loadFailStatus iso7816.StatusWord

	// Observed
	commands      [][]byte
	hostChallenge []byte
	authenticated bool
	level         byte
}

func newFakeSD(t *testing.T) *fakeSD {
	return &fakeSD{t: t, crd: testCRD, loadFailBlock: -1}
}

func (c *fakeSD) Transmit(raw []byte) ([]byte, error) {
	c.commands = append(c.commands, append([]byte(nil), raw...))
	cmd, err := iso7816.ParseCommandAPDU(raw)
	require.NoError(c.t, err)

	switch cmd.Instruction.Raw {
	case iso7816.INS_GET_DATA:
		if c.crdStatus != 0 {
			return sw(c.crdStatus), nil
		}
		return append(append([]byte(nil), c.crd...), 0x90, 0x00), nil
	case INS_INITIALIZE_UPDATE:
		return c.initializeUpdate(cmd), nil
	case INS_EXTERNAL_AUTHENTICATE:
		return c.externalAuthenticate(cmd), nil
	case INS_LOAD:
		if int(cmd.P2) == c.loadFailBlock {
			return sw(c.loadFailStatus), nil
		}
	}
	return sw(iso7816.SW_NO_ERROR), nil
}

func (c *fakeSD) initializeUpdate(cmd *iso7816.CommandAPDU) []byte {
	c.hostChallenge = cmd.Data
	keys, err := DeriveSessionKeys(testKeys, cmd.P1, testSequence)
	require.NoError(c.t, err)
	cryptogram, err := CardCryptogram(keys.ENC, cmd.Data, testSequence, testCardChallenge)
	require.NoError(c.t, err)
	if c.badCryptogram {
		cryptogram[0] ^= 0xFF
	}

	var resp []byte
	resp = append(resp, tlv.Hex("00010203040506070809")...)
	resp = append(resp, 0x20, 0x02)
	resp = append(resp, testSequence[:]...)
	resp = append(resp, testCardChallenge...)
	resp = append(resp, cryptogram...)
	return append(resp, 0x90, 0x00)
}

func (c *fakeSD) externalAuthenticate(cmd *iso7816.CommandAPDU) []byte {
	keys, err := DeriveSessionKeys(testKeys, 0x20, testSequence)
	require.NoError(c.t, err)
	host, err := HostCryptogram(keys.ENC, c.hostChallenge, testSequence, testCardChallenge)
	require.NoError(c.t, err)

	if c.extAuthStatus != 0 {
		return sw(c.extAuthStatus)
	}
	if len(cmd.Data) != 2*macSize || !bytes.Equal(host, cmd.Data[:macSize]) {
		return sw(iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT)
	}
	c.authenticated = true
	c.level = cmd.P1
	return sw(iso7816.SW_NO_ERROR)
}

func sw(s iso7816.StatusWord) []byte {
	return []byte{s.SW1(), s.SW2()}
}

// open runs Open against a fresh fake security domain with the fixed host
// challenge.
func open(t *testing.T, cfg Config) (*iso7816.Client, *fakeSD, *Channel, *securechannel.Session) {
	t.Helper()
	card := newFakeSD(t)
	client := iso7816.NewClient(card)
	session := securechannel.NewSession()

	cfg.HostChallenge = testHostChallenge
	channel, err := Open(client, testKeys, cfg, session, testPath)
	require.NoError(t, err)
	return client, card, channel, session
}
