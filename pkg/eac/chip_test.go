package eac

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/smartcard-middleware/pkg/cvc"
	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// fakeChip plays the card side of Chip Authentication and of the secure
// messaging that follows it.
type fakeChip struct {
	t      *testing.T
	domain *cvc.DomainParameters
	d      *big.Int
	x, y   *big.Int

	nonce []byte

	// Faults
	mseStatus     iso7816.StatusWord
	corruptToken  bool
	gaResponse    []byte
	corruptRespSM bool
	clearStatus   iso7816.StatusWord

	// Observed
	commands  [][]byte
	protocol  []byte
	keyRef    []byte
	ephemeral []byte

	// Established
	sm   *securechannel.Credential
	file []byte
}

func newFakeChip(t *testing.T, domain *cvc.DomainParameters) *fakeChip {
	t.Helper()
	limit := new(big.Int).Sub(domain.N, big.NewInt(1))
	d, err := rand.Int(rand.Reader, limit)
	require.NoError(t, err)
	d.Add(d, big.NewInt(1))
	x, y := domain.Curve().ScalarBaseMult(d.Bytes())

	return &fakeChip{
		t:      t,
		domain: domain,
		d:      d,
		x:      x,
		y:      y,
		nonce:  tlv.Hex("A0A1A2A3A4A5A6A7"),
		file:   []byte("device data 0123456789"),
	}
}

func (c *fakeChip) Transmit(raw []byte) ([]byte, error) {
	c.commands = append(c.commands, append([]byte(nil), raw...))
	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		return nil, err
	}

	if cmd.Class.SecureMessaging == iso7816.SMHeaderAuth {
		return c.handleProtected(raw, cmd)
	}

	switch cmd.Instruction.Raw {
	case iso7816.INS_MANAGE_SECURITY_ENVIRONMENT:
		return c.handleMSE(cmd)
	case iso7816.INS_GENERAL_AUTHENTICATE:
		return c.handleGA(cmd)
	default:
		return sw(iso7816.SW_ERR_INS_INVALID), nil
	}
}

func sw(s iso7816.StatusWord) []byte {
	return []byte{s.SW1(), s.SW2()}
}

func (c *fakeChip) handleMSE(cmd *iso7816.CommandAPDU) ([]byte, error) {
	if c.mseStatus != 0 {
		return sw(c.mseStatus), nil
	}
	if cmd.P1 != iso7816.MSESetAT || cmd.P2 != iso7816.CRTAuth {
		return sw(iso7816.SW_ERR_INCORRECT_PARAMS_P1P2), nil
	}
	nodes, err := tlv.DecodeAll(cmd.Data)
	if err != nil {
		return sw(iso7816.SW_ERR_INCORRECT_PARAMS_DATA), nil
	}
	if n, ok := tlv.Find(nodes, 0x80); ok {
		c.protocol = n.Value
	}
	if n, ok := tlv.Find(nodes, 0x84); ok {
		c.keyRef = n.Value
	}
	return sw(iso7816.SW_NO_ERROR), nil
}

func (c *fakeChip) handleGA(cmd *iso7816.CommandAPDU) ([]byte, error) {
	if c.gaResponse != nil {
		return append(append([]byte(nil), c.gaResponse...), 0x90, 0x00), nil
	}

	n, err := tlv.Decode(cmd.Data)
	if err != nil {
		return sw(iso7816.SW_ERR_INCORRECT_PARAMS_DATA), nil
	}
	point, ok := n.Find(0x80)
	if n.Tag != 0x7C || !ok {
		return sw(iso7816.SW_ERR_INCORRECT_PARAMS_DATA), nil
	}
	c.ephemeral = point.Value

	px, py, err := c.domain.DecodePoint(point.Value)
	if err != nil {
		return sw(iso7816.SW_ERR_INCORRECT_PARAMS_DATA), nil
	}
	sx, _ := c.domain.Curve().ScalarMult(px, py, c.d.Bytes())
	secret := sx.FillBytes(make([]byte, c.domain.ByteLen()))

	enc := DeriveKey(secret, c.nonce, CounterENC)
	mac := DeriveKey(secret, c.nonce, CounterMAC)

	oid, err := cvc.ParseOID(c.protocol)
	require.NoError(c.t, err)
	token, err := AuthenticationToken(mac, oid, point.Value)
	require.NoError(c.t, err)
	if c.corruptToken {
		token[3] ^= 0x40
	}

	c.sm = securechannel.NewCredential(uuid.New(), "chip", securechannel.LevelMACEnc, enc, mac, make([]byte, 8))

	resp := tlv.NewConstructed(0x7C,
		tlv.NewPrimitive(0x81, c.nonce),
		tlv.NewPrimitive(0x82, token),
	).Bytes()
	return append(resp, 0x90, 0x00), nil
}

// handleProtected verifies a protected command, then answers READ BINARY
// with the file content and anything else with 9000.
func (c *fakeChip) handleProtected(raw []byte, cmd *iso7816.CommandAPDU) ([]byte, error) {
	if c.sm == nil {
		return sw(iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT), nil
	}
	if c.clearStatus != 0 {
		return sw(c.clearStatus), nil
	}

	nodes, err := tlv.DecodeAll(cmd.Data)
	require.NoError(c.t, err)
	require.NotEmpty(c.t, nodes)
	macNode := nodes[len(nodes)-1]
	require.Equal(c.t, tlv.Tag(0x8E), macNode.Tag)

	ssc, err := c.sm.NextCounter()
	require.NoError(c.t, err)

	input := append([]byte(nil), ssc...)
	input = append(input, securechannel.Pad80(raw[:4], 8)...)
	var plain []byte
	for _, n := range nodes[:len(nodes)-1] {
		input = append(input, n.Bytes()...)
		if n.Tag == 0x87 {
			require.Equal(c.t, byte(0x01), n.Value[0])
			dec, err := securechannel.TripleDESDecryptCBC(c.sm.EncKey, make([]byte, 8), n.Value[1:])
			require.NoError(c.t, err)
			plain, err = securechannel.Unpad80(dec)
			require.NoError(c.t, err)
		}
	}
	want, err := securechannel.RetailMAC(c.sm.MACKey, make([]byte, 8), securechannel.Pad80(input, 8))
	require.NoError(c.t, err)
	if !bytes.Equal(want, macNode.Value) {
		return sw(iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT), nil
	}

	var respData []byte
	if cmd.Instruction.Raw == iso7816.INS_READ_BINARY {
		respData = c.file
	} else if len(plain) > 0 {
		// Echo the decrypted payload so the round trip can be checked.
		respData = plain
	}

	var objects []tlv.Node
	if len(respData) > 0 {
		enc, err := securechannel.TripleDESEncryptCBC(c.sm.EncKey, make([]byte, 8), securechannel.Pad80(respData, 8))
		require.NoError(c.t, err)
		objects = append(objects, tlv.NewPrimitive(0x87, append([]byte{0x01}, enc...)))
	}
	objects = append(objects, tlv.NewPrimitive(0x99, []byte{0x90, 0x00}))

	ssc, err = c.sm.NextCounter()
	require.NoError(c.t, err)
	macInput := append(append([]byte(nil), ssc...), tlv.EncodeAll(objects)...)
	mac, err := securechannel.RetailMAC(c.sm.MACKey, make([]byte, 8), securechannel.Pad80(macInput, 8))
	require.NoError(c.t, err)
	if c.corruptRespSM {
		mac[0] ^= 0x01
	}
	objects = append(objects, tlv.NewPrimitive(0x8E, mac))

	return append(tlv.EncodeAll(objects), 0x90, 0x00), nil
}

func (c *fakeChip) publicKey() *ecdsa.PublicKey {
	return &ecdsa.PublicKey{Curve: c.domain.Curve(), X: c.x, Y: c.y}
}

// domains used by the protocol tests.
func testDomains(t *testing.T) []*cvc.DomainParameters {
	t.Helper()
	p256, err := cvc.NamedDomain("p256")
	require.NoError(t, err)
	return []*cvc.DomainParameters{cvc.BrainpoolP256r1(), p256}
}
