package service

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gregLibert/smartcard-middleware/pkg/cvc"
	"github.com/gregLibert/smartcard-middleware/pkg/dispatch"
	"github.com/gregLibert/smartcard-middleware/pkg/eac"
	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/scp02"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

var (
	hsmATR  = tlv.Hex("3B FE 18 00 00 81 31 FE 45 80 31 81 54 48 53 4D 31 73 80 21 40 81 07 FA")
	jcopATR = tlv.Hex("3B F8 13 00 00 81 31 FE 45 4A 43 4F 50 76 32 34 31 B7")

	gpStatic = tlv.Hex("404142434445464748494A4B4C4D4E4F")
	gpKeys   = scp02.StaticKeys{ENC: gpStatic, MAC: gpStatic, DEK: gpStatic}
	gpCRD    = tlv.Hex("664C734A06072A864886FC6B01600C060A2A864886FC6B02020101630906072A864886FC6B03640B06092A864886FC6B040215650B06092B8510864864020103660C060A2B060104012A026E0102")
	gpSeq    = [2]byte{0x00, 0x07}
)

// --- certificates ---

type authority struct {
	chr  string
	priv *ecdsa.PrivateKey
}

func newAuthority(t *testing.T, chr string, domain *cvc.DomainParameters) *authority {
	t.Helper()
	priv, err := ecdsa.GenerateKey(domain.Curve(), rand.Reader)
	require.NoError(t, err)
	return &authority{chr: chr, priv: priv}
}

// issue returns the certificate of subject signed by a. The subject key
// carries no domain parameters.
func (a *authority) issue(t *testing.T, subject *authority, domain *cvc.DomainParameters) []byte {
	t.Helper()
	key := tlv.NewConstructed(0x7F49,
		tlv.NewPrimitive(0x06, cvc.MustEncodeOID(cvc.OIDTAECDSASHA256)),
		tlv.NewPrimitive(0x86, domain.EncodePoint(subject.priv.X, subject.priv.Y)),
	)
	body := tlv.NewConstructed(0x7F4E,
		tlv.NewPrimitive(0x5F29, []byte{0x00}),
		tlv.NewPrimitive(0x42, []byte(a.chr)),
		key,
		tlv.NewPrimitive(0x5F20, []byte(subject.chr)),
		tlv.NewPrimitive(0x5F25, tlv.Hex("020400010200")),
		tlv.NewPrimitive(0x5F24, tlv.Hex("020700010200")),
	).Bytes()

	digest := sha256.Sum256(body)
	der, err := ecdsa.SignASN1(rand.Reader, a.priv, digest[:])
	require.NoError(t, err)
	sig, err := cvc.DERToPlain(der, domain.ByteLen())
	require.NoError(t, err)

	content := append(append([]byte(nil), body...), tlv.NewPrimitive(0x5F37, sig).Bytes()...)
	return append(append([]byte{0x7F, 0x21}, tlv.EncodeLength(len(content))...), content...)
}

// pki is a CVCA -> DICA -> device chain where no certificate carries its
// curve.
type pki struct {
	domain *cvc.DomainParameters
	anchor *cvc.Certificate
	device *authority
	file   []byte
}

func newPKI(t *testing.T) *pki {
	t.Helper()
	domain, err := cvc.NamedDomain("p256")
	require.NoError(t, err)

	root := newAuthority(t, "UTCVCA00001", domain)
	dica := newAuthority(t, "UTDICA00001", domain)
	device := newAuthority(t, "UTHSM000001", domain)

	anchor, err := cvc.Parse(root.issue(t, root, domain))
	require.NoError(t, err)

	file := append(dica.issue(t, device, domain), root.issue(t, dica, domain)...)
	return &pki{domain: domain, anchor: anchor, device: device, file: file}
}

// --- fake card ---

// fakeCard answers as a SmartCard-HSM when hsm is set, as a GlobalPlatform
// card otherwise.
type fakeCard struct {
	t   *testing.T
	hsm bool

	pki   *pki
	nonce []byte

	hostChallenge []byte

	commands [][]byte
}

func (c *fakeCard) Transmit(raw []byte) ([]byte, error) {
	c.commands = append(c.commands, append([]byte(nil), raw...))
	cmd, err := iso7816.ParseCommandAPDU(raw)
	require.NoError(c.t, err)

	switch cmd.Instruction.Raw {
	case iso7816.INS_SELECT:
		return c.handleSelect(cmd), nil
	case iso7816.INS_READ_BINARY:
		offset := int(cmd.P1)<<8 | int(cmd.P2)
		if !c.hsm || offset > len(c.pki.file) {
			return sw(iso7816.SW_ERR_WRONG_P1P2), nil
		}
		end := min(offset+cmd.Ne, len(c.pki.file))
		return append(append([]byte(nil), c.pki.file[offset:end]...), 0x90, 0x00), nil
	case iso7816.INS_MANAGE_SECURITY_ENVIRONMENT:
		return sw(iso7816.SW_NO_ERROR), nil
	case iso7816.INS_GENERAL_AUTHENTICATE:
		return c.handleGA(cmd), nil
	case iso7816.INS_GET_DATA:
		return append(append([]byte(nil), gpCRD...), 0x90, 0x00), nil
	case scp02.INS_INITIALIZE_UPDATE:
		return c.handleInitializeUpdate(cmd), nil
	case scp02.INS_EXTERNAL_AUTHENTICATE:
		return c.handleExternalAuthenticate(cmd), nil
	}
	return sw(iso7816.SW_NO_ERROR), nil
}

func sw(s iso7816.StatusWord) []byte {
	return []byte{s.SW1(), s.SW2()}
}

func (c *fakeCard) handleSelect(cmd *iso7816.CommandAPDU) []byte {
	switch {
	case bytes.Equal(cmd.Data, dispatch.SmartCardHSMAID) && c.hsm:
		return sw(iso7816.SW_NO_ERROR)
	case bytes.Equal(cmd.Data, dispatch.ISDAID) && !c.hsm:
		return sw(iso7816.SW_NO_ERROR)
	case bytes.Equal(cmd.Data, []byte{0x2F, 0x02}) && c.hsm:
		return sw(iso7816.SW_NO_ERROR)
	}
	return sw(iso7816.SW_ERR_FILE_NOT_FOUND)
}

func (c *fakeCard) handleGA(cmd *iso7816.CommandAPDU) []byte {
	n, err := tlv.Decode(cmd.Data)
	require.NoError(c.t, err)
	point, ok := n.Find(0x80)
	require.True(c.t, ok)

	domain := c.pki.domain
	px, py, err := domain.DecodePoint(point.Value)
	require.NoError(c.t, err)
	sx, _ := domain.Curve().ScalarMult(px, py, c.pki.device.priv.D.Bytes())
	secret := sx.FillBytes(make([]byte, domain.ByteLen()))

	mac := eac.DeriveKey(secret, c.nonce, eac.CounterMAC)
	token, err := eac.AuthenticationToken(mac, eac.OIDCAECDH3DESCBCCBC, point.Value)
	require.NoError(c.t, err)

	resp := tlv.NewConstructed(0x7C,
		tlv.NewPrimitive(0x81, c.nonce),
		tlv.NewPrimitive(0x82, token),
	).Bytes()
	return append(resp, 0x90, 0x00)
}

func (c *fakeCard) sessionKeys() *scp02.SessionKeys {
	keys, err := scp02.DeriveSessionKeys(gpKeys, 0x01, gpSeq)
	require.NoError(c.t, err)
	return keys
}

func (c *fakeCard) handleInitializeUpdate(cmd *iso7816.CommandAPDU) []byte {
	c.hostChallenge = cmd.Data
	cardChallenge := tlv.Hex("111213141516")
	cryptogram, err := scp02.CardCryptogram(c.sessionKeys().ENC, cmd.Data, gpSeq, cardChallenge)
	require.NoError(c.t, err)

	resp := tlv.Hex("00000000000000000000 01 02")
	resp = append(resp, gpSeq[:]...)
	resp = append(resp, cardChallenge...)
	resp = append(resp, cryptogram...)
	return append(resp, 0x90, 0x00)
}

func (c *fakeCard) handleExternalAuthenticate(cmd *iso7816.CommandAPDU) []byte {
	host, err := scp02.HostCryptogram(c.sessionKeys().ENC, c.hostChallenge, gpSeq, tlv.Hex("111213141516"))
	require.NoError(c.t, err)
	if !bytes.HasPrefix(cmd.Data, host) {
		return sw(iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT)
	}
	return sw(iso7816.SW_NO_ERROR)
}

// recorder is an Observer.
type recorder struct {
	events []string
}

func (r *recorder) Authentication(protocol, outcome string) {
	r.events = append(r.events, protocol+"/"+outcome)
}
