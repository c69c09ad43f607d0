package eac

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

const testPath = "E80704007F00070302"

func TestDeriveKey(t *testing.T) {
	secret := tlv.Hex("0102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F20")
	nonce := tlv.Hex("A0A1A2A3A4A5A6A7")

	enc := DeriveKey(secret, nonce, CounterENC)
	mac := DeriveKey(secret, nonce, CounterMAC)

	require.Equal(t, tlv.Hex("C6E7E1DD16F1BD3DF18E6A8864A902BF", "C6E7E1DD16F1BD3D"), enc)
	require.Equal(t, tlv.Hex("3C33178E816E6C96734320C9E947A455", "3C33178E816E6C96"), mac)

	require.Equal(t, enc, DeriveKey(secret, nonce, CounterENC), "derivation must be deterministic")
	require.NotEqual(t, enc, mac)

	// K3 = K1
	require.Equal(t, enc[:8], enc[16:])
}

func TestAuthenticationToken(t *testing.T) {
	mac := tlv.Hex("3C33178E816E6C96734320C9E947A455", "3C33178E816E6C96")
	point := append([]byte{0x04}, make([]byte, 64)...)

	token, err := AuthenticationToken(mac, OIDCAECDH3DESCBCCBC, point)
	require.NoError(t, err)
	require.Len(t, token, TokenSize)

	again, err := AuthenticationToken(mac, OIDCAECDH3DESCBCCBC, point)
	require.NoError(t, err)
	require.Equal(t, token, again)

	point[10] = 0x01
	other, err := AuthenticationToken(mac, OIDCAECDH3DESCBCCBC, point)
	require.NoError(t, err)
	require.NotEqual(t, token, other, "token must be bound to the ephemeral key")
}

func TestChipAuthenticate(t *testing.T) {
	for _, domain := range testDomains(t) {
		t.Run(domain.Name, func(t *testing.T) {
			chip := newFakeChip(t, domain)
			client := iso7816.NewClient(chip)
			session := securechannel.NewSession()

			cfg := Config{Protocol: OIDCAECDH3DESCBCCBC, Domain: domain}
			cred, err := ChipAuthenticate(client, chip.publicKey(), cfg, session, testPath)
			require.NoError(t, err)

			// MSE SET AT then GENERAL AUTHENTICATE, nothing else.
			require.Len(t, chip.commands, 2)
			require.Equal(t, tlv.Hex("0022 41A4 0C 800A04007F00070202030201"), chip.commands[0])
			require.Equal(t, tlv.Hex("00860000"), chip.commands[1][:4])
			require.Equal(t, tlv.Hex("04007F00070202030201"), chip.protocol)
			require.Nil(t, chip.keyRef)

			// The ephemeral point is on the curve and uncompressed.
			_, _, err = domain.DecodePoint(chip.ephemeral)
			require.NoError(t, err)

			require.Equal(t, chip.sm.EncKey, cred.EncKey)
			require.Equal(t, chip.sm.MACKey, cred.MACKey)
			require.NotEqual(t, cred.EncKey, cred.MACKey)
			require.Equal(t, securechannel.LevelMACEnc, cred.Level)
			require.Equal(t, make([]byte, 8), cred.Counter())
			require.Equal(t, session.ID, cred.SessionID)

			installed, ok := session.Credential(testPath)
			require.True(t, ok)
			require.Same(t, cred, installed)
		})
	}
}

func TestChipAuthenticate_KeyReference(t *testing.T) {
	domain := testDomains(t)[0]
	chip := newFakeChip(t, domain)

	cfg := DefaultConfig()
	cfg.KeyReference = []byte{0x02}
	_, err := ChipAuthenticate(iso7816.NewClient(chip), chip.publicKey(), cfg, securechannel.NewSession(), testPath)
	require.NoError(t, err)
	require.Equal(t, []byte{0x02}, chip.keyRef)
	require.Equal(t, tlv.Hex("0022 41A4 0F 800A04007F00070202030201 840102"), chip.commands[0])
}

func TestChipAuthenticate_TokenMismatch(t *testing.T) {
	domain := testDomains(t)[0]
	chip := newFakeChip(t, domain)
	chip.corruptToken = true
	session := securechannel.NewSession()

	cred, err := ChipAuthenticate(iso7816.NewClient(chip), chip.publicKey(), DefaultConfig(), session, testPath)
	require.Nil(t, cred)
	require.ErrorIs(t, err, ErrAuthenticationTokenMismatch)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, StepVerifyToken, stepErr.Step)

	_, ok := session.Credential(testPath)
	require.False(t, ok, "no credential may be installed after a token mismatch")
}

func TestChipAuthenticate_StatusError(t *testing.T) {
	domain := testDomains(t)[0]
	chip := newFakeChip(t, domain)
	chip.mseStatus = iso7816.SW_ERR_REF_DATA_NOT_FOUND

	_, err := ChipAuthenticate(iso7816.NewClient(chip), chip.publicKey(), DefaultConfig(), securechannel.NewSession(), testPath)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, StepSetAT, stepErr.Step)

	sw, ok := iso7816.StatusOf(err)
	require.True(t, ok)
	require.Equal(t, iso7816.SW_ERR_REF_DATA_NOT_FOUND, sw)

	// The run stops at the first failure.
	require.Len(t, chip.commands, 1)
}

func TestChipAuthenticate_MalformedResponse(t *testing.T) {
	token := "8208 0102030405060708"
	nonce := "8108 A0A1A2A3A4A5A6A7"

	tests := []struct {
		name string
		resp []byte
	}{
		{"Empty", []byte{}},
		{"WrongTemplate", tlv.Hex("7D14", nonce, token)},
		{"SwappedOrder", tlv.Hex("7C14", token, nonce)},
		{"MissingToken", tlv.Hex("7C0A", nonce)},
		{"ExtraObject", tlv.Hex("7C17", nonce, token, "830100")},
		{"ShortToken", tlv.Hex("7C12", nonce, "8206 010203040506")},
		{"EmptyNonce", tlv.Hex("7C0C 8100", token)},
		{"Truncated", tlv.Hex("7C20", nonce, token)},
	}

	domain := testDomains(t)[0]
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			chip := newFakeChip(t, domain)
			chip.gaResponse = tc.resp
			session := securechannel.NewSession()

			_, err := ChipAuthenticate(iso7816.NewClient(chip), chip.publicKey(), DefaultConfig(), session, testPath)
			require.ErrorIs(t, err, ErrMalformedAuthenticationData)

			var stepErr *StepError
			require.True(t, errors.As(err, &stepErr))
			require.Equal(t, StepParseResponse, stepErr.Step)

			_, ok := session.Credential(testPath)
			require.False(t, ok)
		})
	}
}

func TestChipAuthenticate_InvalidCardKey(t *testing.T) {
	domain := testDomains(t)[0]
	chip := newFakeChip(t, domain)

	key := chip.publicKey()
	key.Y = new(big.Int).Add(key.Y, big.NewInt(1))

	_, err := ChipAuthenticate(iso7816.NewClient(chip), key, DefaultConfig(), securechannel.NewSession(), testPath)
	require.ErrorIs(t, err, ErrInvalidCardKey)
	require.Empty(t, chip.commands, "nothing is sent for an invalid key")

	_, err = ChipAuthenticate(iso7816.NewClient(chip), nil, DefaultConfig(), securechannel.NewSession(), testPath)
	require.ErrorIs(t, err, ErrInvalidCardKey)
}

func TestChipAuthenticate_ClosedSession(t *testing.T) {
	domain := testDomains(t)[0]
	chip := newFakeChip(t, domain)
	session := securechannel.NewSession()
	session.Close()

	_, err := ChipAuthenticate(iso7816.NewClient(chip), chip.publicKey(), DefaultConfig(), session, testPath)
	require.ErrorIs(t, err, securechannel.ErrSessionClosed)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, StepInstall, stepErr.Step)
}

func TestStep_String(t *testing.T) {
	require.Equal(t, "MSE SET AT", StepSetAT.String())
	require.Equal(t, "Step(42)", Step(42).String())
	require.Equal(t, "eac: chip authentication token verification failed: eac: authentication token mismatch",
		(&StepError{Step: StepVerifyToken, Cause: ErrAuthenticationTokenMismatch}).Error())
}
