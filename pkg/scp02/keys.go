package scp02

import (
	"github.com/pkg/errors"

	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
)

// SESSION KEYS:
// Each session key is the 3DES-CBC encryption, under the static key and a
// zero IV, of the 16-byte derivation data
//
//	constant (2) || sequence counter (2) || 00 * 12
//
// with the constants 0182 (S-ENC), 0101 (S-MAC), 0102 (R-MAC), 0181 (DEK).

var (
	constENC  = [2]byte{0x01, 0x82}
	constCMAC = [2]byte{0x01, 0x01}
	constRMAC = [2]byte{0x01, 0x02}
	constDEK  = [2]byte{0x01, 0x81}
)

// SessionKeyProvider derives session keys from static keys it holds, for
// instance inside an HSM.
type SessionKeyProvider interface {
	// ProvideSessionKey encrypts the 16-byte derivation data with the static
	// key keyID of version kvn, using 3DES-CBC and a zero IV.
	ProvideSessionKey(keyID, kvn byte, derivationData []byte) ([]byte, error)
}

// StaticKeys is a SessionKeyProvider over keys held in memory. A zero
// Version matches any key version.
type StaticKeys struct {
	ENC, MAC, DEK []byte
	Version       byte
}

// ProvideSessionKey implements SessionKeyProvider.
func (k StaticKeys) ProvideSessionKey(keyID, kvn byte, derivationData []byte) ([]byte, error) {
	if k.Version != 0 && kvn != k.Version {
		return nil, errors.Errorf("no static keys for key version %02X", kvn)
	}

	var key []byte
	switch keyID {
	case KeyIDEnc:
		key = k.ENC
	case KeyIDMac:
		key = k.MAC
	case KeyIDDek:
		key = k.DEK
	default:
		return nil, errors.Errorf("unknown key identifier %02X", keyID)
	}
	if len(key) != 16 {
		return nil, errors.Errorf("static key %02X must be 16 bytes, got %d", keyID, len(key))
	}
	if len(derivationData) != 16 {
		return nil, errors.Errorf("derivation data must be 16 bytes, got %d", len(derivationData))
	}
	return securechannel.TripleDESEncryptCBC(key, securechannel.ZeroIV(), derivationData)
}

// SessionKeys are the keys of one secure channel session.
type SessionKeys struct {
	ENC  []byte
	CMAC []byte
	RMAC []byte
	DEK  []byte
}

// DeriveSessionKeys derives the four session keys for sequence counter seq.
func DeriveSessionKeys(p SessionKeyProvider, kvn byte, seq [2]byte) (*SessionKeys, error) {
	derive := func(keyID byte, constant [2]byte) ([]byte, error) {
		data := make([]byte, 16)
		copy(data, constant[:])
		copy(data[2:], seq[:])
		key, err := p.ProvideSessionKey(keyID, kvn, data)
		if err != nil {
			return nil, err
		}
		if len(key) != 16 {
			return nil, errors.Errorf("session key of %d bytes", len(key))
		}
		return key, nil
	}

	var (
		keys SessionKeys
		err  error
	)
	if keys.ENC, err = derive(KeyIDEnc, constENC); err != nil {
		return nil, errors.Wrap(err, "failed to derive S-ENC")
	}
	if keys.CMAC, err = derive(KeyIDMac, constCMAC); err != nil {
		return nil, errors.Wrap(err, "failed to derive C-MAC")
	}
	if keys.RMAC, err = derive(KeyIDMac, constRMAC); err != nil {
		return nil, errors.Wrap(err, "failed to derive R-MAC")
	}
	if keys.DEK, err = derive(KeyIDDek, constDEK); err != nil {
		return nil, errors.Wrap(err, "failed to derive S-DEK")
	}
	return &keys, nil
}

func (k *SessionKeys) wipe() {
	for _, b := range [][]byte{k.ENC, k.CMAC, k.RMAC, k.DEK} {
		for i := range b {
			b[i] = 0
		}
	}
}

// CardCryptogram is the full 3DES MAC under S-ENC of
// host challenge || sequence counter || card challenge.
func CardCryptogram(enc, hostChallenge []byte, seq [2]byte, cardChallenge []byte) ([]byte, error) {
	input := make([]byte, 0, 16)
	input = append(input, hostChallenge...)
	input = append(input, seq[:]...)
	input = append(input, cardChallenge...)
	return cryptogram(enc, input)
}

// HostCryptogram is the full 3DES MAC under S-ENC of
// sequence counter || card challenge || host challenge.
func HostCryptogram(enc, hostChallenge []byte, seq [2]byte, cardChallenge []byte) ([]byte, error) {
	input := make([]byte, 0, 16)
	input = append(input, seq[:]...)
	input = append(input, cardChallenge...)
	input = append(input, hostChallenge...)
	return cryptogram(enc, input)
}

func cryptogram(enc, input []byte) ([]byte, error) {
	mac, err := securechannel.FullTripleDESMAC(enc, securechannel.ZeroIV(), securechannel.Pad80(input, securechannel.BlockSize))
	if err != nil {
		return nil, errors.Wrap(err, "failed to calculate 3DES MAC")
	}
	return mac, nil
}
