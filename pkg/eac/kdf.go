package eac

import (
	"crypto/sha1"
	"encoding/asn1"
	"encoding/binary"

	"github.com/gregLibert/smartcard-middleware/pkg/cvc"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// Key derivation counters.
const (
	CounterENC uint32 = 1
	CounterMAC uint32 = 2
)

// DeriveKey computes a 3DES session key:
//
//	K = SHA-1(secret || nonce || counter)[0:16], expanded to K1 K2 K1
//
// counter is encoded on 4 bytes, big endian.
func DeriveKey(secret, nonce []byte, counter uint32) []byte {
	var c [4]byte
	binary.BigEndian.PutUint32(c[:], counter)

	h := sha1.New()
	h.Write(secret)
	h.Write(nonce)
	h.Write(c[:])
	digest := h.Sum(nil)

	key := make([]byte, 24)
	copy(key, digest[:16])
	copy(key[16:], digest[:8])
	wipe(digest)
	return key
}

// AuthenticationToken computes the retail MAC over the padded template
// 7F49{06 protocol, 86 ephemeral public point} with macKey.
func AuthenticationToken(macKey []byte, protocol asn1.ObjectIdentifier, ephemeralPublic []byte) ([]byte, error) {
	oid, err := cvc.EncodeOID(protocol)
	if err != nil {
		return nil, err
	}

	template := tlv.NewConstructed(tagPublicKey,
		tlv.NewPrimitive(tagOID, oid),
		tlv.NewPrimitive(tagPoint, ephemeralPublic),
	)
	input := securechannel.Pad80(template.Bytes(), securechannel.BlockSize)
	return securechannel.RetailMAC(macKey, securechannel.ZeroIV(), input)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
