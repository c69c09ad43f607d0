package securechannel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

func TestPad80(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"Empty", nil, tlv.Hex("80 00 00 00 00 00 00 00")},
		{"Partial block", tlv.Hex("01 02 03"), tlv.Hex("01 02 03 80 00 00 00 00")},
		{"Seven bytes", tlv.Hex("01 02 03 04 05 06 07"), tlv.Hex("01 02 03 04 05 06 07 80")},
		{"Aligned input gets a full block", tlv.Hex("0102030405060708"), tlv.Hex("0102030405060708 8000000000000000")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pad80(tt.in, BlockSize)
			require.Equal(t, tt.want, got)

			unpadded, err := Unpad80(got)
			require.NoError(t, err)
			require.Equal(t, len(tt.in), len(unpadded))
		})
	}
}

func TestPad80_DoesNotAliasInput(t *testing.T) {
	in := make([]byte, 3, 16)
	_ = Pad80(in, BlockSize)
	require.Equal(t, byte(0), in[:4][3])
}

func TestUnpad80_Invalid(t *testing.T) {
	_, err := Unpad80(tlv.Hex("01 02 00 00"))
	require.Error(t, err)

	_, err = Unpad80(tlv.Hex("01 80 01"))
	require.Error(t, err)
}

func TestExpand16To24(t *testing.T) {
	k := tlv.Hex("000102030405060708090A0B0C0D0E0F")
	got, err := Expand16To24(k)
	require.NoError(t, err)
	require.Equal(t, tlv.Hex("000102030405060708090A0B0C0D0E0F 0001020304050607"), got)

	_, err = Expand16To24(k[:8])
	require.Error(t, err)
}

func TestTripleDES_KnownAnswer(t *testing.T) {
	// With K1 == K2 the EDE construction degenerates to single DES, which
	// gives the classic FIPS 81 vector.
	key := tlv.Hex("0123456789ABCDEF 0123456789ABCDEF")
	plain := tlv.Hex("4E6F772069732074")

	enc, err := TripleDESEncryptCBC(key, ZeroIV(), plain)
	require.NoError(t, err)
	require.Equal(t, tlv.Hex("3FA40E8A984D4815"), enc)

	block, err := DESEncryptBlock(key, plain)
	require.NoError(t, err)
	require.Equal(t, enc, block)

	dec, err := TripleDESDecryptCBC(key, ZeroIV(), enc)
	require.NoError(t, err)
	require.Equal(t, plain, dec)
}

func TestTripleDES_RoundTrip(t *testing.T) {
	key := tlv.Hex("404142434445464748494A4B4C4D4E4F")
	iv := tlv.Hex("0011223344556677")
	plain := Pad80([]byte("load file data block"), BlockSize)

	enc, err := TripleDESEncryptCBC(key, iv, plain)
	require.NoError(t, err)
	require.NotEqual(t, plain, enc)

	dec, err := TripleDESDecryptCBC(key, iv, enc)
	require.NoError(t, err)
	require.Equal(t, plain, dec)
}

func TestTripleDES_RejectsUnaligned(t *testing.T) {
	key := tlv.Hex("404142434445464748494A4B4C4D4E4F")
	_, err := TripleDESEncryptCBC(key, ZeroIV(), []byte{1, 2, 3})
	require.Error(t, err)

	_, err = TripleDESEncryptCBC(key, []byte{0}, make([]byte, 8))
	require.Error(t, err)
}

func TestRetailMAC_DegeneratesToSingleDES(t *testing.T) {
	// K1 == K2: the retail MAC and the full 3DES MAC are both a plain DES CBC-MAC.
	key := tlv.Hex("0123456789ABCDEF 0123456789ABCDEF")
	data := Pad80([]byte("Now is the time for all "), BlockSize)

	retail, err := RetailMAC(key, ZeroIV(), data)
	require.NoError(t, err)
	full, err := FullTripleDESMAC(key, ZeroIV(), data)
	require.NoError(t, err)
	require.Equal(t, full, retail)
	require.Len(t, retail, BlockSize)
}

func TestRetailMAC_SingleBlockIsTripleDES(t *testing.T) {
	key := tlv.Hex("404142434445464748494A4B4C4D4E4F")
	data := tlv.Hex("1122334455667788")

	retail, err := RetailMAC(key, ZeroIV(), data)
	require.NoError(t, err)
	enc, err := TripleDESEncryptCBC(key, ZeroIV(), data)
	require.NoError(t, err)
	require.Equal(t, enc, retail)
}

func TestRetailMAC_DependsOnK2(t *testing.T) {
	data := Pad80([]byte("7F49 token input"), BlockSize)

	a, err := RetailMAC(tlv.Hex("404142434445464748494A4B4C4D4E4F"), ZeroIV(), data)
	require.NoError(t, err)
	b, err := RetailMAC(tlv.Hex("40414243444546474849 4A4B4C4D4E40"), ZeroIV(), data)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestRetailMAC_ChainsIV(t *testing.T) {
	key := tlv.Hex("404142434445464748494A4B4C4D4E4F")
	data := Pad80([]byte("command"), BlockSize)

	a, err := RetailMAC(key, ZeroIV(), data)
	require.NoError(t, err)
	b, err := RetailMAC(key, tlv.Hex("0000000000000001"), data)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestRetailMAC_InvalidInput(t *testing.T) {
	key := tlv.Hex("404142434445464748494A4B4C4D4E4F")

	_, err := RetailMAC(key, ZeroIV(), nil)
	require.Error(t, err)

	_, err = RetailMAC(key[:8], ZeroIV(), make([]byte, 8))
	require.Error(t, err)
}
