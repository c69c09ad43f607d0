package securechannel

import (
	"crypto/cipher"
	"crypto/des"
	"fmt"
)

// SYMMETRIC PRIMITIVES:
// Both EAC (3DES profile) and GlobalPlatform SCP02 are built on DES:
//
//   - Keys are double length (K1 || K2, 16 bytes) and are expanded to the
//     three-key form K1 || K2 || K1 before being handed to crypto/des.
//   - Padding is ISO/IEC 9797-1 method 2: a mandatory '80' followed by '00'
//     bytes up to the block boundary.
//   - The retail MAC (ISO/IEC 9797-1 algorithm 3) runs single DES CBC with K1
//     over every block and finishes the last block with DES-EDE (D K2, E K1).
//   - The full 3DES MAC is the last block of a 3DES CBC encryption.

// BlockSize is the DES block size.
const BlockSize = des.BlockSize

// Pad80 appends '80' and the minimal number of '00' bytes to reach a multiple
// of blockSize. The padding is always added, even for aligned input.
func Pad80(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+padLen)
	copy(out, data)
	out = append(out, 0x80)
	for i := 1; i < padLen; i++ {
		out = append(out, 0x00)
	}
	return out
}

// Unpad80 removes ISO/IEC 9797-1 method 2 padding.
func Unpad80(data []byte) ([]byte, error) {
	for i := len(data) - 1; i >= 0; i-- {
		switch data[i] {
		case 0x00:
			continue
		case 0x80:
			return data[:i], nil
		default:
			return nil, fmt.Errorf("invalid padding byte %02X at offset %d", data[i], i)
		}
	}
	return nil, fmt.Errorf("padding marker not found")
}

// Expand16To24 turns a double length key into the K1 || K2 || K1 triple
// length form. Triple length keys are returned as a copy.
func Expand16To24(key []byte) ([]byte, error) {
	switch len(key) {
	case 16:
		out := make([]byte, 0, 24)
		out = append(out, key...)
		return append(out, key[:8]...), nil
	case 24:
		return append([]byte(nil), key...), nil
	default:
		return nil, fmt.Errorf("invalid 3DES key length %d", len(key))
	}
}

func newTripleDES(key []byte) (cipher.Block, error) {
	k, err := Expand16To24(key)
	if err != nil {
		return nil, err
	}
	return des.NewTripleDESCipher(k)
}

func checkBlocks(data, iv []byte) error {
	if len(data)%BlockSize != 0 {
		return fmt.Errorf("data length %d is not a multiple of %d", len(data), BlockSize)
	}
	if len(iv) != BlockSize {
		return fmt.Errorf("invalid IV length %d", len(iv))
	}
	return nil
}

// TripleDESEncryptCBC encrypts block aligned data with 3DES in CBC mode.
func TripleDESEncryptCBC(key, iv, data []byte) ([]byte, error) {
	if err := checkBlocks(data, iv); err != nil {
		return nil, err
	}
	block, err := newTripleDES(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// TripleDESDecryptCBC decrypts block aligned data with 3DES in CBC mode.
func TripleDESDecryptCBC(key, iv, data []byte) ([]byte, error) {
	if err := checkBlocks(data, iv); err != nil {
		return nil, err
	}
	block, err := newTripleDES(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// DESEncryptBlock encrypts a single block with single DES using the first
// 8 bytes of key.
func DESEncryptBlock(key, block []byte) ([]byte, error) {
	if len(key) < 8 || len(block) != BlockSize {
		return nil, fmt.Errorf("invalid DES input: key %d bytes, block %d bytes", len(key), len(block))
	}
	c, err := des.NewCipher(key[:8])
	if err != nil {
		return nil, err
	}
	out := make([]byte, BlockSize)
	c.Encrypt(out, block)
	return out, nil
}

// RetailMAC computes the ISO/IEC 9797-1 algorithm 3 MAC over already padded
// data, chaining from iv.
func RetailMAC(key, iv, data []byte) ([]byte, error) {
	if err := checkBlocks(data, iv); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty MAC input")
	}
	if len(key) != 16 && len(key) != 24 {
		return nil, fmt.Errorf("invalid MAC key length %d", len(key))
	}

	single, err := des.NewCipher(key[:8])
	if err != nil {
		return nil, err
	}
	final, err := newTripleDES(key[:16])
	if err != nil {
		return nil, err
	}

	state := append([]byte(nil), iv...)
	last := len(data) - BlockSize
	if last > 0 {
		buf := make([]byte, last)
		cipher.NewCBCEncrypter(single, state).CryptBlocks(buf, data[:last])
		copy(state, buf[last-BlockSize:])
	}

	for i := range state {
		state[i] ^= data[last+i]
	}
	mac := make([]byte, BlockSize)
	final.Encrypt(mac, state)
	return mac, nil
}

// FullTripleDESMAC returns the last block of the 3DES CBC encryption of the
// already padded data.
func FullTripleDESMAC(key, iv, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty MAC input")
	}
	enc, err := TripleDESEncryptCBC(key, iv, data)
	if err != nil {
		return nil, err
	}
	return enc[len(enc)-BlockSize:], nil
}

// ZeroIV returns a fresh all-zero block.
func ZeroIV() []byte {
	return make([]byte, BlockSize)
}
