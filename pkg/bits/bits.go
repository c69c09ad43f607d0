// Package bits addresses bits the way ISO 7816 tables do: numbered 1 (least
// significant) to 8 (most significant), so b8..b1 reads left to right.
package bits

// Bit returns a byte with only bit n set. Out of range n gives 0.
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

func Set(b byte, n uint) byte {
	return b | Bit(n)
}

func Clear(b byte, n uint) byte {
	return b &^ Bit(n)
}

// mask covers bits high..low, or nothing for an invalid range.
func mask(high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}
	return byte((1<<(high-low+1))-1) << (low - 1)
}

// GetRange returns bits high..low of b shifted down to bit 1.
// GetRange(0b00001100, 4, 3) is 0b11.
func GetRange(b byte, high, low uint) byte {
	m := mask(high, low)
	if m == 0 {
		return 0
	}
	return (b & m) >> (low - 1)
}

// SetRange replaces bits high..low of b with v. Bits of v that do not fit
// are dropped.
func SetRange(b byte, high, low uint, v byte) byte {
	m := mask(high, low)
	if m == 0 {
		return b
	}
	return b&^m | (v<<(low-1))&m
}
