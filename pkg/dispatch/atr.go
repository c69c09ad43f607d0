package dispatch

import (
	"fmt"
)

// ANSWER-TO-RESET LAYOUT (ISO/IEC 7816-3):
//
//	TS T0 [TA1 TB1 TC1 TD1] [TA2 TB2 TC2 TD2] ... T1..TK [TCK]
//
// - T0: high nibble Y1 announces which of TA1..TD1 follow, low nibble K is
//   the number of historical bytes.
// - TDi: high nibble Yi+1 announces the next group, low nibble is a protocol.
// - The historical bytes T1..TK follow the last interface byte.

// HistoricalBytes extracts the historical bytes from a full ATR.
func HistoricalBytes(atr []byte) ([]byte, error) {
	if len(atr) < 2 {
		return nil, fmt.Errorf("ATR too short: %d bytes", len(atr))
	}

	k := int(atr[1] & 0x0F)
	y := atr[1] >> 4
	i := 2

	for {
		for bit := byte(0x01); bit <= 0x04; bit <<= 1 {
			if y&bit != 0 {
				i++
			}
		}
		if y&0x08 == 0 {
			break
		}
		if i >= len(atr) {
			return nil, fmt.Errorf("ATR truncated in interface bytes")
		}
		y = atr[i] >> 4
		i++
	}

	if i+k > len(atr) {
		return nil, fmt.Errorf("ATR announces %d historical bytes, only %d left", k, len(atr)-i)
	}
	return atr[i : i+k], nil
}
