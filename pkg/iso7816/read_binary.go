package iso7816

import (
	"fmt"
)

// READ BINARY COMMAND LOGIC (ISO 7816-4):
// The READ BINARY command (INS 'B0') reads a part of a transparent Elementary File.
//
// P1-P2 (Reference Control):
// - If bit 8 of P1 is 1: bits 5-1 of P1 are a Short File Identifier (SFI)
//   and P2 is the offset of the first byte to read (0-255).
// - If bit 8 of P1 is 0: P1-P2 is a 15-bit offset in the currently selected EF.
//
// Le is the number of bytes to read. A card that reaches the end of the file
// answers with fewer bytes, '6282' (EOF reached) or '6B00' (offset beyond EOF).

// MaxBinaryOffset is the largest offset encodable in P1-P2.
const MaxBinaryOffset = 0x7FFF

// ReadBinaryMode tells how P1-P2 have to be interpreted.
type ReadBinaryMode byte

const (
	ReadCurrentEF ReadBinaryMode = 0
	ReadBySFI     ReadBinaryMode = 1
)

func (m ReadBinaryMode) String() string {
	switch m {
	case ReadCurrentEF:
		return "Current EF, 15-bit offset"
	case ReadBySFI:
		return "Short File Identifier, 8-bit offset"
	default:
		return fmt.Sprintf("Unknown Mode (0x%X)", byte(m))
	}
}

// NewReadBinaryCommand creates a raw READ BINARY command.
func NewReadBinaryCommand(cla Class, p1, p2 byte, ne int) *CommandAPDU {
	ins, _ := NewInstruction(INS_READ_BINARY)

	// Case 2 command: always request a response length.
	if ne <= 0 {
		ne = MaxShortLe
	}
	return NewCommandAPDU(cla, ins, p1, p2, nil, ne)
}

// ReadBinary reads ne bytes at offset in the currently selected EF.
func ReadBinary(cla Class, offset uint16, ne int) (*CommandAPDU, error) {
	if offset > MaxBinaryOffset {
		return nil, fmt.Errorf("offset 0x%04X exceeds 15 bits", offset)
	}
	return NewReadBinaryCommand(cla, byte(offset>>8), byte(offset), ne), nil
}

// ReadBinarySFI reads ne bytes at offset in the EF designated by sfi.
func ReadBinarySFI(cla Class, sfi byte, offset byte, ne int) (*CommandAPDU, error) {
	if sfi == 0 || sfi > 30 {
		return nil, fmt.Errorf("SFI %d out of range (1-30)", sfi)
	}
	return NewReadBinaryCommand(cla, 0x80|sfi, offset, ne), nil
}

// ReadFile reads a whole transparent EF, starting at offset 0 of the
// currently selected file, in chunks of chunk bytes (MaxShortLe if <= 0).
func ReadFile(c *Client, cla Class, chunk int) ([]byte, error) {
	if chunk <= 0 || chunk > MaxShortLe {
		chunk = MaxShortLe
	}

	var out []byte
	for offset := 0; offset <= MaxBinaryOffset; {
		cmd, err := ReadBinary(cla, uint16(offset), chunk)
		if err != nil {
			return nil, err
		}

		trace, err := c.Send(cmd)
		if err != nil {
			return nil, fmt.Errorf("read binary at offset %d: %w", offset, err)
		}

		resp := trace.Last().Response
		switch {
		case resp.Status == SW_NO_ERROR:
			out = append(out, resp.Data...)
			if len(resp.Data) < chunk {
				return out, nil
			}
			offset += len(resp.Data)
		case resp.Status == SW_WARN_EOF_REACHED:
			return append(out, resp.Data...), nil
		case resp.Status == SW_ERR_WRONG_P1P2 && offset > 0:
			return out, nil
		default:
			return nil, NewStatusError(cmd, resp.Status)
		}
	}

	return out, nil
}
