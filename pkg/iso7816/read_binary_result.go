package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// ReadBinaryResult represents the outcome of a READ BINARY command execution.
type ReadBinaryResult struct {
	Trace
}

func NewReadBinaryResult(t Trace) (*ReadBinaryResult, error) {
	if len(t) == 0 {
		return nil, fmt.Errorf("cannot create result from empty trace")
	}

	if t[0].Command.Instruction.Raw != INS_READ_BINARY {
		return nil, fmt.Errorf("trace must start with READ BINARY command (got %02X)", t[0].Command.Instruction.Raw)
	}

	return &ReadBinaryResult{Trace: t}, nil
}

// Describe generates a detailed, ASCII-formatted report of the read operation.
func (r *ReadBinaryResult) Describe() string {
	var sb strings.Builder

	sb.WriteString("=== READ BINARY COMMAND REPORT ===\n")

	tx0 := r.Trace[0]
	cmd := tx0.Command

	sb.WriteString("[1] Command: READ BINARY\n")

	if cmd.P1&0x80 != 0 {
		sfi := cmd.P1 & 0x1F
		sb.WriteString(fmt.Sprintf("    + Target:  SFI %02X (%d)\n", sfi, sfi))
		sb.WriteString(fmt.Sprintf("    + Offset:  %d\n", cmd.P2))
		sb.WriteString(fmt.Sprintf("    + Mode:    %s\n", ReadBySFI))
	} else {
		offset := int(cmd.P1)<<8 | int(cmd.P2)
		sb.WriteString("    + Target:  Current EF\n")
		sb.WriteString(fmt.Sprintf("    + Offset:  %d\n", offset))
		sb.WriteString(fmt.Sprintf("    + Mode:    %s\n", ReadCurrentEF))
	}
	sb.WriteString(fmt.Sprintf("    + Le:      %d\n", cmd.Ne))

	sb.WriteString(fmt.Sprintf("    + Result:  %s\n", describeStatus(tx0.Response.Status)))
	sb.WriteString("\n")

	lastTx := r.Last()
	finalPayload := lastTx.Response.Data

	if len(r.Trace) > 1 {
		sb.WriteString(fmt.Sprintf("[2] Protocol: Auto-handling (%d steps)\n", len(r.Trace)))
		sb.WriteString(fmt.Sprintf("    + Final SW: [%04X]\n", uint16(lastTx.Response.Status)))
	}

	sb.WriteString("[=] DATA OUTCOME:\n")
	if len(finalPayload) > 0 {
		sb.WriteString(fmt.Sprintf("    + Length: %d bytes\n", len(finalPayload)))
		sb.WriteString(fmt.Sprintf("    + Dump:   %X\n", finalPayload))
		sb.WriteString(fmt.Sprintf("    + ASCII:  %q\n", tlv.MakeSafeASCII(finalPayload)))
	} else {
		sb.WriteString("    - No Data Received.\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

// describeStatus formats a status word the way the command reports do.
func describeStatus(sw StatusWord) string {
	sw1 := sw.SW1()
	sw2 := sw.SW2()

	resultMsg := "[OK]"
	resultDesc := "SW_NO_ERROR"

	switch {
	case sw1 == 0x61:
		resultDesc = fmt.Sprintf("%02X (%d) bytes still available", sw2, sw2)
	case sw1 == 0x6C:
		resultMsg = "[!!]"
		resultDesc = fmt.Sprintf("Wrong length, correct is %02X (%d)", sw2, sw2)
	case sw != SW_NO_ERROR:
		resultMsg = "[!!]"
		resultDesc = sw.Verbose()
	}

	return fmt.Sprintf("[%02X %02X] %s %s", sw1, sw2, resultMsg, resultDesc)
}
