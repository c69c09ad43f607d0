package iso7816

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// SelectResult is the trace of one SELECT, including the GET RESPONSE or
// Le correction the client performed on its behalf.
type SelectResult struct {
	Trace
}

// NewSelectResult checks that t starts with a SELECT.
func NewSelectResult(t Trace) (*SelectResult, error) {
	if len(t) == 0 {
		return nil, errors.New("cannot create result from empty trace")
	}
	if ins := t[0].Command.Instruction.Raw; ins != INS_SELECT {
		return nil, fmt.Errorf("trace must start with SELECT command (got %02X)", ins)
	}
	return &SelectResult{Trace: t}, nil
}

// FCI decodes the final response data according to the P2 of the first
// SELECT.
func (r *SelectResult) FCI() (*FileControlInfo, error) {
	if !r.IsSuccess() {
		return nil, errors.New("selection failed, cannot parse FCI")
	}
	data := r.Response().Data
	if len(data) == 0 {
		return nil, errors.New("no response data found")
	}

	p2 := r.Trace[0].Command.P2
	fci, err := ParseSelectData(data, p2)
	if err != nil {
		return nil, err
	}
	if fci == nil {
		return nil, fmt.Errorf("no FCI requested by P2 %02X", p2)
	}
	return fci, nil
}

// Describe renders the exchange and the decoded FCI for a terminal.
func (r *SelectResult) Describe() string {
	var sb strings.Builder
	first := r.Trace[0]
	cmd := first.Command

	sb.WriteString("=== SELECT COMMAND REPORT ===\n")
	sb.WriteString("[1] Command: SELECT FILE (Initial Request)\n")
	fmt.Fprintf(&sb, "    + Method:  %02X -> %s\n", cmd.P1, SelectionMethod(cmd.P1))
	fmt.Fprintf(&sb, "    + Control: %02X -> %s | %s\n", cmd.P2, FileOccurrence(cmd.P2&0x03), SelectionControl(cmd.P2&0x0C))
	if len(cmd.Data) > 0 {
		fmt.Fprintf(&sb, "    + Data:    %X (%q)\n", cmd.Data, tlv.MakeSafeASCII(cmd.Data))
	}
	fmt.Fprintf(&sb, "    + Result:  %s\n", describeStatus(first.Response.Status))
	if n := len(first.Response.Data); n > 0 {
		fmt.Fprintf(&sb, "    + Payload: %d bytes received directly\n", n)
	}
	sb.WriteString("\n")

	payload := r.Response().Data
	if len(r.Trace) > 1 {
		last := r.Last()
		action := "Unknown"
		switch last.Command.Instruction.Raw {
		case INS_GET_RESPONSE:
			action = "GET RESPONSE"
		case INS_SELECT:
			action = "RE-SELECT (Correction)"
		}

		fmt.Fprintf(&sb, "[2] Protocol: Auto-handling (Sequence of %d steps)\n", len(r.Trace))
		fmt.Fprintf(&sb, "    + Action:  Sending %s\n", action)
		fmt.Fprintf(&sb, "    + Result:  %s\n", describeStatus(last.Response.Status))
		if len(payload) > 0 {
			fmt.Fprintf(&sb, "    + Payload: %d bytes received\n", len(payload))
			fmt.Fprintf(&sb, "      Dump:    %X\n", payload)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("[=] FINAL OUTCOME:\n")
	fci, err := r.FCI()
	switch {
	case err != nil && len(payload) > 0:
		fmt.Fprintf(&sb, "    - FCI Parsing Failed: %v\n", err)
		return sb.String()
	case err != nil:
		sb.WriteString("    - No Data returned to parse.\n")
		return sb.String()
	}

	var parts []string
	if fci.FCP != nil {
		parts = append(parts, "FCP")
	}
	if fci.FMD != nil {
		parts = append(parts, "FMD")
	}
	if len(fci.ProprietaryRawData) > 0 {
		parts = append(parts, "ProprietaryRaw")
	}
	if len(parts) == 0 {
		parts = []string{"None"}
	}
	fmt.Fprintf(&sb, "    - Structure: %s", strings.Join(parts, " + "))

	tlv.WriteStructFields(&sb, "FCP", fci.FCP)
	tlv.WriteStructFields(&sb, "FMD", fci.FMD)
	if len(fci.ProprietaryRawData) > 0 {
		fmt.Fprintf(&sb, "\n    - Proprietary:   %X", fci.ProprietaryRawData)
	}
	sb.WriteString("\n")
	return sb.String()
}
