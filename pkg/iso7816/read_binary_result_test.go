package iso7816

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadBinaryResult_Describe(t *testing.T) {
	cmd, _ := ReadBinarySFI(Class{}, 1, 0, 5)
	resp := ResponseAPDU{
		Data:   []byte("HELLO"),
		Status: SW_NO_ERROR, // 9000
	}

	trace := Trace{
		{Command: cmd, Response: &resp},
	}

	res, err := NewReadBinaryResult(trace)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	actualLines := strings.Split(res.Describe(), "\n")

	expectedLines := []string{
		"=== READ BINARY COMMAND REPORT ===",
		"[1] Command: READ BINARY",
		"    + Target:  SFI 01 (1)",
		"    + Offset:  0",
		"    + Mode:    Short File Identifier, 8-bit offset",
		"    + Le:      5",
		"    + Result:  [90 00] [OK] SW_NO_ERROR",
		"",
		"[=] DATA OUTCOME:",
		"    + Length: 5 bytes",
		"    + Dump:   48454C4C4F",
		`    + ASCII:  "HELLO"`,
	}

	if diff := cmp.Diff(expectedLines, actualLines); diff != "" {
		t.Errorf("Report mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBinaryResult_Describe_Error(t *testing.T) {
	cmd, _ := ReadBinary(Class{}, 0x0200, 0)

	trace := Trace{
		{Command: cmd, Response: &ResponseAPDU{Status: 0x6982}},
	}

	res, _ := NewReadBinaryResult(trace)
	actualLines := strings.Split(res.Describe(), "\n")

	expectedLines := []string{
		"=== READ BINARY COMMAND REPORT ===",
		"[1] Command: READ BINARY",
		"    + Target:  Current EF",
		"    + Offset:  512",
		"    + Mode:    Current EF, 15-bit offset",
		"    + Le:      256",
		"    + Result:  [69 82] [!!] [6982] SW_ERR_SECURITY_STATUS_NOT_SAT",
		"",
		"[=] DATA OUTCOME:",
		"    - No Data Received.",
	}

	if diff := cmp.Diff(expectedLines, actualLines); diff != "" {
		t.Errorf("Report mismatch (-want +got):\n%s", diff)
	}
}

func TestNewReadBinaryResult_WrongCommand(t *testing.T) {
	trace := Trace{{Command: SelectMF(Class{}), Response: &ResponseAPDU{Status: SW_NO_ERROR}}}
	if _, err := NewReadBinaryResult(trace); err == nil {
		t.Error("expected error for non READ BINARY trace")
	}
}
