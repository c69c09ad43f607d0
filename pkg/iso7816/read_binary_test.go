package iso7816

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

func TestReadBinaryCommands(t *testing.T) {
	cls, _ := NewClass(0x00)

	offsetCmd, err := ReadBinary(cls, 0x0102, 0)
	if err != nil {
		t.Fatalf("ReadBinary failed: %v", err)
	}
	sfiCmd, err := ReadBinarySFI(cls, 0x02, 0x10, 0x20)
	if err != nil {
		t.Fatalf("ReadBinarySFI failed: %v", err)
	}

	tests := []struct {
		name     string
		cmd      *CommandAPDU
		expected []byte
	}{
		{
			name: "Offset in current EF, default Le",
			cmd:  offsetCmd,
			expected: tlv.Hex(
				"00 B0 01 02", // Header: offset 0x0102
				"00",          // Le=256
			),
		},
		{
			name: "Short File Identifier",
			cmd:  sfiCmd,
			expected: tlv.Hex(
				"00 B0 82 10", // P1: 1000 0010 (SFI 2), P2: offset 16
				"20",
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Bytes()
			if err != nil {
				t.Fatalf("Failed to encode bytes: %v", err)
			}

			if !bytes.Equal(got, tt.expected) {
				t.Errorf("Mismatch:\nExpected: %s\nGot:      %s",
					hex.EncodeToString(tt.expected),
					hex.EncodeToString(got))
			}
		})
	}

	if _, err := ReadBinary(cls, 0x8000, 0); err == nil {
		t.Error("expected error for 16-bit offset")
	}
	if _, err := ReadBinarySFI(cls, 31, 0, 0); err == nil {
		t.Error("expected error for SFI 31")
	}
}

func TestReadFile(t *testing.T) {
	cls, _ := NewClass(0x00)
	content := make([]byte, 300)
	for i := range content {
		content[i] = byte(i)
	}

	t.Run("Short last chunk", func(t *testing.T) {
		card := &scriptedCard{responses: [][]byte{
			append(append([]byte(nil), content[:256]...), 0x90, 0x00),
			append(append([]byte(nil), content[256:]...), 0x90, 0x00),
		}}

		got, err := ReadFile(NewClient(card), cls, 0)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("content mismatch: got %d bytes", len(got))
		}
		if diff := cmp.Diff([]string{"00B0000000", "00B0010000"}, hexList(card.received)); diff != "" {
			t.Errorf("Commands mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("File ends on a chunk boundary", func(t *testing.T) {
		card := &scriptedCard{responses: [][]byte{
			append(append([]byte(nil), content[:256]...), 0x90, 0x00),
			tlv.Hex("6B00"),
		}}

		got, err := ReadFile(NewClient(card), cls, 0)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if len(got) != 256 {
			t.Errorf("got %d bytes, want 256", len(got))
		}
	})

	t.Run("End of file warning", func(t *testing.T) {
		card := &scriptedCard{responses: [][]byte{tlv.Hex("0102 6282")}}

		got, err := ReadFile(NewClient(card), cls, 0)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if !bytes.Equal(got, tlv.Hex("0102")) {
			t.Errorf("got %X", got)
		}
	})

	t.Run("Security status not satisfied", func(t *testing.T) {
		card := &scriptedCard{responses: [][]byte{tlv.Hex("6982")}}

		_, err := ReadFile(NewClient(card), cls, 0)
		if !errors.Is(err, NewStatusError(nil, SW_ERR_SECURITY_STATUS_NOT_SAT)) {
			t.Errorf("expected 6982 status error, got %v", err)
		}
	})
}
