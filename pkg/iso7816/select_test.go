package iso7816

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

func TestNewSelectCommand(t *testing.T) {
	cls, _ := NewClass(0x00)
	channel1, _ := NewClass(0x01)
	channel5, _ := NewInterindustryClass(false, SMNone, 5)

	tests := []struct {
		name     string
		cmd      *CommandAPDU
		expected []byte
	}{
		{
			name: "AID carries no Le",
			cmd:  SelectByAID(cls, []byte("1PAY.SYS.DDF01")),
			expected: tlv.Hex(
				"00 A4 04 00",
				"0E",
				"31 50 41 59 2E 53 59 53 2E 44 44 46 30 31",
			),
		},
		{
			name:     "MF asks for the full FCI",
			cmd:      SelectMF(cls),
			expected: tlv.Hex("00 A4 00 00 00"),
		},
		{
			name:     "MF on logical channel 1",
			cmd:      SelectMF(channel1),
			expected: tlv.Hex("01 A4 00 00 00"),
		},
		{
			name:     "EF.CardAccess",
			cmd:      SelectEF(cls, 0x011C),
			expected: tlv.Hex("00 A4 00 0C 02 011C"),
		},
		{
			name:     "EF.DIR",
			cmd:      SelectEF(cls, 0x2F00),
			expected: tlv.Hex("00 A4 00 0C 02 2F00"),
		},
		{
			name:     "EF on further interindustry channel",
			cmd:      SelectEF(channel5, 0xD001),
			expected: tlv.Hex("41 A4 00 0C 02 D001"),
		},
		{
			name:     "Next occurrence of a partial AID",
			cmd:      NewSelectCommand(cls, SelectByDFName, NextOccurrence, ReturnFCI, tlv.Hex("A000000003")),
			expected: tlv.Hex("00 A4 04 02 05 A000000003"),
		},
		{
			name:     "Path from MF with FCP",
			cmd:      NewSelectCommand(cls, SelectPathFromMF, FirstOrOnlyOccurrence, ReturnFCP, tlv.Hex("3F00 DF01")),
			expected: tlv.Hex("00 A4 08 04 04 3F00DF01"),
		},
		{
			name:     "Parent DF without data",
			cmd:      NewSelectCommand(cls, SelectParentDF, FirstOrOnlyOccurrence, ReturnFMD, nil),
			expected: tlv.Hex("00 A4 03 08 00"),
		},
		{
			name:     "Parent DF without response data",
			cmd:      NewSelectCommand(cls, SelectParentDF, FirstOrOnlyOccurrence, ReturnNoData, nil),
			expected: tlv.Hex("00 A4 03 0C"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Bytes()
			if err != nil {
				t.Fatalf("Bytes failed: %v", err)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectEF_TargetsCurrentDF(t *testing.T) {
	cls, _ := NewClass(0x00)
	cmd := SelectEF(cls, 0x2F02)

	if got := SelectionMethod(cmd.P1); got != SelectByFileID {
		t.Errorf("P1 = %s, want %s", got, SelectByFileID)
	}
	if got := SelectionControl(cmd.P2 &^ byte(PreviousOccurrence)); got != ReturnNoData {
		t.Errorf("P2 control = %s, want %s", got, ReturnNoData)
	}
	if cmd.Ne != 0 {
		t.Errorf("Ne = %d, want 0", cmd.Ne)
	}
}

func TestSelect_Names(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{SelectByDFName.String(), "Select by DF Name (AID)"},
		{SelectionMethod(0x05).String(), "Unknown Method (0x05)"},
		{NextOccurrence.String(), "Next"},
		{FileOccurrence(0x04).String(), "Unknown Occurrence"},
		{ReturnNoData.String(), "No Response Data"},
		{SelectionControl(0x10).String(), "Unknown Control"},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, tt.got); diff != "" {
			t.Errorf("Mismatch (-want +got):\n%s", diff)
		}
	}
}
