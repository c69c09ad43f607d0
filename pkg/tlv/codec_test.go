package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeEncode_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"Primitive short form", Hex("84 02 1122")},
		{"Primitive empty value", Hex("5F29 00")},
		{"Non-minimal 81 length", Hex("84 81 02 1122")},
		{"Non-minimal 82 length", Hex("84 82 0002 1122")},
		{"Non-minimal 84 length", Hex("84 84 00000002 1122")},
		{"Constructed with non-minimal child", Hex("A5 05 84 81 02 1122")},
		{"Multi-byte tags", Hex("7F21 08 7F4E 00 5F37 02 0102")},
		{"Three byte tag", Hex("9F8101 01 AA")},
		{"Long value", append(Hex("53 81 C8"), make([]byte, 200)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Decode(tt.input)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got := Encode(n); !bytes.Equal(got, tt.input) {
				t.Errorf("Round trip mismatch\nwant: %X\ngot:  %X", tt.input, got)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"Empty input", nil},
		{"Declared length beyond buffer", Hex("84 05 1122")},
		{"Indefinite length", Hex("A5 80 0000")},
		{"Reserved FF length", Hex("84 FF 00")},
		{"Five length bytes", Hex("84 85 0000000001 00")},
		{"Truncated long length", Hex("84 82 00")},
		{"Missing length", Hex("84")},
		{"Truncated tag", Hex("5F")},
		{"Tag with leading zero bits", Hex("5F 80 01 01 00")},
		{"Tag longer than four bytes", Hex("5F 81 81 81 01 00")},
		{"Child overruns parent", Hex("A5 03 84 02 11")},
		{"Children do not fill parent", Hex("A5 04 84 01 11 22")},
		{"Trailing bytes", Hex("84 01 11 FF")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrMalformedEncoding) {
				t.Errorf("error %v is not ErrMalformedEncoding", err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Errorf("error %v is not a *DecodeError", err)
			}
		})
	}
}

func TestDecodeError_Offset(t *testing.T) {
	// The child at offset 2 declares 2 bytes but only 1 is left.
	_, err := Decode(Hex("A5 03 84 02 11"))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Offset != 3 {
		t.Errorf("Offset = %d, want 3", de.Offset)
	}
}

func TestDecodeAll(t *testing.T) {
	nodes, err := DecodeAll(Hex("84 02 1122 50 03 414243"))
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}

	want := []Tag{0x84, 0x50}
	var got []Tag
	for _, n := range nodes {
		got = append(got, n.Tag)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Mismatch (-want +got):\n%s", diff)
	}

	if _, err := DecodeAll(Hex("84 02 1122 50")); !errors.Is(err, ErrMalformedEncoding) {
		t.Errorf("expected malformed error for truncated second object, got %v", err)
	}
}

func TestEncode_MinimalLength(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		wantHeader []byte
	}{
		{"Short form upper bound", 0x7F, Hex("84 7F")},
		{"One length byte", 0x80, Hex("84 81 80")},
		{"One length byte upper bound", 0xFF, Hex("84 81 FF")},
		{"Two length bytes", 300, Hex("84 82 012C")},
		{"Three length bytes", 0x10000, Hex("84 83 010000")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(NewPrimitive(0x84, make([]byte, tt.size)))
			if !bytes.Equal(got[:len(tt.wantHeader)], tt.wantHeader) {
				t.Errorf("header = %X, want %X", got[:len(tt.wantHeader)], tt.wantHeader)
			}
			if len(got) != len(tt.wantHeader)+tt.size {
				t.Errorf("encoded length = %d, want %d", len(got), len(tt.wantHeader)+tt.size)
			}
		})
	}
}

func TestEncode_ModifiedNodeUsesMinimalLength(t *testing.T) {
	n, err := Decode(Hex("84 81 02 1122"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	n.Value = Hex("112233")

	if got, want := Encode(n), Hex("84 03 112233"); !bytes.Equal(got, want) {
		t.Errorf("Encode() = %X, want %X", got, want)
	}
}

func TestEncode_Constructed(t *testing.T) {
	n := NewConstructed(0x7F49,
		NewPrimitive(0x06, Hex("04007F00070202020203")),
		NewPrimitive(0x86, Hex("04AABB")),
	)

	want := Hex("7F49 11 06 0A 04007F00070202020203 86 03 04AABB")
	if got := Encode(n); !bytes.Equal(got, want) {
		t.Errorf("Encode() = %X, want %X", got, want)
	}
}

func TestTag_Properties(t *testing.T) {
	tests := []struct {
		tag         Tag
		class       Class
		constructed bool
		number      uint32
		str         string
	}{
		{0x84, ClassContext, false, 4, "84"},
		{0x06, ClassUniversal, false, 6, "06"},
		{0xA5, ClassContext, true, 5, "A5"},
		{0x7F21, ClassApplication, true, 0x21, "7F21"},
		{0x5F37, ClassApplication, false, 0x37, "5F37"},
		{0xDF8101, ClassPrivate, false, 0x81, "DF8101"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if got := tt.tag.Class(); got != tt.class {
				t.Errorf("Class() = %v, want %v", got, tt.class)
			}
			if got := tt.tag.Constructed(); got != tt.constructed {
				t.Errorf("Constructed() = %v, want %v", got, tt.constructed)
			}
			if got := tt.tag.Number(); got != tt.number {
				t.Errorf("Number() = %X, want %X", got, tt.number)
			}
			if got := tt.tag.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
		})
	}
}

func TestFindPath(t *testing.T) {
	data := Hex("66 09 73 07 64 05 06 03 2A8648")
	nodes, err := DecodeAll(data)
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}

	oid, ok := FindPath(nodes, 0x66, 0x73, 0x64, 0x06)
	if !ok {
		t.Fatal("path 66/73/64/06 not found")
	}
	if !bytes.Equal(oid.Value, Hex("2A8648")) {
		t.Errorf("OID = %X", oid.Value)
	}

	if _, ok := FindPath(nodes, 0x66, 0x64); ok {
		t.Error("FindPath should not skip levels")
	}
	if _, ok := nodes[0].Find(0x64); ok {
		t.Error("Find should only look at direct children")
	}
}
