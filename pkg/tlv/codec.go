package tlv

import (
	"bytes"
	"errors"
	"fmt"
)

// BER-TLV ENCODING (ISO/IEC 8825-1, profile used by ISO/IEC 7816-4):
//
// TAG FIELD:
//   - Bits 8-7 of the first byte: Class (Universal, Application, Context, Private).
//   - Bit 6: Constructed (1) or Primitive (0).
//   - Bits 5-1 = '11111': the tag number continues on the following bytes,
//     bit 8 of each subsequent byte set means "more bytes follow".
//
// LENGTH FIELD:
//   - '00'-'7F': short form, the byte is the length.
//   - '81'-'84': long form, the next 1 to 4 bytes carry the length.
//   - '80' (indefinite) and '85'-'FF' are rejected.
//
// Decoded nodes remember their original length bytes so that re-encoding
// reproduces the input exactly, even for valid non-minimal long forms
// (e.g. '81 05'). Nodes built in code always use the minimal form.

// ErrMalformedEncoding is returned for any input that is not well-formed BER-TLV.
var ErrMalformedEncoding = errors.New("tlv: malformed encoding")

// DecodeError locates a decoding failure in the input buffer.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tlv: malformed encoding at offset %d: %s", e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrMalformedEncoding
}

// Class is the tag class encoded in bits 8-7 of the first tag byte.
type Class byte

const (
	ClassUniversal   Class = 0
	ClassApplication Class = 1
	ClassContext     Class = 2
	ClassPrivate     Class = 3
)

func (c Class) String() string {
	switch c {
	case ClassUniversal:
		return "Universal"
	case ClassApplication:
		return "Application"
	case ClassContext:
		return "Context"
	default:
		return "Private"
	}
}

// Tag holds the raw identifier bytes packed big-endian (e.g. 0x7F21).
type Tag uint32

const maxTagBytes = 4

// Bytes returns the identifier octets of the tag.
func (t Tag) Bytes() []byte {
	if t <= 0xFF {
		return []byte{byte(t)}
	}
	var out []byte
	for v := uint32(t); v > 0; v >>= 8 {
		out = append([]byte{byte(v)}, out...)
	}
	return out
}

func (t Tag) first() byte {
	return t.Bytes()[0]
}

// Class returns the tag class.
func (t Tag) Class() Class {
	return Class(t.first() >> 6)
}

// Constructed reports whether the tag announces a constructed value.
func (t Tag) Constructed() bool {
	return t.first()&0x20 != 0
}

// Number returns the tag number without class and constructed bits.
func (t Tag) Number() uint32 {
	b := t.Bytes()
	if b[0]&0x1F != 0x1F {
		return uint32(b[0] & 0x1F)
	}
	var n uint32
	for _, x := range b[1:] {
		n = n<<7 | uint32(x&0x7F)
	}
	return n
}

func (t Tag) String() string {
	return fmt.Sprintf("%X", t.Bytes())
}

// ParseTag reads the identifier octets at the start of b.
// It returns the tag and the number of bytes consumed.
func ParseTag(b []byte) (Tag, int, error) {
	if len(b) == 0 {
		return 0, 0, &DecodeError{Offset: 0, Reason: "missing tag"}
	}

	t := uint32(b[0])
	if b[0]&0x1F != 0x1F {
		return Tag(t), 1, nil
	}

	i := 1
	for {
		if i >= len(b) {
			return 0, 0, &DecodeError{Offset: i, Reason: "truncated tag"}
		}
		if i == 1 && b[i] == 0x80 {
			return 0, 0, &DecodeError{Offset: i, Reason: "tag number has leading zero bits"}
		}
		if i >= maxTagBytes {
			return 0, 0, &DecodeError{Offset: i, Reason: "tag longer than 4 bytes"}
		}
		t = t<<8 | uint32(b[i])
		more := b[i]&0x80 != 0
		i++
		if !more {
			return Tag(t), i, nil
		}
	}
}

// Node is a decoded or constructed BER-TLV data object.
// Primitive nodes carry Value; constructed nodes carry Children.
type Node struct {
	Tag      Tag
	Value    []byte
	Children []Node

	// lengthField keeps the length octets seen on the wire.
	lengthField []byte
}

// NewPrimitive builds a primitive node.
func NewPrimitive(tag Tag, value []byte) Node {
	return Node{Tag: tag, Value: value}
}

// NewConstructed builds a constructed node from its children.
func NewConstructed(tag Tag, children ...Node) Node {
	return Node{Tag: tag, Children: children}
}

// Constructed reports whether the node holds children.
func (n Node) Constructed() bool {
	return n.Tag.Constructed()
}

// Content returns the value field. For constructed nodes it is the
// concatenated encoding of the children.
func (n Node) Content() []byte {
	if !n.Constructed() {
		return n.Value
	}
	return EncodeAll(n.Children)
}

// Len returns the length of the value field.
func (n Node) Len() int {
	return len(n.Content())
}

// Find returns the first direct child carrying tag.
func (n Node) Find(tag Tag) (Node, bool) {
	return Find(n.Children, tag)
}

// FindPath walks the given tags from the node's children downwards.
func (n Node) FindPath(tags ...Tag) (Node, bool) {
	cur := n
	for _, t := range tags {
		next, ok := cur.Find(t)
		if !ok {
			return Node{}, false
		}
		cur = next
	}
	return cur, true
}

// Find returns the first node of the list carrying tag. It does not recurse.
func Find(nodes []Node, tag Tag) (Node, bool) {
	for _, n := range nodes {
		if n.Tag == tag {
			return n, true
		}
	}
	return Node{}, false
}

// FindPath resolves an explicit tag path starting at the top-level list.
func FindPath(nodes []Node, tags ...Tag) (Node, bool) {
	if len(tags) == 0 {
		return Node{}, false
	}
	first, ok := Find(nodes, tags[0])
	if !ok {
		return Node{}, false
	}
	return first.FindPath(tags[1:]...)
}

// Decode parses exactly one data object. Trailing bytes are an error.
func Decode(b []byte) (Node, error) {
	n, used, err := decodeOne(b, 0)
	if err != nil {
		return Node{}, err
	}
	if used != len(b) {
		return Node{}, &DecodeError{Offset: used, Reason: fmt.Sprintf("%d trailing bytes", len(b)-used)}
	}
	return n, nil
}

// DecodeAll parses a concatenation of data objects filling b entirely.
func DecodeAll(b []byte) ([]Node, error) {
	return decodeList(b, 0)
}

func decodeList(b []byte, base int) ([]Node, error) {
	var nodes []Node
	for off := 0; off < len(b); {
		n, used, err := decodeOne(b[off:], base+off)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
		off += used
	}
	return nodes, nil
}

func decodeOne(b []byte, base int) (Node, int, error) {
	tag, tagLen, err := ParseTag(b)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Offset += base
		}
		return Node{}, 0, err
	}

	length, lenLen, err := parseLength(b[tagLen:], base+tagLen)
	if err != nil {
		return Node{}, 0, err
	}

	start := tagLen + lenLen
	if length > len(b)-start {
		return Node{}, 0, &DecodeError{
			Offset: base + tagLen,
			Reason: fmt.Sprintf("declared length %d exceeds remaining %d bytes", length, len(b)-start),
		}
	}

	content := b[start : start+length]
	n := Node{
		Tag:         tag,
		lengthField: append([]byte(nil), b[tagLen:start]...),
	}

	if tag.Constructed() {
		children, err := decodeList(content, base+start)
		if err != nil {
			return Node{}, 0, err
		}
		n.Children = children
	} else {
		n.Value = append([]byte(nil), content...)
	}

	return n, start + length, nil
}

func parseLength(b []byte, offset int) (int, int, error) {
	if len(b) == 0 {
		return 0, 0, &DecodeError{Offset: offset, Reason: "missing length"}
	}

	first := b[0]
	if first < 0x80 {
		return int(first), 1, nil
	}
	if first == 0x80 {
		return 0, 0, &DecodeError{Offset: offset, Reason: "indefinite length is not allowed"}
	}

	count := int(first & 0x7F)
	if count > 4 {
		return 0, 0, &DecodeError{Offset: offset, Reason: fmt.Sprintf("reserved length form %02X", first)}
	}
	if len(b) < 1+count {
		return 0, 0, &DecodeError{Offset: offset, Reason: "truncated length"}
	}

	var length uint64
	for _, x := range b[1 : 1+count] {
		length = length<<8 | uint64(x)
	}
	if length > uint64(^uint(0)>>1) {
		return 0, 0, &DecodeError{Offset: offset, Reason: "length overflows int"}
	}
	return int(length), 1 + count, nil
}

// EncodeLength returns the minimal length octets for n.
func EncodeLength(n int) []byte {
	switch {
	case n < 0x80:
		return []byte{byte(n)}
	case n <= 0xFF:
		return []byte{0x81, byte(n)}
	case n <= 0xFFFF:
		return []byte{0x82, byte(n >> 8), byte(n)}
	case n <= 0xFFFFFF:
		return []byte{0x83, byte(n >> 16), byte(n >> 8), byte(n)}
	default:
		return []byte{0x84, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

// Encode serializes the node.
func Encode(n Node) []byte {
	var buf bytes.Buffer
	n.writeTo(&buf)
	return buf.Bytes()
}

// EncodeAll serializes nodes back to back.
func EncodeAll(nodes []Node) []byte {
	var buf bytes.Buffer
	for _, n := range nodes {
		n.writeTo(&buf)
	}
	return buf.Bytes()
}

// Bytes is a shorthand for Encode(n).
func (n Node) Bytes() []byte {
	return Encode(n)
}

func (n Node) writeTo(buf *bytes.Buffer) {
	content := n.Content()
	buf.Write(n.Tag.Bytes())
	buf.Write(n.lengthOctets(len(content)))
	buf.Write(content)
}

// lengthOctets reuses the decoded length field when it still matches.
func (n Node) lengthOctets(length int) []byte {
	if len(n.lengthField) > 0 {
		if got, _, err := parseLength(n.lengthField, 0); err == nil && got == length {
			return n.lengthField
		}
	}
	return EncodeLength(length)
}
