package scp02

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// CARD RECOGNITION DATA (GET DATA '66'):
//
//	66 Card Data
//	 └─ 73 Card Recognition Data
//	     ├─ 06    {globalPlatform 1}
//	     ├─ 60    06 {globalPlatform 2 v v v}   card management type and version
//	     ├─ 63    06 {globalPlatform 3}         card identification scheme
//	     ├─ 64    06 {globalPlatform 4 scp i}   secure channel protocol
//	     └─ 65.. (ignored)

const tagCardData uint16 = 0x0066

var (
	oidGlobalPlatform = []byte{0x2A, 0x86, 0x48, 0x86, 0xFC, 0x6B}
	oidGPVersion      = append(append([]byte(nil), oidGlobalPlatform...), 0x02)
	oidSCP            = append(append([]byte(nil), oidGlobalPlatform...), 0x04)
)

// Option is the SCP02 implementation parameter "i".
type Option byte

const (
	OptionThreeKeys         Option = 0x01
	OptionCMACUnmodified    Option = 0x02
	OptionExplicit          Option = 0x04
	OptionICVMACOverAID     Option = 0x08
	OptionICVEncryption     Option = 0x10
	OptionRMAC              Option = 0x20
	OptionWellKnownPseudoRN Option = 0x40
)

// DefaultOption is i = '15'.
const DefaultOption = OptionThreeKeys | OptionExplicit | OptionICVEncryption

func (o Option) has(flag Option) bool { return o&flag == flag }

// Supported reports whether the options can be driven by this package:
// three keys, explicit initiation and a zero ICV, without R-MAC.
func (o Option) Supported() bool {
	return o.has(OptionThreeKeys) && o.has(OptionExplicit) &&
		!o.has(OptionICVMACOverAID) && !o.has(OptionRMAC)
}

func (o Option) String() string {
	return fmt.Sprintf("i=%02X", byte(o))
}

// CardRecognition holds the fields of the card recognition data used to
// negotiate the secure channel.
type CardRecognition struct {
	GPVersion string
	SCP       byte
	Option    Option
}

// ReadCardRecognitionData fetches and parses the card recognition data of
// the selected security domain.
func ReadCardRecognitionData(card Card) (*CardRecognition, error) {
	cla, _ := iso7816.NewClass(claGP)
	resp, err := card.Execute(iso7816.GetData(cla, tagCardData))
	if err != nil {
		return nil, errors.Wrap(err, "GET DATA card recognition data")
	}
	return ParseCardRecognitionData(resp.Data)
}

// ParseCardRecognitionData parses a '66' object, or a bare '73' object as
// returned by some cards.
func ParseCardRecognitionData(b []byte) (*CardRecognition, error) {
	root, err := tlv.Decode(b)
	if err != nil {
		return nil, errors.Wrap(err, "card recognition data")
	}

	crd := root
	if root.Tag == 0x66 {
		var ok bool
		if crd, ok = root.Find(0x73); !ok {
			return nil, errors.New("card recognition data: missing tag 73")
		}
	}
	if crd.Tag != 0x73 {
		return nil, errors.Errorf("card recognition data: unexpected tag %s", crd.Tag)
	}

	out := &CardRecognition{}
	if oid, ok := crd.FindPath(0x60, 0x06); ok && bytes.HasPrefix(oid.Value, oidGPVersion) {
		out.GPVersion = formatVersion(oid.Value[len(oidGPVersion):])
	}

	scp, ok := crd.Find(0x64)
	if !ok {
		return nil, errors.New("card recognition data: missing secure channel protocol (64)")
	}
	var found bool
	for _, n := range scp.Children {
		if n.Tag != 0x06 || !bytes.HasPrefix(n.Value, oidSCP) || len(n.Value) != len(oidSCP)+2 {
			continue
		}
		id, opt := n.Value[len(oidSCP)], n.Value[len(oidSCP)+1]
		if !found || id == 0x02 {
			out.SCP, out.Option = id, Option(opt)
			found = true
		}
	}
	if !found {
		return nil, errors.New("card recognition data: no secure channel protocol identifier")
	}
	return out, nil
}

// CheckProtocol rejects anything but SCP02 with supported options.
func (c *CardRecognition) CheckProtocol() error {
	if c.SCP != 0x02 {
		return errors.Wrapf(ErrUnsupportedProtocolOption, "SCP%02X", c.SCP)
	}
	if !c.Option.Supported() {
		return errors.Wrapf(ErrUnsupportedProtocolOption, "SCP02 %s", c.Option)
	}
	return nil
}

func formatVersion(v []byte) string {
	var buf bytes.Buffer
	for i, b := range v {
		if i > 0 {
			buf.WriteByte('.')
		}
		fmt.Fprintf(&buf, "%d", b)
	}
	return buf.String()
}
