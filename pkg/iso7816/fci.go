package iso7816

import (
	"errors"
	"fmt"

	"github.com/gregLibert/smartcard-middleware/pkg/bits"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// SELECT response templates (ISO 7816-4 §7.4):
//
//	6F  FCI, may wrap 62 and 64 or hold their objects directly
//	62  FCP, file control parameters
//	64  FMD, file management data
//
// Bits 4-3 of P2 choose what the card returns: 00 FCI, 01 FCP, 10 FMD,
// 11 nothing. Data starting with a byte >= C0 is proprietary and kept raw.

// FCPTemplate holds the objects of a '62' template.
type FCPTemplate struct {
	DataSizeExcludingStruct []byte `tlv:"80" fmt:"int"`
	TotalFileSize           []byte `tlv:"81" fmt:"int"`
	FileDescriptor          []byte `tlv:"82"`
	FileIdentifier          []byte `tlv:"83"`
	DFName                  []byte `tlv:"84" fmt:"ascii"`
	ProprietaryInfoRaw      []byte `tlv:"85"`
	SecurityAttrProprietary []byte `tlv:"86"`
	ExtFileControlInfoID    []byte `tlv:"87"`
	ShortEFIdentifier       []byte `tlv:"88"`
	LifeCycleStatus         []byte `tlv:"8A"`
	SecAttrRefExpanded      []byte `tlv:"8B"`
	SecurityAttrCompact     []byte `tlv:"8C"`
	SecEnvTemplateID        []byte `tlv:"8D"`
	ChannelSecurityAttr     []byte `tlv:"8E"`
	SecAttrTemplateData     []byte `tlv:"A0"`
	SecAttrTemplateProp     []byte `tlv:"A1"`
	OneOrMorePairs          []byte `tlv:"A2"`
	ProprietaryDataBER      []byte `tlv:"A5"`
	SecurityAttrExpanded    []byte `tlv:"AB"`
	CryptoMechanismID       []byte `tlv:"AC"`

	Unknown []tlv.Node `tlv:",unknown"`
}

// FMDTemplate holds the objects of a '64' template.
type FMDTemplate struct {
	ApplicationIdentifier []byte `tlv:"84" fmt:"ascii"`
	ApplicationLabel      []byte `tlv:"50" fmt:"ascii"`
	ProprietaryData53     []byte `tlv:"53"`
	ProprietaryData73     []byte `tlv:"73"`

	Unknown []tlv.Node `tlv:",unknown"`
}

// FileControlInfo is the decoded data field of a SELECT response.
type FileControlInfo struct {
	FCP *FCPTemplate
	FMD *FMDTemplate

	// Unknown holds the objects of a flat FCI that neither template
	// recognized.
	Unknown []tlv.Node

	ProprietaryRawData []byte
}

// AID returns the DF name, from the FCP first.
func (fci *FileControlInfo) AID() []byte {
	if name := fci.DFName(); len(name) > 0 {
		return name
	}
	if fci.FMD != nil {
		return fci.FMD.ApplicationIdentifier
	}
	return nil
}

func (fci *FileControlInfo) DFName() []byte {
	if fci.FCP == nil {
		return nil
	}
	return fci.FCP.DFName
}

func (fci *FileControlInfo) ApplicationLabel() []byte {
	if fci.FMD == nil {
		return nil
	}
	return fci.FMD.ApplicationLabel
}

// ProprietaryTemplate returns the content of the 'A5' template.
// GlobalPlatform security domains put their management data (73) there.
func (fci *FileControlInfo) ProprietaryTemplate() []byte {
	if fci.FCP == nil {
		return nil
	}
	return fci.FCP.ProprietaryDataBER
}

var errMissingTemplate = errors.New("mandatory template not found")

// ParseSelectData decodes the data field of a SELECT response sent with
// the given P2. It returns nil when there is nothing to decode.
func ParseSelectData(data []byte, p2 byte) (*FileControlInfo, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] >= 0xC0 {
		return &FileControlInfo{ProprietaryRawData: data}, nil
	}

	nodes, err := tlv.DecodeAll(data)
	if err != nil {
		return nil, fmt.Errorf("BER-TLV decode failed: %w", err)
	}

	fci := &FileControlInfo{FCP: &FCPTemplate{}, FMD: &FMDTemplate{}}

	switch bits.GetRange(p2, 4, 3) {
	case 0b01:
		if !template(nodes, 0x62, fci.FCP) {
			return fci, fmt.Errorf("%w: 62", errMissingTemplate)
		}
	case 0b10:
		if !template(nodes, 0x64, fci.FMD) {
			return fci, fmt.Errorf("%w: 64", errMissingTemplate)
		}
	case 0b00:
		if wrapper, ok := tlv.Find(nodes, 0x6F); ok {
			nodes = wrapper.Children
		}
		hasFCP := template(nodes, 0x62, fci.FCP)
		hasFMD := template(nodes, 0x64, fci.FMD)
		if hasFCP || hasFMD {
			return fci, nil
		}

		// Flat FCI: tag 84 belongs to both templates.
		if err := tlv.UnmarshalNodes(nodes, fci.FCP); err != nil {
			return nil, fmt.Errorf("flat FCP unmarshal failed: %w", err)
		}
		if err := tlv.UnmarshalNodes(nodes, fci.FMD); err != nil {
			return nil, fmt.Errorf("flat FMD unmarshal failed: %w", err)
		}
		fci.Unknown = commonTags(fci.FCP.Unknown, fci.FMD.Unknown)
		fci.FCP.Unknown, fci.FMD.Unknown = nil, nil
	default:
		return nil, nil
	}
	return fci, nil
}

// template unmarshals the children of the first node tagged tag into
// target and reports whether that worked.
func template(nodes []tlv.Node, tag tlv.Tag, target any) bool {
	n, ok := tlv.Find(nodes, tag)
	return ok && tlv.UnmarshalNodes(n.Children, target) == nil
}

func commonTags(a, b []tlv.Node) []tlv.Node {
	seen := make(map[tlv.Tag]bool, len(b))
	for _, n := range b {
		seen[n.Tag] = true
	}
	var out []tlv.Node
	for _, n := range a {
		if seen[n.Tag] {
			out = append(out, n)
		}
	}
	return out
}
