package scp02

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// CARD CONTENT MANAGEMENT:
// INSTALL [for load] | LOAD * n | INSTALL [for install and make selectable]
// DELETE removes an instance or a load file, with P2 '80' also its related
// objects.

const (
	// LoadBlockSize is the number of bytes of the Load File Data Block sent
	// per LOAD command.
	LoadBlockSize = 230

	tagLoadFileDataBlock tlv.Tag = 0xC4
	tagAID               tlv.Tag = 0x4F
	tagInstallParameters tlv.Tag = 0xC9

	installForLoad       byte = 0x02
	installForInstall    byte = 0x04
	installAndSelectable byte = 0x0C

	deleteObject  byte = 0x00
	deleteRelated byte = 0x80

	loadMoreBlocks byte = 0x00
	loadLastBlock  byte = 0x80
)

var errAIDLength = errors.New("AID must be 5 to 16 bytes")

func checkAID(aid []byte) error {
	if len(aid) < 5 || len(aid) > 16 {
		return errors.Wrapf(errAIDLength, "got %d", len(aid))
	}
	return nil
}

// lv concatenates length-prefixed fields.
func lv(fields ...[]byte) ([]byte, error) {
	var out []byte
	for _, f := range fields {
		if len(f) > 0xFF {
			return nil, errors.Errorf("field of %d bytes", len(f))
		}
		out = append(out, byte(len(f)))
		out = append(out, f...)
	}
	return out, nil
}

// Delete builds DELETE for the object identified by aid.
func Delete(aid []byte, related bool) (*iso7816.CommandAPDU, error) {
	if err := checkAID(aid); err != nil {
		return nil, err
	}
	p2 := deleteObject
	if related {
		p2 = deleteRelated
	}
	data := tlv.NewPrimitive(tagAID, aid).Bytes()
	return gpCommand(INS_DELETE, 0x00, p2, data, iso7816.MaxShortLe), nil
}

// InstallForLoad builds INSTALL [for load] of loadFileAID under the security
// domain sdAID. An empty sdAID lets the card pick the current one.
func InstallForLoad(loadFileAID, sdAID []byte) (*iso7816.CommandAPDU, error) {
	if err := checkAID(loadFileAID); err != nil {
		return nil, errors.Wrap(err, "load file")
	}
	if len(sdAID) > 0 {
		if err := checkAID(sdAID); err != nil {
			return nil, errors.Wrap(err, "security domain")
		}
	}

	// hash, load parameters and token are empty
	data, err := lv(loadFileAID, sdAID, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return gpCommand(INS_INSTALL, installForLoad, 0x00, data, iso7816.MaxShortLe), nil
}

// InstallRequest describes an application instance to create.
type InstallRequest struct {
	LoadFileAID    []byte
	ModuleAID      []byte
	ApplicationAID []byte
	Privileges     []byte
	// Parameters are the application specific parameters, sent as 'C9'.
	Parameters []byte
	Token      []byte
	Selectable bool
}

// InstallForInstall builds INSTALL [for install], and [for make selectable]
// when r.Selectable is set.
func InstallForInstall(r InstallRequest) (*iso7816.CommandAPDU, error) {
	if err := checkAID(r.LoadFileAID); err != nil {
		return nil, errors.Wrap(err, "load file")
	}
	if err := checkAID(r.ModuleAID); err != nil {
		return nil, errors.Wrap(err, "module")
	}
	if err := checkAID(r.ApplicationAID); err != nil {
		return nil, errors.Wrap(err, "application")
	}

	privileges := r.Privileges
	if len(privileges) == 0 {
		privileges = []byte{0x00}
	}
	params := tlv.NewPrimitive(tagInstallParameters, r.Parameters).Bytes()

	data, err := lv(r.LoadFileAID, r.ModuleAID, r.ApplicationAID, privileges, params, r.Token)
	if err != nil {
		return nil, err
	}

	p1 := installForInstall
	if r.Selectable {
		p1 = installAndSelectable
	}
	return gpCommand(INS_INSTALL, p1, 0x00, data, iso7816.MaxShortLe), nil
}

// LoadFileDataBlock wraps a load file in tag 'C4'.
func LoadFileDataBlock(loadFile []byte) []byte {
	return tlv.NewPrimitive(tagLoadFileDataBlock, loadFile).Bytes()
}

// LoadCommands splits blob into LOAD commands of LoadBlockSize bytes,
// numbered from 0, the last one flagged with P1 '80'. blob is sent as given;
// callers that need a Load File Data Block wrap it with LoadFileDataBlock.
func LoadCommands(blob []byte) ([]*iso7816.CommandAPDU, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty load file")
	}
	n := (len(blob) + LoadBlockSize - 1) / LoadBlockSize
	if n > 0x100 {
		return nil, errors.Errorf("load file of %d bytes needs %d blocks, at most 256", len(blob), n)
	}

	cmds := make([]*iso7816.CommandAPDU, 0, n)
	for i := 0; i < n; i++ {
		end := min((i+1)*LoadBlockSize, len(blob))
		p1 := loadMoreBlocks
		if i == n-1 {
			p1 = loadLastBlock
		}
		chunk := append([]byte(nil), blob[i*LoadBlockSize:end]...)
		cmds = append(cmds, gpCommand(INS_LOAD, p1, byte(i), chunk, iso7816.MaxShortLe))
	}
	return cmds, nil
}

// Load sends blob with LOAD commands through card and returns the number of
// blocks the card accepted. It stops at the first failure.
func Load(card Card, blob []byte) (int, error) {
	cmds, err := LoadCommands(blob)
	if err != nil {
		return 0, err
	}
	for i, cmd := range cmds {
		if _, err := card.Execute(cmd); err != nil {
			return i, errors.Wrapf(err, "LOAD block %d of %d", i, len(cmds))
		}
	}
	slog.Debug("scp02: load file sent", "bytes", len(blob), "blocks", len(cmds))
	return len(cmds), nil
}
