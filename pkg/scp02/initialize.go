package scp02

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
)

// INITIALIZE UPDATE response (28 bytes):
//
//	key diversification data (10) | key version (1) | SCP identifier (1)
//	sequence counter (2) | card challenge (6) | card cryptogram (8)

const (
	HostChallengeSize = 8

	initializeUpdateResponseSize = 28
)

// InitializeUpdate builds 80 50 kvn idx 08 <host challenge> 00.
func InitializeUpdate(kvn, keyIndex byte, hostChallenge []byte) (*iso7816.CommandAPDU, error) {
	if len(hostChallenge) != HostChallengeSize {
		return nil, errors.Errorf("host challenge must be %d bytes, got %d", HostChallengeSize, len(hostChallenge))
	}
	data := append([]byte(nil), hostChallenge...)
	return gpCommand(INS_INITIALIZE_UPDATE, kvn, keyIndex, data, iso7816.MaxShortLe), nil
}

// InitializeUpdateResponse holds the card's answer to INITIALIZE UPDATE.
type InitializeUpdateResponse struct {
	DiversificationData []byte
	KeyVersion          byte
	SCP                 byte
	SequenceCounter     [2]byte
	CardChallenge       []byte
	CardCryptogram      []byte
}

// ParseInitializeUpdateResponse parses b and checks it announces SCP02.
func ParseInitializeUpdateResponse(b []byte) (*InitializeUpdateResponse, error) {
	if len(b) != initializeUpdateResponseSize {
		return nil, errors.Errorf("INITIALIZE UPDATE response must be %d bytes, got %d", initializeUpdateResponseSize, len(b))
	}

	r := &InitializeUpdateResponse{
		DiversificationData: append([]byte(nil), b[0:10]...),
		KeyVersion:          b[10],
		SCP:                 b[11],
		SequenceCounter:     [2]byte{b[12], b[13]},
		CardChallenge:       append([]byte(nil), b[14:20]...),
		CardCryptogram:      append([]byte(nil), b[20:28]...),
	}
	if r.SCP != 0x02 {
		return nil, errors.Wrapf(ErrUnsupportedProtocolOption, "card answered SCP%02X", r.SCP)
	}
	return r, nil
}

func (r *InitializeUpdateResponse) String() string {
	return fmt.Sprintf("kvn=%02X scp=%02X seq=%X challenge=%X", r.KeyVersion, r.SCP, r.SequenceCounter[:], r.CardChallenge)
}
