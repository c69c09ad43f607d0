package scp02

import (
	"crypto/rand"
	"crypto/subtle"
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
)

// Config parameterizes the opening of a secure channel.
type Config struct {
	// KeyVersion and KeyIndex are P1 and P2 of INITIALIZE UPDATE. Zero
	// selects the first available key set.
	KeyVersion byte
	KeyIndex   byte

	// Level is the security level requested in EXTERNAL AUTHENTICATE.
	Level securechannel.Level

	// Option is used when recognition data is not read.
	Option          Option
	SkipRecognition bool

	// SkipCardCryptogram disables the verification of the card cryptogram.
	SkipCardCryptogram bool

	// HostChallenge is generated from Rand when empty.
	HostChallenge []byte
	Rand          io.Reader
}

// DefaultConfig requests C-MAC and C-ENC with the default key set.
func DefaultConfig() Config {
	return Config{
		Level:  securechannel.LevelMACEnc,
		Option: DefaultOption,
	}
}

// Open runs the explicit SCP02 initiation on the security domain currently
// selected through client. On success the returned Channel is installed as
// the client's Wrapper and its credential is installed in session under
// path. On failure the client is left without a Wrapper.
func Open(client *iso7816.Client, keys SessionKeyProvider, cfg Config, session *securechannel.Session, path string) (*Channel, error) {
	if !cfg.Level.Valid() {
		return nil, errors.Wrapf(ErrUnsupportedSecurityLevel, "%s", cfg.Level)
	}
	if session == nil {
		return nil, errors.New("scp02: no card session")
	}
	client.Wrapper = nil

	option := cfg.Option
	if cfg.SkipRecognition {
		if option == 0 {
			option = DefaultOption
		}
		if !option.Supported() {
			return nil, errors.Wrapf(ErrUnsupportedProtocolOption, "SCP02 %s", option)
		}
	} else {
		crd, err := ReadCardRecognitionData(client)
		if err != nil {
			return nil, errors.Wrap(err, "scp02: card recognition")
		}
		if err := crd.CheckProtocol(); err != nil {
			return nil, err
		}
		option = crd.Option
	}

	hostChallenge, err := challenge(cfg)
	if err != nil {
		return nil, err
	}

	initUpdate, err := InitializeUpdate(cfg.KeyVersion, cfg.KeyIndex, hostChallenge)
	if err != nil {
		return nil, err
	}
	resp, err := client.Execute(initUpdate)
	if err != nil {
		return nil, errors.Wrap(err, "scp02: INITIALIZE UPDATE")
	}
	iu, err := ParseInitializeUpdateResponse(resp.Data)
	if err != nil {
		return nil, errors.Wrap(err, "scp02: INITIALIZE UPDATE")
	}
	slog.Debug("scp02: keys negotiated", "path", path, "card", iu.String(), "option", option.String())

	sessionKeys, err := DeriveSessionKeys(keys, iu.KeyVersion, iu.SequenceCounter)
	if err != nil {
		return nil, errors.Wrap(err, "scp02: session keys")
	}
	defer sessionKeys.wipe()

	if !cfg.SkipCardCryptogram {
		expected, err := CardCryptogram(sessionKeys.ENC, hostChallenge, iu.SequenceCounter, iu.CardChallenge)
		if err != nil {
			return nil, err
		}
		if subtle.ConstantTimeCompare(expected, iu.CardCryptogram) != 1 {
			return nil, errors.Wrapf(ErrCardCryptogramMismatch, "sequence counter %X", iu.SequenceCounter[:])
		}
	}

	hostCryptogram, err := HostCryptogram(sessionKeys.ENC, hostChallenge, iu.SequenceCounter, iu.CardChallenge)
	if err != nil {
		return nil, err
	}

	cred := securechannel.NewCredential(session.ID, path, cfg.Level, sessionKeys.ENC, sessionKeys.CMAC, iu.SequenceCounter[:])
	channel := newChannel(cred, option, sessionKeys.DEK)

	extAuth, err := channel.wrap(gpCommand(INS_EXTERNAL_AUTHENTICATE, byte(cfg.Level), 0x00, hostCryptogram, 0), securechannel.LevelMAC)
	if err != nil {
		channel.Close()
		return nil, err
	}
	if _, err := client.Execute(extAuth); err != nil {
		channel.Close()
		return nil, errors.Wrap(err, "scp02: EXTERNAL AUTHENTICATE")
	}

	if err := session.Install(cred); err != nil {
		channel.Close()
		return nil, errors.Wrap(err, "scp02: install credential")
	}

	channel.mu.Lock()
	channel.level = cfg.Level
	channel.mu.Unlock()
	client.Wrapper = channel

	slog.Debug("scp02: channel open", "path", path, "level", cfg.Level.String(), "session", session.ID.String())
	return channel, nil
}

func challenge(cfg Config) ([]byte, error) {
	if len(cfg.HostChallenge) > 0 {
		if len(cfg.HostChallenge) != HostChallengeSize {
			return nil, errors.Errorf("scp02: host challenge must be %d bytes, got %d", HostChallengeSize, len(cfg.HostChallenge))
		}
		return append([]byte(nil), cfg.HostChallenge...), nil
	}

	r := cfg.Rand
	if r == nil {
		r = rand.Reader
	}
	hc := make([]byte, HostChallengeSize)
	if _, err := io.ReadFull(r, hc); err != nil {
		return nil, errors.Wrap(err, "scp02: host challenge")
	}
	return hc, nil
}
