package eac

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/gregLibert/smartcard-middleware/pkg/cvc"
	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

// CHIP AUTHENTICATION:
// 1. Generate an ephemeral key pair on the curve of the chip's static key.
// 2. MSE SET AT selects the protocol:      00 22 41 A4 [80 OID] [84 KeyRef]
// 3. GENERAL AUTHENTICATE sends the point: 00 86 00 00 [7C [80 04||X||Y]] 00
// 4. The chip answers                      7C [81 nonce] [82 token]
// 5. ECDH: the shared secret is the x-coordinate of d_eph * PK_chip.
// 6. K_ENC = KDF(secret, nonce, 1), K_MAC = KDF(secret, nonce, 2).
// 7. The token must equal MAC(K_MAC, 7F49 [06 OID] [86 PK_eph]).
// 8. A credential with an all-zero 8-byte SSC is installed in the session.
//
// The run is strictly sequential and nothing is retried. Ephemeral and
// derived key material is wiped on return; the credential keeps its own copy.

const sscSize = 8

type ephemeralKey struct {
	d      *big.Int
	x, y   *big.Int
	public []byte
}

func (k *ephemeralKey) destroy() {
	if k == nil || k.d == nil {
		return
	}
	k.d.SetInt64(0)
}

// ChipAuthenticate runs Chip Authentication against the chip whose static
// public key is cardKey, and installs the resulting credential for path in
// session.
func ChipAuthenticate(card Card, cardKey *ecdsa.PublicKey, cfg Config, session *securechannel.Session, path string) (*securechannel.Credential, error) {
	cfg = cfg.withDefaults()
	if cfg.Domain == nil {
		return nil, errors.New("eac: no domain parameters configured")
	}
	if session == nil {
		return nil, errors.New("eac: no card session")
	}

	protocol, err := cvc.EncodeOID(cfg.Protocol)
	if err != nil {
		return nil, fmt.Errorf("eac: protocol: %w", err)
	}

	curve := cfg.Domain.Curve()
	if cardKey == nil || cardKey.X == nil || cardKey.Y == nil || !curve.IsOnCurve(cardKey.X, cardKey.Y) {
		return nil, &StepError{Step: StepGenerateKey, Cause: ErrInvalidCardKey}
	}

	// 1. Ephemeral key pair
	eph, err := generateEphemeral(cfg.Domain, cfg.Rand)
	if err != nil {
		return nil, &StepError{Step: StepGenerateKey, Cause: err}
	}
	defer eph.destroy()
	slog.Debug("eac: ephemeral key generated", "curve", curve.Params().Name, "public", fmt.Sprintf("%X", eph.public))

	cla, _ := iso7816.NewClass(0x00)

	// 2. MSE SET AT
	mse := iso7816.ManageSecurityEnvironment(cla, iso7816.MSESetAT, iso7816.CRTAuth, setATData(protocol, cfg.KeyReference))
	if _, err := card.Execute(mse); err != nil {
		return nil, &StepError{Step: StepSetAT, Cause: err}
	}
	slog.Debug("eac: protocol selected", "oid", cfg.Protocol.String())

	// 3. GENERAL AUTHENTICATE
	data := tlv.NewConstructed(tagDynamicAuthData, tlv.NewPrimitive(tagEphemeralKey, eph.public)).Bytes()
	resp, err := card.Execute(iso7816.GeneralAuthenticate(cla, data))
	if err != nil {
		return nil, &StepError{Step: StepGeneralAuthenticate, Cause: err}
	}

	// 4. Nonce and token
	nonce, token, err := parseAuthenticationData(resp.Data)
	if err != nil {
		return nil, &StepError{Step: StepParseResponse, Cause: err}
	}
	slog.Debug("eac: dynamic authentication data", "nonce", fmt.Sprintf("%X", nonce), "token", fmt.Sprintf("%X", token))

	// 5. Shared secret
	secret, err := sharedSecret(cfg.Domain, eph.d, cardKey)
	if err != nil {
		return nil, &StepError{Step: StepKeyAgreement, Cause: err}
	}

	// 6. Session keys
	encKey := DeriveKey(secret, nonce, CounterENC)
	macKey := DeriveKey(secret, nonce, CounterMAC)
	wipe(secret)
	defer wipe(encKey)
	defer wipe(macKey)

	// 7. Token
	expected, err := AuthenticationToken(macKey, cfg.Protocol, eph.public)
	if err != nil {
		return nil, &StepError{Step: StepVerifyToken, Cause: err}
	}
	if subtle.ConstantTimeCompare(expected, token) != 1 {
		return nil, &StepError{Step: StepVerifyToken, Cause: ErrAuthenticationTokenMismatch}
	}

	// 8. Credential
	cred := securechannel.NewCredential(session.ID, path, securechannel.LevelMACEnc, encKey, macKey, make([]byte, sscSize))
	if err := session.Install(cred); err != nil {
		cred.Destroy()
		return nil, &StepError{Step: StepInstall, Cause: err}
	}
	slog.Debug("eac: chip authenticated", "path", path, "session", session.ID.String())

	return cred, nil
}

func setATData(protocol, keyRef []byte) []byte {
	nodes := []tlv.Node{tlv.NewPrimitive(tagCRTProtocol, protocol)}
	if len(keyRef) > 0 {
		nodes = append(nodes, tlv.NewPrimitive(tagCRTKeyReference, keyRef))
	}
	return tlv.EncodeAll(nodes)
}

// generateEphemeral draws d uniformly in [1, n-1].
func generateEphemeral(domain *cvc.DomainParameters, r io.Reader) (*ephemeralKey, error) {
	limit := new(big.Int).Sub(domain.N, big.NewInt(1))
	d, err := rand.Int(r, limit)
	if err != nil {
		return nil, err
	}
	d.Add(d, big.NewInt(1))

	x, y := domain.Curve().ScalarBaseMult(d.Bytes())
	return &ephemeralKey{d: d, x: x, y: y, public: domain.EncodePoint(x, y)}, nil
}

func sharedSecret(domain *cvc.DomainParameters, d *big.Int, pub *ecdsa.PublicKey) ([]byte, error) {
	x, y := domain.Curve().ScalarMult(pub.X, pub.Y, d.Bytes())
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil, errors.New("shared point is the point at infinity")
	}
	return x.FillBytes(make([]byte, domain.ByteLen())), nil
}

func parseAuthenticationData(data []byte) (nonce, token []byte, err error) {
	n, err := tlv.Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedAuthenticationData, err)
	}
	if n.Tag != tagDynamicAuthData || len(n.Children) != 2 {
		return nil, nil, fmt.Errorf("%w: expected 7C with two objects", ErrMalformedAuthenticationData)
	}

	nonceNode, tokenNode := n.Children[0], n.Children[1]
	if nonceNode.Tag != tagNonce || tokenNode.Tag != tagToken {
		return nil, nil, fmt.Errorf("%w: found %s %s, expected 81 82", ErrMalformedAuthenticationData, nonceNode.Tag, tokenNode.Tag)
	}
	if len(nonceNode.Value) == 0 {
		return nil, nil, fmt.Errorf("%w: empty nonce", ErrMalformedAuthenticationData)
	}
	if len(tokenNode.Value) != TokenSize {
		return nil, nil, fmt.Errorf("%w: token length %d", ErrMalformedAuthenticationData, len(tokenNode.Value))
	}
	return nonceNode.Value, tokenNode.Value, nil
}
