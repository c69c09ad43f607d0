package service

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"

	"github.com/gregLibert/smartcard-middleware/pkg/cvc"
	"github.com/gregLibert/smartcard-middleware/pkg/dispatch"
	"github.com/gregLibert/smartcard-middleware/pkg/eac"
	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
)

// DeviceCertificateFID is the EF holding the device certificate followed by
// the certificate of its issuer.
const DeviceCertificateFID uint16 = 0x2F02

// HSMOptions configures the HSM service.
type HSMOptions struct {
	// Anchors are the trusted issuers of device issuer certificates.
	Anchors []*cvc.Certificate
	// Domain supplies the curve when the chain carries none.
	Domain   *cvc.DomainParameters
	EAC      eac.Config
	Observer Observer
}

// HSMService drives a certificate-capable HSM: device certificate
// verification, then Chip Authentication with the certified key.
type HSMService struct {
	client  *iso7816.Client
	session *securechannel.Session
	opts    HSMOptions
	cla     iso7816.Class

	device *cvc.Certificate
	domain *cvc.DomainParameters
}

// NewHSM returns an HSM service over client.
func NewHSM(client *iso7816.Client, session *securechannel.Session, opts HSMOptions) *HSMService {
	cla, _ := iso7816.NewClass(0x00)
	return &HSMService{client: client, session: session, opts: opts, cla: cla}
}

// HSMFactory registers the HSM service with fixed options.
func HSMFactory(opts HSMOptions) Factory {
	return func(client *iso7816.Client, session *securechannel.Session) (Service, error) {
		return NewHSM(client, session, opts), nil
	}
}

// ID implements Service.
func (s *HSMService) ID() string { return dispatch.ServiceHSM }

// Path is the credential path of the HSM application.
func (s *HSMService) Path() string {
	return securechannel.PathFromAID(dispatch.SmartCardHSMAID)
}

func (s *HSMService) selectApplication() error {
	if _, err := s.client.Execute(iso7816.SelectByAID(s.cla, dispatch.SmartCardHSMAID)); err != nil {
		return fmt.Errorf("select HSM application: %w", err)
	}
	return nil
}

// ReadDeviceCertificates selects the application and returns the device
// certificate and its issuer.
func (s *HSMService) ReadDeviceCertificates() (device, issuer *cvc.Certificate, err error) {
	if err := s.selectApplication(); err != nil {
		return nil, nil, err
	}
	if _, err := s.client.Execute(iso7816.SelectEF(s.cla, DeviceCertificateFID)); err != nil {
		return nil, nil, fmt.Errorf("select EF %04X: %w", DeviceCertificateFID, err)
	}
	data, err := iso7816.ReadFile(s.client, s.cla, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("read EF %04X: %w", DeviceCertificateFID, err)
	}

	certs, err := cvc.ParseAll(data)
	if err != nil {
		return nil, nil, err
	}
	if len(certs) != 2 {
		return nil, nil, fmt.Errorf("%w: EF %04X holds %d certificates, expected 2",
			cvc.ErrInvalidCertificateStructure, DeviceCertificateFID, len(certs))
	}
	return certs[0], certs[1], nil
}

// VerifyCertificate reads the device certificates and verifies
// anchor -> issuer -> device.
func (s *HSMService) VerifyCertificate() (*cvc.Certificate, error) {
	device, issuer, err := s.ReadDeviceCertificates()
	if err != nil {
		return nil, err
	}

	anchor := s.anchorFor(issuer.CAR())
	if anchor == nil {
		return nil, fmt.Errorf("%w: %q", ErrUntrustedIssuer, issuer.CAR())
	}
	if err := cvc.VerifyChain(anchor, s.opts.Domain, issuer, device); err != nil {
		return nil, err
	}

	slog.Debug("service: device certificate verified", "chr", device.CHR(), "issuer", issuer.CHR(), "anchor", anchor.CHR())
	s.device = device
	s.domain = effectiveDomain(s.opts.Domain, anchor, issuer, device)
	return device, nil
}

// effectiveDomain returns the curve the leaf key lives on: the last
// explicit parameters of the chain, else fallback.
func effectiveDomain(fallback *cvc.DomainParameters, chain ...*cvc.Certificate) *cvc.DomainParameters {
	domain := fallback
	for _, c := range chain {
		if own, ok := c.DomainParameters(); ok {
			domain = own
		}
	}
	return domain
}

func (s *HSMService) anchorFor(car string) *cvc.Certificate {
	for _, a := range s.opts.Anchors {
		if a.CHR() == car {
			return a
		}
	}
	return nil
}

// Authenticate verifies the device certificate when not done yet, runs
// Chip Authentication with its key and protects the client with the
// resulting credential.
func (s *HSMService) Authenticate() (cred *securechannel.Credential, err error) {
	defer func() { observe(s.opts.Observer, "eac", err) }()

	if s.device == nil {
		if _, err := s.VerifyCertificate(); err != nil {
			return nil, err
		}
	}

	// VerifyChain extracted and cached the key.
	k, err := s.device.PublicKey(nil)
	if err != nil {
		return nil, err
	}
	key, ok := k.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("device key is %s, Chip Authentication needs an EC key", s.device.KeyType())
	}

	// The key lives on the curve of its chain.
	cfg := s.opts.EAC
	if s.domain != nil {
		cfg.Domain = s.domain
	}

	s.client.Wrapper = nil
	if err := s.selectApplication(); err != nil {
		return nil, err
	}
	cred, err = eac.ChipAuthenticate(s.client, key, cfg, s.session, s.Path())
	if err != nil {
		return nil, err
	}
	s.client.Wrapper = eac.NewSecureMessaging(cred)
	return cred, nil
}
