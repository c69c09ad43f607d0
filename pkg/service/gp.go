package service

import (
	"fmt"

	"github.com/gregLibert/smartcard-middleware/pkg/dispatch"
	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/scp02"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
)

// GPOptions configures the GlobalPlatform service.
type GPOptions struct {
	Keys scp02.SessionKeyProvider
	// SecurityDomain defaults to the Issuer Security Domain.
	SecurityDomain []byte
	SCP02          scp02.Config
	Observer       Observer
}

// GPService manages card content through an SCP02 channel with a security
// domain.
type GPService struct {
	client  *iso7816.Client
	session *securechannel.Session
	opts    GPOptions

	channel *scp02.Channel
}

// NewGP returns a GlobalPlatform service over client.
func NewGP(client *iso7816.Client, session *securechannel.Session, opts GPOptions) *GPService {
	if len(opts.SecurityDomain) == 0 {
		opts.SecurityDomain = dispatch.ISDAID
	}
	return &GPService{client: client, session: session, opts: opts}
}

// GPFactory registers the GlobalPlatform service with fixed options.
func GPFactory(opts GPOptions) Factory {
	return func(client *iso7816.Client, session *securechannel.Session) (Service, error) {
		if opts.Keys == nil {
			return nil, fmt.Errorf("no SCP02 keys configured")
		}
		return NewGP(client, session, opts), nil
	}
}

// ID implements Service.
func (s *GPService) ID() string { return dispatch.ServiceGP }

// Channel returns the open secure channel, or nil.
func (s *GPService) Channel() *scp02.Channel { return s.channel }

// Authenticate selects the security domain and opens the secure channel.
func (s *GPService) Authenticate() (cred *securechannel.Credential, err error) {
	defer func() { observe(s.opts.Observer, "scp02", err) }()

	s.client.Wrapper = nil
	s.channel = nil

	cla, _ := iso7816.NewClass(0x00)
	if _, err := s.client.Execute(iso7816.SelectByAID(cla, s.opts.SecurityDomain)); err != nil {
		return nil, fmt.Errorf("select security domain %X: %w", s.opts.SecurityDomain, err)
	}

	channel, err := scp02.Open(s.client, s.opts.Keys, s.opts.SCP02, s.session, securechannel.PathFromAID(s.opts.SecurityDomain))
	if err != nil {
		return nil, err
	}
	s.channel = channel
	return channel.Credential(), nil
}

func (s *GPService) execute(cmd *iso7816.CommandAPDU, buildErr error) error {
	if buildErr != nil {
		return buildErr
	}
	if s.channel == nil {
		return ErrNotAuthenticated
	}
	_, err := s.client.Execute(cmd)
	return err
}

// Delete removes the object aid, with its related objects when related is
// set.
func (s *GPService) Delete(aid []byte, related bool) error {
	cmd, err := scp02.Delete(aid, related)
	if err := s.execute(cmd, err); err != nil {
		return fmt.Errorf("delete %X: %w", aid, err)
	}
	return nil
}

// LoadPackage runs INSTALL [for load], then LOADs loadFile wrapped in its
// Load File Data Block ('C4'). It returns the number of blocks sent.
func (s *GPService) LoadPackage(loadFileAID, loadFile []byte) (int, error) {
	cmd, err := scp02.InstallForLoad(loadFileAID, s.opts.SecurityDomain)
	if err := s.execute(cmd, err); err != nil {
		return 0, fmt.Errorf("install for load %X: %w", loadFileAID, err)
	}
	return scp02.Load(s.client, scp02.LoadFileDataBlock(loadFile))
}

// Install creates an application instance.
func (s *GPService) Install(req scp02.InstallRequest) error {
	cmd, err := scp02.InstallForInstall(req)
	if err := s.execute(cmd, err); err != nil {
		return fmt.Errorf("install %X: %w", req.ApplicationAID, err)
	}
	return nil
}
