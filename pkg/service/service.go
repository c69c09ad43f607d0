// Package service binds the card types recognized by dispatch to the
// protocols able to drive them.
//
// A service exposes capabilities instead of a common base type: the HSM
// service is both a Verifier and an Authenticator, the GlobalPlatform
// service is an Authenticator with card content management on top.
package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gregLibert/smartcard-middleware/pkg/cvc"
	"github.com/gregLibert/smartcard-middleware/pkg/dispatch"
	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
)

var (
	// ErrNoService is returned when none of a profile's services is
	// registered.
	ErrNoService = errors.New("service: no registered service for card")

	// ErrNotAuthenticated is returned by operations that need an open
	// secure channel.
	ErrNotAuthenticated = errors.New("service: secure channel not established")

	// ErrUntrustedIssuer is returned when no trust anchor matches the CAR of
	// a certificate chain.
	ErrUntrustedIssuer = errors.New("service: no trust anchor for issuer")
)

// Service is a protocol driver bound to one card.
type Service interface {
	ID() string
}

// Verifier checks certificates issued to the card.
type Verifier interface {
	Service
	VerifyCertificate() (*cvc.Certificate, error)
}

// Authenticator establishes a secure channel with the card.
type Authenticator interface {
	Service
	Authenticate() (*securechannel.Credential, error)
}

// Observer is notified of authentication outcomes.
type Observer interface {
	Authentication(protocol, outcome string)
}

// Authentication outcomes reported to an Observer.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

func observe(o Observer, protocol string, err error) {
	if o == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	o.Authentication(protocol, outcome)
}

// Factory builds a service for a connected card.
type Factory func(client *iso7816.Client, session *securechannel.Session) (Service, error)

// Registry maps dispatch service identifiers to factories.
type Registry struct {
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{factories: make(map[string]Factory), logger: logger}
}

// Register binds id to f, replacing any previous factory.
func (r *Registry) Register(id string, f Factory) {
	r.factories[id] = f
}

// Open builds the first service of p that has a registered factory.
func (r *Registry) Open(p dispatch.Profile, client *iso7816.Client, session *securechannel.Session) (Service, error) {
	for _, id := range p.Services {
		f, ok := r.factories[id]
		if !ok {
			r.logger.Debug("service: not registered", "service", id, "profile", p.Name)
			continue
		}
		svc, err := f(client, session)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", id, err)
		}
		r.logger.Debug("service: opened", "service", id, "profile", p.Name, "card_type", p.CardType)
		return svc, nil
	}
	return nil, fmt.Errorf("%w: profile %s offers %v", ErrNoService, p.Name, p.Services)
}
