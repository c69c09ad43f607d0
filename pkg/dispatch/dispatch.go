// Package dispatch maps a card's Answer-To-Reset to the card type and the
// services able to drive it.
//
// Profiles are evaluated in order and the first match wins, so specific
// profiles must be listed before generic ones. A pattern is a literal byte
// prefix of either the historical bytes or the full ATR. When a pattern alone
// cannot tell cards apart, the profile carries a probe AID: the card must
// answer 9000 to SELECT-by-name of that AID for the profile to be chosen.
package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
)

// ErrUnsupported is returned when no profile recognizes the card.
var ErrUnsupported = errors.New("dispatch: unsupported card")

// MatchOn selects which part of the ATR a pattern applies to.
type MatchOn int

const (
	MatchHistorical MatchOn = iota
	MatchATR
)

func (m MatchOn) String() string {
	if m == MatchATR {
		return "atr"
	}
	return "historical"
}

// Profile associates an ATR pattern with a card type and its services.
type Profile struct {
	Name     string
	Pattern  []byte
	Match    MatchOn
	CardType string
	Services []string
	ProbeAID []byte
}

// Ambiguous reports whether the profile needs a SELECT probe.
func (p Profile) Ambiguous() bool {
	return len(p.ProbeAID) > 0
}

// Sender is the part of iso7816.Client used for probing.
type Sender interface {
	Send(cmd *iso7816.CommandAPDU) (iso7816.Trace, error)
}

// Dispatcher holds an immutable, ordered profile table.
type Dispatcher struct {
	profiles []Profile
	class    iso7816.Class
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for dispatch decisions.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New builds a dispatcher over a private copy of profiles.
func New(profiles []Profile, opts ...Option) *Dispatcher {
	cls, _ := iso7816.NewClass(0x00)
	d := &Dispatcher{
		profiles: append([]Profile(nil), profiles...),
		class:    cls,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Profiles returns a copy of the profile table.
func (d *Dispatcher) Profiles() []Profile {
	return append([]Profile(nil), d.profiles...)
}

// Dispatch returns the first profile matching atr. card is only used for
// ambiguous profiles and may be nil when the table has none.
func (d *Dispatcher) Dispatch(atr []byte, card Sender) (Profile, error) {
	hist, histErr := HistoricalBytes(atr)

	for _, p := range d.profiles {
		subject := atr
		if p.Match == MatchHistorical {
			if histErr != nil {
				continue
			}
			subject = hist
		}

		if !bytes.HasPrefix(subject, p.Pattern) {
			continue
		}

		if !p.Ambiguous() {
			d.logger.Debug("dispatch: matched", "profile", p.Name, "card_type", p.CardType)
			return p, nil
		}

		ok, err := d.probe(card, p)
		if err != nil {
			return Profile{}, err
		}
		if ok {
			d.logger.Debug("dispatch: probe confirmed", "profile", p.Name, "card_type", p.CardType)
			return p, nil
		}
		d.logger.Debug("dispatch: probe rejected, trying next profile", "profile", p.Name)
	}

	return Profile{}, fmt.Errorf("%w: ATR %X", ErrUnsupported, atr)
}

func (d *Dispatcher) probe(card Sender, p Profile) (bool, error) {
	if card == nil {
		return false, fmt.Errorf("profile %s needs a probe but no card channel was given", p.Name)
	}

	trace, err := card.Send(iso7816.SelectByAID(d.class, p.ProbeAID))
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", p.Name, err)
	}
	result, err := iso7816.NewSelectResult(trace)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", p.Name, err)
	}
	if result.Response().Status != iso7816.SW_NO_ERROR {
		return false, nil
	}
	if fci, err := result.FCI(); err == nil {
		d.logger.Debug("dispatch: probe selected application", "profile", p.Name, "df_name", fmt.Sprintf("%X", fci.AID()))
	}
	return true, nil
}
