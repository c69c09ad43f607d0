package dispatch

import "github.com/gregLibert/smartcard-middleware/pkg/tlv"

// Card types known to the middleware.
const (
	CardTypeSmartCardHSM   = "SmartCard-HSM"
	CardTypeGlobalPlatform = "GlobalPlatform"
)

// Service identifiers understood by the service registry.
const (
	ServiceHSM = "hsm"
	ServiceGP  = "gp"
)

// Well-known application identifiers.
var (
	// SmartCardHSMAID selects the SmartCard-HSM application.
	SmartCardHSMAID = tlv.Hex("E8 2B 06 01 04 01 81 C3 1F 02 01")

	// ISDAID is the default GlobalPlatform Issuer Security Domain.
	ISDAID = tlv.Hex("A0 00 00 01 51 00 00 00")
)

// DefaultProfiles returns the built-in profile table, specific entries first.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:     "smartcard-hsm",
			Pattern:  tlv.Hex("80 31 81 54 48 53 4D 31"), // ..THSM1
			Match:    MatchHistorical,
			CardType: CardTypeSmartCardHSM,
			Services: []string{ServiceHSM},
		},
		{
			Name:     "jcop-smartcard-hsm",
			Pattern:  tlv.Hex("4A 43 4F 50"), // JCOP
			Match:    MatchHistorical,
			CardType: CardTypeSmartCardHSM,
			Services: []string{ServiceHSM},
			ProbeAID: SmartCardHSMAID,
		},
		{
			Name:     "jcop",
			Pattern:  tlv.Hex("4A 43 4F 50"),
			Match:    MatchHistorical,
			CardType: CardTypeGlobalPlatform,
			Services: []string{ServiceGP},
		},
		{
			Name:     "globalplatform",
			Pattern:  tlv.Hex("3B"),
			Match:    MatchATR,
			CardType: CardTypeGlobalPlatform,
			Services: []string{ServiceGP},
			ProbeAID: ISDAID,
		},
	}
}
