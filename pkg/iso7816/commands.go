package iso7816

// SECURITY-RELATED COMMANDS (ISO 7816-4 / 7816-8):
//
// GET DATA (INS 'CA'): P1-P2 carry the tag of the data object to retrieve.
//
// MANAGE SECURITY ENVIRONMENT (INS '22'):
//   - P1: function and usage qualifier (e.g. '41' = SET for computation,
//     decipherment, internal authentication and key agreement).
//   - P2: tag of the Control Reference Template (e.g. 'A4' = Authentication).
//
// GENERAL AUTHENTICATE (INS '86'): data field is a Dynamic Authentication
// Data template (Tag '7C') carrying the protocol-specific objects.

// Common MANAGE SECURITY ENVIRONMENT parameters.
const (
	MSESetAT byte = 0x41 // P1: SET for internal authentication / key agreement
	CRTAuth  byte = 0xA4 // P2: Authentication template
)

// GetData creates a GET DATA command for the given two-byte tag.
func GetData(cla Class, tag uint16) *CommandAPDU {
	ins, _ := NewInstruction(INS_GET_DATA)
	return NewCommandAPDU(cla, ins, byte(tag>>8), byte(tag), nil, MaxShortLe)
}

// ManageSecurityEnvironment creates an MSE command (case 3).
func ManageSecurityEnvironment(cla Class, p1, p2 byte, data []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_MANAGE_SECURITY_ENVIRONMENT)
	return NewCommandAPDU(cla, ins, p1, p2, data, 0)
}

// GeneralAuthenticate creates a GENERAL AUTHENTICATE command (case 4, Le=256).
func GeneralAuthenticate(cla Class, data []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_GENERAL_AUTHENTICATE)
	return NewCommandAPDU(cla, ins, 0x00, 0x00, data, MaxShortLe)
}
