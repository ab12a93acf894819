// Package packets contains the opcodes, status codes, and message structures
// exchanged with the client across every protocol state.
package packets

// Length policies for opcodes whose payload size is not fixed.
const (
	// VarByte frames carry a 1 byte length after the opcode.
	VarByte = -1
	// VarShort frames carry a big endian 2 byte length after the opcode.
	VarShort = -2
	// Undefined opcodes cannot be framed.
	Undefined = -3
)

// Requests accepted from a freshly accepted connection. The first byte a client
// sends selects which sub-protocol the connection will speak.
const (
	TitleLoginType       = 14
	TitleJS5OpenType     = 15
	TitleLogProgressType = 20
	TitleCheckNameType   = 21
	TitleCreateType      = 22
	TitleWorldListType   = 23
)

// RegistrationOK is the only answer given to the registration requests.
const RegistrationOK = 2

// Update protocol status codes sent in reply to TitleJS5OpenType.
type JS5Status uint8

const (
	JS5Success   JS5Status = 0
	JS5Retry     JS5Status = 5
	JS5OutOfDate JS5Status = 6
	JS5Full1     JS5Status = 7
	JS5Full2     JS5Status = 9
)

// WorldListOK is sent before the world list payload.
const WorldListOK = 0
