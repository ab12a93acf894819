package packets

// Login block types.
const (
	LoginConnectType   = 16
	LoginReconnectType = 18
)

// LoginMagic is the first meaningful byte of every RSA wrapped block.
const LoginMagic = 10

// Status codes written at the start of the login response.
type LoginStatus uint8

const (
	LoginStatusExchangeKeys LoginStatus = 0
	LoginStatusOK           LoginStatus = 2
	LoginStatusOutOfDate    LoginStatus = 6
	LoginStatusWorldFull    LoginStatus = 7
	LoginStatusReconnected  LoginStatus = 15
)

// ContentChecksumCount is the number of archive checksums every login block carries.
const ContentChecksumCount = 29

// LoginBlock is the plaintext part of a connect or reconnect request.
type LoginBlock struct {
	Type         uint8
	Revision     uint32
	WindowMode   uint8
	CanvasWidth  uint16
	CanvasHeight uint16
	UID          []byte
	Settings     string
	Affiliate    uint32
	Preferences  []byte
	VerifyID     uint16
	Checksums    [ContentChecksumCount]uint32

	Credentials Credentials
}

// Credentials hold the RSA protected fields of a login block.
type Credentials struct {
	Keys     [4]uint32
	Username string
	Password string
}

// Registration is the content of a TitleCreateType request.
type Registration struct {
	Revision  uint16
	OptIn     uint16
	Username  string
	Password  string
	Affiliate uint16
	Day       uint8
	Month     uint8
	Year      uint16
	Country   uint16
	Email     string
}

// ProgressLog is the content of a TitleLogProgressType request.
type ProgressLog struct {
	Day     uint8
	Month   uint8
	Year    uint16
	Country uint16
}
