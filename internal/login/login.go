// Package login parses the credential carrying requests sent by the client: the
// connect/reconnect block that starts a game session and the account creation
// request sent from the title screen.
package login

import (
	"fmt"

	"github.com/dcrodman/lodestone/internal/core/buffer"
	"github.com/dcrodman/lodestone/internal/core/text"
	"github.com/dcrodman/lodestone/internal/encryption"
	"github.com/dcrodman/lodestone/internal/packets"
)

const uidLength = 24

// ErrBadMagic is returned when an unwrapped block does not start with packets.LoginMagic.
var ErrBadMagic = fmt.Errorf("%w: bad magic", encryption.ErrDecryptFailure)

// Decrypter unwraps RSA blocks.
type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// unwrap reads a 1 byte length prefixed RSA block from b and returns its plaintext
// positioned after the magic byte.
func unwrap(b *buffer.Buffer, key Decrypter) (*buffer.Buffer, error) {
	length := int(b.ReadUint8())
	ciphertext := b.ReadBytes(length)
	if err := b.Err(); err != nil {
		return nil, err
	}

	plaintext, err := key.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}

	r := buffer.Wrap(encryption.TrimLeadingZeros(plaintext))
	if magic := r.ReadUint8(); r.Err() != nil || magic != packets.LoginMagic {
		return nil, fmt.Errorf("%w: %d", ErrBadMagic, magic)
	}
	return r, nil
}

// ParseLoginBlock parses the body of a connect or reconnect request, not including
// the type and the 2 byte length that precede it.
func ParseLoginBlock(typ uint8, block []byte, key Decrypter) (*packets.LoginBlock, error) {
	b := buffer.Wrap(block)
	l := &packets.LoginBlock{Type: typ}

	l.Revision = b.ReadUint32()
	b.ReadUint8()
	l.WindowMode = b.ReadUint8()
	l.CanvasWidth = b.ReadUint16()
	l.CanvasHeight = b.ReadUint16()
	b.ReadUint8()
	l.UID = b.ReadBytes(uidLength)
	l.Settings = b.ReadString()
	l.Affiliate = b.ReadUint32()
	l.Preferences = b.ReadBytes(int(b.ReadUint8()))
	l.VerifyID = b.ReadUint16()
	for i := range l.Checksums {
		l.Checksums[i] = b.ReadUint32()
	}
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("reading login block: %w", err)
	}

	r, err := unwrap(b, key)
	if err != nil {
		return nil, err
	}
	for i := range l.Credentials.Keys {
		l.Credentials.Keys[i] = r.ReadUint32()
	}
	l.Credentials.Username = text.DecodeBase37(r.ReadUint64())
	l.Credentials.Password = r.ReadString()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("reading login credentials: %w", err)
	}
	return l, nil
}

// ParseRegistration parses the body of an account creation request, not including
// the 2 byte length that precedes it.
func ParseRegistration(body []byte, key Decrypter) (*packets.Registration, error) {
	b := buffer.Wrap(body)
	reg := &packets.Registration{Revision: b.ReadUint16()}

	r, err := unwrap(b, key)
	if err != nil {
		return nil, err
	}

	var keys [4]uint32
	reg.OptIn = r.ReadUint16()
	reg.Username = text.DecodeBase37(r.ReadUint64())
	keys[0] = r.ReadUint32()
	reg.Password = r.ReadString()
	keys[1] = r.ReadUint32()
	reg.Affiliate = r.ReadUint16()
	reg.Day = r.ReadUint8()
	reg.Month = r.ReadUint8()
	keys[2] = r.ReadUint32()
	reg.Year = r.ReadUint16()
	reg.Country = r.ReadUint16()
	keys[3] = r.ReadUint32()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("reading registration: %w", err)
	}

	extra := b.Remaining().Bytes()
	if err := encryption.DecryptXTEA(extra, 0, keys); err != nil {
		return nil, err
	}
	e := buffer.Wrap(extra)
	reg.Email = e.ReadString()
	if err := e.Err(); err != nil {
		return nil, fmt.Errorf("reading registration email: %w", err)
	}
	return reg, nil
}

// ParseProgressLog parses the date of birth and country step of account creation.
func ParseProgressLog(body []byte) (*packets.ProgressLog, error) {
	b := buffer.Wrap(body)
	p := &packets.ProgressLog{
		Day:     b.ReadUint8(),
		Month:   b.ReadUint8(),
		Year:    b.ReadUint16(),
		Country: b.ReadUint16(),
	}
	if err := b.Err(); err != nil {
		return nil, err
	}
	return p, nil
}
