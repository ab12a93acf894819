package login

import (
	"crypto/rsa"

	"github.com/dcrodman/lodestone/internal/core/buffer"
	"github.com/dcrodman/lodestone/internal/core/text"
	"github.com/dcrodman/lodestone/internal/encryption"
	"github.com/dcrodman/lodestone/internal/packets"
)

// The functions in this file build requests the way the client does. They are used
// to exercise the server end to end.

func wrap(b *buffer.Buffer, plaintext []byte, pub *rsa.PublicKey) {
	ciphertext := encryption.EncryptRaw(pub, plaintext)
	b.WriteUint8(uint8(len(ciphertext)))
	b.WriteBytes(ciphertext)
}

// EncodeLoginBlock returns a complete connect or reconnect request for l.
func EncodeLoginBlock(l *packets.LoginBlock, pub *rsa.PublicKey) []byte {
	b := buffer.New()
	b.WriteUint8(l.Type)
	mark := b.ReserveSize(2)

	b.WriteUint32(l.Revision)
	b.WriteUint8(0)
	b.WriteUint8(l.WindowMode)
	b.WriteUint16(l.CanvasWidth)
	b.WriteUint16(l.CanvasHeight)
	b.WriteUint8(0)
	uid := make([]byte, uidLength)
	copy(uid, l.UID)
	b.WriteBytes(uid)
	b.WriteString(l.Settings)
	b.WriteUint32(l.Affiliate)
	b.WriteUint8(uint8(len(l.Preferences)))
	b.WriteBytes(l.Preferences)
	b.WriteUint16(l.VerifyID)
	for _, c := range l.Checksums {
		b.WriteUint32(c)
	}

	secure := buffer.New().WriteUint8(packets.LoginMagic)
	for _, k := range l.Credentials.Keys {
		secure.WriteUint32(k)
	}
	secure.WriteUint64(text.EncodeBase37(l.Credentials.Username))
	secure.WriteString(l.Credentials.Password)
	wrap(b, secure.Bytes(), pub)

	b.PatchSize(mark, 2)
	return b.Bytes()
}

// EncodeRegistration returns a complete account creation request for reg, with the
// email encrypted under keys.
func EncodeRegistration(reg *packets.Registration, keys [4]uint32, pub *rsa.PublicKey) []byte {
	b := buffer.New()
	b.WriteUint8(packets.TitleCreateType)
	mark := b.ReserveSize(2)
	b.WriteUint16(reg.Revision)

	secure := buffer.New().
		WriteUint8(packets.LoginMagic).
		WriteUint16(reg.OptIn).
		WriteUint64(text.EncodeBase37(reg.Username)).
		WriteUint32(keys[0]).
		WriteString(reg.Password).
		WriteUint32(keys[1]).
		WriteUint16(reg.Affiliate).
		WriteUint8(reg.Day).
		WriteUint8(reg.Month).
		WriteUint32(keys[2]).
		WriteUint16(reg.Year).
		WriteUint16(reg.Country).
		WriteUint32(keys[3])
	wrap(b, secure.Bytes(), pub)

	email := buffer.New().WriteString(reg.Email)
	for email.Len()%encryption.XTEABlockSize != 0 {
		email.WriteUint8(0)
	}
	extra := email.Bytes()
	// Only fails for a key of the wrong size, which [4]uint32 rules out.
	_ = encryption.EncryptXTEA(extra, 0, keys)
	b.WriteBytes(extra)

	b.PatchSize(mark, 2)
	return b.Bytes()
}
