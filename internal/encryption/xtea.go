package encryption

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/xtea"
)

// XTEABlockSize is the size of each block processed by the XTEA functions.
const XTEABlockSize = xtea.BlockSize

func newXTEACipher(key [4]uint32) (*xtea.Cipher, error) {
	var raw [16]byte
	for i, word := range key {
		binary.BigEndian.PutUint32(raw[i*4:], word)
	}
	c, err := xtea.NewCipher(raw[:])
	if err != nil {
		return nil, fmt.Errorf("creating xtea cipher: %w", err)
	}
	return c, nil
}

// DecryptXTEA decrypts every whole 8 byte block of data from offset onwards in place.
// Trailing bytes that do not fill a block are left untouched.
func DecryptXTEA(data []byte, offset int, key [4]uint32) error {
	c, err := newXTEACipher(key)
	if err != nil {
		return err
	}
	for i := offset; i+XTEABlockSize <= len(data); i += XTEABlockSize {
		c.Decrypt(data[i:i+XTEABlockSize], data[i:i+XTEABlockSize])
	}
	return nil
}

// EncryptXTEA is the inverse of DecryptXTEA.
func EncryptXTEA(data []byte, offset int, key [4]uint32) error {
	c, err := newXTEACipher(key)
	if err != nil {
		return err
	}
	for i := offset; i+XTEABlockSize <= len(data); i += XTEABlockSize {
		c.Encrypt(data[i:i+XTEABlockSize], data[i:i+XTEABlockSize])
	}
	return nil
}
