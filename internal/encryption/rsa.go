package encryption

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
)

// ErrDecryptFailure is returned when a wrapped block cannot be decrypted into
// something that looks like a client block.
var ErrDecryptFailure = errors.New("decrypt failure")

// LoginKey is the private key used to unwrap the RSA blocks sent by the client. The
// client performs raw modular exponentiation with no padding scheme, so neither
// PKCS#1 v1.5 nor OAEP decryption from crypto/rsa applies.
type LoginKey struct {
	key *rsa.PrivateKey
}

// NewLoginKey wraps an already parsed private key.
func NewLoginKey(key *rsa.PrivateKey) *LoginKey {
	return &LoginKey{key: key}
}

// LoadLoginKey reads a PEM encoded PKCS#1 or PKCS#8 RSA private key from path.
func LoadLoginKey(path string) (*LoginKey, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key %s: %w", path, err)
	}

	block, _ := pem.Decode(contents)
	if block == nil {
		return nil, fmt.Errorf("no PEM data found in %s", path)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#1 key: %w", err)
		}
		return NewLoginKey(key), nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#8 key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%s does not contain an RSA key", path)
		}
		return NewLoginKey(key), nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q in %s", block.Type, path)
	}
}

// BlockSize is the length in bytes of the modulus and therefore of every normalized
// plaintext block.
func (k *LoginKey) BlockSize() int {
	return (k.key.N.BitLen() + 7) / 8
}

// PublicKey returns the public half of the key, which is what gets compiled into clients.
func (k *LoginKey) PublicKey() *rsa.PublicKey {
	return &k.key.PublicKey
}

// Decrypt computes ciphertext^d mod n and returns the result normalized to BlockSize bytes.
func (k *LoginKey) Decrypt(ciphertext []byte) ([]byte, error) {
	c := new(big.Int).SetBytes(ciphertext)
	if c.Cmp(k.key.N) >= 0 {
		return nil, fmt.Errorf("%w: ciphertext is not smaller than the modulus", ErrDecryptFailure)
	}
	m := new(big.Int).Exp(c, k.key.D, k.key.N)
	return NormalizeBlock(m.Bytes(), k.BlockSize()), nil
}

// EncryptRaw is the client side of Decrypt: plaintext^e mod n with no padding.
func EncryptRaw(pub *rsa.PublicKey, plaintext []byte) []byte {
	m := new(big.Int).SetBytes(plaintext)
	c := new(big.Int).Exp(m, big.NewInt(int64(pub.E)), pub.N)
	return c.Bytes()
}

// NormalizeBlock converts the big-endian bytes of a big integer into a block of exactly
// size bytes. A sign byte makes the input one byte too long and leading zero bytes are
// lost on the way through a big integer, so the input is trimmed or left-padded.
func NormalizeBlock(b []byte, size int) []byte {
	for len(b) > size && b[0] == 0 {
		b = b[1:]
	}
	if len(b) > size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// TrimLeadingZeros returns b without any leading zero bytes.
func TrimLeadingZeros(b []byte) []byte {
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	return b
}
