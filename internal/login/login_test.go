package login

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"

	"github.com/go-test/deep"

	"github.com/dcrodman/lodestone/internal/core/buffer"
	"github.com/dcrodman/lodestone/internal/encryption"
	"github.com/dcrodman/lodestone/internal/packets"
)

func generateKey(t *testing.T) *encryption.LoginKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return encryption.NewLoginKey(key)
}

// body strips the opcode and size field from a request.
func body(request []byte) []byte { return request[3:] }

func TestParseLoginBlock(t *testing.T) {
	key := generateKey(t)

	want := &packets.LoginBlock{
		Type:         packets.LoginConnectType,
		Revision:     578,
		WindowMode:   2,
		CanvasWidth:  765,
		CanvasHeight: 503,
		UID:          []byte("abcdefghijklmnopqrstuvwx"),
		Settings:     "wwGlrZHF5gKN6D3mDdihco3oPeYN2KFybL9hUUFqOvk",
		Affiliate:    0,
		Preferences:  []byte{1, 2, 3},
		VerifyID:     7,
		Credentials: packets.Credentials{
			Keys:     [4]uint32{0x11111111, 0x22222222, 0x33333333, 0x44444444},
			Username: "zezima",
			Password: "hunter2",
		},
	}
	for i := range want.Checksums {
		want.Checksums[i] = uint32(i * 1000)
	}

	request := EncodeLoginBlock(want, key.PublicKey())
	if request[0] != packets.LoginConnectType {
		t.Fatalf("request starts with %d", request[0])
	}
	if size := int(request[1])<<8 | int(request[2]); size != len(request)-3 {
		t.Fatalf("size field %d does not match body length %d", size, len(request)-3)
	}

	got, err := ParseLoginBlock(packets.LoginConnectType, body(request), key)
	if err != nil {
		t.Fatalf("ParseLoginBlock() returned error: %v", err)
	}
	if diff := deep.Equal(want, got); diff != nil {
		t.Error(diff)
	}
}

func TestParseLoginBlock_Truncated(t *testing.T) {
	key := generateKey(t)
	request := EncodeLoginBlock(&packets.LoginBlock{Type: packets.LoginConnectType}, key.PublicKey())

	_, err := ParseLoginBlock(packets.LoginConnectType, body(request)[:40], key)
	if !errors.Is(err, buffer.ErrBufferUnderrun) {
		t.Errorf("expected ErrBufferUnderrun, got %v", err)
	}
}

func TestParseRegistration(t *testing.T) {
	key := generateKey(t)
	keys := [4]uint32{0xCAFEBABE, 0xDEADBEEF, 1, 2}

	want := &packets.Registration{
		Revision:  578,
		OptIn:     1,
		Username:  "mod ash",
		Password:  "password1",
		Affiliate: 0,
		Day:       22,
		Month:     12,
		Year:      1990,
		Country:   77,
		Email:     "ash@example.com",
	}

	request := EncodeRegistration(want, keys, key.PublicKey())
	got, err := ParseRegistration(body(request), key)
	if err != nil {
		t.Fatalf("ParseRegistration() returned error: %v", err)
	}
	if diff := deep.Equal(want, got); diff != nil {
		t.Error(diff)
	}
}

func TestParseRegistration_BadMagic(t *testing.T) {
	key := generateKey(t)

	b := buffer.New().WriteUint16(578)
	wrap(b, []byte{packets.LoginMagic + 1, 0, 0, 0, 0}, key.PublicKey())

	_, err := ParseRegistration(b.Bytes(), key)
	if !errors.Is(err, ErrBadMagic) || !errors.Is(err, encryption.ErrDecryptFailure) {
		t.Errorf("expected ErrBadMagic, got %v", err)
	}
}

func TestParseProgressLog(t *testing.T) {
	got, err := ParseProgressLog([]byte{22, 12, 0x07, 0xC6, 0x00, 0x4D})
	if err != nil {
		t.Fatal(err)
	}
	want := &packets.ProgressLog{Day: 22, Month: 12, Year: 1990, Country: 77}
	if diff := deep.Equal(want, got); diff != nil {
		t.Error(diff)
	}

	if _, err := ParseProgressLog([]byte{1, 2}); !errors.Is(err, buffer.ErrBufferUnderrun) {
		t.Errorf("expected ErrBufferUnderrun, got %v", err)
	}
}
