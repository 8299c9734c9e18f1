package vault

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gatherly/server/internal/model"
)

func TestEncryptDecrypt_roundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("whatsapp session material"),
		[]byte{0x00, 0xff, 0x10},
		bytes.Repeat([]byte("x"), 4096),
		{}, // empty plaintext must round-trip too
	}
	for _, plaintext := range cases {
		blob, key, err := Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		got, err := Decrypt(blob, key)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(plaintext))
		}
	}
}

func TestEncrypt_freshKeyAndNoncePerCall(t *testing.T) {
	plaintext := []byte("same input twice")
	blob1, key1, err := Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	blob2, key2, err := Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(blob1, blob2) {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
	if bytes.Equal(key1, key2) {
		t.Error("two encryptions reused key material")
	}
	for _, c := range []struct {
		blob, key []byte
	}{{blob1, key1}, {blob2, key2}} {
		got, err := Decrypt(c.blob, c.key)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Error("decrypt did not recover original plaintext")
		}
	}
}

func TestDecrypt_tamperedBlob(t *testing.T) {
	blob, key, err := Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	blob[len(blob)-1] ^= 0x01
	if _, err := Decrypt(blob, key); !errors.Is(err, model.ErrCrypto) {
		t.Errorf("tampered blob: want ErrCrypto, got %v", err)
	}
}

func TestDecrypt_wrongKey(t *testing.T) {
	blob, _, err := Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	_, otherKey, err := Encrypt([]byte("other"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(blob, otherKey); !errors.Is(err, model.ErrCrypto) {
		t.Errorf("wrong key: want ErrCrypto, got %v", err)
	}
}

func TestDecrypt_shortBlob(t *testing.T) {
	_, key, err := Encrypt([]byte("x"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt([]byte{0x01, 0x02}, key); !errors.Is(err, model.ErrCrypto) {
		t.Errorf("short blob: want ErrCrypto, got %v", err)
	}
}

func TestDecrypt_badKeySize(t *testing.T) {
	blob, _, err := Encrypt([]byte("x"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(blob, []byte("short")); !errors.Is(err, model.ErrCrypto) {
		t.Errorf("bad key size: want ErrCrypto, got %v", err)
	}
}
