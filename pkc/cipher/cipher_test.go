package cipher_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/collapsinghierarchy/papervault/pkc/cipher"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, pt := range [][]byte{
		[]byte("exam text"),
		{},
		bytes.Repeat([]byte{0xAB}, 1<<16),
	} {
		ct, key, err := cipher.Encrypt(pt)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if got, want := len(key), cipher.KeySize; got != want {
			t.Fatalf("key length: got %d want %d", got, want)
		}
		out, err := cipher.Decrypt(ct, key)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if !bytes.Equal(out, pt) {
			t.Errorf("round trip mismatch: got %d bytes want %d", len(out), len(pt))
		}
	}
}

func TestFreshKeyPerCall(t *testing.T) {
	_, k1, err := cipher.Encrypt([]byte("doc"))
	if err != nil {
		t.Fatal(err)
	}
	_, k2, err := cipher.Encrypt([]byte("doc"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(k1, k2) {
		t.Error("two Encrypt calls returned the same key")
	}
}

func TestTamperDetection(t *testing.T) {
	pt := []byte("question paper: section A")
	ct, key, err := cipher.Encrypt(pt)
	if err != nil {
		t.Fatal(err)
	}
	// flip one bit at every position, each must fail authentication
	for i := range ct {
		tampered := make([]byte, len(ct))
		copy(tampered, ct)
		tampered[i] ^= 0x01
		if _, err := cipher.Decrypt(tampered, key); !errors.Is(err, cipher.ErrIntegrity) {
			t.Fatalf("bit flip at %d: want ErrIntegrity, got %v", i, err)
		}
	}
}

func TestWrongKeyFails(t *testing.T) {
	ct, _, err := cipher.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	_, other, err := cipher.Encrypt([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cipher.Decrypt(ct, other); !errors.Is(err, cipher.ErrIntegrity) {
		t.Fatalf("want ErrIntegrity for wrong key, got %v", err)
	}
}

func TestTruncatedBlob(t *testing.T) {
	ct, key, err := cipher.Encrypt([]byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cipher.Decrypt(ct[:4], key); !errors.Is(err, cipher.ErrIntegrity) {
		t.Fatalf("want ErrIntegrity for truncated blob, got %v", err)
	}
}
