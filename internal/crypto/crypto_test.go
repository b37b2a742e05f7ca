package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr error
	}{
		{"valid 32-byte key", 32, nil},
		{"short key", 16, ErrInvalidKey},
		{"long key", 64, ErrInvalidKey},
		{"empty key", 0, ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncryptor(make([]byte, tt.keyLen))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewEncryptor() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSealOpenRoundtrip(t *testing.T) {
	enc, _ := NewEncryptor(testKey(1))

	tests := []struct {
		name      string
		plaintext string
	}{
		{"indexnow key", "a3f9c2e1b4d5678901234567890abcde"},
		{"empty", ""},
		{"unicode", "clé-🔑"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Seal(tt.plaintext, "site_1")
			if err != nil {
				t.Fatalf("Seal() error: %v", err)
			}
			if tt.plaintext == "" && sealed != "" {
				t.Error("empty plaintext should seal to empty string")
			}
			got, err := enc.Open(sealed, "site_1")
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("Open() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestSealProducesUniqueCiphertexts(t *testing.T) {
	enc, _ := NewEncryptor(testKey(1))
	a, _ := enc.Seal("same", "site_1")
	b, _ := enc.Seal("same", "site_1")
	if a == b {
		t.Error("sealing twice should use different nonces")
	}
}

func TestOpen_Failures(t *testing.T) {
	enc, _ := NewEncryptor(testKey(1))
	other, _ := NewEncryptor(testKey(2))
	sealed, _ := enc.Seal("secret-key", "site_1")

	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name       string
		enc        *Encryptor
		ciphertext string
		owner      string
	}{
		{"wrong owner", enc, sealed, "site_2"},
		{"wrong key", other, sealed, "site_1"},
		{"tampered", enc, tampered, "site_1"},
		{"not base64", enc, "!!!", "site_1"},
		{"too short", enc, base64.StdEncoding.EncodeToString([]byte("abc")), "site_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.enc.Open(tt.ciphertext, tt.owner); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConcurrentSealOpen(t *testing.T) {
	enc, _ := NewEncryptor(testKey(3))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sealed, err := enc.Seal("key", "site")
			if err != nil {
				t.Errorf("Seal() error: %v", err)
				return
			}
			if got, err := enc.Open(sealed, "site"); err != nil || got != "key" {
				t.Errorf("goroutine %d: Open() = %q, %v", n, got, err)
			}
		}(i)
	}
	wg.Wait()
}
