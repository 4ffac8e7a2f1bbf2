package crypto

import (
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptDecryptRoundtrip(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	if err != nil {
		t.Fatal(err)
	}

	for _, plaintext := range []string{"", "p4ssword", "with spaces and ünïcode"} {
		sealed, err := enc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		if sealed == plaintext && plaintext != "" {
			t.Fatalf("ciphertext equals plaintext for %q", plaintext)
		}

		got, err := enc.Decrypt(sealed)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("roundtrip %q -> %q", plaintext, got)
		}
	}
}

func TestEncryptIsNondeterministic(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	if err != nil {
		t.Fatal(err)
	}

	a, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	b, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext are identical, nonce reuse")
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	if err != nil {
		t.Fatal(err)
	}
	other, err := NewEncryptor(strings.Repeat("z", 32))
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Decrypt(sealed); err == nil {
		t.Error("decrypt with wrong key succeeded")
	}
}

func TestDecryptGarbage(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	if err != nil {
		t.Fatal(err)
	}

	for _, input := range []string{"", "not base64 !!!", "aGVsbG8="} {
		if _, err := enc.Decrypt(input); err == nil {
			t.Errorf("decrypt %q succeeded", input)
		}
	}
}
