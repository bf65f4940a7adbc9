// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"strings"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	t.Parallel()

	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if !strings.HasPrefix(identity.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want age1 prefix", identity.PublicKey)
	}

	ciphertext, err := Encrypt([]byte("sk-ant-test"), identity.PublicKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(ciphertext, "sk-ant-test") {
		t.Fatal("ciphertext contains the plaintext")
	}

	plaintext, err := Decrypt(ciphertext, identity.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "sk-ant-test" {
		t.Errorf("plaintext = %q, want sk-ant-test", plaintext)
	}
}

func TestDecryptWithWrongIdentity(t *testing.T) {
	t.Parallel()

	owner, _ := GenerateIdentity()
	stranger, _ := GenerateIdentity()
	ciphertext, err := Encrypt([]byte("secret"), owner.PublicKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(ciphertext, stranger.PrivateKey); err == nil {
		t.Error("Decrypt with a foreign identity succeeded")
	}
}

func TestParseIdentity(t *testing.T) {
	t.Parallel()

	original, _ := GenerateIdentity()
	parsed, err := ParseIdentity(original.PrivateKey + "\n")
	if err != nil {
		t.Fatalf("ParseIdentity: %v", err)
	}
	if parsed.PublicKey != original.PublicKey {
		t.Errorf("PublicKey = %q, want %q", parsed.PublicKey, original.PublicKey)
	}
	if _, err := ParseIdentity("not a key"); err == nil {
		t.Error("ParseIdentity(garbage) succeeded")
	}
}

func TestEncryptRequiresRecipient(t *testing.T) {
	t.Parallel()

	if _, err := Encrypt([]byte("x")); err == nil {
		t.Error("Encrypt without recipients succeeded")
	}
}
