package credentials

import (
	"bytes"
	"testing"
)

func TestVaultRoundTrip(t *testing.T) {
	v := Vault{Secret: "portal-secret"}
	blob, err := v.Seal([]byte("token material"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(blob, []byte("token material")) {
		t.Fatal("sealed blob contains plaintext")
	}
	plaintext, err := v.Open(blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(plaintext) != "token material" {
		t.Fatalf("got %q", plaintext)
	}
}

func TestVaultWrongSecret(t *testing.T) {
	blob, err := Vault{Secret: "right"}.Seal([]byte("data"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := (Vault{Secret: "wrong"}).Open(blob); err == nil {
		t.Fatal("expected decryption failure")
	}
}

func TestVaultRequiresSecret(t *testing.T) {
	if _, err := (Vault{}).Seal([]byte("x")); err == nil {
		t.Fatal("expected error sealing without secret")
	}
	if _, err := (Vault{}).Open([]byte("x")); err == nil {
		t.Fatal("expected error opening without secret")
	}
}

func TestVaultRejectsTruncatedBlob(t *testing.T) {
	if _, err := (Vault{Secret: "s"}).Open([]byte("short")); err == nil {
		t.Fatal("expected error for truncated blob")
	}
}
