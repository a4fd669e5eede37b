package auth

import (
	"errors"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hashed, err := HashPassword("pw123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hashed == "pw123" {
		t.Fatal("hash must not equal the plain password")
	}

	if err := CheckPassword(hashed, "pw123"); err != nil {
		t.Fatalf("expected match: %v", err)
	}
	if err := CheckPassword(hashed, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestCheckPasswordMalformedHash(t *testing.T) {
	err := CheckPassword("not-a-bcrypt-hash", "pw123")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected a non-credential error for malformed hash, got %v", err)
	}
}
