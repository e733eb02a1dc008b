package crypto

import "testing"

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}

	if hash == "hunter2" {
		t.Error("HashPassword() returned the plaintext")
	}
	if !CheckPassword(hash, "hunter2") {
		t.Error("CheckPassword() rejected the correct password")
	}
	if CheckPassword(hash, "hunter3") {
		t.Error("CheckPassword() accepted a wrong password")
	}
}

func TestHashPasswordSalted(t *testing.T) {
	h1, err := HashPassword("same")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	h2, err := HashPassword("same")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}

	if h1 == h2 {
		t.Error("two hashes of the same password are identical (missing salt)")
	}
}
