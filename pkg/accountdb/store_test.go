package accountdb

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "accounts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndVerify(t *testing.T) {
	s := openTestStore(t)

	if err := s.Create("Dana", "dana1", "pw1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		user, pass string
		want       bool
	}{
		{"dana1", "pw1", true},
		{"dana1", "wrong", false},
		{"nobody", "pw1", false},
		{"dana1", "", false},
	}
	for _, tt := range tests {
		ok, err := s.Verify(tt.user, tt.pass)
		if err != nil {
			t.Fatalf("Verify(%q): %v", tt.user, err)
		}
		if ok != tt.want {
			t.Errorf("Verify(%q, %q) = %v, want %v", tt.user, tt.pass, ok, tt.want)
		}
	}
}

func TestDuplicateRegistration(t *testing.T) {
	s := openTestStore(t)

	if err := s.Create("Dana", "dana1", "pw1"); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := s.Create("Other Dana", "dana1", "pw2")
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	// Original credentials still work; the duplicate attempt changed nothing.
	ok, err := s.Verify("dana1", "pw1")
	if err != nil || !ok {
		t.Errorf("original account damaged by duplicate attempt: ok=%v err=%v", ok, err)
	}
}

func TestGet(t *testing.T) {
	s := openTestStore(t)
	if err := s.Create("Dana", "dana1", "pw1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	acct, err := s.Get("dana1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if acct.DisplayName != "Dana" || acct.Username != "dana1" {
		t.Errorf("unexpected account: %+v", acct)
	}
	if acct.PasswordHash == "pw1" {
		t.Error("password stored in plaintext")
	}

	if _, err := s.Get("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLegacyHashVerification(t *testing.T) {
	s := openTestStore(t)

	sum := sha256.Sum256([]byte("oldpw" + s.LegacySuffix))
	if err := s.CreateLegacy("Old Timer", "oldie", hex.EncodeToString(sum[:])); err != nil {
		t.Fatalf("CreateLegacy: %v", err)
	}

	ok, err := s.Verify("oldie", "oldpw")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("legacy-hashed account should verify with original password")
	}

	ok, err = s.Verify("oldie", "notit")
	if err != nil || ok {
		t.Errorf("wrong password accepted for legacy account: ok=%v err=%v", ok, err)
	}
}

func TestCountAndTrimming(t *testing.T) {
	s := openTestStore(t)
	if err := s.Create("  Dana  ", "  dana1  ", "pw1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	acct, err := s.Get("dana1")
	if err != nil {
		t.Fatalf("Get by trimmed name: %v", err)
	}
	if acct.DisplayName != "Dana" {
		t.Errorf("display name not trimmed: %q", acct.DisplayName)
	}
}
