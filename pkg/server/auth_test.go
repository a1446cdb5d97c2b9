package server

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/emberhollow/storywalk/pkg/accountdb"
)

func newTestAccounts(t *testing.T) *accountdb.Store {
	t.Helper()
	store, err := accountdb.Open(filepath.Join(t.TempDir(), "accounts.db"))
	if err != nil {
		t.Fatalf("opening account store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAuthService_LoginAndValidate(t *testing.T) {
	accounts := newTestAccounts(t)
	if err := accounts.Create("Eve", "eve1", "secret"); err != nil {
		t.Fatalf("creating account: %v", err)
	}
	auth := NewAuthService(accounts, "test-secret", 3600)

	token, err := auth.Login("eve1", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("validating token: %v", err)
	}
	if claims.Username != "eve1" {
		t.Errorf("claims.Username = %q, want eve1", claims.Username)
	}
	if claims.DisplayName != "Eve" {
		t.Errorf("claims.DisplayName = %q, want Eve", claims.DisplayName)
	}
	if claims.Issuer != "storywalk" {
		t.Errorf("claims.Issuer = %q", claims.Issuer)
	}
}

func TestAuthService_BadCredentials(t *testing.T) {
	accounts := newTestAccounts(t)
	if err := accounts.Create("Eve", "eve1", "secret"); err != nil {
		t.Fatalf("creating account: %v", err)
	}
	auth := NewAuthService(accounts, "test-secret", 3600)

	if _, err := auth.Login("eve1", "wrong"); err == nil {
		t.Error("login succeeded with wrong password")
	}
	if _, err := auth.Login("nobody", "secret"); err == nil {
		t.Error("login succeeded for unknown user")
	}
}

func TestAuthService_RejectsForeignToken(t *testing.T) {
	accounts := newTestAccounts(t)
	if err := accounts.Create("Eve", "eve1", "secret"); err != nil {
		t.Fatalf("creating account: %v", err)
	}
	a := NewAuthService(accounts, "secret-a", 3600)
	b := NewAuthService(accounts, "secret-b", 3600)

	token, err := a.Login("eve1", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := b.ValidateToken(token); err == nil {
		t.Error("token signed with another key validated")
	}
	if _, err := a.ValidateToken("not.a.token"); err == nil {
		t.Error("garbage token validated")
	}
}

func TestAuthService_Refresh(t *testing.T) {
	accounts := newTestAccounts(t)
	if err := accounts.Create("Eve", "eve1", "secret"); err != nil {
		t.Fatalf("creating account: %v", err)
	}
	auth := NewAuthService(accounts, "test-secret", 3600)

	token, err := auth.Login("eve1", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	time.Sleep(1100 * time.Millisecond) // JWT timestamps have second resolution
	fresh, err := auth.RefreshToken(token)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	oldClaims, _ := auth.ValidateToken(token)
	newClaims, err := auth.ValidateToken(fresh)
	if err != nil {
		t.Fatalf("validating refreshed token: %v", err)
	}
	if !newClaims.ExpiresAt.After(oldClaims.ExpiresAt.Time) {
		t.Error("refreshed token does not extend expiry")
	}
}
