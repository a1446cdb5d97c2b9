package server

import (
	"crypto/x509"
	"path/filepath"
	"testing"
)

func TestSelfSignedTLSMintAndReuse(t *testing.T) {
	dir := t.TempDir()

	cfg, err := selfSignedTLS(dir)
	if err != nil {
		t.Fatalf("selfSignedTLS: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("got %d certificates, want 1", len(cfg.Certificates))
	}
	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatalf("parsing minted certificate: %v", err)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("certificate not valid for localhost: %v", err)
	}

	// A second call must reuse the minted pair, not replace it.
	cfg2, err := selfSignedTLS(dir)
	if err != nil {
		t.Fatalf("second selfSignedTLS: %v", err)
	}
	leaf2, err := x509.ParseCertificate(cfg2.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatalf("parsing reloaded certificate: %v", err)
	}
	if leaf.SerialNumber.Cmp(leaf2.SerialNumber) != 0 {
		t.Error("second boot minted a new certificate instead of reusing")
	}
	if !fileExists(filepath.Join(dir, selfSignedCert)) || !fileExists(filepath.Join(dir, selfSignedKey)) {
		t.Error("cert or key file missing from cert dir")
	}
}

func TestListenerTLSPrefersCertFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "given.crt")
	keyPath := filepath.Join(dir, "given.key")
	if err := mintSelfSigned(certPath, keyPath); err != nil {
		t.Fatalf("minting fixture pair: %v", err)
	}

	cfg := DefaultConf()
	cfg.TLSCert = certPath
	cfg.TLSKey = keyPath
	cfg.CertDir = filepath.Join(dir, "unused")

	tlsConf, err := cfg.listenerTLS()
	if err != nil {
		t.Fatalf("listenerTLS: %v", err)
	}
	if len(tlsConf.Certificates) != 1 {
		t.Fatalf("got %d certificates, want the provided one", len(tlsConf.Certificates))
	}
	if fileExists(filepath.Join(cfg.CertDir, selfSignedCert)) {
		t.Error("self-signed pair minted despite provided cert files")
	}
}
