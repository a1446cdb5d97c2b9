package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

const (
	selfSignedCert = "server.crt"
	selfSignedKey  = "server.key"
	selfSignedTTL  = 2 * 365 * 24 * time.Hour
)

// listenerTLS resolves the tls.Config for the encrypted game listener.
// A configured domain wins and uses Let's Encrypt; otherwise operator
// cert/key files are loaded; with neither, a self-signed pair is minted
// under CertDir and reused on later boots.
func (c Conf) listenerTLS() (*tls.Config, error) {
	switch {
	case c.Domain != "":
		return autocertTLS(c.Domain, c.CertDir)
	case c.TLSCert != "" && c.TLSKey != "":
		log.Printf("tls: using cert %s with key %s", c.TLSCert, c.TLSKey)
		cert, err := tls.LoadX509KeyPair(c.TLSCert, c.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("loading TLS keypair: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	default:
		return selfSignedTLS(c.CertDir)
	}
}

func autocertTLS(domain, certDir string) (*tls.Config, error) {
	cacheDir := filepath.Join(certDir, "autocert-cache")
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return nil, fmt.Errorf("creating autocert cache: %w", err)
	}
	log.Printf("tls: managing certificate for %q via Let's Encrypt", domain)
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domain),
		Cache:      autocert.DirCache(cacheDir),
	}
	return m.TLSConfig(), nil
}

// selfSignedTLS loads the self-signed pair from certDir, minting it on the
// first boot. Suitable for development and LAN play only; clients must be
// told to skip verification.
func selfSignedTLS(certDir string) (*tls.Config, error) {
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return nil, fmt.Errorf("creating cert dir: %w", err)
	}
	certPath := filepath.Join(certDir, selfSignedCert)
	keyPath := filepath.Join(certDir, selfSignedKey)

	if !fileExists(certPath) || !fileExists(keyPath) {
		if err := mintSelfSigned(certPath, keyPath); err != nil {
			return nil, err
		}
		log.Printf("tls: new self-signed certificate in %s", certDir)
	} else {
		log.Printf("tls: reusing self-signed certificate from %s", certDir)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading self-signed keypair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// mintSelfSigned generates an ECDSA P-256 key and a certificate for
// localhost/loopback, writing both as PEM files.
func mintSelfSigned(certPath, keyPath string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating TLS key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generating serial: %w", err)
	}

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"storywalk"}, CommonName: "localhost"},
		NotBefore:             now,
		NotAfter:              now.Add(selfSignedTTL),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("encoding TLS key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", certPath, err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", keyPath, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
