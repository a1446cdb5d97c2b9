package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrBadKeyMaterial is returned when peer key material cannot be parsed.
// A handshake that hits this error is fatal to the session.
var ErrBadKeyMaterial = errors.New("keys: bad key material")

const keyBits = 2048

// Pair holds one side's RSA keypair for the connection handshake.
type Pair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Generate creates a new RSA-2048 keypair.
func Generate() (*Pair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return &Pair{Private: priv, Public: &priv.PublicKey}, nil
}

// MarshalPublic serializes a public key as a PEM-encoded PKIX block,
// the format exchanged on the wire during the handshake.
func MarshalPublic(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal public: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublic parses a PEM-encoded PKIX public key received from a peer.
func ParsePublic(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrBadKeyMaterial)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrBadKeyMaterial)
	}
	return pub, nil
}

// Encrypt encrypts plaintext under the peer's public key using OAEP with
// SHA-256 for both the digest and the mask generation function.
func Encrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: encrypt: %w", err)
	}
	return out, nil
}

// Decrypt decrypts an OAEP/SHA-256 ciphertext with our private key.
func Decrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: decrypt: %w", err)
	}
	return out, nil
}
