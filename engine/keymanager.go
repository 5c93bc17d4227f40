package engine

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// KeyManager holds the engine's ECDSA P-256 signing key. Proofs signed
// with it are verifiable offline against the exported public key.
type KeyManager struct {
	privateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// NewKeyManager generates a fresh signing key pair.
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &KeyManager{
		privateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
	}, nil
}

// PublicKeyPEM returns the public key in PEM form for distribution to
// auditors.
func (km *KeyManager) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(km.PublicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}
	return string(pem.EncodeToMemory(pemBlock)), nil
}
