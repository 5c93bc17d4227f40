package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	cose "github.com/veraison/go-cose"
)

// VerifyNSMSignature verifies the COSE_Sign1 signature of an NSM
// attestation document against its signing certificate. AWS Nitro
// emits the document as an untagged 4-element array signed with ES384,
// so the Sig_structure is rebuilt manually instead of going through
// the tagged-message parser.
func VerifyNSMSignature(coseBytes []byte, certB64 string) error {
	certDER, err := base64.StdEncoding.DecodeString(certB64)
	if err != nil {
		return fmt.Errorf("decode certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}

	var coseArray []any
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return fmt.Errorf("parse COSE array: %w", err)
	}

	if len(coseArray) != 4 {
		return fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	protectedBytes, ok := coseArray[0].([]byte)
	if !ok {
		return fmt.Errorf("invalid protected headers")
	}
	payload, ok := coseArray[2].([]byte)
	if !ok {
		return fmt.Errorf("invalid payload")
	}
	signature, ok := coseArray[3].([]byte)
	if !ok {
		return fmt.Errorf("invalid signature")
	}

	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	// Sig_structure for COSE_Sign1: ["Signature1", protected,
	// external_aad, payload]; attestations use empty external_aad.
	sigStructure := []any{
		"Signature1",
		protectedBytes,
		[]byte{},
		payload,
	}

	sigStructureBytes, err := cbor.Marshal(sigStructure)
	if err != nil {
		return fmt.Errorf("marshal Sig_structure: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}

	if err := verifier.Verify(sigStructureBytes, signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}

	return nil
}

// VerifyProofSignature verifies an engine-signed settlement proof
// (tagged COSE_Sign1, ES256) against the engine's PEM public key and
// returns the embedded payload.
func VerifyProofSignature(coseBytes []byte, publicKeyPEM string) ([]byte, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("decode public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ecdsaKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(coseBytes); err != nil {
		return nil, fmt.Errorf("parse proof COSE: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, ecdsaKey)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("proof signature verification failed: %w", err)
	}
	return msg.Payload, nil
}
