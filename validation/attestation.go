package validation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/sunrisedotdev/sonar-sub000/saleapi"
	"github.com/sunrisedotdev/sonar-sub000/saleapi/parsing"
)

// ParseAttestationDoc decodes an NSM attestation COSE document into
// its structured form plus the raw user data bytes.
func ParseAttestationDoc(coseBytes []byte) (*saleapi.AttestationDoc, []byte, error) {
	payload, err := parsing.ExtractCOSEPayload(coseBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("extract COSE payload: %w", err)
	}

	var raw parsing.NitroAttestationDocument
	if err := cbor.Unmarshal(payload, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse attestation CBOR: %w", err)
	}

	doc := &saleapi.AttestationDoc{
		ModuleID:        raw.ModuleID,
		Timestamp:       time.UnixMilli(int64(raw.Timestamp)),
		DigestAlgorithm: raw.Digest,
		PCRs:            parsing.ExtractPCRs(raw.PCRs),
		Certificate:     base64.StdEncoding.EncodeToString(raw.Certificate),
		CABundle:        parsing.EncodeCertificateBundle(raw.CABundle),
		PublicKey:       base64.StdEncoding.EncodeToString(raw.PublicKey),
		Nonce:           string(raw.Nonce),
	}
	return doc, raw.UserData, nil
}

// ParseSettlementAttestation decodes an attestation whose user data
// embeds a settlement proof.
func ParseSettlementAttestation(coseBytes []byte) (*saleapi.SettlementAttestationDoc, error) {
	doc, userData, err := ParseAttestationDoc(coseBytes)
	if err != nil {
		return nil, err
	}
	result := &saleapi.SettlementAttestationDoc{AttestationDoc: *doc}
	if len(userData) > 0 {
		var proof saleapi.SettlementProof
		if err := json.Unmarshal(userData, &proof); err != nil {
			return nil, fmt.Errorf("parse attestation user data: %w", err)
		}
		result.UserData = &proof
	}
	return result, nil
}

// ValidateAttestation runs the checks every NSM attestation gets: PCR
// allowlist, certificate chain, COSE signature.
func ValidateAttestation(coseBytes []byte) (*BaseValidationResult, error) {
	doc, _, err := ParseAttestationDoc(coseBytes)
	if err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}

	result := &BaseValidationResult{
		ValidationDetails: []string{},
	}

	knownPCRs, err := LoadPCRsFromFile(DefaultPCRConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load PCR configuration: %w", err)
	}

	pcrMatch, matchedSet := ValidatePCRs(doc.PCRs, knownPCRs)
	result.PCRsValid = pcrMatch
	if !pcrMatch {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR0: %s (no match)", doc.PCRs.ImageFileHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR1: %s (no match)", doc.PCRs.KernelHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR2: %s (no match)", doc.PCRs.ApplicationHash))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "PCR measurements valid")
		if matchedSet >= 0 && matchedSet < len(knownPCRs) {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Matched PCR set: #%d (commit: %s)",
				matchedSet, knownPCRs[matchedSet].CommitHash))
		}
	}

	if doc.Certificate == "" {
		result.CertificateValid = false
		result.ValidationDetails = append(result.ValidationDetails, "Missing certificate")
	} else if len(doc.CABundle) == 0 {
		result.CertificateValid = false
		result.ValidationDetails = append(result.ValidationDetails, "Missing CA bundle")
	} else if err := ValidateCertificateChain(doc.Certificate, doc.CABundle); err != nil {
		result.CertificateValid = false
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Certificate chain validation failed: %v", err))
	} else {
		result.CertificateValid = true
		result.ValidationDetails = append(result.ValidationDetails, "Certificate chain verified")
	}

	if err := VerifyNSMSignature(coseBytes, doc.Certificate); err != nil {
		result.SignatureValid = false
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("COSE signature verification failed: %v", err))
	} else {
		result.SignatureValid = true
		result.ValidationDetails = append(result.ValidationDetails, "COSE signature verified")
	}

	return result, nil
}
