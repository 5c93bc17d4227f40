package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/sunrisedotdev/sonar-sub000/core"
	"github.com/sunrisedotdev/sonar-sub000/validation"
)

func main() {
	var (
		proofPath       = flag.String("proof", "", "Settlement proof COSE file (binary or base64)")
		publicKeyPath   = flag.String("public-key", "", "Engine public key PEM file")
		exportPath      = flag.String("export", "", "Ledger export file (JSON or CBOR snapshot)")
		attestationPath = flag.String("attestation", "", "Optional NSM attestation COSE file (binary or base64)")
		outputFormat    = flag.String("format", "text", "Output format: text or json")
		help            = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *proofPath == "" || *publicKeyPath == "" || *exportPath == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --proof, --public-key and --export are required\n")
		os.Exit(1)
	}

	proofCOSE, err := readBinaryInput(*proofPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading proof: %v\n", err)
		os.Exit(2)
	}

	publicKeyPEM, err := os.ReadFile(*publicKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading public key: %v\n", err)
		os.Exit(2)
	}

	export, err := readExport(*exportPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading export: %v\n", err)
		os.Exit(2)
	}

	var attestationCOSE []byte
	if *attestationPath != "" {
		attestationCOSE, err = readBinaryInput(*attestationPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading attestation: %v\n", err)
			os.Exit(2)
		}
	}

	result, err := validation.ValidateSettlementProof(&validation.SettlementValidationInput{
		ProofCOSE:       proofCOSE,
		PublicKeyPEM:    string(publicKeyPEM),
		Export:          export,
		AttestationCOSE: attestationCOSE,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Settlement Proof Validator")
	fmt.Println()
	fmt.Println("Verifies an engine-signed settlement proof against a ledger export,")
	fmt.Println("recomputing every digest and auditing the conservation invariants.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  settlement-validator --proof <file> --public-key <file> --export <file> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --proof <file>                    COSE_Sign1 settlement proof (binary or base64)")
	fmt.Println("  --public-key <file>               Engine signing public key (PEM)")
	fmt.Println("  --export <file>                   Ledger export (JSON) or engine snapshot (CBOR)")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --attestation <file>              NSM attestation document (binary or base64)")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Proof and export fetched over the wire api")
	fmt.Println("  settlement-validator \\")
	fmt.Println("    --proof proof.cose \\")
	fmt.Println("    --public-key engine.pem \\")
	fmt.Println("    --export export.json")
	fmt.Println()
	fmt.Println("  # Against a disk snapshot, with the enclave attestation")
	fmt.Println("  settlement-validator \\")
	fmt.Println("    --proof proof.cose \\")
	fmt.Println("    --public-key engine.pem \\")
	fmt.Println("    --export sale.snapshot \\")
	fmt.Println("    --attestation attestation.cose")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

// readBinaryInput reads a file that holds either raw COSE bytes or a
// base64 encoding of them.
func readBinaryInput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return decoded, nil
	}
	return data, nil
}

// readExport accepts either the JSON export served by the wire api or
// the CBOR snapshot the engine writes to disk.
func readExport(path string) (*core.Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var export core.Export
	if jsonErr := json.Unmarshal(data, &export); jsonErr == nil {
		return &export, nil
	}
	if cborErr := cbor.Unmarshal(data, &export); cborErr == nil {
		return &export, nil
	}
	return nil, fmt.Errorf("export is neither JSON nor CBOR")
}

func outputText(result *validation.ProofValidationResult) {
	fmt.Println("Settlement Proof Validator")
	fmt.Println("==========================")
	fmt.Println()

	fmt.Println("Summary:")
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Digests Valid:           %v\n", result.DigestsValid)
	fmt.Printf("  Totals Valid:            %v\n", result.TotalsValid)
	fmt.Printf("  Conservation Held:       %v\n", result.ConservationHeld)
	if result.Attestation != nil {
		fmt.Printf("  Attestation PCRs:        %v\n", result.Attestation.PCRsValid)
		fmt.Printf("  Attestation Certificate: %v\n", result.Attestation.CertificateValid)
		fmt.Printf("  Attestation Signature:   %v\n", result.Attestation.SignatureValid)
	} else {
		fmt.Println("  Attestation:             not provided")
	}

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}
	if result.Attestation != nil {
		for _, detail := range result.Attestation.ValidationDetails {
			fmt.Printf("  - %s\n", detail)
		}
	}

	fmt.Println()
	fmt.Println("==========================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
		fmt.Println("Exit Code: 0")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
		fmt.Println("Exit Code: 1")
	}
}

func outputJSON(result *validation.ProofValidationResult) {
	output := map[string]any{
		"valid":             result.IsValid(),
		"signature_valid":   result.SignatureValid,
		"digests_valid":     result.DigestsValid,
		"totals_valid":      result.TotalsValid,
		"conservation_held": result.ConservationHeld,
		"details":           result.ValidationDetails,
	}
	if result.Attestation != nil {
		output["attestation"] = map[string]any{
			"pcrs_valid":        result.Attestation.PCRsValid,
			"certificate_valid": result.Attestation.CertificateValid,
			"signature_valid":   result.Attestation.SignatureValid,
			"details":           result.Attestation.ValidationDetails,
		}
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
