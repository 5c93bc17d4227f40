package engine

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
	cose "github.com/veraison/go-cose"

	"github.com/sunrisedotdev/sonar-sub000/core"
	"github.com/sunrisedotdev/sonar-sub000/saleapi"
)

// Attester produces NSM attestation documents. Injected so tests (and
// non-enclave deployments) can run without the NSM device.
type Attester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// nsmAttester returns the real NSM handle, or an error outside an
// enclave.
func nsmAttester() (Attester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

func generateSecureRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return randomBytes, nil
}

func generateNonce() (string, error) {
	randomBytes, err := generateSecureRandomBytes(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate secure nonce: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// BuildSettlementProof assembles the proof payload for the sale's
// current settlement state. Allocation and totals hashes are computed
// with a fresh nonce; an auditor holding a ledger export and the nonce
// can recompute and compare every digest.
func BuildSettlementProof(sale *core.Sale) (*saleapi.SettlementProof, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, err
	}

	wallets, err := sale.WalletRange(0, sale.WalletCount())
	if err != nil {
		return nil, fmt.Errorf("read wallets: %w", err)
	}

	var allocationHashes []string
	for _, w := range wallets {
		for _, ta := range w.Accepted {
			if ta.Amount.Sign() > 0 {
				allocationHashes = append(allocationHashes,
					core.ComputeAllocationHash(w.Address, ta.Token, ta.Amount, nonce))
			}
		}
	}

	totals := make(map[common.Address]decimal.Decimal)
	var totalAccepted []core.TokenAmount
	for _, tok := range sale.PaymentTokens() {
		amount := sale.TotalAccepted(tok.Address)
		totals[tok.Address] = amount
		totalAccepted = append(totalAccepted, core.TokenAmount{Token: tok.Address, Amount: amount})
	}
	totalsHash := core.ComputeTotalsHash(totals, nonce)

	return &saleapi.SettlementProof{
		SaleID:           sale.ID(),
		TotalAccepted:    totalAccepted,
		AllocationCount:  len(allocationHashes),
		EntityCount:      sale.EntityCount(),
		WalletCount:      sale.WalletCount(),
		TotalsHash:       totalsHash,
		SettlementHash:   core.ComputeSettlementHash(sale.ID(), allocationHashes, totalsHash),
		AllocationHashes: allocationHashes,
		Nonce:            nonce,
		Timestamp:        time.Now().UTC(),
	}, nil
}

// SignProof CBOR-encodes the proof and signs it as a COSE_Sign1
// document with the engine's key.
func SignProof(km *KeyManager, proof *saleapi.SettlementProof) (saleapi.AttestationCOSE, error) {
	payload, err := cbor.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("marshal proof payload: %w", err)
	}

	signer, err := cose.NewSigner(cose.AlgorithmES256, km.privateKey)
	if err != nil {
		return nil, fmt.Errorf("create COSE signer: %w", err)
	}

	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
		},
	}
	signed, err := cose.Sign1(rand.Reader, signer, headers, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("COSE sign proof: %w", err)
	}
	return saleapi.AttestationCOSE(signed), nil
}

// AttestProof embeds the proof in an NSM attestation document. The
// attester binds the proof to the enclave's PCR measurements; callers
// without an attester skip this and rely on the COSE signature alone.
func AttestProof(attester Attester, proof *saleapi.SettlementProof) (saleapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	userDataBytes, err := json.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("marshal proof user data: %w", err)
	}
	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		return nil, fmt.Errorf("NSM attestation failed: %w", err)
	}
	return saleapi.AttestationCOSE(attestationCBOR), nil
}
