package validation

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"

	"github.com/sunrisedotdev/sonar-sub000/core"
	"github.com/sunrisedotdev/sonar-sub000/saleapi"
)

// SettlementValidationInput bundles everything an auditor holds: the
// engine-signed proof, the engine public key it distributed, the
// ledger export the proof claims to describe, and optionally the NSM
// attestation emitted alongside the proof.
type SettlementValidationInput struct {
	ProofCOSE       []byte
	PublicKeyPEM    string
	Export          *core.Export
	AttestationCOSE []byte // optional
}

// ValidateSettlementProof verifies a settlement proof offline: the
// COSE signature, every digest recomputed from the export with the
// proof's nonce, the aggregate totals, and the ledger's conservation
// invariants. When an attestation is supplied its PCRs, certificate
// chain and signature are checked and its embedded proof must carry
// the same settlement hash.
func ValidateSettlementProof(input *SettlementValidationInput) (*ProofValidationResult, error) {
	if input.Export == nil {
		return nil, fmt.Errorf("ledger export is required")
	}

	result := &ProofValidationResult{
		ValidationDetails: []string{},
	}

	payload, err := VerifyProofSignature(input.ProofCOSE, input.PublicKeyPEM)
	if err != nil {
		result.SignatureValid = false
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Proof signature verification failed: %v", err))
		return result, nil
	}
	result.SignatureValid = true
	result.ValidationDetails = append(result.ValidationDetails, "Proof signature verified")

	var proof saleapi.SettlementProof
	if err := cbor.Unmarshal(payload, &proof); err != nil {
		return nil, fmt.Errorf("parse proof payload: %w", err)
	}

	result.DigestsValid = validateDigests(&proof, input.Export, result)
	result.TotalsValid = validateTotals(&proof, input.Export, result)
	result.ConservationHeld = auditConservation(input.Export, result)

	if len(input.AttestationCOSE) > 0 {
		attResult, err := ValidateAttestation(input.AttestationCOSE)
		if err != nil {
			return nil, fmt.Errorf("validate attestation: %w", err)
		}
		attested, err := ParseSettlementAttestation(input.AttestationCOSE)
		if err != nil {
			return nil, fmt.Errorf("parse attestation: %w", err)
		}
		if attested.UserData == nil || attested.UserData.SettlementHash != proof.SettlementHash {
			attResult.SignatureValid = false
			attResult.ValidationDetails = append(attResult.ValidationDetails, "Attestation does not embed the proof's settlement hash")
		}
		result.Attestation = attResult
	}

	return result, nil
}

// validateDigests recomputes every allocation hash and the settlement
// hash from the export with the proof's nonce.
func validateDigests(proof *saleapi.SettlementProof, exp *core.Export, result *ProofValidationResult) bool {
	if exp.SaleID != proof.SaleID {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Sale ID mismatch: export %s, proof %s", exp.SaleID, proof.SaleID))
		return false
	}
	if proof.EntityCount != len(exp.Entities) || proof.WalletCount != len(exp.Wallets) {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Count mismatch: proof %d/%d entities/wallets, export %d/%d",
				proof.EntityCount, proof.WalletCount, len(exp.Entities), len(exp.Wallets)))
		return false
	}

	var recomputed []string
	for _, w := range exp.Wallets {
		for _, ta := range w.Accepted {
			if ta.Amount.Sign() > 0 {
				recomputed = append(recomputed,
					core.ComputeAllocationHash(w.Address, ta.Token, ta.Amount, proof.Nonce))
			}
		}
	}
	if len(recomputed) != len(proof.AllocationHashes) {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Allocation count mismatch: recomputed %d, proof %d", len(recomputed), len(proof.AllocationHashes)))
		return false
	}

	attested := make([]string, len(proof.AllocationHashes))
	copy(attested, proof.AllocationHashes)
	sort.Strings(attested)
	sort.Strings(recomputed)
	for i := range attested {
		if attested[i] != recomputed[i] {
			result.ValidationDetails = append(result.ValidationDetails, "Allocation hashes do not match the export")
			return false
		}
	}

	settlementHash := core.ComputeSettlementHash(proof.SaleID, proof.AllocationHashes, proof.TotalsHash)
	if settlementHash != proof.SettlementHash {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Settlement hash mismatch: recomputed %s, proof %s", settlementHash, proof.SettlementHash))
		return false
	}

	result.ValidationDetails = append(result.ValidationDetails,
		fmt.Sprintf("All %d allocation digests and the settlement hash verified", len(recomputed)))
	return true
}

// validateTotals checks the proof's accepted totals and totals hash
// against the export aggregates.
func validateTotals(proof *saleapi.SettlementProof, exp *core.Export, result *ProofValidationResult) bool {
	exported := make(map[common.Address]decimal.Decimal, len(exp.TotalAccepted))
	for _, ta := range exp.TotalAccepted {
		exported[ta.Token] = ta.Amount
	}

	claimed := make(map[common.Address]decimal.Decimal, len(proof.TotalAccepted))
	for _, ta := range proof.TotalAccepted {
		claimed[ta.Token] = ta.Amount
	}
	if len(claimed) != len(exported) {
		result.ValidationDetails = append(result.ValidationDetails, "Proof token set differs from export")
		return false
	}
	for token, amount := range exported {
		if !claimed[token].Equal(amount) {
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Accepted total mismatch for token %s: export %s, proof %s", token.Hex(), amount, claimed[token]))
			return false
		}
	}

	totalsHash := core.ComputeTotalsHash(exported, proof.Nonce)
	if totalsHash != proof.TotalsHash {
		result.ValidationDetails = append(result.ValidationDetails, "Totals hash does not match the export")
		return false
	}

	result.ValidationDetails = append(result.ValidationDetails, "Accepted totals and totals hash verified")
	return true
}

// auditConservation checks the ledger invariants the core maintains:
// per-token committed totals equal the wallet sums, accepted never
// exceeds committed, withdrawn never exceeds accepted, and refunded
// entities are paid out completely.
func auditConservation(exp *core.Export, result *ProofValidationResult) bool {
	committedSums := make(map[common.Address]decimal.Decimal)
	acceptedSums := make(map[common.Address]decimal.Decimal)
	for _, w := range exp.Wallets {
		for _, ta := range w.Committed {
			committedSums[ta.Token] = committedSums[ta.Token].Add(ta.Amount)
		}
		for i := range w.Accepted {
			acceptedSums[w.Accepted[i].Token] = acceptedSums[w.Accepted[i].Token].Add(w.Accepted[i].Amount)
			if w.Accepted[i].Amount.GreaterThan(w.Committed[i].Amount) {
				result.ValidationDetails = append(result.ValidationDetails,
					fmt.Sprintf("Wallet %s: accepted exceeds committed for token %s", w.Address.Hex(), w.Accepted[i].Token.Hex()))
				return false
			}
		}
	}

	totals := func(list []core.TokenAmount) map[common.Address]decimal.Decimal {
		m := make(map[common.Address]decimal.Decimal, len(list))
		for _, ta := range list {
			m[ta.Token] = ta.Amount
		}
		return m
	}
	totalCommitted := totals(exp.TotalCommitted)
	totalAccepted := totals(exp.TotalAccepted)
	totalWithdrawn := totals(exp.TotalWithdrawn)

	for _, tok := range exp.Tokens {
		if !committedSums[tok.Address].Equal(totalCommitted[tok.Address]) {
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Token %s: committed total %s differs from wallet sum %s",
					tok.Address.Hex(), totalCommitted[tok.Address], committedSums[tok.Address]))
			return false
		}
		if !acceptedSums[tok.Address].Equal(totalAccepted[tok.Address]) {
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Token %s: accepted total %s differs from wallet sum %s",
					tok.Address.Hex(), totalAccepted[tok.Address], acceptedSums[tok.Address]))
			return false
		}
		if totalWithdrawn[tok.Address].GreaterThan(totalAccepted[tok.Address]) {
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Token %s: withdrawn exceeds accepted", tok.Address.Hex()))
			return false
		}
	}

	wallets := make(map[common.Address]*core.WalletView, len(exp.Wallets))
	for i := range exp.Wallets {
		wallets[exp.Wallets[i].Address] = &exp.Wallets[i]
	}
	for _, e := range exp.Entities {
		if !e.Refunded {
			continue
		}
		for _, addr := range e.Wallets {
			w := wallets[addr]
			if w == nil {
				result.ValidationDetails = append(result.ValidationDetails,
					fmt.Sprintf("Entity %s references unknown wallet %s", e.ID, addr.Hex()))
				return false
			}
			for i := range w.Committed {
				paid := w.Committed[i].Amount.Sub(w.Accepted[i].Amount)
				if !w.Refunded[i].Amount.Equal(paid) {
					result.ValidationDetails = append(result.ValidationDetails,
						fmt.Sprintf("Wallet %s: refund incomplete for token %s", addr.Hex(), w.Committed[i].Token.Hex()))
					return false
				}
			}
		}
	}

	result.ValidationDetails = append(result.ValidationDetails, "Conservation invariants hold")
	return true
}
