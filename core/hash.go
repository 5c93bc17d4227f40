package core

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ComputeAllocationHash computes the digest of one recorded allocation.
// Used by both the engine (to build settlement proofs) and validation
// (to verify them).
//
// Formula: SHA256(wallet_hex + "|" + token_hex + "|" + amount + "|" + nonce)
//
// Amounts are rendered with decimal.String, which is canonical for a
// given value, so the hash is independent of in-memory representation.
func ComputeAllocationHash(wallet, token common.Address, accepted decimal.Decimal, nonce string) string {
	data := fmt.Sprintf("%s|%s|%s|%s", wallet.Hex(), token.Hex(), accepted.String(), nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeTotalsHash computes the digest of the per-token aggregate
// totals.
//
// Formula: SHA256(nonce + "|" + sorted_token_total_pairs)
// where pairs are "token_hex:total|..." sorted by token hex string.
func ComputeTotalsHash(totals map[common.Address]decimal.Decimal, nonce string) string {
	keys := make([]string, 0, len(totals))
	byKey := make(map[string]decimal.Decimal, len(totals))
	for token, total := range totals {
		k := token.Hex()
		keys = append(keys, k)
		byKey[k] = total
	}
	sort.Strings(keys)

	data := nonce
	for _, k := range keys {
		data += fmt.Sprintf("|%s:%s", k, byKey[k].String())
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeSettlementHash computes the digest binding a finalized
// settlement: the sale identity, the sorted allocation hashes, and the
// accepted-totals hash.
//
// Formula: SHA256(sale_id + "|" + totals_hash + "|" + sorted_allocation_hashes)
func ComputeSettlementHash(saleID uuid.UUID, allocationHashes []string, totalsHash string) string {
	sorted := make([]string, len(allocationHashes))
	copy(sorted, allocationHashes)
	sort.Strings(sorted)

	data := saleID.String() + "|" + totalsHash
	for _, h := range sorted {
		data += "|" + h
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
