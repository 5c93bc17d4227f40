package saleapi

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sunrisedotdev/sonar-sub000/core"
)

// allocationCSVHeader is the required header of an allocation batch
// file, matched case-insensitively.
var allocationCSVHeader = []string{"ENTITY_ID", "WALLET", "TOKEN", "ACCEPTED_AMOUNT"}

// ParseAllocationCSV decodes an allocation batch from CSV. Row order is
// preserved; no ledger checks happen here, see PrevalidateAllocations.
func ParseAllocationCSV(r io.Reader) ([]core.AllocationEntry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read allocation header: %w", err)
	}
	if len(header) != len(allocationCSVHeader) {
		return nil, fmt.Errorf("allocation header has %d columns, want %d", len(header), len(allocationCSVHeader))
	}
	for i, want := range allocationCSVHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return nil, fmt.Errorf("allocation header column %d is %q, want %q", i, header[i], want)
		}
	}

	var entries []core.AllocationEntry
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read allocation row: %w", err)
		}
		line++

		entityID, err := uuid.Parse(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: entity id: %w", line, err)
		}
		wallet, err := parseAddress(record[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: wallet: %w", line, err)
		}
		token, err := parseAddress(record[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: token: %w", line, err)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(record[3]))
		if err != nil {
			return nil, fmt.Errorf("line %d: accepted amount: %w", line, err)
		}

		entries = append(entries, core.AllocationEntry{
			EntityID: entityID,
			Wallet:   wallet,
			Token:    token,
			Accepted: amount,
		})
	}
	return entries, nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// PrevalidateAllocations checks a batch against a ledger export before
// submission: no zero or negative entries, no duplicate (entity,
// wallet, token) tuples, referenced entities exist and are not refunded
// or cancelled, wallets belong to their claimed entity, and every
// accepted amount stays within the wallet's commitment. The engine
// rechecks all of this transactionally on submission; this exists so
// operator tooling fails fast on a bad file.
func PrevalidateAllocations(entries []core.AllocationEntry, exp *core.Export) error {
	entities := make(map[uuid.UUID]*core.EntityView, len(exp.Entities))
	for i := range exp.Entities {
		entities[exp.Entities[i].ID] = &exp.Entities[i]
	}
	wallets := make(map[common.Address]*core.WalletView, len(exp.Wallets))
	for i := range exp.Wallets {
		wallets[exp.Wallets[i].Address] = &exp.Wallets[i]
	}

	type tuple struct {
		entity uuid.UUID
		wallet common.Address
		token  common.Address
	}
	seen := make(map[tuple]struct{}, len(entries))

	for i, entry := range entries {
		if entry.Accepted.Sign() <= 0 {
			return fmt.Errorf("entry %d: zero or negative accepted amount", i)
		}
		key := tuple{entity: entry.EntityID, wallet: entry.Wallet, token: entry.Token}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("entry %d: duplicate tuple (%s, %s, %s)", i, entry.EntityID, entry.Wallet.Hex(), entry.Token.Hex())
		}
		seen[key] = struct{}{}

		e, ok := entities[entry.EntityID]
		if !ok {
			return fmt.Errorf("entry %d: unknown entity %s", i, entry.EntityID)
		}
		if e.Refunded {
			return fmt.Errorf("entry %d: entity %s already refunded", i, entry.EntityID)
		}
		if e.Cancelled {
			return fmt.Errorf("entry %d: entity %s cancelled", i, entry.EntityID)
		}
		w, ok := wallets[entry.Wallet]
		if !ok || w.EntityID != entry.EntityID {
			return fmt.Errorf("entry %d: wallet %s not bound to entity %s", i, entry.Wallet.Hex(), entry.EntityID)
		}
		committed := decimal.Zero
		for _, ta := range w.Committed {
			if ta.Token == entry.Token {
				committed = ta.Amount
				break
			}
		}
		if entry.Accepted.GreaterThan(committed) {
			return fmt.Errorf("entry %d: accepted %s exceeds committed %s for wallet %s token %s",
				i, entry.Accepted, committed, entry.Wallet.Hex(), entry.Token.Hex())
		}
	}
	return nil
}
