package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// JournalTreasury records escrow collections and payouts as JSON lines
// on an append-only writer. The actual value movement happens on the
// hosting ledger; the journal is the engine-side instruction stream an
// operator replays against it.
type JournalTreasury struct {
	w io.Writer
}

// NewJournalTreasury wraps an append-only writer.
func NewJournalTreasury(w io.Writer) *JournalTreasury {
	return &JournalTreasury{w: w}
}

type journalEntry struct {
	Direction string          `json:"direction"` // "collect" or "payout"
	Account   common.Address  `json:"account"`
	Token     common.Address  `json:"token"`
	Amount    decimal.Decimal `json:"amount"`
	At        time.Time       `json:"at"`
}

func (t *JournalTreasury) write(direction string, account, token common.Address, amount decimal.Decimal) error {
	entry := journalEntry{
		Direction: direction,
		Account:   account,
		Token:     token,
		Amount:    amount,
		At:        time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode treasury journal entry: %w", err)
	}
	if _, err := t.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append treasury journal: %w", err)
	}
	return nil
}

// Collect implements core.Treasury.
func (t *JournalTreasury) Collect(wallet, token common.Address, amount decimal.Decimal) error {
	return t.write("collect", wallet, token, amount)
}

// Payout implements core.Treasury.
func (t *JournalTreasury) Payout(recipient, token common.Address, amount decimal.Decimal) error {
	return t.write("payout", recipient, token, amount)
}
