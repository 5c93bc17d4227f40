package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// The read-only pagination contract consumed by external indexers:
// count() plus readAt(index) / readRange(from, to) with from inclusive
// and to exclusive. Identifiers are the entity UUID and the wallet
// address, stable across updates to the same record; only the current
// record is retrievable.

// TokenAmount pairs a payment token with an amount. Views serialize
// amounts in the fixed token registration order so repeated reads are
// byte-stable.
type TokenAmount struct {
	Token  common.Address  `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

// EntityView is the externally visible snapshot of an entity.
type EntityView struct {
	ID        uuid.UUID        `json:"id"`
	Bid       Bid              `json:"bid"`
	Wallets   []common.Address `json:"wallets"`
	Cancelled bool             `json:"cancelled"`
	Refunded  bool             `json:"refunded"`
}

// WalletView is the externally visible snapshot of a wallet's ledger.
type WalletView struct {
	Address   common.Address `json:"address"`
	EntityID  uuid.UUID      `json:"entity_id"`
	Committed []TokenAmount  `json:"committed"`
	Accepted  []TokenAmount  `json:"accepted"`
	Refunded  []TokenAmount  `json:"refunded"`
}

// EntityCount returns the number of entities ever created.
func (s *Sale) EntityCount() int { return len(s.entityOrder) }

// WalletCount returns the number of wallets ever bound.
func (s *Sale) WalletCount() int { return len(s.walletOrder) }

// EntityAt returns the entity at index in insertion order.
func (s *Sale) EntityAt(index int) (EntityView, error) {
	if index < 0 || index >= len(s.entityOrder) {
		return EntityView{}, fmt.Errorf("entity index %d out of range [0, %d)", index, len(s.entityOrder))
	}
	return s.entityView(s.entities[s.entityOrder[index]]), nil
}

// EntityRange returns entities in [from, to) in insertion order.
func (s *Sale) EntityRange(from, to int) ([]EntityView, error) {
	if from < 0 || to < from || to > len(s.entityOrder) {
		return nil, fmt.Errorf("entity range [%d, %d) out of bounds [0, %d)", from, to, len(s.entityOrder))
	}
	out := make([]EntityView, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, s.entityView(s.entities[s.entityOrder[i]]))
	}
	return out, nil
}

// WalletAt returns the wallet at index in insertion order.
func (s *Sale) WalletAt(index int) (WalletView, error) {
	if index < 0 || index >= len(s.walletOrder) {
		return WalletView{}, fmt.Errorf("wallet index %d out of range [0, %d)", index, len(s.walletOrder))
	}
	return s.walletView(s.wallets[s.walletOrder[index]]), nil
}

// WalletRange returns wallets in [from, to) in insertion order.
func (s *Sale) WalletRange(from, to int) ([]WalletView, error) {
	if from < 0 || to < from || to > len(s.walletOrder) {
		return nil, fmt.Errorf("wallet range [%d, %d) out of bounds [0, %d)", from, to, len(s.walletOrder))
	}
	out := make([]WalletView, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, s.walletView(s.wallets[s.walletOrder[i]]))
	}
	return out, nil
}

// EntityView returns the snapshot of one entity by identifier.
func (s *Sale) EntityView(entityID uuid.UUID) (EntityView, bool) {
	e, ok := s.entities[entityID]
	if !ok {
		return EntityView{}, false
	}
	return s.entityView(e), true
}

// WalletView returns the snapshot of one wallet by address.
func (s *Sale) WalletView(addr common.Address) (WalletView, bool) {
	w, ok := s.wallets[addr]
	if !ok {
		return WalletView{}, false
	}
	return s.walletView(w), true
}

func (s *Sale) entityView(e *Entity) EntityView {
	wallets := make([]common.Address, len(e.Wallets))
	copy(wallets, e.Wallets)
	return EntityView{
		ID:        e.ID,
		Bid:       e.Bid,
		Wallets:   wallets,
		Cancelled: e.Cancelled,
		Refunded:  e.Refunded,
	}
}

func (s *Sale) walletView(w *Wallet) WalletView {
	view := WalletView{
		Address:   w.Address,
		EntityID:  w.EntityID,
		Committed: make([]TokenAmount, 0, len(s.tokens)),
		Accepted:  make([]TokenAmount, 0, len(s.tokens)),
		Refunded:  make([]TokenAmount, 0, len(s.tokens)),
	}
	for _, tok := range s.tokens {
		view.Committed = append(view.Committed, TokenAmount{Token: tok.Address, Amount: w.committed(tok.Address)})
		view.Accepted = append(view.Accepted, TokenAmount{Token: tok.Address, Amount: w.accepted(tok.Address)})
		view.Refunded = append(view.Refunded, TokenAmount{Token: tok.Address, Amount: s.WalletRefunded(w.Address, tok.Address)})
	}
	return view
}
