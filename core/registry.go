package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// checkBind verifies that wallet can be (or already is) bound to
// entityID without mutating anything. The bid path runs this before the
// escrow transfer so a failed transfer leaves no half-created records.
func (s *Sale) checkBind(entityID uuid.UUID, wallet common.Address) error {
	if w, ok := s.wallets[wallet]; ok {
		if w.EntityID != entityID {
			return ErrWalletTiedToAnotherEntity
		}
		return nil
	}
	if e, ok := s.entities[entityID]; ok && len(e.Wallets) >= s.maxWalletsPerEntity {
		return ErrMaxWalletsPerEntityExceeded
	}
	return nil
}

// bindWallet creates the wallet record and, on an entity's first
// wallet, the entity itself. Insertion order is tracked for the
// deterministic enumeration the pagination views and refund fan-out
// rely on. checkBind must have passed.
func (s *Sale) bindWallet(entityID uuid.UUID, wallet common.Address) (*Entity, *Wallet) {
	e, ok := s.entities[entityID]
	if !ok {
		e = &Entity{ID: entityID}
		s.entities[entityID] = e
		s.entityOrder = append(s.entityOrder, entityID)
	}
	w, ok := s.wallets[wallet]
	if !ok {
		w = newWallet(wallet, entityID)
		s.wallets[wallet] = w
		s.walletOrder = append(s.walletOrder, wallet)
		e.Wallets = append(e.Wallets, wallet)
	}
	return e, w
}

// entityOf looks up the entity a wallet belongs to.
func (s *Sale) entityOf(wallet common.Address) (*Entity, bool) {
	w, ok := s.wallets[wallet]
	if !ok {
		return nil, false
	}
	e, ok := s.entities[w.EntityID]
	return e, ok
}
