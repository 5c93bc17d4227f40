package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlaceBid processes a wallet's commitment during the Commitment stage:
//
//  1. Validate the permit (identity, expiry, sender, window, signer).
//  2. Reject tokens outside the registered payment token set.
//  3. Reject a zero bid amount.
//  4. Enforce the permit's price bounds.
//  5. Enforce the permit's amount bounds.
//  6. Enforce forced lockup when the permit payload demands it.
//  7. Enforce monotonicity against the entity's previous bid.
//  8. Bind the wallet, replace the entity's bid, add the amount delta
//     to the wallet's and the token's committed totals.
//
// Exactly the delta between the new and previous bid amount is escrowed
// through the treasury; the transfer and the ledger update succeed or
// fail as one unit.
func (s *Sale) PlaceBid(caller common.Address, token common.Address, bid Bid, permit *Permit, signature []byte) error {
	if err := s.requireStage(StageCommitment); err != nil {
		return err
	}
	if err := s.validatePermit(caller, permit, signature); err != nil {
		return err
	}
	if !s.isToken(token) {
		return ErrInvalidPaymentToken
	}
	if bid.Amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if bid.Price < permit.MinPrice {
		return ErrBidPriceBelowMinPrice
	}
	if bid.Price > permit.MaxPrice {
		return ErrBidPriceExceedsMaxPrice
	}
	if bid.Amount.LessThan(permit.MinAmount) {
		return ErrBidBelowMinAmount
	}
	if bid.Amount.GreaterThan(permit.MaxAmount) {
		return ErrBidExceedsMaxAmount
	}
	if permit.ForcedLockup() && !bid.Lockup {
		return ErrBidMustHaveLockup
	}

	var prev Bid
	if e, ok := s.entities[permit.EntityID]; ok {
		if e.Cancelled {
			return ErrBidAlreadyCancelled
		}
		if e.Refunded {
			// Guards against reopening Commitment after partial refunds.
			return ErrAlreadyRefunded
		}
		prev = e.Bid
	}
	if bid.Amount.LessThan(prev.Amount) {
		return ErrBidAmountCannotBeLowered
	}
	if bid.Price < prev.Price {
		return ErrBidPriceCannotBeLowered
	}
	if prev.Lockup && !bid.Lockup {
		return ErrBidLockupCannotBeUndone
	}
	if err := s.checkBind(permit.EntityID, caller); err != nil {
		return err
	}

	delta := bid.Amount.Sub(prev.Amount)
	if delta.Sign() > 0 {
		// Escrow first: a failed transfer must leave the ledger and the
		// registry untouched.
		if err := s.treasury.Collect(caller, token, delta); err != nil {
			return err
		}
	}

	e, w := s.bindWallet(permit.EntityID, caller)
	e.Bid = bid
	w.Committed[token] = w.committed(token).Add(delta)
	s.totalCommitted[token] = s.TotalCommitted(token).Add(delta)
	return nil
}

// EntityBid returns the current bid of an entity, zero-valued if the
// entity has never bid.
func (s *Sale) EntityBid(entityID uuid.UUID) (Bid, bool) {
	e, ok := s.entities[entityID]
	if !ok {
		return Bid{}, false
	}
	return e.Bid, true
}

// WalletCommitted returns a wallet's committed amount for token, zero
// if the wallet or token is unknown.
func (s *Sale) WalletCommitted(wallet, token common.Address) decimal.Decimal {
	if w, ok := s.wallets[wallet]; ok {
		return w.committed(token)
	}
	return decimal.Zero
}

// WalletAccepted returns a wallet's accepted amount for token.
func (s *Sale) WalletAccepted(wallet, token common.Address) decimal.Decimal {
	if w, ok := s.wallets[wallet]; ok {
		return w.accepted(token)
	}
	return decimal.Zero
}

// WalletRefunded returns the amount already paid back to wallet for
// token.
func (s *Sale) WalletRefunded(wallet, token common.Address) decimal.Decimal {
	if w, ok := s.wallets[wallet]; ok {
		if v, has := w.Refunded[token]; has {
			return v
		}
	}
	return decimal.Zero
}
