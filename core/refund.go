package core

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type payout struct {
	wallet *Wallet
	token  common.Address
	amount decimal.Decimal
}

// refund pays back, for every wallet of the entity and every payment
// token, the unaccepted portion of the commitment, and marks the entity
// refunded exactly once. All payouts go through the treasury before any
// ledger state changes, so a failed transfer aborts with nothing
// recorded.
func (s *Sale) refund(entityID uuid.UUID) error {
	e, ok := s.entities[entityID]
	if !ok {
		return ErrWalletNotAssociatedWithEntity
	}
	if e.Refunded || e.Cancelled {
		return ErrAlreadyRefunded
	}

	var payouts []payout
	for _, addr := range e.Wallets {
		w := s.wallets[addr]
		for _, tok := range s.tokens {
			amount := w.committed(tok.Address).Sub(w.accepted(tok.Address))
			if amount.Sign() > 0 {
				payouts = append(payouts, payout{wallet: w, token: tok.Address, amount: amount})
			}
		}
	}
	for _, p := range payouts {
		if err := s.treasury.Payout(p.wallet.Address, p.token, p.amount); err != nil {
			return err
		}
	}
	for _, p := range payouts {
		p.wallet.Refunded[p.token] = s.WalletRefunded(p.wallet.Address, p.token).Add(p.amount)
		s.totalRefunded[p.token] = s.TotalRefunded(p.token).Add(p.amount)
	}
	e.Refunded = true
	return nil
}

// Refund processes a single entity's refund. Stage Done only; requires
// the refund capability.
func (s *Sale) Refund(caller common.Address, entityID uuid.UUID) error {
	if err := s.access.Require(caller, CapabilityRefund); err != nil {
		return err
	}
	if err := s.requireStage(StageDone); err != nil {
		return err
	}
	return s.refund(entityID)
}

// RefundBatch refunds a list of entities. With skipAlreadyRefunded set,
// entities that were already processed are skipped instead of aborting
// the batch, which makes retries of partially processed batches
// idempotent. Returns the number of entities refunded by this call.
func (s *Sale) RefundBatch(caller common.Address, entityIDs []uuid.UUID, skipAlreadyRefunded bool) (int, error) {
	if err := s.access.Require(caller, CapabilityRefund); err != nil {
		return 0, err
	}
	if err := s.requireStage(StageDone); err != nil {
		return 0, err
	}
	refunded := 0
	for _, id := range entityIDs {
		err := s.refund(id)
		switch {
		case err == nil:
			refunded++
		case errors.Is(err, ErrAlreadyRefunded) && skipAlreadyRefunded:
			continue
		default:
			return refunded, err
		}
	}
	return refunded, nil
}

// ClaimRefund is the self-service path: the calling wallet claims the
// refund for its own entity. Gated by the administrative claim toggle.
func (s *Sale) ClaimRefund(caller common.Address) error {
	if err := s.requireStage(StageDone); err != nil {
		return err
	}
	if !s.claimEnabled {
		return ErrClaimRefundDisabled
	}
	e, ok := s.entityOf(caller)
	if !ok {
		return ErrWalletNotAssociatedWithEntity
	}
	return s.refund(e.ID)
}

// CancelBid returns an entity's full commitments during the
// Cancellation stage and marks the bid cancelled. Cancelled entities
// reject later bids, allocations and refunds.
func (s *Sale) CancelBid(caller common.Address, entityID uuid.UUID) error {
	if err := s.requireStage(StageCancellation); err != nil {
		return err
	}
	e, ok := s.entities[entityID]
	if !ok {
		return ErrWalletNotAssociatedWithEntity
	}
	if e.Cancelled {
		return ErrBidAlreadyCancelled
	}
	if e.Refunded {
		return ErrAlreadyRefunded
	}
	if _, own := s.entityOf(caller); !own || s.wallets[caller].EntityID != entityID {
		// Cancellation is initiated by one of the entity's own wallets
		// unless the caller holds the refund capability.
		if err := s.access.Require(caller, CapabilityRefund); err != nil {
			return err
		}
	}

	var payouts []payout
	for _, addr := range e.Wallets {
		w := s.wallets[addr]
		for _, tok := range s.tokens {
			amount := w.committed(tok.Address)
			if amount.Sign() > 0 {
				payouts = append(payouts, payout{wallet: w, token: tok.Address, amount: amount})
			}
		}
	}
	for _, p := range payouts {
		if err := s.treasury.Payout(p.wallet.Address, p.token, p.amount); err != nil {
			return err
		}
	}
	for _, p := range payouts {
		p.wallet.Committed[p.token] = decimal.Zero
		s.totalCommitted[p.token] = s.TotalCommitted(p.token).Sub(p.amount)
		s.totalRefunded[p.token] = s.TotalRefunded(p.token).Add(p.amount)
	}
	e.Cancelled = true
	return nil
}

// Withdraw pays the full per-token remainder of accepted proceeds to
// the receiver. Safe to call repeatedly: the cumulative withdrawn
// counter makes a second consecutive call a no-op.
func (s *Sale) Withdraw(caller common.Address) error {
	if err := s.access.Require(caller, CapabilityWithdraw); err != nil {
		return err
	}
	if err := s.requireStage(StageDone); err != nil {
		return err
	}
	var payouts []payout
	for _, tok := range s.tokens {
		available := s.TotalAccepted(tok.Address).Sub(s.TotalWithdrawn(tok.Address))
		if available.Sign() > 0 {
			payouts = append(payouts, payout{token: tok.Address, amount: available})
		}
	}
	for _, p := range payouts {
		if err := s.treasury.Payout(s.receiver, p.token, p.amount); err != nil {
			return err
		}
	}
	for _, p := range payouts {
		s.totalWithdrawn[p.token] = s.TotalWithdrawn(p.token).Add(p.amount)
	}
	return nil
}

// WithdrawPartial pays out part of one token's proceeds. It shares the
// cumulative withdrawn counter with Withdraw, never a completion flag,
// so the two interleave safely; proceeds withdrawal is per-token, not
// all-or-nothing.
func (s *Sale) WithdrawPartial(caller common.Address, token common.Address, amount decimal.Decimal) error {
	if err := s.access.Require(caller, CapabilityWithdraw); err != nil {
		return err
	}
	if err := s.requireStage(StageDone); err != nil {
		return err
	}
	if !s.isToken(token) {
		return ErrInvalidPaymentToken
	}
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	available := s.TotalAccepted(token).Sub(s.TotalWithdrawn(token))
	if amount.GreaterThan(available) {
		return ErrWithdrawalExceedsAvailable
	}
	if err := s.treasury.Payout(s.receiver, token, amount); err != nil {
		return err
	}
	s.totalWithdrawn[token] = s.TotalWithdrawn(token).Add(amount)
	return nil
}
