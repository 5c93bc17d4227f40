package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type allocationKey struct {
	wallet common.Address
	token  common.Address
}

// SetAllocations records an off-system-computed allocation batch during
// the Settlement stage. Batch semantics are all-or-nothing: every entry
// is validated before any is applied, so a single bad entry aborts the
// whole call with the ledger unchanged.
//
// With allowOverwrite false, an entry targeting a (wallet, token) pair
// that already carries a non-zero allocation fails AllocationAlreadySet.
// With allowOverwrite true the allocation is replaced and the aggregate
// total adjusted by the signed delta, which makes repeated submission of
// a corrected batch safe under at-least-once delivery.
func (s *Sale) SetAllocations(caller common.Address, entries []AllocationEntry, allowOverwrite bool) error {
	if err := s.access.Require(caller, CapabilitySettle); err != nil {
		return err
	}
	if err := s.requireStage(StageSettlement); err != nil {
		return err
	}

	seen := make(map[allocationKey]struct{}, len(entries))
	for i := range entries {
		entry := &entries[i]
		if entry.Accepted.Sign() < 0 {
			return ErrZeroAmount
		}
		if entry.Accepted.IsZero() && !allowOverwrite {
			// Zero entries only make sense as overwrites clearing a
			// mistaken allocation.
			return ErrZeroAmount
		}
		if !s.isToken(entry.Token) {
			return ErrInvalidPaymentToken
		}
		key := allocationKey{wallet: entry.Wallet, token: entry.Token}
		if _, dup := seen[key]; dup {
			return ErrAllocationAlreadySet
		}
		seen[key] = struct{}{}

		e, ok := s.entities[entry.EntityID]
		if !ok {
			return ErrWalletNotAssociatedWithEntity
		}
		if e.Cancelled || e.Refunded {
			return ErrAlreadyRefunded
		}
		w, ok := s.wallets[entry.Wallet]
		if !ok || w.EntityID != entry.EntityID {
			return ErrWalletNotAssociatedWithEntity
		}
		if entry.Accepted.GreaterThan(w.committed(entry.Token)) {
			return ErrAllocationExceedsCommitment
		}
		if !allowOverwrite && w.accepted(entry.Token).Sign() > 0 {
			return ErrAllocationAlreadySet
		}
	}

	for i := range entries {
		entry := &entries[i]
		w := s.wallets[entry.Wallet]
		delta := entry.Accepted.Sub(w.accepted(entry.Token))
		w.Accepted[entry.Token] = entry.Accepted
		s.totalAccepted[entry.Token] = s.TotalAccepted(entry.Token).Add(delta)
	}
	return nil
}

// FinalizeSettlement checks the running sum of accepted amounts across
// all tokens against expectedTotal and, on match, moves the sale to
// Done. The check is the checkpoint against drift between this ledger
// and the off-system allocation computation.
func (s *Sale) FinalizeSettlement(caller common.Address, expectedTotal decimal.Decimal) error {
	if err := s.access.Require(caller, CapabilitySettle); err != nil {
		return err
	}
	if err := s.requireStage(StageSettlement); err != nil {
		return err
	}
	sum := decimal.Zero
	for _, tok := range s.tokens {
		sum = sum.Add(s.TotalAccepted(tok.Address))
	}
	if !sum.Equal(expectedTotal) {
		return ErrUnexpectedTotalAcceptedAmount
	}
	s.recordTransition(caller, StageDone, false)
	return nil
}
