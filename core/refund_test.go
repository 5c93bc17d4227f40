package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/check"
)

// doneSale builds the two-entity fixture from settledSale, allocates
// 1500 X to walletA and 2000 Y to walletB, and finalizes.
func doneSale(t *testing.T) (*Sale, *recordingTreasury) {
	t.Helper()
	s, treasury := settledSale(t)
	if err := s.SetAllocations(admin, []AllocationEntry{
		{EntityID: entity1, Wallet: walletA, Token: tokenX, Accepted: dec("1500")},
		{EntityID: entity1, Wallet: walletB, Token: tokenY, Accepted: dec("2000")},
	}, false); err != nil {
		t.Fatalf("SetAllocations: %v", err)
	}
	if err := s.FinalizeSettlement(admin, dec("3500")); err != nil {
		t.Fatalf("FinalizeSettlement: %v", err)
	}
	return s, treasury
}

func TestRefund_PaysUnacceptedPortionPerWalletPerToken(t *testing.T) {
	// Scenario: entity1 committed 2000 X (walletA) and 3000 Y (walletB);
	// accepted 1500 X and 2000 Y; refund pays 500 X to A and 1000 Y to B.
	s, treasury := doneSale(t)

	check.Nil(t, s.Refund(admin, entity1))

	check.True(t, dec("500").Equal(treasury.paidTo(walletA, tokenX)))
	check.True(t, dec("1000").Equal(treasury.paidTo(walletB, tokenY)))
	check.True(t, dec("500").Equal(s.TotalRefunded(tokenX)))
	check.True(t, dec("1000").Equal(s.TotalRefunded(tokenY)))

	// Refund completeness per wallet/token: committed == accepted + paid.
	check.True(t, s.WalletCommitted(walletA, tokenX).Equal(
		s.WalletAccepted(walletA, tokenX).Add(s.WalletRefunded(walletA, tokenX))))
	check.True(t, s.WalletCommitted(walletB, tokenY).Equal(
		s.WalletAccepted(walletB, tokenY).Add(s.WalletRefunded(walletB, tokenY))))

	view, ok := s.EntityView(entity1)
	check.True(t, ok)
	check.True(t, view.Refunded)
	checkConservation(t, s)
}

func TestRefund_ExactlyOnce(t *testing.T) {
	s, treasury := doneSale(t)
	check.Nil(t, s.Refund(admin, entity1))
	paid := len(treasury.payouts)

	err := s.Refund(admin, entity1)
	check.True(t, errors.Is(err, ErrAlreadyRefunded))
	check.Equal(t, paid, len(treasury.payouts))
}

func TestRefund_StageGate(t *testing.T) {
	s, _ := settledSale(t)
	err := s.Refund(admin, entity1)
	check.True(t, errors.Is(err, ErrInvalidStage))
}

func TestRefund_TransferFailureLeavesNoState(t *testing.T) {
	s, treasury := doneSale(t)
	treasury.failNext = fmt.Errorf("payout reverted")

	check.Error(t, s.Refund(admin, entity1))

	view, _ := s.EntityView(entity1)
	check.False(t, view.Refunded)
	check.True(t, s.TotalRefunded(tokenX).IsZero())

	// The retry succeeds once the treasury recovers.
	check.Nil(t, s.Refund(admin, entity1))
}

func TestRefundBatch_SkipAlreadyRefunded(t *testing.T) {
	s, _ := doneSale(t)
	check.Nil(t, s.Refund(admin, entity1))

	ids := []uuid.UUID{entity1, entity2}

	// Without the flag the batch aborts at the processed entity.
	_, err := s.RefundBatch(admin, ids, false)
	check.True(t, errors.Is(err, ErrAlreadyRefunded))

	// With it, retries of partially processed batches are idempotent.
	n, err := s.RefundBatch(admin, ids, true)
	check.Nil(t, err)
	check.Equal(t, 1, n)

	n, err = s.RefundBatch(admin, ids, true)
	check.Nil(t, err)
	check.Equal(t, 0, n)
}

func TestClaimRefund_Toggle(t *testing.T) {
	s, treasury := doneSale(t)

	err := s.ClaimRefund(walletA)
	check.True(t, errors.Is(err, ErrClaimRefundDisabled))

	check.Nil(t, s.SetClaimEnabled(admin, true))
	check.Nil(t, s.ClaimRefund(walletA))
	check.True(t, dec("500").Equal(treasury.paidTo(walletA, tokenX)))

	// walletB shares entity1, whose refund is already processed.
	err = s.ClaimRefund(walletB)
	check.True(t, errors.Is(err, ErrAlreadyRefunded))
}

func TestClaimRefund_UnknownWallet(t *testing.T) {
	s, _ := doneSale(t)
	check.Nil(t, s.SetClaimEnabled(admin, true))

	// The receiver address never placed a bid.
	err := s.ClaimRefund(receiver)
	check.True(t, errors.Is(err, ErrWalletNotAssociatedWithEntity))
}

func TestCancelBid_ReturnsFullCommitment(t *testing.T) {
	s, treasury := openSale(t)
	mustBid(t, s, walletA, entity1, tokenX, 10, "2000", false)
	mustBid(t, s, walletB, entity1, tokenY, 10, "5000", false)
	advanceTo(t, s, StageClosed)
	check.Nil(t, s.AdvanceStage(admin, StageCancellation))

	check.Nil(t, s.CancelBid(walletA, entity1))

	check.True(t, dec("2000").Equal(treasury.paidTo(walletA, tokenX)))
	check.True(t, dec("3000").Equal(treasury.paidTo(walletB, tokenY)))
	check.True(t, s.TotalCommitted(tokenX).IsZero())
	check.True(t, s.TotalCommitted(tokenY).IsZero())

	view, _ := s.EntityView(entity1)
	check.True(t, view.Cancelled)
	checkConservation(t, s)

	// Cancelling twice fails.
	err := s.CancelBid(walletA, entity1)
	check.True(t, errors.Is(err, ErrBidAlreadyCancelled))
}

func TestCancelBid_OnlyOwnEntityOrOperator(t *testing.T) {
	s, _ := openSale(t)
	mustBid(t, s, walletA, entity1, tokenX, 10, "1000", false)
	mustBid(t, s, walletC, entity2, tokenX, 10, "1000", false)
	advanceTo(t, s, StageClosed)
	check.Nil(t, s.AdvanceStage(admin, StageCancellation))

	// walletC may not cancel entity1's bid.
	check.Error(t, s.CancelBid(walletC, entity1))

	// The refund operator may.
	check.Nil(t, s.CancelBid(admin, entity1))
}

func TestCancelledEntityRejectedFromSettlement(t *testing.T) {
	s, _ := openSale(t)
	mustBid(t, s, walletA, entity1, tokenX, 10, "1000", false)
	advanceTo(t, s, StageClosed)
	check.Nil(t, s.AdvanceStage(admin, StageCancellation))
	check.Nil(t, s.CancelBid(walletA, entity1))
	check.Nil(t, s.AdvanceStage(admin, StageSettlement))

	err := s.SetAllocations(admin, []AllocationEntry{
		{EntityID: entity1, Wallet: walletA, Token: tokenX, Accepted: dec("100")},
	}, false)
	check.True(t, errors.Is(err, ErrAlreadyRefunded))
}

func TestWithdraw_FullRemainderPerToken(t *testing.T) {
	s, treasury := doneSale(t)

	check.Nil(t, s.Withdraw(admin))
	check.True(t, dec("1500").Equal(treasury.paidTo(receiver, tokenX)))
	check.True(t, dec("2000").Equal(treasury.paidTo(receiver, tokenY)))
	check.True(t, dec("1500").Equal(s.TotalWithdrawn(tokenX)))

	// Calling full withdraw twice in a row moves nothing the second time.
	paid := len(treasury.payouts)
	check.Nil(t, s.Withdraw(admin))
	check.Equal(t, paid, len(treasury.payouts))
}

func TestWithdrawPartial_InterleavesWithFullWithdraw(t *testing.T) {
	s, treasury := doneSale(t)

	check.Nil(t, s.WithdrawPartial(admin, tokenX, dec("400")))
	check.True(t, dec("400").Equal(s.TotalWithdrawn(tokenX)))

	check.Nil(t, s.Withdraw(admin))
	check.True(t, dec("1500").Equal(s.TotalWithdrawn(tokenX)))
	check.True(t, dec("1500").Equal(treasury.paidTo(receiver, tokenX)))
	check.True(t, dec("2000").Equal(s.TotalWithdrawn(tokenY)))
}

func TestWithdrawPartial_ExceedsAvailable(t *testing.T) {
	// Scenario: a partial withdrawal above the remaining proceeds fails
	// and the ledger is unchanged afterward.
	s, treasury := doneSale(t)

	err := s.WithdrawPartial(admin, tokenX, dec("1501"))
	check.True(t, errors.Is(err, ErrWithdrawalExceedsAvailable))
	check.True(t, s.TotalWithdrawn(tokenX).IsZero())
	check.Equal(t, 0, len(treasury.payouts))

	check.Nil(t, s.WithdrawPartial(admin, tokenX, dec("1500")))
	err = s.WithdrawPartial(admin, tokenX, dec("1"))
	check.True(t, errors.Is(err, ErrWithdrawalExceedsAvailable))
}

func TestWithdrawPartial_Validation(t *testing.T) {
	s, _ := doneSale(t)

	check.True(t, errors.Is(s.WithdrawPartial(admin, walletA, dec("1")), ErrInvalidPaymentToken))
	check.True(t, errors.Is(s.WithdrawPartial(admin, tokenX, dec("0")), ErrZeroAmount))
	check.Error(t, s.WithdrawPartial(walletA, tokenX, dec("1")))
}

func TestWithdrawalBoundInvariant(t *testing.T) {
	s, _ := doneSale(t)
	check.Nil(t, s.WithdrawPartial(admin, tokenX, dec("700")))
	check.Nil(t, s.Withdraw(admin))

	for _, tok := range s.PaymentTokens() {
		withdrawn := s.TotalWithdrawn(tok.Address)
		accepted := s.TotalAccepted(tok.Address)
		check.True(t, withdrawn.LessThanOrEqual(accepted))
	}
}
