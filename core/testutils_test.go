package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	tokenX = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenY = common.HexToAddress("0x00000000000000000000000000000000000000a2")

	walletA  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	walletB  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	walletC  = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	signer   = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	receiver = common.HexToAddress("0x00000000000000000000000000000000000000c3")

	entity1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	entity2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")

	testSaleID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

	// testNow is the fixed instant all core tests run at.
	testNow = time.Unix(1_700_000_000, 0)
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// stubAccess grants every capability to admin, sign_permits to signer,
// and nothing to anyone else.
type stubAccess struct{}

func (stubAccess) Require(caller common.Address, capability Capability) error {
	if caller == admin {
		return nil
	}
	if caller == signer && capability == CapabilitySignPermits {
		return nil
	}
	return fmt.Errorf("caller %s lacks capability %q", caller.Hex(), capability)
}

// stubVerifier returns a fixed signer regardless of the signature. A
// non-nil err simulates recovery failure.
type stubVerifier struct {
	signer common.Address
	err    error
}

func (v stubVerifier) RecoverSigner(*Permit, []byte) (common.Address, error) {
	if v.err != nil {
		return common.Address{}, v.err
	}
	return v.signer, nil
}

type transfer struct {
	account common.Address
	token   common.Address
	amount  decimal.Decimal
}

// recordingTreasury records collects and payouts; failNext aborts the
// next transfer to exercise the no-partial-mutation guarantees.
type recordingTreasury struct {
	collects []transfer
	payouts  []transfer
	failNext error
}

func (tr *recordingTreasury) Collect(wallet, token common.Address, amount decimal.Decimal) error {
	if tr.failNext != nil {
		err := tr.failNext
		tr.failNext = nil
		return err
	}
	tr.collects = append(tr.collects, transfer{account: wallet, token: token, amount: amount})
	return nil
}

func (tr *recordingTreasury) Payout(recipient, token common.Address, amount decimal.Decimal) error {
	if tr.failNext != nil {
		err := tr.failNext
		tr.failNext = nil
		return err
	}
	tr.payouts = append(tr.payouts, transfer{account: recipient, token: token, amount: amount})
	return nil
}

// paidTo sums the payouts a recipient received in one token.
func (tr *recordingTreasury) paidTo(recipient, token common.Address) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range tr.payouts {
		if p.account == recipient && p.token == token {
			sum = sum.Add(p.amount)
		}
	}
	return sum
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestSale(t *testing.T) (*Sale, *recordingTreasury) {
	t.Helper()
	treasury := &recordingTreasury{}
	s, err := NewSale(Config{
		SaleID:   testSaleID,
		Receiver: receiver,
		PaymentTokens: []PaymentToken{
			{Address: tokenX, Decimals: 6},
			{Address: tokenY, Decimals: 18},
		},
		MaxWalletsPerEntity: 3,
	}, Dependencies{
		Access:   stubAccess{},
		Verifier: stubVerifier{signer: signer},
		Treasury: treasury,
		Clock:    fixedClock{t: testNow},
	})
	if err != nil {
		t.Fatalf("NewSale: %v", err)
	}
	return s, treasury
}

// openSale creates a sale already advanced into Commitment.
func openSale(t *testing.T) (*Sale, *recordingTreasury) {
	t.Helper()
	s, treasury := newTestSale(t)
	if err := s.AdvanceStage(admin, StageCommitment); err != nil {
		t.Fatalf("advance to commitment: %v", err)
	}
	return s, treasury
}

// permitFor builds a wide-open permit for a wallet and entity.
func permitFor(entityID uuid.UUID, wallet common.Address) *Permit {
	now := uint64(testNow.Unix())
	return &Permit{
		EntityID:  entityID,
		SaleID:    testSaleID,
		Wallet:    wallet,
		ExpiresAt: now + 3600,
		MinAmount: dec("1"),
		MaxAmount: dec("1000000"),
		MinPrice:  1,
		MaxPrice:  1000,
		OpensAt:   now - 60,
		ClosesAt:  now + 600,
	}
}

func lockupPayload() []byte {
	payload, err := cbor.Marshal(permitPayload{ForcedLockup: true})
	if err != nil {
		panic(err)
	}
	return payload
}

// mustBid places a bid that is expected to succeed.
func mustBid(t *testing.T, s *Sale, wallet common.Address, entityID uuid.UUID, token common.Address, price uint64, amount string, lockup bool) {
	t.Helper()
	bid := Bid{Price: price, Amount: dec(amount), Lockup: lockup}
	if err := s.PlaceBid(wallet, token, bid, permitFor(entityID, wallet), []byte("sig")); err != nil {
		t.Fatalf("PlaceBid(%s, %s): %v", wallet.Hex(), amount, err)
	}
}

// checkConservation asserts the core invariant: per-token committed
// totals equal the sum over wallets, and accepted never exceeds
// committed.
func checkConservation(t *testing.T, s *Sale) {
	t.Helper()
	for _, tok := range s.PaymentTokens() {
		sum := decimal.Zero
		wallets, err := s.WalletRange(0, s.WalletCount())
		if err != nil {
			t.Fatalf("WalletRange: %v", err)
		}
		for _, w := range wallets {
			for _, ta := range w.Committed {
				if ta.Token == tok.Address {
					sum = sum.Add(ta.Amount)
				}
			}
			for i := range w.Accepted {
				if w.Accepted[i].Token == tok.Address && w.Accepted[i].Amount.GreaterThan(w.Committed[i].Amount) {
					t.Fatalf("wallet %s token %s: accepted %s exceeds committed %s",
						w.Address.Hex(), tok.Address.Hex(), w.Accepted[i].Amount, w.Committed[i].Amount)
				}
			}
		}
		if !sum.Equal(s.TotalCommitted(tok.Address)) {
			t.Fatalf("token %s: totalCommitted %s != wallet sum %s",
				tok.Address.Hex(), s.TotalCommitted(tok.Address), sum)
		}
	}
}

// advanceTo walks the sale through orderly transitions to target.
func advanceTo(t *testing.T, s *Sale, target Stage) {
	t.Helper()
	paths := map[Stage][]Stage{
		StageCommitment: {StageCommitment},
		StageClosed:     {StageCommitment, StageClosed},
		StageSettlement: {StageCommitment, StageClosed, StageSettlement},
	}
	for _, st := range paths[target] {
		if s.Stage() == st {
			continue
		}
		if err := s.AdvanceStage(admin, st); err != nil {
			t.Fatalf("advance to %s: %v", st, err)
		}
	}
}
