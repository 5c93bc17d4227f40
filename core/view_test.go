package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestEntityAndWalletOrderIsStable(t *testing.T) {
	s, _ := openSale(t)
	mustBid(t, s, walletA, entity1, tokenX, 10, "100", false)
	mustBid(t, s, walletC, entity2, tokenX, 10, "200", false)
	mustBid(t, s, walletB, entity1, tokenY, 10, "300", false)

	// Entities appear in first-bid order, wallets in binding order,
	// regardless of later updates to the same records.
	check.Equal(t, 2, s.EntityCount())
	check.Equal(t, 3, s.WalletCount())

	e0, err := s.EntityAt(0)
	check.Nil(t, err)
	check.Equal(t, entity1, e0.ID)
	e1, err := s.EntityAt(1)
	check.Nil(t, err)
	check.Equal(t, entity2, e1.ID)

	wallets, err := s.WalletRange(0, 3)
	check.Nil(t, err)
	check.Equal(t, walletA, wallets[0].Address)
	check.Equal(t, walletC, wallets[1].Address)
	check.Equal(t, walletB, wallets[2].Address)

	// A re-bid updates in place and does not reorder. Raising the
	// entity total from 300 to 500 adds the 200 delta to walletA.
	mustBid(t, s, walletA, entity1, tokenX, 10, "500", false)
	w0, err := s.WalletAt(0)
	check.Nil(t, err)
	check.Equal(t, walletA, w0.Address)
	check.True(t, dec("300").Equal(w0.Committed[0].Amount))
}

func TestRangeBounds(t *testing.T) {
	s, _ := openSale(t)
	mustBid(t, s, walletA, entity1, tokenX, 10, "100", false)

	_, err := s.EntityAt(-1)
	check.Error(t, err)
	_, err = s.EntityAt(1)
	check.Error(t, err)
	_, err = s.WalletRange(0, 2)
	check.Error(t, err)
	_, err = s.WalletRange(1, 0)
	check.Error(t, err)

	// Empty ranges are valid.
	views, err := s.WalletRange(1, 1)
	check.Nil(t, err)
	check.Equal(t, 0, len(views))
}

func TestWalletView_AmountsFollowTokenRegistrationOrder(t *testing.T) {
	s, _ := openSale(t)
	mustBid(t, s, walletA, entity1, tokenY, 10, "700", false)

	view, ok := s.WalletView(walletA)
	check.True(t, ok)
	check.Equal(t, 2, len(view.Committed))
	check.Equal(t, tokenX, view.Committed[0].Token)
	check.Equal(t, tokenY, view.Committed[1].Token)
	check.True(t, view.Committed[0].Amount.IsZero())
	check.True(t, dec("700").Equal(view.Committed[1].Amount))
}

func TestViews_AreSnapshots(t *testing.T) {
	s, _ := openSale(t)
	mustBid(t, s, walletA, entity1, tokenX, 10, "100", false)

	view, _ := s.EntityView(entity1)
	view.Wallets[0] = walletC

	fresh, _ := s.EntityView(entity1)
	check.Equal(t, walletA, fresh.Wallets[0])
}

func TestViewLookups_UnknownIdentifiers(t *testing.T) {
	s, _ := openSale(t)

	_, ok := s.EntityView(entity1)
	check.False(t, ok)
	_, ok = s.WalletView(walletA)
	check.False(t, ok)
}
