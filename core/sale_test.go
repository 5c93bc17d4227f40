package core

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/check"
)

func TestNewSale_ConfigValidation(t *testing.T) {
	deps := Dependencies{
		Access:   stubAccess{},
		Verifier: stubVerifier{signer: signer},
		Treasury: &recordingTreasury{},
		Clock:    fixedClock{t: testNow},
	}

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{
			name: "no payment tokens",
			cfg:  Config{SaleID: testSaleID, Receiver: receiver},
			want: ErrNoPaymentTokens,
		},
		{
			name: "zero receiver",
			cfg: Config{
				SaleID:        testSaleID,
				PaymentTokens: []PaymentToken{{Address: tokenX, Decimals: 6}},
			},
			want: ErrZeroAddress,
		},
		{
			name: "zero token address",
			cfg: Config{
				SaleID:        testSaleID,
				Receiver:      receiver,
				PaymentTokens: []PaymentToken{{Decimals: 6}},
			},
			want: ErrZeroAddress,
		},
		{
			name: "zero decimals",
			cfg: Config{
				SaleID:        testSaleID,
				Receiver:      receiver,
				PaymentTokens: []PaymentToken{{Address: tokenX}},
			},
			want: ErrInvalidPaymentTokenDecimals,
		},
		{
			name: "decimals above erc20 ceiling",
			cfg: Config{
				SaleID:        testSaleID,
				Receiver:      receiver,
				PaymentTokens: []PaymentToken{{Address: tokenX, Decimals: 19}},
			},
			want: ErrInvalidPaymentTokenDecimals,
		},
		{
			name: "duplicate token",
			cfg: Config{
				SaleID:   testSaleID,
				Receiver: receiver,
				PaymentTokens: []PaymentToken{
					{Address: tokenX, Decimals: 6},
					{Address: tokenX, Decimals: 18},
				},
			},
			want: ErrDuplicatePaymentToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSale(tt.cfg, deps)
			check.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestNewSale_DefaultsMaxWallets(t *testing.T) {
	s, _ := newTestSale(t)
	check.Equal(t, 3, s.MaxWalletsPerEntity())

	noCeiling, err := NewSale(Config{
		SaleID:        testSaleID,
		Receiver:      receiver,
		PaymentTokens: []PaymentToken{{Address: tokenX, Decimals: 6}},
	}, Dependencies{
		Access:   stubAccess{},
		Verifier: stubVerifier{signer: signer},
		Treasury: &recordingTreasury{},
	})
	check.Nil(t, err)
	check.Equal(t, DefaultMaxWalletsPerEntity, noCeiling.MaxWalletsPerEntity())
}

func TestSetReceiver(t *testing.T) {
	s, _ := newTestSale(t)
	next := common.HexToAddress("0x00000000000000000000000000000000000000c9")

	check.Nil(t, s.SetReceiver(admin, next))
	check.Equal(t, next, s.Receiver())

	check.True(t, errors.Is(s.SetReceiver(admin, common.Address{}), ErrZeroAddress))
	check.Error(t, s.SetReceiver(walletA, receiver))
}

func TestSetClaimEnabled(t *testing.T) {
	s, _ := newTestSale(t)
	check.False(t, s.ClaimEnabled())

	check.Nil(t, s.SetClaimEnabled(admin, true))
	check.True(t, s.ClaimEnabled())

	check.Error(t, s.SetClaimEnabled(walletA, false))
	check.True(t, s.ClaimEnabled())
}
