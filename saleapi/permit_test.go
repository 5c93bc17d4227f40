package saleapi

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/sunrisedotdev/sonar-sub000/core"
)

func testPermit() *core.Permit {
	return &core.Permit{
		EntityID:  uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		SaleID:    uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Wallet:    common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		ExpiresAt: 1_700_003_600,
		MinAmount: decimal.RequireFromString("1"),
		MaxAmount: decimal.RequireFromString("1000000"),
		MinPrice:  1,
		MaxPrice:  1000,
		OpensAt:   1_699_999_940,
		ClosesAt:  1_700_000_600,
	}
}

func TestPermitEncoding_RoundTrip(t *testing.T) {
	p := testPermit()

	data, err := EncodePermit(p)
	assert.Nil(t, err)

	decoded, err := DecodePermit(data)
	assert.Nil(t, err)
	check.Equal(t, p.EntityID, decoded.EntityID)
	check.Equal(t, p.SaleID, decoded.SaleID)
	check.Equal(t, p.Wallet, decoded.Wallet)
	check.Equal(t, p.ExpiresAt, decoded.ExpiresAt)
	check.True(t, p.MinAmount.Equal(decoded.MinAmount))
	check.True(t, p.MaxAmount.Equal(decoded.MaxAmount))
	check.Equal(t, p.MinPrice, decoded.MinPrice)
	check.Equal(t, p.MaxPrice, decoded.MaxPrice)
}

func TestPermitEncoding_ByteStable(t *testing.T) {
	a, err := EncodePermit(testPermit())
	assert.Nil(t, err)
	b, err := EncodePermit(testPermit())
	assert.Nil(t, err)
	check.Equal(t, a, b)
}

func TestSigningDigest_SensitiveToFields(t *testing.T) {
	base, err := SigningDigest(testPermit())
	assert.Nil(t, err)

	tweaked := testPermit()
	tweaked.MaxAmount = decimal.RequireFromString("999999")
	other, err := SigningDigest(tweaked)
	assert.Nil(t, err)
	check.NotEqual(t, base, other)

	tweaked = testPermit()
	tweaked.ClosesAt++
	other, err = SigningDigest(tweaked)
	assert.Nil(t, err)
	check.NotEqual(t, base, other)
}

func TestSigningDigest_Stable(t *testing.T) {
	a, err := SigningDigest(testPermit())
	assert.Nil(t, err)
	b, err := SigningDigest(testPermit())
	assert.Nil(t, err)
	check.Equal(t, a, b)
}
