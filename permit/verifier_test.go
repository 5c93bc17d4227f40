package permit

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/sunrisedotdev/sonar-sub000/core"
)

func signablePermit() *core.Permit {
	return &core.Permit{
		EntityID:  uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		SaleID:    uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Wallet:    common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		ExpiresAt: 1_700_003_600,
		MinAmount: decimal.New(1, 0),
		MaxAmount: decimal.New(1_000_000, 0),
		MinPrice:  1,
		MaxPrice:  1000,
		OpensAt:   1_699_999_940,
		ClosesAt:  1_700_000_600,
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	assert.Nil(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey)

	p := signablePermit()
	sig, err := Sign(p, key)
	assert.Nil(t, err)
	assert.Equal(t, 65, len(sig))

	got, err := NewVerifier().RecoverSigner(p, sig)
	assert.Nil(t, err)
	check.Equal(t, want, got)
}

func TestRecoverSigner_TamperedPermit(t *testing.T) {
	key, err := crypto.GenerateKey()
	assert.Nil(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	p := signablePermit()
	sig, err := Sign(p, key)
	assert.Nil(t, err)

	// Changing any field shifts the digest, so recovery yields some
	// other address (or fails), never the original signer.
	p.MaxAmount = decimal.New(2_000_000, 0)
	got, err := NewVerifier().RecoverSigner(p, sig)
	if err == nil {
		check.NotEqual(t, signer, got)
	}
}

func TestRecoverSigner_BadSignatureLength(t *testing.T) {
	_, err := NewVerifier().RecoverSigner(signablePermit(), []byte("short"))
	check.Error(t, err)

	_, err = NewVerifier().RecoverSigner(signablePermit(), nil)
	check.Error(t, err)
}
