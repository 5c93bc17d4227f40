// Package permit provides the production signature verifier for bid
// permits: secp256k1 recovery over the canonical permit digest.
package permit

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sunrisedotdev/sonar-sub000/core"
	"github.com/sunrisedotdev/sonar-sub000/saleapi"
)

const signatureLength = 65

// Verifier implements core.PermitVerifier using go-ethereum's
// secp256k1 recovery. The recovered address is returned as the signer
// identity; whether that signer is authorized is the access
// controller's decision, not ours.
type Verifier struct{}

// NewVerifier returns a ready verifier.
func NewVerifier() Verifier {
	return Verifier{}
}

// RecoverSigner recovers the address that produced sig over the
// permit's canonical signing digest. sig is the 65-byte [R || S || V]
// form with V in {0, 1}.
func (Verifier) RecoverSigner(p *core.Permit, sig []byte) (common.Address, error) {
	if len(sig) != signatureLength {
		return common.Address{}, fmt.Errorf("signature is %d bytes, want %d", len(sig), signatureLength)
	}
	digest, err := saleapi.SigningDigest(p)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover permit signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a recoverable signature over the permit's signing
// digest. Used by signer tooling and tests.
func Sign(p *core.Permit, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := saleapi.SigningDigest(p)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign permit: %w", err)
	}
	return sig, nil
}
