package saleapi

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"

	"github.com/sunrisedotdev/sonar-sub000/core"
)

// permitEncMode is the canonical CBOR encoding used for permits. The
// encoding must be byte-stable across implementations or signature
// digests will not match.
var permitEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	permitEncMode = em
}

// EncodePermit serializes a permit to its canonical CBOR form, the
// exact bytes the permit signer signs over.
func EncodePermit(p *core.Permit) ([]byte, error) {
	data, err := permitEncMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode permit: %w", err)
	}
	return data, nil
}

// DecodePermit parses a canonically encoded permit.
func DecodePermit(data []byte) (*core.Permit, error) {
	var p core.Permit
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode permit: %w", err)
	}
	return &p, nil
}

// SigningDigest computes the keccak-256 digest a permit signature is
// recovered against.
func SigningDigest(p *core.Permit) (common.Hash, error) {
	data, err := EncodePermit(p)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(data), nil
}
