package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Permit is a signed, time-bounded authorization record constraining the
// bid parameters of a single wallet. Its bounds are set off-system and
// may change between bids by issuing a fresh permit. Timestamps are unix
// seconds.
type Permit struct {
	EntityID  uuid.UUID       `json:"entity_id" cbor:"1,keyasint"`
	SaleID    uuid.UUID       `json:"sale_id" cbor:"2,keyasint"`
	Wallet    common.Address  `json:"wallet" cbor:"3,keyasint"`
	ExpiresAt uint64          `json:"expires_at" cbor:"4,keyasint"`
	MinAmount decimal.Decimal `json:"min_amount" cbor:"5,keyasint"`
	MaxAmount decimal.Decimal `json:"max_amount" cbor:"6,keyasint"`
	MinPrice  uint64          `json:"min_price" cbor:"7,keyasint"`
	MaxPrice  uint64          `json:"max_price" cbor:"8,keyasint"`
	OpensAt   uint64          `json:"opens_at" cbor:"9,keyasint"`
	ClosesAt  uint64          `json:"closes_at" cbor:"10,keyasint"`
	Payload   []byte          `json:"payload,omitempty" cbor:"11,keyasint,omitempty"`
}

// permitPayload is the decoded form of Permit.Payload.
type permitPayload struct {
	ForcedLockup bool `cbor:"forced_lockup"`
}

// ForcedLockup decodes the payload's forced-lockup flag. An empty
// payload means no forced lockup; a malformed payload is treated the
// same way since the payload is an opaque extension point.
func (p *Permit) ForcedLockup() bool {
	if len(p.Payload) == 0 {
		return false
	}
	var payload permitPayload
	if err := cbor.Unmarshal(p.Payload, &payload); err != nil {
		return false
	}
	return payload.ForcedLockup
}

// validatePermit runs the permit checks in documented order: sale
// identity, expiry, caller binding, time window, signer authorization.
// Pure: no state is touched.
func (s *Sale) validatePermit(caller common.Address, permit *Permit, signature []byte) error {
	if permit.SaleID != s.id {
		return ErrInvalidSaleID
	}
	now := uint64(s.clock.Now().Unix())
	if now >= permit.ExpiresAt {
		return ErrPermitExpired
	}
	if caller != permit.Wallet {
		return ErrSenderMismatch
	}
	if now < permit.OpensAt || now >= permit.ClosesAt {
		return ErrOutsideAllowedWindow
	}
	signer, err := s.verifier.RecoverSigner(permit, signature)
	if err != nil {
		return ErrUnauthorizedSigner
	}
	if err := s.access.Require(signer, CapabilitySignPermits); err != nil {
		return ErrUnauthorizedSigner
	}
	return nil
}
