package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxTokenDecimals is the ERC-20 ceiling; tokens above it cannot be
// represented 1:1 against the other payment tokens.
const maxTokenDecimals = 18

// DefaultMaxWalletsPerEntity bounds refund fan-out when the sale
// configuration does not set an explicit ceiling.
const DefaultMaxWalletsPerEntity = 10

// PaymentToken is one of the interchangeable tokens a wallet may commit.
// The token set is fixed at sale creation; amounts across tokens are
// treated as equal-value units for bid-limit purposes but accounted and
// transferred independently.
type PaymentToken struct {
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
}

// Bid is an entity's current total commitment descriptor. Amount and
// Price never decrease across successive bids from the same entity, and
// Lockup only transitions false to true.
type Bid struct {
	Price  uint64          `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Lockup bool            `json:"lockup"`
}

// Entity is a logical participant. It may control several wallets but
// carries a single current Bid. Entities are created on the first valid
// bid from any of their wallets and are never deleted.
type Entity struct {
	ID        uuid.UUID
	Bid       Bid
	Wallets   []common.Address // insertion order, bounded by MaxWalletsPerEntity
	Cancelled bool
	Refunded  bool
}

// Wallet is an address that has placed at least one commitment. The
// entity binding is immutable for the wallet's lifetime. Amounts are
// keyed by payment token address.
type Wallet struct {
	Address   common.Address
	EntityID  uuid.UUID
	Committed map[common.Address]decimal.Decimal
	Accepted  map[common.Address]decimal.Decimal
	Refunded  map[common.Address]decimal.Decimal
}

func newWallet(addr common.Address, entityID uuid.UUID) *Wallet {
	return &Wallet{
		Address:   addr,
		EntityID:  entityID,
		Committed: make(map[common.Address]decimal.Decimal),
		Accepted:  make(map[common.Address]decimal.Decimal),
		Refunded:  make(map[common.Address]decimal.Decimal),
	}
}

// committed returns the committed amount for token, zero if absent.
func (w *Wallet) committed(token common.Address) decimal.Decimal {
	if v, ok := w.Committed[token]; ok {
		return v
	}
	return decimal.Zero
}

func (w *Wallet) accepted(token common.Address) decimal.Decimal {
	if v, ok := w.Accepted[token]; ok {
		return v
	}
	return decimal.Zero
}

// AllocationEntry is one row of an externally computed settlement batch:
// the final accepted amount for a (wallet, token) pair of an entity.
type AllocationEntry struct {
	EntityID uuid.UUID       `json:"entity_id"`
	Wallet   common.Address  `json:"wallet"`
	Token    common.Address  `json:"token"`
	Accepted decimal.Decimal `json:"accepted_amount"`
}

// Capability names an externally defined permission checked before
// privileged operations. The core only asks the injected
// AccessController whether a caller holds one; granting is out of scope.
type Capability string

const (
	CapabilitySignPermits  Capability = "sign_permits"
	CapabilityManageStages Capability = "manage_stages"
	CapabilityForceStage   Capability = "force_stage"
	CapabilitySettle       Capability = "settle"
	CapabilityRefund       Capability = "refund"
	CapabilityWithdraw     Capability = "withdraw"
	CapabilityConfigure    Capability = "configure"
)

// AccessController answers capability checks. Implementations live
// outside the core so tests can stub them.
type AccessController interface {
	Require(caller common.Address, capability Capability) error
}

// PermitVerifier recovers the signer of a permit from its detached
// signature. Signature math and the canonical permit encoding are
// delegated entirely to the implementation.
type PermitVerifier interface {
	RecoverSigner(permit *Permit, signature []byte) (common.Address, error)
}

// Treasury is the token-transfer primitive. Collect escrows funds from a
// wallet; Payout releases escrowed funds. A returned error aborts the
// whole operation with no ledger mutation.
type Treasury interface {
	Collect(wallet, token common.Address, amount decimal.Decimal) error
	Payout(recipient, token common.Address, amount decimal.Decimal) error
}

// Clock supplies the ambient time used for permit expiry and window
// checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock Clock used outside tests.
func SystemClock() Clock { return systemClock{} }
