package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config fixes a sale's parameters at creation. The payment token set
// and the wallets-per-entity ceiling never change afterwards.
type Config struct {
	SaleID              uuid.UUID
	Receiver            common.Address
	PaymentTokens       []PaymentToken
	MaxWalletsPerEntity int
	ClaimEnabled        bool
}

// Dependencies are the sale's external collaborators. Access, Verifier
// and Treasury are required; Clock defaults to the system clock.
type Dependencies struct {
	Access   AccessController
	Verifier PermitVerifier
	Treasury Treasury
	Clock    Clock
}

// Sale is the settlement state machine and its accounting ledger. It is
// not safe for concurrent use: the caller must serialize every
// state-changing operation (the engine guards it with one mutex).
type Sale struct {
	id                  uuid.UUID
	receiver            common.Address
	maxWalletsPerEntity int
	claimEnabled        bool

	tokens     []PaymentToken // fixed order for deterministic iteration
	tokenIndex map[common.Address]int

	stage    Stage
	branched bool
	stageLog []StageTransition

	entities    map[uuid.UUID]*Entity
	entityOrder []uuid.UUID
	wallets     map[common.Address]*Wallet
	walletOrder []common.Address

	totalCommitted map[common.Address]decimal.Decimal
	totalAccepted  map[common.Address]decimal.Decimal
	totalRefunded  map[common.Address]decimal.Decimal
	totalWithdrawn map[common.Address]decimal.Decimal

	access   AccessController
	verifier PermitVerifier
	treasury Treasury
	clock    Clock
}

// NewSale validates cfg and builds an empty sale in stage PreOpen.
func NewSale(cfg Config, deps Dependencies) (*Sale, error) {
	if len(cfg.PaymentTokens) == 0 {
		return nil, ErrNoPaymentTokens
	}
	if cfg.Receiver == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	tokenIndex := make(map[common.Address]int, len(cfg.PaymentTokens))
	for i, tok := range cfg.PaymentTokens {
		if tok.Address == (common.Address{}) {
			return nil, ErrZeroAddress
		}
		if tok.Decimals == 0 || tok.Decimals > maxTokenDecimals {
			return nil, ErrInvalidPaymentTokenDecimals
		}
		if _, dup := tokenIndex[tok.Address]; dup {
			return nil, ErrDuplicatePaymentToken
		}
		tokenIndex[tok.Address] = i
	}
	maxWallets := cfg.MaxWalletsPerEntity
	if maxWallets <= 0 {
		maxWallets = DefaultMaxWalletsPerEntity
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}

	tokens := make([]PaymentToken, len(cfg.PaymentTokens))
	copy(tokens, cfg.PaymentTokens)

	return &Sale{
		id:                  cfg.SaleID,
		receiver:            cfg.Receiver,
		maxWalletsPerEntity: maxWallets,
		claimEnabled:        cfg.ClaimEnabled,
		tokens:              tokens,
		tokenIndex:          tokenIndex,
		stage:               StagePreOpen,
		entities:            make(map[uuid.UUID]*Entity),
		wallets:             make(map[common.Address]*Wallet),
		totalCommitted:      make(map[common.Address]decimal.Decimal),
		totalAccepted:       make(map[common.Address]decimal.Decimal),
		totalRefunded:       make(map[common.Address]decimal.Decimal),
		totalWithdrawn:      make(map[common.Address]decimal.Decimal),
		access:              deps.Access,
		verifier:            deps.Verifier,
		treasury:            deps.Treasury,
		clock:               clock,
	}, nil
}

// ID returns the sale identity permits must be bound to.
func (s *Sale) ID() uuid.UUID { return s.id }

// Receiver returns the current proceeds receiver.
func (s *Sale) Receiver() common.Address { return s.receiver }

// PaymentTokens returns the fixed token set in registration order.
func (s *Sale) PaymentTokens() []PaymentToken {
	out := make([]PaymentToken, len(s.tokens))
	copy(out, s.tokens)
	return out
}

// MaxWalletsPerEntity returns the per-entity wallet ceiling.
func (s *Sale) MaxWalletsPerEntity() int { return s.maxWalletsPerEntity }

// ClaimEnabled reports whether self-service refund claiming is on.
func (s *Sale) ClaimEnabled() bool { return s.claimEnabled }

func (s *Sale) isToken(addr common.Address) bool {
	_, ok := s.tokenIndex[addr]
	return ok
}

func (s *Sale) total(m map[common.Address]decimal.Decimal, token common.Address) decimal.Decimal {
	if v, ok := m[token]; ok {
		return v
	}
	return decimal.Zero
}

// TotalCommitted returns the aggregate committed amount for token.
func (s *Sale) TotalCommitted(token common.Address) decimal.Decimal {
	return s.total(s.totalCommitted, token)
}

// TotalAccepted returns the aggregate accepted amount for token.
func (s *Sale) TotalAccepted(token common.Address) decimal.Decimal {
	return s.total(s.totalAccepted, token)
}

// TotalRefunded returns the aggregate refunded amount for token.
func (s *Sale) TotalRefunded(token common.Address) decimal.Decimal {
	return s.total(s.totalRefunded, token)
}

// TotalWithdrawn returns the cumulative proceeds withdrawn for token.
func (s *Sale) TotalWithdrawn(token common.Address) decimal.Decimal {
	return s.total(s.totalWithdrawn, token)
}

// SetReceiver changes the proceeds receiver. Requires the configure
// capability; the zero address is rejected.
func (s *Sale) SetReceiver(caller common.Address, receiver common.Address) error {
	if err := s.access.Require(caller, CapabilityConfigure); err != nil {
		return err
	}
	if receiver == (common.Address{}) {
		return ErrZeroAddress
	}
	s.receiver = receiver
	return nil
}

// SetClaimEnabled flips the self-service refund claiming toggle.
func (s *Sale) SetClaimEnabled(caller common.Address, enabled bool) error {
	if err := s.access.Require(caller, CapabilityConfigure); err != nil {
		return err
	}
	s.claimEnabled = enabled
	return nil
}
