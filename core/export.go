package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Export is the complete serializable state of a sale: enough to
// snapshot the engine to disk, reload it, and to run offline audits.
// Slices follow insertion/registration order so an export is
// deterministic for a given ledger state.
type Export struct {
	SaleID              uuid.UUID         `json:"sale_id" cbor:"1,keyasint"`
	Receiver            common.Address    `json:"receiver" cbor:"2,keyasint"`
	MaxWalletsPerEntity int               `json:"max_wallets_per_entity" cbor:"3,keyasint"`
	ClaimEnabled        bool              `json:"claim_enabled" cbor:"4,keyasint"`
	Tokens              []PaymentToken    `json:"tokens" cbor:"5,keyasint"`
	Stage               Stage             `json:"stage" cbor:"6,keyasint"`
	Branched            bool              `json:"branched" cbor:"7,keyasint"`
	StageLog            []StageTransition `json:"stage_log" cbor:"8,keyasint"`
	Entities            []EntityView      `json:"entities" cbor:"9,keyasint"`
	Wallets             []WalletView      `json:"wallets" cbor:"10,keyasint"`
	TotalCommitted      []TokenAmount     `json:"total_committed" cbor:"11,keyasint"`
	TotalAccepted       []TokenAmount     `json:"total_accepted" cbor:"12,keyasint"`
	TotalRefunded       []TokenAmount     `json:"total_refunded" cbor:"13,keyasint"`
	TotalWithdrawn      []TokenAmount     `json:"total_withdrawn" cbor:"14,keyasint"`
}

// Export captures the sale's full current state.
func (s *Sale) Export() *Export {
	exp := &Export{
		SaleID:              s.id,
		Receiver:            s.receiver,
		MaxWalletsPerEntity: s.maxWalletsPerEntity,
		ClaimEnabled:        s.claimEnabled,
		Tokens:              s.PaymentTokens(),
		Stage:               s.stage,
		Branched:            s.branched,
		StageLog:            s.StageLog(),
	}
	exp.Entities, _ = s.EntityRange(0, s.EntityCount())
	exp.Wallets, _ = s.WalletRange(0, s.WalletCount())
	for _, tok := range s.tokens {
		exp.TotalCommitted = append(exp.TotalCommitted, TokenAmount{Token: tok.Address, Amount: s.TotalCommitted(tok.Address)})
		exp.TotalAccepted = append(exp.TotalAccepted, TokenAmount{Token: tok.Address, Amount: s.TotalAccepted(tok.Address)})
		exp.TotalRefunded = append(exp.TotalRefunded, TokenAmount{Token: tok.Address, Amount: s.TotalRefunded(tok.Address)})
		exp.TotalWithdrawn = append(exp.TotalWithdrawn, TokenAmount{Token: tok.Address, Amount: s.TotalWithdrawn(tok.Address)})
	}
	return exp
}

// RestoreSale rebuilds a sale from an export. The export's recorded
// aggregates are checked against a recomputation from the per-wallet
// ledgers before anything is accepted.
func RestoreSale(exp *Export, deps Dependencies) (*Sale, error) {
	s, err := NewSale(Config{
		SaleID:              exp.SaleID,
		Receiver:            exp.Receiver,
		PaymentTokens:       exp.Tokens,
		MaxWalletsPerEntity: exp.MaxWalletsPerEntity,
		ClaimEnabled:        exp.ClaimEnabled,
	}, deps)
	if err != nil {
		return nil, err
	}
	s.stage = exp.Stage
	s.branched = exp.Branched
	s.stageLog = append(s.stageLog, exp.StageLog...)

	for i := range exp.Entities {
		ev := &exp.Entities[i]
		e := &Entity{
			ID:        ev.ID,
			Bid:       ev.Bid,
			Wallets:   append([]common.Address(nil), ev.Wallets...),
			Cancelled: ev.Cancelled,
			Refunded:  ev.Refunded,
		}
		if len(e.Wallets) > s.maxWalletsPerEntity {
			return nil, ErrMaxWalletsPerEntityExceeded
		}
		s.entities[e.ID] = e
		s.entityOrder = append(s.entityOrder, e.ID)
	}
	for i := range exp.Wallets {
		wv := &exp.Wallets[i]
		if _, dup := s.wallets[wv.Address]; dup {
			return nil, ErrWalletTiedToAnotherEntity
		}
		w := newWallet(wv.Address, wv.EntityID)
		for _, ta := range wv.Committed {
			if !s.isToken(ta.Token) {
				return nil, ErrInvalidPaymentToken
			}
			w.Committed[ta.Token] = ta.Amount
		}
		for _, ta := range wv.Accepted {
			w.Accepted[ta.Token] = ta.Amount
		}
		for _, ta := range wv.Refunded {
			w.Refunded[ta.Token] = ta.Amount
		}
		s.wallets[w.Address] = w
		s.walletOrder = append(s.walletOrder, w.Address)
	}

	for _, ta := range exp.TotalAccepted {
		s.totalAccepted[ta.Token] = ta.Amount
	}
	for _, ta := range exp.TotalRefunded {
		s.totalRefunded[ta.Token] = ta.Amount
	}
	for _, ta := range exp.TotalWithdrawn {
		s.totalWithdrawn[ta.Token] = ta.Amount
	}
	for _, ta := range exp.TotalCommitted {
		s.totalCommitted[ta.Token] = ta.Amount
	}
	for _, tok := range s.tokens {
		sum := decimal.Zero
		for _, w := range s.wallets {
			sum = sum.Add(w.committed(tok.Address))
		}
		if !sum.Equal(s.TotalCommitted(tok.Address)) {
			return nil, fmt.Errorf("export conservation mismatch for token %s: committed total %s, wallet sum %s",
				tok.Address.Hex(), s.TotalCommitted(tok.Address), sum)
		}
	}
	return s, nil
}
