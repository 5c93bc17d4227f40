package saleapi

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sunrisedotdev/sonar-sub000/core"
)

// Request type identifiers accepted by the engine socket server. Every
// request carries "type" plus the fields of its typed struct below.
const (
	TypePing            = "ping"
	TypeStatus          = "status"
	TypePlaceBid        = "place_bid"
	TypeAdvanceStage    = "advance_stage"
	TypeForceStage      = "force_stage"
	TypeSetAllocations  = "set_allocations"
	TypeFinalize        = "finalize_settlement"
	TypeRefund          = "refund"
	TypeRefundBatch     = "refund_batch"
	TypeClaimRefund     = "claim_refund"
	TypeCancelBid       = "cancel_bid"
	TypeWithdraw        = "withdraw"
	TypeWithdrawPartial = "withdraw_partial"
	TypeSetReceiver     = "set_receiver"
	TypeSetClaimEnabled = "set_claim_enabled"
	TypeEntityRange     = "entity_range"
	TypeWalletRange     = "wallet_range"
	TypeStageLog        = "stage_log"
	TypeExport          = "export"
	TypeSnapshot        = "snapshot"
	TypeProof           = "settlement_proof"
)

// BaseRequest is the envelope peeked at before dispatch.
type BaseRequest struct {
	Type string `json:"type"`
}

// PlaceBidRequest submits a bid. Permit is the canonical CBOR encoding
// of the permit, the same bytes the signature was produced over;
// Signature is the detached 65-byte recoverable signature.
type PlaceBidRequest struct {
	Type      string          `json:"type"`
	Wallet    common.Address  `json:"wallet"`
	Token     common.Address  `json:"token"`
	Price     uint64          `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Lockup    bool            `json:"lockup"`
	Permit    []byte          `json:"permit"`    // base64 in JSON
	Signature []byte          `json:"signature"` // base64 in JSON
}

// StageRequest advances (or forces) the sale to a target stage.
type StageRequest struct {
	Type   string         `json:"type"`
	Caller common.Address `json:"caller"`
	Target string         `json:"target"`
}

// AllocationEntry is the wire form of one settlement tuple.
type AllocationEntry struct {
	EntityID uuid.UUID       `json:"entity_id"`
	Wallet   common.Address  `json:"wallet"`
	Token    common.Address  `json:"token"`
	Accepted decimal.Decimal `json:"accepted_amount"`
}

// SetAllocationsRequest records a batch of accepted amounts. Entries
// and CSV are alternatives; CSV is the raw text of an allocation file
// with header ENTITY_ID, WALLET, TOKEN, ACCEPTED_AMOUNT.
type SetAllocationsRequest struct {
	Type           string            `json:"type"`
	Caller         common.Address    `json:"caller"`
	Entries        []AllocationEntry `json:"entries,omitempty"`
	CSV            string            `json:"csv,omitempty"`
	AllowOverwrite bool              `json:"allow_overwrite"`
}

// FinalizeRequest closes settlement against an expected grand total.
type FinalizeRequest struct {
	Type          string          `json:"type"`
	Caller        common.Address  `json:"caller"`
	ExpectedTotal decimal.Decimal `json:"expected_total"`
}

// RefundRequest processes one entity's refund.
type RefundRequest struct {
	Type     string         `json:"type"`
	Caller   common.Address `json:"caller"`
	EntityID uuid.UUID      `json:"entity_id"`
}

// RefundBatchRequest refunds a list of entities.
type RefundBatchRequest struct {
	Type                string         `json:"type"`
	Caller              common.Address `json:"caller"`
	EntityIDs           []uuid.UUID    `json:"entity_ids"`
	SkipAlreadyRefunded bool           `json:"skip_already_refunded"`
}

// ClaimRefundRequest is the self-service refund path for one wallet.
type ClaimRefundRequest struct {
	Type   string         `json:"type"`
	Wallet common.Address `json:"wallet"`
}

// CancelBidRequest cancels an entity's bid during Cancellation.
type CancelBidRequest struct {
	Type     string         `json:"type"`
	Caller   common.Address `json:"caller"`
	EntityID uuid.UUID      `json:"entity_id"`
}

// WithdrawRequest pays the remaining proceeds to the receiver. With a
// token and amount set it is a partial withdrawal of that token only.
type WithdrawRequest struct {
	Type   string          `json:"type"`
	Caller common.Address  `json:"caller"`
	Token  common.Address  `json:"token,omitempty"`
	Amount decimal.Decimal `json:"amount,omitempty"`
}

// SetReceiverRequest changes the proceeds receiver.
type SetReceiverRequest struct {
	Type     string         `json:"type"`
	Caller   common.Address `json:"caller"`
	Receiver common.Address `json:"receiver"`
}

// SetClaimEnabledRequest toggles self-service refund claims.
type SetClaimEnabledRequest struct {
	Type    string         `json:"type"`
	Caller  common.Address `json:"caller"`
	Enabled bool           `json:"enabled"`
}

// RangeRequest reads entities or wallets in [from, to).
type RangeRequest struct {
	Type string `json:"type"`
	From int    `json:"from"`
	To   int    `json:"to"`
}

// Response is the generic reply envelope. Data carries the typed
// payload of read requests; mutations reply with Success/Message only.
type Response struct {
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// StatusData is the payload of a status response.
type StatusData struct {
	SaleID         uuid.UUID          `json:"sale_id"`
	Stage          string             `json:"stage"`
	Receiver       common.Address     `json:"receiver"`
	ClaimEnabled   bool               `json:"claim_enabled"`
	EntityCount    int                `json:"entity_count"`
	WalletCount    int                `json:"wallet_count"`
	TotalCommitted []core.TokenAmount `json:"total_committed"`
	TotalAccepted  []core.TokenAmount `json:"total_accepted"`
	TotalRefunded  []core.TokenAmount `json:"total_refunded"`
	TotalWithdrawn []core.TokenAmount `json:"total_withdrawn"`
}

// RefundBatchData reports how many entities a batch refunded.
type RefundBatchData struct {
	Refunded int `json:"refunded"`
}

// AttestationCOSE is a raw COSE_Sign1 document, either an NSM
// attestation or an engine-signed settlement proof.
type AttestationCOSE []byte

// SettlementProof is the payload the engine signs when settlement is
// finalized. Hashes follow the core digest formulas so an auditor can
// recompute them from a ledger export.
type SettlementProof struct {
	SaleID           uuid.UUID          `json:"sale_id" cbor:"1,keyasint"`
	TotalAccepted    []core.TokenAmount `json:"total_accepted" cbor:"2,keyasint"`
	AllocationCount  int                `json:"allocation_count" cbor:"3,keyasint"`
	EntityCount      int                `json:"entity_count" cbor:"4,keyasint"`
	WalletCount      int                `json:"wallet_count" cbor:"5,keyasint"`
	TotalsHash       string             `json:"totals_hash" cbor:"6,keyasint"`
	SettlementHash   string             `json:"settlement_hash" cbor:"7,keyasint"`
	AllocationHashes []string           `json:"allocation_hashes" cbor:"8,keyasint"`
	Nonce            string             `json:"nonce" cbor:"9,keyasint"`
	Timestamp        time.Time          `json:"timestamp" cbor:"10,keyasint"`
}

// PCRs are the Nitro platform configuration registers carried in an
// attestation document.
type PCRs struct {
	// PCR0, hash of the enclave image file.
	ImageFileHash string `json:"0"`

	// PCR1, hash of the kernel and initial ramdisk.
	KernelHash string `json:"1"`

	// PCR2, hash of the user application.
	ApplicationHash string `json:"2"`

	// PCR3, hash of the parent instance's IAM role.
	IAMRoleHash string `json:"3"`

	// PCR4, hash of the parent instance ID.
	InstanceIDHash string `json:"4"`

	// PCR8, hash of the image signing certificate.
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc is the decoded structure of an NSM attestation.
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	Certificate     string    `json:"certificate"`
	CABundle        []string  `json:"cabundle"`
	PublicKey       string    `json:"public_key"`
	Nonce           string    `json:"nonce"`
}

// SettlementAttestationDoc is an NSM attestation whose user data embeds
// a settlement proof.
type SettlementAttestationDoc struct {
	AttestationDoc
	UserData *SettlementProof `json:"user_data"`
}

// URLEncode encodes the attestation for transport in a URL parameter.
func (a *AttestationDoc) URLEncode() string {
	data, _ := json.Marshal(a)
	return url.QueryEscape(base64.StdEncoding.EncodeToString(data))
}

// URLEncode encodes the settlement attestation for URLs.
func (a *SettlementAttestationDoc) URLEncode() string {
	data, _ := json.Marshal(a)
	return url.QueryEscape(base64.StdEncoding.EncodeToString(data))
}

// ProofBundle is what the engine returns from a settlement_proof
// request: the signed proof plus the optional NSM attestation over the
// same payload, both base64 on the wire.
type ProofBundle struct {
	Proof       AttestationCOSE `json:"proof"`
	Attestation AttestationCOSE `json:"attestation,omitempty"`
	PublicKey   string          `json:"public_key"` // PEM, engine signing key
}
