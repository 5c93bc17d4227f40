// Package engine hosts a settlement core behind a single mutex and a
// socket server. Every state-changing request is applied atomically in
// one global order; the core itself stays free of I/O and locking.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sunrisedotdev/sonar-sub000/core"
	"github.com/sunrisedotdev/sonar-sub000/saleapi"
)

// Engine serializes all access to one core.Sale.
type Engine struct {
	mu   sync.Mutex
	sale *core.Sale

	log      *zap.Logger
	metrics  *Metrics
	keys     *KeyManager
	attester Attester // nil outside an enclave

	snapshotPath string
}

// Options configures an engine.
type Options struct {
	Sale         *core.Sale
	Logger       *zap.Logger
	Metrics      *Metrics
	Keys         *KeyManager
	Attester     Attester
	SnapshotPath string
}

// New wires an engine around a sale. A nil Attester is allowed; the
// engine then emits COSE-signed proofs without NSM attestation.
func New(opts Options) (*Engine, error) {
	if opts.Sale == nil {
		return nil, fmt.Errorf("engine requires a sale")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Keys == nil {
		keys, err := NewKeyManager()
		if err != nil {
			return nil, err
		}
		opts.Keys = keys
	}
	if opts.Attester == nil {
		attester, err := nsmAttester()
		if err != nil {
			opts.Logger.Info("NSM unavailable, proofs will carry no attestation", zap.Error(err))
		} else {
			opts.Attester = attester
		}
	}
	return &Engine{
		sale:         opts.Sale,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		keys:         opts.Keys,
		attester:     opts.Attester,
		snapshotPath: opts.SnapshotPath,
	}, nil
}

// syncGauges refreshes the per-token aggregate gauges after a
// successful mutation. Caller holds the mutex.
func (e *Engine) syncGauges() {
	if e.metrics == nil {
		return
	}
	for _, tok := range e.sale.PaymentTokens() {
		label := strings.ToLower(tok.Address.Hex())
		e.metrics.TotalCommitted.WithLabelValues(label).Set(e.sale.TotalCommitted(tok.Address).InexactFloat64())
		e.metrics.TotalAccepted.WithLabelValues(label).Set(e.sale.TotalAccepted(tok.Address).InexactFloat64())
		e.metrics.TotalRefunded.WithLabelValues(label).Set(e.sale.TotalRefunded(tok.Address).InexactFloat64())
		e.metrics.TotalWithdrawn.WithLabelValues(label).Set(e.sale.TotalWithdrawn(tok.Address).InexactFloat64())
	}
}

// PlaceBid decodes the canonical permit bytes and applies the bid.
func (e *Engine) PlaceBid(req saleapi.PlaceBidRequest) error {
	permit, err := saleapi.DecodePermit(req.Permit)
	if err != nil {
		if e.metrics != nil {
			e.metrics.BidsRejected.WithLabelValues("malformed_permit").Inc()
		}
		return err
	}
	bid := core.Bid{Price: req.Price, Amount: req.Amount, Lockup: req.Lockup}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sale.PlaceBid(req.Wallet, req.Token, bid, permit, req.Signature); err != nil {
		if e.metrics != nil {
			e.metrics.BidsRejected.WithLabelValues(rejectionReason(err)).Inc()
		}
		e.log.Info("bid rejected",
			zap.String("wallet", req.Wallet.Hex()),
			zap.String("token", req.Token.Hex()),
			zap.Error(err))
		return err
	}
	if e.metrics != nil {
		e.metrics.BidsAccepted.Inc()
	}
	e.syncGauges()
	e.log.Info("bid accepted",
		zap.String("wallet", req.Wallet.Hex()),
		zap.String("token", req.Token.Hex()),
		zap.String("amount", req.Amount.String()),
		zap.Uint64("price", req.Price))
	return nil
}

// rejectionReason buckets bid errors for the rejection counter.
func rejectionReason(err error) string {
	if errors.Is(err, core.ErrInvalidStage) {
		return "invalid_stage"
	}
	return strings.ReplaceAll(strings.SplitN(err.Error(), ":", 2)[0], " ", "_")
}

// AdvanceStage moves the sale along an orderly transition.
func (e *Engine) AdvanceStage(caller common.Address, target string) error {
	stage, err := core.ParseStage(target)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sale.AdvanceStage(caller, stage); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.StageChanges.WithLabelValues(stage.String(), "false").Inc()
	}
	e.log.Info("stage advanced",
		zap.String("actor", caller.Hex()),
		zap.String("stage", stage.String()))
	return nil
}

// ForceStage overrides the transition graph. Always logged loudly.
func (e *Engine) ForceStage(caller common.Address, target string) error {
	stage, err := core.ParseStage(target)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sale.ForceStage(caller, stage); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.StageChanges.WithLabelValues(stage.String(), "true").Inc()
	}
	e.log.Warn("stage forced",
		zap.String("actor", caller.Hex()),
		zap.String("stage", stage.String()))
	return nil
}

// SetAllocations applies an allocation batch, from explicit entries or
// a CSV body.
func (e *Engine) SetAllocations(req saleapi.SetAllocationsRequest) error {
	entries := make([]core.AllocationEntry, 0, len(req.Entries))
	for _, entry := range req.Entries {
		entries = append(entries, core.AllocationEntry{
			EntityID: entry.EntityID,
			Wallet:   entry.Wallet,
			Token:    entry.Token,
			Accepted: entry.Accepted,
		})
	}
	if req.CSV != "" {
		parsed, err := saleapi.ParseAllocationCSV(strings.NewReader(req.CSV))
		if err != nil {
			return err
		}
		entries = append(entries, parsed...)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sale.SetAllocations(req.Caller, entries, req.AllowOverwrite); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.BatchSize.Observe(float64(len(entries)))
	}
	e.syncGauges()
	e.log.Info("allocations recorded",
		zap.String("actor", req.Caller.Hex()),
		zap.Int("entries", len(entries)),
		zap.Bool("overwrite", req.AllowOverwrite))
	return nil
}

// Finalize checks the expected total and closes settlement.
func (e *Engine) Finalize(req saleapi.FinalizeRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sale.FinalizeSettlement(req.Caller, req.ExpectedTotal); err != nil {
		return err
	}
	e.log.Info("settlement finalized",
		zap.String("actor", req.Caller.Hex()),
		zap.String("expected_total", req.ExpectedTotal.String()))
	return nil
}

// Refund processes one entity.
func (e *Engine) Refund(req saleapi.RefundRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sale.Refund(req.Caller, req.EntityID); err != nil {
		return err
	}
	e.syncGauges()
	e.log.Info("entity refunded",
		zap.String("actor", req.Caller.Hex()),
		zap.String("entity", req.EntityID.String()))
	return nil
}

// RefundBatch refunds a list of entities, returning how many this call
// processed.
func (e *Engine) RefundBatch(req saleapi.RefundBatchRequest) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.sale.RefundBatch(req.Caller, req.EntityIDs, req.SkipAlreadyRefunded)
	if err != nil {
		return n, err
	}
	if e.metrics != nil {
		e.metrics.BatchSize.Observe(float64(len(req.EntityIDs)))
	}
	e.syncGauges()
	e.log.Info("refund batch processed",
		zap.String("actor", req.Caller.Hex()),
		zap.Int("requested", len(req.EntityIDs)),
		zap.Int("refunded", n))
	return n, nil
}

// ClaimRefund is the self-service refund path.
func (e *Engine) ClaimRefund(wallet common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sale.ClaimRefund(wallet); err != nil {
		return err
	}
	e.syncGauges()
	e.log.Info("refund claimed", zap.String("wallet", wallet.Hex()))
	return nil
}

// CancelBid cancels an entity's bid during Cancellation.
func (e *Engine) CancelBid(req saleapi.CancelBidRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sale.CancelBid(req.Caller, req.EntityID); err != nil {
		return err
	}
	e.syncGauges()
	e.log.Info("bid cancelled",
		zap.String("actor", req.Caller.Hex()),
		zap.String("entity", req.EntityID.String()))
	return nil
}

// Withdraw pays remaining proceeds to the receiver, all tokens or one.
func (e *Engine) Withdraw(req saleapi.WithdrawRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if req.Token == (common.Address{}) {
		err = e.sale.Withdraw(req.Caller)
	} else {
		err = e.sale.WithdrawPartial(req.Caller, req.Token, req.Amount)
	}
	if err != nil {
		return err
	}
	e.syncGauges()
	e.log.Info("proceeds withdrawn", zap.String("actor", req.Caller.Hex()))
	return nil
}

// SetReceiver changes the proceeds receiver.
func (e *Engine) SetReceiver(req saleapi.SetReceiverRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sale.SetReceiver(req.Caller, req.Receiver); err != nil {
		return err
	}
	e.log.Info("receiver changed",
		zap.String("actor", req.Caller.Hex()),
		zap.String("receiver", req.Receiver.Hex()))
	return nil
}

// SetClaimEnabled toggles self-service refund claims.
func (e *Engine) SetClaimEnabled(req saleapi.SetClaimEnabledRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sale.SetClaimEnabled(req.Caller, req.Enabled); err != nil {
		return err
	}
	e.log.Info("claim toggle changed",
		zap.String("actor", req.Caller.Hex()),
		zap.Bool("enabled", req.Enabled))
	return nil
}

// Status summarizes the sale.
func (e *Engine) Status() saleapi.StatusData {
	e.mu.Lock()
	defer e.mu.Unlock()
	status := saleapi.StatusData{
		SaleID:       e.sale.ID(),
		Stage:        e.sale.Stage().String(),
		Receiver:     e.sale.Receiver(),
		ClaimEnabled: e.sale.ClaimEnabled(),
		EntityCount:  e.sale.EntityCount(),
		WalletCount:  e.sale.WalletCount(),
	}
	for _, tok := range e.sale.PaymentTokens() {
		status.TotalCommitted = append(status.TotalCommitted, core.TokenAmount{Token: tok.Address, Amount: e.sale.TotalCommitted(tok.Address)})
		status.TotalAccepted = append(status.TotalAccepted, core.TokenAmount{Token: tok.Address, Amount: e.sale.TotalAccepted(tok.Address)})
		status.TotalRefunded = append(status.TotalRefunded, core.TokenAmount{Token: tok.Address, Amount: e.sale.TotalRefunded(tok.Address)})
		status.TotalWithdrawn = append(status.TotalWithdrawn, core.TokenAmount{Token: tok.Address, Amount: e.sale.TotalWithdrawn(tok.Address)})
	}
	return status
}

// EntityRange reads entities in [from, to).
func (e *Engine) EntityRange(from, to int) ([]core.EntityView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sale.EntityRange(from, to)
}

// WalletRange reads wallets in [from, to).
func (e *Engine) WalletRange(from, to int) ([]core.WalletView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sale.WalletRange(from, to)
}

// StageAuditLog returns every recorded transition.
func (e *Engine) StageAuditLog() []core.StageTransition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sale.StageLog()
}

// Export returns the full ledger export.
func (e *Engine) Export() *core.Export {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sale.Export()
}

// Snapshot persists the current state to the configured path.
func (e *Engine) Snapshot() error {
	if e.snapshotPath == "" {
		return fmt.Errorf("no snapshot path configured")
	}
	exp := e.Export()
	if err := SaveSnapshot(e.snapshotPath, exp); err != nil {
		return err
	}
	e.log.Info("snapshot written", zap.String("path", e.snapshotPath))
	return nil
}

// SettlementProof builds, signs and (when an attester is present)
// attests a proof of the current settlement state.
func (e *Engine) SettlementProof() (*saleapi.ProofBundle, error) {
	e.mu.Lock()
	proof, err := BuildSettlementProof(e.sale)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	signed, err := SignProof(e.keys, proof)
	if err != nil {
		return nil, err
	}
	publicKeyPEM, err := e.keys.PublicKeyPEM()
	if err != nil {
		return nil, err
	}

	bundle := &saleapi.ProofBundle{
		Proof:     signed,
		PublicKey: publicKeyPEM,
	}
	if e.attester != nil {
		attestation, err := AttestProof(e.attester, proof)
		if err != nil {
			e.log.Error("NSM attestation failed, returning signed proof only", zap.Error(err))
		} else {
			bundle.Attestation = attestation
		}
	}
	e.log.Info("settlement proof generated",
		zap.String("settlement_hash", proof.SettlementHash),
		zap.Int("allocations", proof.AllocationCount),
		zap.Bool("attested", bundle.Attestation != nil))
	return bundle, nil
}
