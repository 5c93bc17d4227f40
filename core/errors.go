package core

import (
	"errors"
	"fmt"
	"strings"
)

// Every failure is a synchronous whole-operation abort: callers never
// observe partial ledger mutation after any of these.
var (
	// Permit validation.
	ErrInvalidSaleID        = errors.New("permit sale id does not match this sale")
	ErrPermitExpired        = errors.New("permit has expired")
	ErrSenderMismatch       = errors.New("caller is not the wallet bound by the permit")
	ErrUnauthorizedSigner   = errors.New("permit signer is not authorized")
	ErrOutsideAllowedWindow = errors.New("current time is outside the permit window")

	// Bid validation.
	ErrZeroAmount               = errors.New("amount must be positive")
	ErrInvalidPaymentToken      = errors.New("token is not in the payment token set")
	ErrBidBelowMinAmount        = errors.New("bid amount below permit minimum")
	ErrBidExceedsMaxAmount      = errors.New("bid amount above permit maximum")
	ErrBidPriceBelowMinPrice    = errors.New("bid price below permit minimum")
	ErrBidPriceExceedsMaxPrice  = errors.New("bid price above permit maximum")
	ErrBidAmountCannotBeLowered = errors.New("bid amount cannot be lowered")
	ErrBidPriceCannotBeLowered  = errors.New("bid price cannot be lowered")
	ErrBidLockupCannotBeUndone  = errors.New("bid lockup cannot be undone")
	ErrBidMustHaveLockup        = errors.New("permit requires the bid to be locked up")

	// Registry.
	ErrWalletTiedToAnotherEntity   = errors.New("wallet is tied to another entity")
	ErrMaxWalletsPerEntityExceeded = errors.New("max wallets per entity exceeded")

	// Settlement.
	ErrAllocationExceedsCommitment   = errors.New("allocation exceeds wallet commitment")
	ErrAllocationAlreadySet          = errors.New("allocation already set for wallet and token")
	ErrWalletNotAssociatedWithEntity = errors.New("wallet is not associated with the entity")
	ErrUnexpectedTotalAcceptedAmount = errors.New("total accepted amount does not match expected")

	// Refund and withdrawal.
	ErrAlreadyRefunded            = errors.New("entity already refunded")
	ErrBidAlreadyCancelled        = errors.New("bid already cancelled")
	ErrClaimRefundDisabled        = errors.New("self-service refund claiming is disabled")
	ErrWithdrawalExceedsAvailable = errors.New("withdrawal exceeds available proceeds")

	// Configuration.
	ErrInvalidPaymentTokenDecimals = errors.New("invalid payment token decimals")
	ErrDuplicatePaymentToken       = errors.New("duplicate payment token")
	ErrNoPaymentTokens             = errors.New("no payment tokens configured")
	ErrZeroAddress                 = errors.New("address must not be the zero address")

	// ErrInvalidStage is the identity matched by errors.Is for any
	// *InvalidStageError.
	ErrInvalidStage = errors.New("operation not allowed in current stage")
)

// InvalidStageError reports the stage an operation was attempted in and
// the stages it would have been valid in.
type InvalidStageError struct {
	Current Stage
	Allowed []Stage
}

func (e *InvalidStageError) Error() string {
	names := make([]string, len(e.Allowed))
	for i, st := range e.Allowed {
		names[i] = st.String()
	}
	return fmt.Sprintf("invalid stage %s, allowed: %s", e.Current, strings.Join(names, ", "))
}

func (e *InvalidStageError) Unwrap() error { return ErrInvalidStage }
