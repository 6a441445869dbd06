package model

import "errors"

// Validation errors.
var (
	ErrInvalidOutcomes     = errors.New("invalid outcomes: must be exactly 2")
	ErrInvalidOutcomeLabel = errors.New("invalid outcome label")
	ErrInvalidQuestion     = errors.New("invalid question")
	ErrInvalidEndTime      = errors.New("invalid end time: must be in the future")
	ErrInvalidOutcome      = errors.New("invalid outcome selection")
	ErrInvalidAmount       = errors.New("invalid amount: must be greater than 0")
	ErrInvalidFee          = errors.New("invalid fee configuration")
	ErrMissingCaller       = errors.New("caller identity is required")
)

// State errors.
var (
	ErrProtocolInitialized    = errors.New("protocol already initialized")
	ErrProtocolNotInitialized = errors.New("protocol not initialized")
	ErrMarketResolved         = errors.New("market already resolved")
	ErrMarketEnded            = errors.New("market has ended")
	ErrMarketEndedForExit     = errors.New("market already ended for modification")
	ErrAlreadyResolved        = errors.New("already resolved")
	ErrMarketNotEnded         = errors.New("market not ended yet")
	ErrMarketNotResolved      = errors.New("market not resolved yet")
	ErrEscrowNotEmpty         = errors.New("market escrow is not empty")
)

// Authorization errors.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrPositionOwnerMismatch = errors.New("caller does not own the position")
	ErrUnauthorizedTransfer  = errors.New("transfer not authorized by account owner")
)

// Arithmetic errors.
var (
	ErrAmountOverflow = errors.New("amount overflow")
)

// Economic errors.
var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSlippageExceeded      = errors.New("slippage exceeded: payout below minimum")
	ErrNoWinnersRemaining    = errors.New("no winners remaining in the winning pool")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrLosingPosition        = errors.New("losing position: nothing to claim")
)

// Idempotency errors.
var (
	ErrAlreadyClaimed          = errors.New("position already claimed")
	ErrWithdrawExceedsPosition = errors.New("withdraw amount exceeds position")
)

// Lookup errors.
var (
	ErrMarketNotFound   = errors.New("market not found")
	ErrPositionNotFound = errors.New("position not found")
)

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports malformed input.
func IsValidation(err error) bool {
	return isAny(err,
		ErrInvalidOutcomes, ErrInvalidOutcomeLabel, ErrInvalidQuestion,
		ErrInvalidEndTime, ErrInvalidOutcome, ErrInvalidAmount,
		ErrInvalidFee, ErrMissingCaller,
	)
}

// IsState reports an operation rejected by the market or protocol lifecycle.
func IsState(err error) bool {
	return isAny(err,
		ErrProtocolInitialized, ErrProtocolNotInitialized, ErrMarketResolved,
		ErrMarketEnded, ErrMarketEndedForExit, ErrAlreadyResolved,
		ErrMarketNotEnded, ErrMarketNotResolved, ErrEscrowNotEmpty,
	)
}

// IsAuthorization reports a caller that may not perform the operation.
func IsAuthorization(err error) bool {
	return isAny(err, ErrUnauthorized, ErrPositionOwnerMismatch, ErrUnauthorizedTransfer)
}

// IsArithmetic reports an overflow or out-of-range computed value.
func IsArithmetic(err error) bool {
	return errors.Is(err, ErrAmountOverflow)
}

// IsEconomic reports an exit or claim the pools or escrow cannot satisfy.
func IsEconomic(err error) bool {
	return isAny(err,
		ErrInsufficientLiquidity, ErrSlippageExceeded, ErrNoWinnersRemaining,
		ErrInsufficientBalance, ErrLosingPosition,
	)
}

// IsIdempotency reports a repeat of an operation that already took effect.
func IsIdempotency(err error) bool {
	return isAny(err, ErrAlreadyClaimed, ErrWithdrawExceedsPosition)
}

// IsNotFound reports a missing market or position.
func IsNotFound(err error) bool {
	return isAny(err, ErrMarketNotFound, ErrPositionNotFound)
}

// IsRetryable reports conditions that may clear on their own: price movement,
// liquidity arriving, or the clock passing the market end.
func IsRetryable(err error) bool {
	return isAny(err, ErrSlippageExceeded, ErrInsufficientLiquidity, ErrMarketNotEnded)
}
