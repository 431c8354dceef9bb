package core

import (
	"errors"

	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"
)

// RejectReason maps an operation error to a short metric label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrHealthFactor):
		return "health_factor"
	case errors.Is(err, state.ErrMaxLiquidationAmount):
		return "max_liquidation_amount"
	case errors.Is(err, oracle.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, oracle.ErrOracleFeedMismatch):
		return "feed_mismatch"
	case errors.Is(err, oracle.ErrNoQuote):
		return "no_quote"
	case errors.Is(err, fpmath.ErrArithmeticOverflow):
		return "overflow"
	case errors.Is(err, fpmath.ErrArithmeticUnderflow):
		return "underflow"
	case errors.Is(err, fpmath.ErrDivisionByZero):
		return "division_by_zero"
	case errors.Is(err, fpmath.ErrInvalidPrice), errors.Is(err, fpmath.ErrPriceExponentOutOfRange):
		return "invalid_price"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, state.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, state.ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, state.ErrConfigNotInitialized), errors.Is(err, state.ErrConfigAlreadyInitialized):
		return "config"
	case errors.Is(err, state.ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, state.ErrUnauthorized):
		return "unauthorized"
	default:
		return "other"
	}
}
