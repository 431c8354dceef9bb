package server

import (
	"context"
	"errors"

	"StableLedger/internal/ingestion"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/oracle"
	"StableLedger/internal/query"
	"StableLedger/internal/state"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps a service error to a gRPC status. Errors that already
// carry a status pass through.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded

	case errors.Is(err, state.ErrInvalidAmount),
		errors.Is(err, state.ErrInvalidConfig),
		errors.Is(err, ledger.ErrInvalidPrincipal),
		errors.Is(err, ingestion.ErrInvalidPayload):
		return codes.InvalidArgument

	case errors.Is(err, state.ErrPositionNotFound):
		return codes.NotFound

	case errors.Is(err, state.ErrUnauthorized):
		return codes.PermissionDenied

	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken):
		return codes.Unauthenticated

	case errors.Is(err, state.ErrHealthFactor),
		errors.Is(err, state.ErrMaxLiquidationAmount),
		errors.Is(err, state.ErrConfigNotInitialized),
		errors.Is(err, state.ErrConfigAlreadyInitialized),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, fpmath.ErrArithmeticOverflow),
		errors.Is(err, fpmath.ErrArithmeticUnderflow),
		errors.Is(err, fpmath.ErrDivisionByZero):
		return codes.FailedPrecondition

	case errors.Is(err, oracle.ErrStalePrice),
		errors.Is(err, oracle.ErrOracleFeedMismatch),
		errors.Is(err, oracle.ErrNoQuote),
		errors.Is(err, fpmath.ErrInvalidPrice),
		errors.Is(err, fpmath.ErrPriceExponentOutOfRange),
		errors.Is(err, query.ErrNoReadModels):
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
