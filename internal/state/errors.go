package state

import "errors"

var (
	ErrHealthFactor             = errors.New("stable: health factor violated")
	ErrMaxLiquidationAmount     = errors.New("stable: liquidation exceeds close factor")
	ErrInvalidAmount            = errors.New("stable: amount must be positive")
	ErrPositionNotFound         = errors.New("stable: position not found")
	ErrConfigNotInitialized     = errors.New("stable: config not initialized")
	ErrConfigAlreadyInitialized = errors.New("stable: config already initialized")
	ErrUnauthorized             = errors.New("stable: caller not authorized")
	ErrInvalidConfig            = errors.New("stable: invalid protocol config")
)
