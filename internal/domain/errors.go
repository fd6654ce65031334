package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrPendingNotFound      = errors.New("pending position not found")
	ErrPositionNotFound     = errors.New("position not found")
	ErrDuplicateCorrelation = errors.New("duplicate correlation id")
	ErrAlreadyClaimed       = errors.New("position already claimed")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidRange         = errors.New("invalid price range")
	ErrUnsupportedAsset     = errors.New("unsupported asset")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrSlippageExceeded     = errors.New("slippage exceeded")
	ErrFrozen               = errors.New("field is frozen")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrLockHeld             = errors.New("lock already held")
	ErrPaused               = errors.New("monitoring paused")
	ErrInvalidParams        = errors.New("invalid instruction parameters")
)
