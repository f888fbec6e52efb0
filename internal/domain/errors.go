package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrWalletRejected        = errors.New("wallet rejected the request")
	ErrUnsupportedCapability = errors.New("capability not supported")
	ErrInvalidRequest        = errors.New("invalid request parameters")
	ErrGrantExpired          = errors.New("permission grant expired")
	ErrNoActiveGrant         = errors.New("no active permission grant")
	ErrUsesExhausted         = errors.New("authorized uses exhausted")
	ErrRateLimited           = errors.New("rate limited")
	ErrPollTimeout           = errors.New("outcome polling timed out")
	ErrLoopActive            = errors.New("auto-play loop already active")
	ErrConfigMissing         = errors.New("required configuration missing")
	ErrRelayRejected         = errors.New("relay rejected the operation")
	ErrContextDone           = errors.New("context cancelled")
)
