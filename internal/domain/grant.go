package domain

import (
	"math/big"
	"time"
)

// PermissionGrant is one delegated-execution authorization obtained from the
// owner's wallet. The session signer (a locally held key, distinct from the
// owner wallet) may submit game transactions on the owner's behalf until the
// grant expires or its use budget is exhausted.
//
// A grant is immutable once issued; the remaining-use counter lives in
// SessionCounterState and is decremented by the scheduler alone.
type PermissionGrant struct {
	// SignerAddress is the delegated executor (the session account).
	SignerAddress string
	// OwnerAddress is the wallet that granted the permission.
	OwnerAddress string
	// AllowanceTotalWei is the value ceiling: per-game fee times play count.
	AllowanceTotalWei *big.Int
	// PeriodSeconds is the authorized lifetime of the grant.
	PeriodSeconds int64
	// IssuedAt is when the wallet issued the grant.
	IssuedAt time.Time
	// ExpiryTimestamp is IssuedAt + PeriodSeconds, as an absolute time.
	ExpiryTimestamp time.Time
	// DelegationToken is the opaque permissions context the relay presents
	// to the delegation manager. Never inspected locally.
	DelegationToken string
	// DelegationManagerRef is the on-chain verifier the relay must present
	// the token to.
	DelegationManagerRef string
	// ChainID identifies the chain the grant was issued for.
	ChainID int64
}

// Valid reports whether the grant authorizes further plays at the given time
// with the given remaining-use count.
func (g *PermissionGrant) Valid(now time.Time, remainingUses int) bool {
	if g == nil {
		return false
	}
	return now.Before(g.ExpiryTimestamp) && remainingUses > 0
}

// TimeRemaining returns the duration until expiry, or zero if expired.
func (g *PermissionGrant) TimeRemaining(now time.Time) time.Duration {
	if g == nil || !now.Before(g.ExpiryTimestamp) {
		return 0
	}
	return g.ExpiryTimestamp.Sub(now)
}

// SessionRecord is the persisted form of a grant plus its remaining-use
// counter. One record exists per session key; restarts restore it and discard
// it when expired.
type SessionRecord struct {
	Key           string
	Grant         PermissionGrant
	RemainingUses int
	UpdatedAt     time.Time
}

// PermissionSettings are the user-chosen bounds for a permission request.
type PermissionSettings struct {
	DurationSeconds int64
	PlayCount       int
	// ValueCeilingWei optionally caps the computed allowance. Nil means the
	// allowance is fee times play count uncapped.
	ValueCeilingWei *big.Int
}
