package domain

import (
	"context"
	"math/big"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SessionStore persists the single delegated-permission session record. The
// record survives restarts; Load validates expiry at startup and callers
// discard expired records.
type SessionStore interface {
	Save(ctx context.Context, rec SessionRecord) error
	Load(ctx context.Context, key string) (SessionRecord, error)
	UpdateRemainingUses(ctx context.Context, key string, remaining int) error
	Delete(ctx context.Context, key string) error
}

// GameStore persists game requests and their settled outcomes.
type GameStore interface {
	InsertRequest(ctx context.Context, req GameRequest) error
	SaveOutcome(ctx context.Context, outcome GameOutcome) error
	GetOutcome(ctx context.Context, requestID *big.Int) (GameOutcome, error)
	ListSettled(ctx context.Context, opts ListOpts) ([]GameOutcome, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]GameOutcome, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}
