package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackpetlabs/jackpetbot/internal/domain"
)

// ArchiveImpl implements domain.Archiver: it queries the stores for records
// older than a cutoff, serializes them to JSONL, and uploads the result to
// object storage. Removal of the archived rows from the primary store is a
// separate, explicit step taken after the archive is verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	games  domain.GameStore
	audit  domain.AuditStore
}

// NewArchiver creates an ArchiveImpl over the given writer and stores.
func NewArchiver(writer domain.BlobWriter, games domain.GameStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		games:  games,
		audit:  audit,
	}
}

// archivedOutcome is the JSONL row for an exported outcome.
type archivedOutcome struct {
	RequestID        string `json:"request_id"`
	Player           string `json:"player"`
	A                uint8  `json:"a"`
	B                uint8  `json:"b"`
	C                uint8  `json:"c"`
	TicketRate       uint32 `json:"ticket_rate"`
	PayoutWei        string `json:"payout_wei,omitempty"`
	JackpotPayoutWei string `json:"jackpot_payout_wei,omitempty"`
	SettledAt        string `json:"settled_at"`
}

// ArchiveOutcomes exports every outcome settled before the cutoff to
// archive/outcomes/YYYY-MM-DD.jsonl and records the export in the audit log.
// Returns the number of archived records.
func (a *ArchiveImpl) ArchiveOutcomes(ctx context.Context, before time.Time) (int64, error) {
	outcomes, err := a.games.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes query: %w", err)
	}
	if len(outcomes) == 0 {
		return 0, nil
	}

	rows := make([]archivedOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		row := archivedOutcome{
			Player:     o.Player,
			A:          o.A,
			B:          o.B,
			C:          o.C,
			TicketRate: o.TicketRate,
			SettledAt:  o.SettledAt.UTC().Format(time.RFC3339),
		}
		if o.RequestID != nil {
			row.RequestID = o.RequestID.String()
		}
		if o.PayoutWei != nil {
			row.PayoutWei = o.PayoutWei.String()
		}
		if o.JackpotPayoutWei != nil {
			row.JackpotPayoutWei = o.JackpotPayoutWei.String()
		}
		rows = append(rows, row)
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes marshal: %w", err)
	}

	path := archivePath("outcomes", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes upload: %w", err)
	}

	count := int64(len(outcomes))
	if err := a.audit.Log(ctx, "archive.outcomes", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive outcomes audit log: %w", err)
	}
	return count, nil
}

// ArchiveAudit exports every audit entry created before the cutoff to
// archive/audit/YYYY-MM-DD.jsonl. Returns the number of archived records.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

// marshalJSONL renders one JSON object per line.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the object key for an export: archive/{kind}/YYYY-MM-DD.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
