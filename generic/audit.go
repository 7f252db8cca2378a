package generic

import (
	"context"
	"time"
)

// AuditRecord is the content of an audit entry before it gets an ID and a
// timestamp.
type AuditRecord struct {
	Kind         CommitmentKind
	CommitmentID string
	Action       AuditAction
	ActorID      UserID
	Comment      string
}

// AuditWriter stamps and appends audit entries inside a transaction.
type AuditWriter struct {
	Now   func() time.Time
	NewID func() string
}

func NewAuditWriter(now func() time.Time) *AuditWriter {
	if now == nil {
		now = time.Now
	}
	return &AuditWriter{Now: now, NewID: NewID}
}

// Append writes rec within tx. Because it shares tx with the commitment
// mutation, the entry exists if and only if the mutation commits.
func (w *AuditWriter) Append(ctx context.Context, tx LedgerTx, rec AuditRecord) (AuditEntry, error) {
	entry := AuditEntry{
		ID:             AuditID(w.NewID()),
		CommitmentKind: rec.Kind,
		CommitmentID:   rec.CommitmentID,
		Action:         rec.Action,
		ActorID:        rec.ActorID,
		Comment:        rec.Comment,
		CreatedAt:      w.Now().UTC(),
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return AuditEntry{}, err
	}
	return entry, nil
}
