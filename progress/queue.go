// ABOUTME: Durable retry queue for failed syncs, persisted next to local state.
// ABOUTME: Entries are signals to re-run a full sync, not replayable diffs.
package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// OpKind tags which sync cycle a queued operation belongs to.
type OpKind string

const (
	OpProgress OpKind = "progress"
	OpProfile  OpKind = "profile"
)

// SyncOperation is one queued retry. Payload is informational only:
// processing re-runs a full sync rather than replaying the payload.
type SyncOperation struct {
	ID         string          `json:"id"`
	Kind       OpKind          `json:"kind"`
	UserID     string          `json:"user_id"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EnqueueSync appends a retry operation. The row is committed before
// returning, so the operation survives a process restart. Repeated
// failures of the same logical sync enqueue repeated entries; the
// queue does not deduplicate by kind.
func (s *Store) EnqueueSync(ctx context.Context, kind OpKind, userID string, payload any) (SyncOperation, error) {
	op := SyncOperation{
		ID:         ulid.Make().String(),
		Kind:       kind,
		UserID:     userID,
		EnqueuedAt: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return SyncOperation{}, err
		}
		op.Payload = raw
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_queue(op_id, kind, user_id, enqueued_at, payload)
VALUES(?,?,?,?,?)`,
		op.ID, string(op.Kind), op.UserID, op.EnqueuedAt.Unix(), string(op.Payload),
	)
	if err != nil {
		return SyncOperation{}, err
	}
	return op, nil
}

// PendingSyncs lists a user's queued operations in insertion order.
// ULIDs sort lexicographically by creation time, so ordering by id
// preserves enqueue order.
func (s *Store) PendingSyncs(ctx context.Context, userID string) ([]SyncOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT op_id, kind, user_id, enqueued_at, payload
FROM sync_queue WHERE user_id = ? ORDER BY op_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var ops []SyncOperation
	for rows.Next() {
		var op SyncOperation
		var enqueued int64
		var payload string
		if err := rows.Scan(&op.ID, (*string)(&op.Kind), &op.UserID, &enqueued, &payload); err != nil {
			return nil, err
		}
		op.EnqueuedAt = time.Unix(enqueued, 0).UTC()
		if payload != "" {
			op.Payload = json.RawMessage(payload)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// RemoveSyncs deletes operations by id after a successful sync.
// Unknown ids are a no-op.
func (s *Store) RemoveSyncs(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM sync_queue WHERE op_id = ?`)
	if err != nil {
		return err
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ClearSyncs drops every queued operation for a user, used on logout.
func (s *Store) ClearSyncs(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE user_id = ?`, userID)
	return err
}
