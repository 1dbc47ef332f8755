package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"conti/internal/core"
)

// SaveRepair inserts the repair or replaces the row with the same ID.
func (r *SQLiteRepository) SaveRepair(ctx context.Context, repair core.Repair) error {
	adjustments, err := json.Marshal(repair.Adjustments)
	if err != nil {
		return writeErr("encode repair adjustments", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ledger_repairs (id, owner_uid, transaction_id, adjustments, reason, attempts, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			adjustments = excluded.adjustments,
			reason      = excluded.reason,
			attempts    = excluded.attempts,
			status      = excluded.status,
			updated_at  = excluded.updated_at`,
		repair.ID, repair.OwnerUID, repair.TransactionID, string(adjustments), repair.Reason,
		repair.Attempts, string(repair.Status),
		repair.CreatedAt.UTC().Format(timeLayout), repair.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return writeErr("save repair", err)
	}
	return nil
}

// PendingRepairs returns up to limit pending repairs, oldest first.
func (r *SQLiteRepository) PendingRepairs(ctx context.Context, limit int) ([]core.Repair, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_uid, transaction_id, adjustments, reason, attempts, status, created_at, updated_at
		FROM ledger_repairs
		WHERE status = ?
		ORDER BY created_at
		LIMIT ?`, string(core.RepairPending), limit)
	if err != nil {
		return nil, readErr("pending repairs", err)
	}
	defer rows.Close()

	var out []core.Repair
	for rows.Next() {
		var (
			repair               core.Repair
			adjustments, status  string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&repair.ID, &repair.OwnerUID, &repair.TransactionID, &adjustments,
			&repair.Reason, &repair.Attempts, &status, &createdAt, &updatedAt); err != nil {
			return nil, readErr("scan repair", err)
		}
		if err := json.Unmarshal([]byte(adjustments), &repair.Adjustments); err != nil {
			return nil, readErr("decode repair adjustments", err)
		}
		repair.Status = core.RepairStatus(status)
		if repair.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, readErr("parse repair created_at", err)
		}
		if repair.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, readErr("parse repair updated_at", err)
		}
		out = append(out, repair)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr("pending repairs", err)
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteRepair(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ledger_repairs WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete repair", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return writeErr("delete repair", err)
	} else if n == 0 {
		return fmt.Errorf("repair %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// RetryFailedRepairs moves failed repairs back to pending with a fresh attempt count.
func (r *SQLiteRepository) RetryFailedRepairs(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ledger_repairs SET status = ?, attempts = 0, updated_at = ?
		WHERE status = ?`,
		string(core.RepairPending), time.Now().UTC().Format(timeLayout), string(core.RepairFailed))
	if err != nil {
		return 0, writeErr("retry failed repairs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, writeErr("retry failed repairs", err)
	}
	r.logger.Info("Failed ledger repairs reset", "count", n)
	return int(n), nil
}
