package repo

import (
	"context"
	"database/sql"

	"seisreview/internal/domain"
)

// AuditAfter returns up to limit entries with id > after, oldest first.
func (r Repo) AuditAfter(ctx context.Context, after int64, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,event_id,operator_id,payload_json FROM audit_log WHERE id > ? ORDER BY id ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			eventID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &eventID, &e.OperatorID, &e.Payload); err != nil {
			return nil, err
		}
		e.EventID = eventID.Int64
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestAuditID returns the highest audit id, or 0 for an empty log.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM audit_log`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
