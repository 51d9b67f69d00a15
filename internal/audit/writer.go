package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Entry types written by the catalog.
const (
	TypeEventClaimed  = "event.claimed"
	TypeEventRejected = "event.rejected"
	TypeCatalogSeeded = "catalog.seeded"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Append writes one audit row inside tx so it commits with the change it records.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, entryType string, eventID int64, operatorID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(ts,type,event_id,operator_id,payload_json) VALUES (?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), entryType, nullableID(eventID), operatorID, string(data))
	if err != nil {
		return fmt.Errorf("append audit %s: %w", entryType, err)
	}
	return nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
