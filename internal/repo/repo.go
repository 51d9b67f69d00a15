package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"seisreview/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const eventColumns = `id,occurred_at,coordinates,magnitude,state,richter_value,richter_description,classification,origin,reach,reach_radius_km,reviewer_id,last_state_change_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.SeismicEvent, error) {
	var (
		e           domain.SeismicEvent
		state       string
		richter     sql.NullFloat64
		radius      sql.NullFloat64
		richterDesc sql.NullString
		cls         sql.NullString
		origin      sql.NullString
		reach       sql.NullString
		reviewer    sql.NullString
		changedAt   sql.NullString
	)
	err := row.Scan(&e.ID, &e.OccurredAt, &e.Coordinates, &e.Magnitude, &state, &richter, &richterDesc, &cls, &origin, &reach, &radius, &reviewer, &changedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.State = domain.EventState(state)
	e.StateDescription = e.State.Description()
	e.RichterValue = floatPtr(richter)
	e.RichterDescription = strPtr(richterDesc)
	e.Classification = strPtr(cls)
	e.Origin = strPtr(origin)
	e.Reach = strPtr(reach)
	e.ReachRadiusKm = floatPtr(radius)
	e.ReviewerID = strPtr(reviewer)
	e.LastStateChangeAt = strPtr(changedAt)
	return e, nil
}

func (r Repo) GetEvent(ctx context.Context, id int64) (domain.SeismicEvent, error) {
	return getEvent(ctx, r.DB, id)
}

func (r Repo) GetEventTx(ctx context.Context, tx *sql.Tx, id int64) (domain.SeismicEvent, error) {
	return getEvent(ctx, tx, id)
}

func getEvent(ctx context.Context, q querier, id int64) (domain.SeismicEvent, error) {
	return scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM seismic_events WHERE id=?`, id))
}

// EventFilters narrows ListEvents. Empty States means every state.
type EventFilters struct {
	States []domain.EventState
	Limit  int
}

// ListEvents returns events oldest first.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.SeismicEvent, error) {
	var (
		where []string
		args  []any
	)
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, s := range f.States {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "state IN ("+strings.Join(marks, ",")+")")
	}
	query := `SELECT ` + eventColumns + ` FROM seismic_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SeismicEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountByState returns the number of events per state.
func (r Repo) CountByState(ctx context.Context) (map[domain.EventState]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT state, COUNT(*) FROM seismic_events GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[domain.EventState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[domain.EventState(state)] = n
	}
	return counts, rows.Err()
}

func (r Repo) UpsertEventTx(ctx context.Context, tx *sql.Tx, e domain.SeismicEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO seismic_events(`+eventColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET occurred_at=excluded.occurred_at, coordinates=excluded.coordinates, magnitude=excluded.magnitude,
state=excluded.state, richter_value=excluded.richter_value, richter_description=excluded.richter_description,
classification=excluded.classification, origin=excluded.origin, reach=excluded.reach, reach_radius_km=excluded.reach_radius_km,
reviewer_id=excluded.reviewer_id, last_state_change_at=excluded.last_state_change_at`,
		e.ID, e.OccurredAt, e.Coordinates, e.Magnitude, string(e.State),
		nullFloat(e.RichterValue), nullString(e.RichterDescription), nullString(e.Classification),
		nullString(e.Origin), nullString(e.Reach), nullFloat(e.ReachRadiusKm), nullString(e.ReviewerID), nullString(e.LastStateChangeAt))
	if err != nil {
		return fmt.Errorf("upsert event %d: %w", e.ID, err)
	}
	return nil
}

// TransitionTx moves an event to state `to` only if its current state is one
// of `from`. It reports false, nil when the guard did not match.
func (r Repo) TransitionTx(ctx context.Context, tx *sql.Tx, id int64, from []domain.EventState, to domain.EventState, reviewerID *string, at string) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition requires at least one source state")
	}
	marks := make([]string, len(from))
	args := []any{string(to), nullString(reviewerID), at, id}
	for i, s := range from {
		marks[i] = "?"
		args = append(args, string(s))
	}
	res, err := tx.ExecContext(ctx, `UPDATE seismic_events SET state=?, reviewer_id=?, last_state_change_at=? WHERE id=? AND state IN (`+strings.Join(marks, ",")+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) InsertStateChangeTx(ctx context.Context, tx *sql.Tx, eventID int64, from, to domain.EventState, operatorID, at string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO state_changes(event_id,from_state,to_state,operator_id,changed_at) VALUES (?,?,?,?,?)`,
		eventID, nullable(string(from)), string(to), operatorID, at)
	return err
}

// StateChange is one row of an event's state history.
type StateChange struct {
	From       string `json:"from,omitempty"`
	To         string `json:"to"`
	OperatorID string `json:"operator_id"`
	ChangedAt  string `json:"changed_at"`
}

func (r Repo) ListStateChanges(ctx context.Context, eventID int64) ([]StateChange, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT COALESCE(from_state,''),to_state,operator_id,changed_at FROM state_changes WHERE event_id=? ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StateChange
	for rows.Next() {
		var c StateChange
		if err := rows.Scan(&c.From, &c.To, &c.OperatorID, &c.ChangedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
