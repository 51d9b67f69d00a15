package repo

import (
	"context"
	"database/sql"
	"fmt"

	"seisreview/internal/domain"
)

// ReplaceWaveformsTx stores the sets for an event, keeping station and sample order.
// Stations without samples are kept.
func (r Repo) ReplaceWaveformsTx(ctx context.Context, tx *sql.Tx, eventID int64, sets []domain.StationWaveformSet) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM station_samples WHERE event_id=?`, eventID); err != nil {
		return fmt.Errorf("clear samples for event %d: %w", eventID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_stations WHERE event_id=?`, eventID); err != nil {
		return fmt.Errorf("clear stations for event %d: %w", eventID, err)
	}
	stationStmt, err := tx.PrepareContext(ctx, `INSERT INTO event_stations(event_id,station_seq,station) VALUES (?,?,?)`)
	if err != nil {
		return err
	}
	defer stationStmt.Close()
	sampleStmt, err := tx.PrepareContext(ctx, `INSERT INTO station_samples(event_id,station_seq,seq,wavelength,frequency,velocity) VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer sampleStmt.Close()
	for stationSeq, set := range sets {
		if _, err := stationStmt.ExecContext(ctx, eventID, stationSeq, set.Station); err != nil {
			return fmt.Errorf("insert station %s: %w", set.Station, err)
		}
		for seq, s := range set.Samples {
			if _, err := sampleStmt.ExecContext(ctx, eventID, stationSeq, seq, s.Wavelength, s.Frequency, s.Velocity); err != nil {
				return fmt.Errorf("insert sample %s#%d: %w", set.Station, seq, err)
			}
		}
	}
	return nil
}

// ListWaveforms returns one set per station in insertion order. A station
// without samples yields a set with an empty Samples slice.
func (r Repo) ListWaveforms(ctx context.Context, eventID int64) ([]domain.StationWaveformSet, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT st.station_seq, st.station, s.wavelength, s.frequency, s.velocity
FROM event_stations st
LEFT JOIN station_samples s ON s.event_id = st.event_id AND s.station_seq = st.station_seq
WHERE st.event_id=?
ORDER BY st.station_seq ASC, s.seq ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sets := []domain.StationWaveformSet{}
	last := int64(-1)
	for rows.Next() {
		var (
			stationSeq                      int64
			station                         string
			wavelength, frequency, velocity sql.NullFloat64
		)
		if err := rows.Scan(&stationSeq, &station, &wavelength, &frequency, &velocity); err != nil {
			return nil, err
		}
		if stationSeq != last {
			last = stationSeq
			sets = append(sets, domain.StationWaveformSet{Station: station, Samples: []domain.WaveformSample{}})
		}
		if !wavelength.Valid {
			continue
		}
		i := len(sets) - 1
		sets[i].Samples = append(sets[i].Samples, domain.WaveformSample{
			Wavelength: wavelength.Float64,
			Frequency:  frequency.Float64,
			Velocity:   velocity.Float64,
		})
	}
	return sets, rows.Err()
}
