package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"seisreview/internal/audit"
	"seisreview/internal/domain"
)

// Catalog is the on-disk fixture loaded by sr seed.
type Catalog struct {
	Events []FixtureEvent `yaml:"events"`
}

type FixtureEvent struct {
	ID                 int64            `yaml:"id"`
	OccurredAt         string           `yaml:"occurred_at"`
	Coordinates        string           `yaml:"coordinates"`
	Magnitude          float64          `yaml:"magnitude"`
	State              string           `yaml:"state"`
	RichterValue       *float64         `yaml:"richter_value"`
	RichterDescription *string          `yaml:"richter_description"`
	Classification     *string          `yaml:"classification"`
	Origin             *string          `yaml:"origin"`
	Reach              *string          `yaml:"reach"`
	ReachRadiusKm      *float64         `yaml:"reach_radius_km"`
	Stations           []FixtureStation `yaml:"stations"`
}

type FixtureStation struct {
	Station string                  `yaml:"station"`
	Samples []domain.WaveformSample `yaml:"samples"`
}

// ParseCatalog decodes and checks a fixture document.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	seen := map[int64]bool{}
	for i, ev := range c.Events {
		if ev.ID <= 0 {
			return Catalog{}, fmt.Errorf("events[%d].id must be positive: %w", i, ErrInvalid)
		}
		if seen[ev.ID] {
			return Catalog{}, fmt.Errorf("events[%d]: duplicate id %d: %w", i, ev.ID, ErrInvalid)
		}
		seen[ev.ID] = true
		if _, err := time.Parse(time.RFC3339, ev.OccurredAt); err != nil {
			return Catalog{}, fmt.Errorf("events[%d].occurred_at: %w", i, ErrInvalid)
		}
		if ev.State != "" {
			if _, err := parseState(ev.State); err != nil {
				return Catalog{}, fmt.Errorf("events[%d]: %w", i, err)
			}
		}
		stations := map[string]bool{}
		for j, st := range ev.Stations {
			if st.Station == "" {
				return Catalog{}, fmt.Errorf("events[%d].stations[%d].station is required: %w", i, j, ErrInvalid)
			}
			if stations[st.Station] {
				return Catalog{}, fmt.Errorf("events[%d].stations[%d]: duplicate station %q: %w", i, j, st.Station, ErrInvalid)
			}
			stations[st.Station] = true
		}
	}
	return c, nil
}

// ReadCatalog loads a fixture file.
func ReadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	return ParseCatalog(data)
}

// Seed upserts every fixture event and replaces its waveform sets.
func (e Engine) Seed(ctx context.Context, c Catalog, operatorID string) (int, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, f := range c.Events {
		ev := domain.SeismicEvent{
			ID:                 f.ID,
			OccurredAt:         f.OccurredAt,
			Coordinates:        f.Coordinates,
			Magnitude:          f.Magnitude,
			State:              domain.StateAutoDetected,
			RichterValue:       f.RichterValue,
			RichterDescription: f.RichterDescription,
			Classification:     f.Classification,
			Origin:             f.Origin,
			Reach:              f.Reach,
			ReachRadiusKm:      f.ReachRadiusKm,
		}
		if f.State != "" {
			ev.State = domain.EventState(f.State)
		}
		if err := e.Repo.UpsertEventTx(ctx, tx, ev); err != nil {
			return 0, err
		}
		sets := make([]domain.StationWaveformSet, 0, len(f.Stations))
		for _, st := range f.Stations {
			sets = append(sets, domain.StationWaveformSet{Station: st.Station, Samples: st.Samples})
		}
		if err := e.Repo.ReplaceWaveformsTx(ctx, tx, f.ID, sets); err != nil {
			return 0, err
		}
	}
	if err := e.writer().Append(ctx, tx, audit.TypeCatalogSeeded, 0, operatorID, audit.Payload{"events": len(c.Events)}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(c.Events), nil
}
