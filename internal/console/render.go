package console

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"seisreview/internal/domain"
)

// TableRenderer prints waveform sets as one table row per sample, stations in
// the order received.
type TableRenderer struct{}

func (TableRenderer) Render(w io.Writer, sets []domain.StationWaveformSet) error {
	if len(sets) == 0 {
		_, err := fmt.Fprintln(w, "No seismograms recorded for this event.")
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Station", "#", "Wavelength", "Frequency", "Velocity"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	for i, set := range sets {
		if len(set.Samples) == 0 {
			tw.AppendRow(table.Row{set.Station, "-", "", "", ""})
		}
		for j, s := range set.Samples {
			tw.AppendRow(table.Row{set.Station, j + 1, num(s.Wavelength), num(s.Frequency), num(s.Velocity)})
		}
		if i < len(sets)-1 {
			tw.AppendSeparator()
		}
	}
	tw.Render()
	return nil
}

func renderEvents(w io.Writer, events []domain.UnreviewedEvent) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"#", "ID", "Occurred At", "Magnitude", "Coordinates"})
	for i, ev := range events {
		tw.AppendRow(table.Row{i + 1, ev.ID, ev.OccurredAt, num(ev.Magnitude), ev.Coordinates})
	}
	tw.Render()
}

func renderClassification(w io.Writer, ev domain.UnreviewedEvent, rc domain.RecordedClassification) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(fmt.Sprintf("Recorded data for event #%d", ev.ID))
	tw.AppendRows([]table.Row{
		{"Occurred at", ev.OccurredAt},
		{"Magnitude", num(ev.Magnitude)},
		{"Coordinates", ev.Coordinates},
		{"Classification", orDash(rc.Classification)},
		{"Richter", orDash(rc.RichterClassification)},
		{"Origin", orDash(rc.Origin)},
		{"Reach", orDash(rc.Reach)},
	})
	tw.Render()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
