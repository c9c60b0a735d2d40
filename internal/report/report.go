// Package report exports finished episodes to a spreadsheet: one summary
// sheet, one row per timestep of telemetry and the decision log.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"wildfire_crew/internal/domain"
)

const (
	summarySheet   = "Episode"
	telemetrySheet = "Telemetry"
	decisionSheet  = "Decisions"
)

// Episode is everything one export needs.
type Episode struct {
	Episode   domain.Episode
	Telemetry []domain.TelemetryRow
	Decisions []domain.DecisionLog
}

// Write renders ep as an xlsx workbook into w.
func Write(w io.Writer, ep Episode) error {
	f, err := build(ep)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Save renders ep into the file at path.
func Save(path string, ep Episode) error {
	f, err := build(ep)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func build(ep Episode) (*excelize.File, error) {
	f := excelize.NewFile()
	for _, name := range []string{summarySheet, telemetrySheet, decisionSheet} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, err
	}

	if err := writeSummary(f, ep); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeTelemetry(f, ep.Telemetry); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeDecisions(f, ep.Decisions); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeSummary(f *excelize.File, ep Episode) error {
	e := ep.Episode
	var calls, in, out int64
	if n := len(ep.Telemetry); n > 0 {
		last := ep.Telemetry[n-1]
		calls, in, out = last.APICalls, last.InputTokens, last.OutputTokens
	}
	rows := [][]any{
		{"Episode", e.ID},
		{"Level", e.Level},
		{"Mode", e.Mode},
		{"Seed", e.Seed},
		{"Status", string(e.Status)},
		{"Steps", e.Steps},
		{"Score", e.Score},
		{"API calls", calls},
		{"Input tokens", in},
		{"Output tokens", out},
		{"Last error", e.LastError},
		{"Created", formatTime(e.CreatedAt)},
		{"Updated", formatTime(e.UpdatedAt)},
	}
	for i, row := range rows {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return f.SetColWidth(summarySheet, "A", "A", 16)
}

func writeTelemetry(f *excelize.File, rows []domain.TelemetryRow) error {
	header := []any{"Timestep", "Score", "API calls", "Input tokens", "Output tokens", "Recorded"}
	if err := f.SetSheetRow(telemetrySheet, "A1", &header); err != nil {
		return fmt.Errorf("write telemetry header: %w", err)
	}
	for i, r := range rows {
		row := []any{r.Timestep, r.Score, r.APICalls, r.InputTokens, r.OutputTokens, formatTime(r.CreatedAt)}
		if err := f.SetSheetRow(telemetrySheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return fmt.Errorf("write telemetry row %d: %w", r.Timestep, err)
		}
	}
	if len(rows) < 2 {
		return nil
	}
	return addScoreChart(f, len(rows))
}

// addScoreChart plots score against timestep next to the telemetry table.
func addScoreChart(f *excelize.File, n int) error {
	last := n + 1
	return f.AddChart(telemetrySheet, "H2", &excelize.Chart{
		Type: excelize.Line,
		Series: []excelize.ChartSeries{{
			Name:       fmt.Sprintf("%s!$B$1", telemetrySheet),
			Categories: fmt.Sprintf("%s!$A$2:$A$%d", telemetrySheet, last),
			Values:     fmt.Sprintf("%s!$B$2:$B$%d", telemetrySheet, last),
		}},
		Title: []excelize.RichTextRun{{Text: "Score"}},
	})
}

func writeDecisions(f *excelize.File, decisions []domain.DecisionLog) error {
	header := []any{"Timestep", "Actor", "Action", "Reason", "Payload", "Recorded"}
	if err := f.SetSheetRow(decisionSheet, "A1", &header); err != nil {
		return fmt.Errorf("write decision header: %w", err)
	}
	for i, d := range decisions {
		row := []any{d.Timestep, d.Actor, d.Action, d.Reason, string(d.Payload), formatTime(d.CreatedAt)}
		if err := f.SetSheetRow(decisionSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return fmt.Errorf("write decision row %d: %w", i, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
