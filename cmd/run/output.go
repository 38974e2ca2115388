package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dyet92k/morph/internal/app"
	"github.com/dyet92k/morph/internal/models"
	runstore "github.com/dyet92k/morph/internal/run"
	"gopkg.in/yaml.v3"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Summary is printed once a run has finished.
type Summary struct {
	RunID      string   `json:"run_id" yaml:"run_id"`
	Owner      string   `json:"owner" yaml:"owner"`
	Scraper    string   `json:"scraper" yaml:"scraper"`
	Status     string   `json:"status" yaml:"status"`
	StatusCode int      `json:"status_code" yaml:"status_code"`
	WallTime   float64  `json:"wall_time" yaml:"wall_time"`
	Tables     Counts   `json:"tables" yaml:"tables"`
	Records    Counts   `json:"records" yaml:"records"`
	CPUTime    *float64 `json:"cpu_time,omitempty" yaml:"cpu_time,omitempty"`
	MaxRSS     *int64   `json:"max_rss_kb,omitempty" yaml:"max_rss_kb,omitempty"`
}

type Counts struct {
	Added     int `json:"added" yaml:"added"`
	Removed   int `json:"removed" yaml:"removed"`
	Changed   int `json:"changed" yaml:"changed"`
	Unchanged int `json:"unchanged" yaml:"unchanged"`
}

func validateFormat(format string) error {
	switch format {
	case FormatText, FormatJSON, FormatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func newSummary(r *models.Run, m *models.Metric) Summary {
	s := Summary{
		RunID:   r.ID.String(),
		Owner:   r.Owner,
		Scraper: r.Name(),
		Status:  string(r.Status()),
		Tables: Counts{
			Added:     r.TablesAdded,
			Removed:   r.TablesRemoved,
			Changed:   r.TablesChanged,
			Unchanged: r.TablesUnchanged,
		},
		Records: Counts{
			Added:     r.RecordsAdded,
			Removed:   r.RecordsRemoved,
			Changed:   r.RecordsChanged,
			Unchanged: r.RecordsUnchanged,
		},
	}
	if r.StatusCode != nil {
		s.StatusCode = *r.StatusCode
	}
	if r.WallTime != nil {
		s.WallTime = *r.WallTime
	}
	if m != nil {
		cpu, rss := m.CPUTime(), m.MaxRSS
		s.CPUTime, s.MaxRSS = &cpu, &rss
	}
	return s
}

func summarize(ctx context.Context, a *app.App, r *models.Run) (Summary, error) {
	m, err := a.Store.Metric(ctx, r.ID)
	if err != nil && !errors.Is(err, runstore.ErrNotFound) {
		return Summary{}, err
	}
	return newSummary(r, m), nil
}

func writeSummary(w io.Writer, format string, s Summary) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	}

	lines := []string{
		fmt.Sprintf("Run %s (%s/%s) %s with status code %d in %.2fs\n", s.RunID, s.Owner, s.Scraper, s.Status, s.StatusCode, s.WallTime),
		fmt.Sprintf("Tables: %d added, %d removed, %d changed, %d unchanged\n", s.Tables.Added, s.Tables.Removed, s.Tables.Changed, s.Tables.Unchanged),
		fmt.Sprintf("Records: %d added, %d removed, %d changed, %d unchanged\n", s.Records.Added, s.Records.Removed, s.Records.Changed, s.Records.Unchanged),
	}
	if s.CPUTime != nil {
		lines = append(lines, fmt.Sprintf("CPU time: %.2fs, max RSS: %d kB\n", *s.CPUTime, *s.MaxRSS))
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}
