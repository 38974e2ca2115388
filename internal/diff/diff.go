// Package diff compares two snapshots of a scraper's data store.
package diff

import (
	"context"

	"github.com/dyet92k/morph/internal/models"
)

// Result counts what changed between two snapshots.
type Result struct {
	TablesAdded      int `json:"tables_added"`
	TablesRemoved    int `json:"tables_removed"`
	TablesChanged    int `json:"tables_changed"`
	TablesUnchanged  int `json:"tables_unchanged"`
	RecordsAdded     int `json:"records_added"`
	RecordsRemoved   int `json:"records_removed"`
	RecordsChanged   int `json:"records_changed"`
	RecordsUnchanged int `json:"records_unchanged"`
}

// Apply copies the counters onto run.
func (r *Result) Apply(run *models.Run) {
	run.TablesAdded = r.TablesAdded
	run.TablesRemoved = r.TablesRemoved
	run.TablesChanged = r.TablesChanged
	run.TablesUnchanged = r.TablesUnchanged
	run.RecordsAdded = r.RecordsAdded
	run.RecordsRemoved = r.RecordsRemoved
	run.RecordsChanged = r.RecordsChanged
	run.RecordsUnchanged = r.RecordsUnchanged
}

// Differ compares the data store at before with the one at after.
// A nil Result with a nil error means there is nothing to report.
type Differ interface {
	Diff(ctx context.Context, before, after string) (*Result, error)
}
