// Package logsink persists the console output of runs one line at a
// time and republishes each line to live subscribers.
package logsink

import (
	"context"
	"fmt"

	"github.com/dyet92k/morph/internal/event"
	"github.com/dyet92k/morph/internal/metrics"
	"github.com/dyet92k/morph/internal/models"
	"github.com/dyet92k/morph/internal/stream"
	"github.com/dyet92k/morph/pkg/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sink numbers, stores and publishes log lines.
type Sink struct {
	db  *gorm.DB
	bus event.Bus
}

// New creates a Sink. bus may be nil.
func New(db *gorm.DB, bus event.Bus) *Sink {
	return &Sink{db: db, bus: bus}
}

// Log appends text to the run's console output with the next
// sequence number.
func (s *Sink) Log(ctx context.Context, run *models.Run, st stream.Stream, text string) (*models.LogLine, error) {
	if !st.Valid() {
		return nil, fmt.Errorf("invalid stream %q", st)
	}

	line := &models.LogLine{
		RunID:  run.ID,
		Stream: string(st),
		Text:   text,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		if err := tx.Model(&models.LogLine{}).
			Where("run_id = ?", run.ID).
			Select("COALESCE(MAX(number), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		line.Number = last + 1
		return tx.Create(line).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record log line for run %s: %w", run.ID, err)
	}

	metrics.LogLinesTotal.WithLabelValues(line.Stream).Inc()

	if s.bus != nil {
		e, err := event.NewEvent(event.TypeLogLine, run.ID, run.ScraperID, line)
		if err != nil {
			log.Error("build log line event", "run_id", run.ID, "error", err)
		} else {
			s.bus.Publish(e)
		}
	}

	return line, nil
}

// Lines returns the run's console output in order.
func (s *Sink) Lines(ctx context.Context, runID uuid.UUID) ([]models.LogLine, error) {
	var lines []models.LogLine
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("number ASC").
		Find(&lines).Error
	return lines, err
}
