package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LogLine is one flushed chunk of a run's console output.
type LogLine struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RunID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_log_lines_run_number" json:"run_id"`
	Number    int       `gorm:"not null;uniqueIndex:idx_log_lines_run_number" json:"number"`
	Stream    string    `gorm:"type:text;not null" json:"stream"`
	Text      string    `gorm:"type:text" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (l *LogLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
