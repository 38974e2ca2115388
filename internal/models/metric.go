package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Metric holds the resource usage of a run as reported
// by the time command wrapped around the scraper.
type Metric struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RunID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"run_id"`
	WallTime  float64   `json:"wall_time"`
	UTime     float64   `json:"utime"`
	STime     float64   `json:"stime"`
	MaxRSS    int64     `json:"maxrss"`
	MinFlt    int64     `json:"minflt"`
	MajFlt    int64     `json:"majflt"`
	InBlock   int64     `json:"inblock"`
	OuBlock   int64     `json:"oublock"`
	NVCSw     int64     `json:"nvcsw"`
	NIVCSw    int64     `json:"nivcsw"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Metric) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// CPUTime is the total user and system CPU time in seconds.
func (m *Metric) CPUTime() float64 {
	return m.UTime + m.STime
}
