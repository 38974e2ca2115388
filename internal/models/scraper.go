package models

import (
	"time"

	"github.com/dyet92k/morph/pkg/jsonmap"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EnvPrefix marks the scraper variables exposed to its process.
const EnvPrefix = "MORPH_"

// Scraper is the user's data-extraction program that runs
// belong to.
type Scraper struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Owner        string            `gorm:"type:text;not null;uniqueIndex:idx_scrapers_owner_name" json:"owner"`
	Name         string            `gorm:"type:text;not null;uniqueIndex:idx_scrapers_owner_name" json:"name"`
	Variables    datatypes.JSONMap `gorm:"type:json" json:"variables,omitempty"`
	SQLiteDBSize int64             `json:"sqlite_db_size"`
	RepoSize     int64             `json:"repo_size"`
	IndexedAt    *time.Time        `json:"indexed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (s *Scraper) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Env returns the scraper's variables as environment
// variables. Only names starting with MORPH_ are passed
// through to the scraper.
func (s *Scraper) Env() map[string]string {
	return jsonmap.WithPrefix(s.Variables, EnvPrefix)
}
