package models

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status codes recorded on a finished Run.
const (
	StatusCodeSuccess               = 0
	StatusCodeStopped               = 130
	StatusCodeStreamFailure         = 997
	StatusCodeInfrastructureFailure = 998
	StatusCodeSetupFailure          = 999
)

// DefaultRunName is used for data and repo paths when a
// Run is not attached to a Scraper.
const DefaultRunName = "run"

// wallTimeTolerance absorbs timestamp precision lost by the
// database between a derivation and a later save.
const wallTimeTolerance = 1e-3

var (
	ErrAlreadyStarted  = errors.New("run already started")
	ErrNotStarted      = errors.New("run not started")
	ErrAlreadyFinished = errors.New("run already finished")
	ErrWallTimeDerived = errors.New("wall_time is derived from started_at and finished_at and cannot be set directly")
)

// RunStatus is derived from a Run's timestamps and status code.
type RunStatus string

const (
	StatusNew             RunStatus = "new"
	StatusQueued          RunStatus = "queued"
	StatusRunning         RunStatus = "running"
	StatusFinishedSuccess RunStatus = "finished_success"
	StatusFinishedError   RunStatus = "finished_error"
	StatusStopped         RunStatus = "stopped"
)

// Run is one execution attempt of a scraper.
type Run struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ScraperID        *uuid.UUID `gorm:"type:uuid;index" json:"scraper_id,omitempty"`
	Scraper          *Scraper   `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Owner            string     `gorm:"type:text;not null" json:"owner"`
	QueuedAt         *time.Time `json:"queued_at,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `gorm:"index" json:"finished_at,omitempty"`
	WallTime         *float64   `json:"wall_time,omitempty"`
	StatusCode       *int       `json:"status_code,omitempty"`
	IPAddress        string     `gorm:"type:text" json:"ip_address,omitempty"`
	GitRevision      string     `gorm:"type:text" json:"git_revision,omitempty"`
	TablesAdded      int        `json:"tables_added"`
	TablesRemoved    int        `json:"tables_removed"`
	TablesChanged    int        `json:"tables_changed"`
	TablesUnchanged  int        `json:"tables_unchanged"`
	RecordsAdded     int        `json:"records_added"`
	RecordsRemoved   int        `json:"records_removed"`
	RecordsChanged   int        `json:"records_changed"`
	RecordsUnchanged int        `json:"records_unchanged"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// BeforeCreate assigns an ID to new runs.
func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// BeforeSave rejects a wall time that was not derived from
// the run's own timestamps.
func (r *Run) BeforeSave(tx *gorm.DB) error {
	derived := r.derivedWallTime()
	switch {
	case derived == nil && r.WallTime == nil:
		return nil
	case derived == nil || r.WallTime == nil:
		return ErrWallTimeDerived
	case math.Abs(*derived-*r.WallTime) > wallTimeTolerance:
		return ErrWallTimeDerived
	}
	return nil
}

// Queue marks the run as waiting to be started.
func (r *Run) Queue(at time.Time) {
	r.QueuedAt = &at
}

// Start moves the run into the Running state.
func (r *Run) Start(at time.Time) error {
	if r.StartedAt != nil {
		return ErrAlreadyStarted
	}
	if r.FinishedAt != nil {
		return ErrAlreadyFinished
	}
	r.StartedAt = &at
	return nil
}

// Finish moves a started run into its terminal state and
// derives its wall time.
func (r *Run) Finish(at time.Time, statusCode int) error {
	if r.StartedAt == nil {
		return ErrNotStarted
	}
	if r.FinishedAt != nil {
		return ErrAlreadyFinished
	}
	code := statusCode
	r.FinishedAt = &at
	r.StatusCode = &code
	r.WallTime = r.derivedWallTime()
	return nil
}

func (r *Run) derivedWallTime() *float64 {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return nil
	}
	seconds := r.FinishedAt.Sub(*r.StartedAt).Seconds()
	return &seconds
}

// Duration returns the wall time as a time.Duration.
func (r *Run) Duration() (time.Duration, bool) {
	if r.WallTime == nil {
		return 0, false
	}
	return time.Duration(*r.WallTime * float64(time.Second)), true
}

// Queued reports whether the run is waiting to start.
func (r *Run) Queued() bool {
	return r.QueuedAt != nil && r.StartedAt == nil && r.FinishedAt == nil
}

// Running reports whether the run has started and not finished.
func (r *Run) Running() bool {
	return r.StartedAt != nil && r.FinishedAt == nil
}

// Finished reports whether the run reached a terminal state.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// Status derives the lifecycle state of the run.
func (r *Run) Status() RunStatus {
	switch {
	case r.Finished():
		if r.StatusCode == nil {
			return StatusFinishedError
		}
		switch *r.StatusCode {
		case StatusCodeSuccess:
			return StatusFinishedSuccess
		case StatusCodeStopped:
			return StatusStopped
		default:
			return StatusFinishedError
		}
	case r.Running():
		return StatusRunning
	case r.Queued():
		return StatusQueued
	default:
		return StatusNew
	}
}

// Name is used in the data and repo paths of the run.
func (r *Run) Name() string {
	if r.Scraper != nil && r.Scraper.Name != "" {
		return r.Scraper.Name
	}
	return DefaultRunName
}

// DataPath is the run's working data store directory.
func (r *Run) DataPath(dataRoot string) string {
	return filepath.Join(dataRoot, r.Owner, r.Name())
}

// RepoPath is the run's source code directory.
func (r *Run) RepoPath(repoRoot string) string {
	return filepath.Join(repoRoot, r.Owner, r.Name())
}

// ContainerName identifies the run's execution environment.
func (r *Run) ContainerName() string {
	return fmt.Sprintf("%s_%s_%s", r.Owner, r.Name(), r.ID.String()[:8])
}
