package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type represents the type of event.
type Type string

const (
	TypeRunStarted     Type = "run_started"
	TypeRunFinished    Type = "run_finished"
	TypeRunStopped     Type = "run_stopped"
	TypeRunIPAddress   Type = "run_ip_address"
	TypeLogLine        Type = "log_line"
	TypeScraperIndexed Type = "scraper_indexed"
)

// Event represents a system event.
type Event struct {
	Type      Type            `json:"type"`
	ScraperID uuid.UUID       `json:"scraper_id,omitempty"`
	RunID     uuid.UUID       `json:"run_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event carrying v as its JSON payload.
func NewEvent(t Type, runID uuid.UUID, scraperID *uuid.UUID, v any) (Event, error) {
	e := Event{
		Type:      t,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
	}
	if scraperID != nil {
		e.ScraperID = *scraperID
	}
	if v != nil {
		payload, err := json.Marshal(v)
		if err != nil {
			return Event{}, err
		}
		e.Payload = payload
	}
	return e, nil
}

// Filter defines criteria for receiving events.
type Filter struct {
	ScraperID uuid.UUID
	RunID     uuid.UUID
	Types     []Type
}

// Bus defines the event bus interface.
type Bus interface {
	Publish(e Event)
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type bus struct {
	subscribers map[chan Event]Filter
	mu          sync.RWMutex
}

// New creates a new event bus.
func New() Bus {
	return &bus{
		subscribers: make(map[chan Event]Filter),
	}
}

func (b *bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if filter.Matches(e) {
			select {
			case ch <- e:
			default:
				// Drop event if channel is full to prevent blocking
			}
		}
	}
}

func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.ScraperID != uuid.Nil && f.ScraperID != e.ScraperID {
		return false
	}
	if f.RunID != uuid.Nil && f.RunID != e.RunID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
