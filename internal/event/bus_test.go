package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBusFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New()
	runID := uuid.New()

	all, err := b.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	logs, err := b.Subscribe(ctx, Filter{RunID: runID, Types: []Type{TypeLogLine}})
	require.NoError(t, err)

	b.Publish(Event{Type: TypeRunStarted, RunID: runID})
	b.Publish(Event{Type: TypeLogLine, RunID: uuid.New()})
	b.Publish(Event{Type: TypeLogLine, RunID: runID})

	assert.Equal(t, TypeRunStarted, receive(t, all).Type)
	assert.Equal(t, TypeLogLine, receive(t, all).Type)
	assert.Equal(t, TypeLogLine, receive(t, all).Type)

	e := receive(t, logs)
	assert.Equal(t, runID, e.RunID)
	assert.Equal(t, TypeLogLine, e.Type)
	assert.Empty(t, logs)
}

func TestBusUnsubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := New().Subscribe(ctx, Filter{})
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed")
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New()
	ch, err := b.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		b.Publish(Event{Type: TypeLogLine})
	}
	assert.Len(t, ch, 100)
}

func TestNewEvent(t *testing.T) {
	runID, scraperID := uuid.New(), uuid.New()

	e, err := NewEvent(TypeLogLine, runID, &scraperID, map[string]any{"number": 1})
	require.NoError(t, err)
	assert.Equal(t, runID, e.RunID)
	assert.Equal(t, scraperID, e.ScraperID)
	assert.False(t, e.Timestamp.IsZero())

	var payload map[string]int
	require.NoError(t, json.Unmarshal(e.Payload, &payload))
	assert.Equal(t, 1, payload["number"])

	e, err = NewEvent(TypeRunStarted, runID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, e.ScraperID)
	assert.Nil(t, e.Payload)

	_, err = NewEvent(TypeRunStarted, runID, nil, make(chan int))
	assert.Error(t, err)
}
