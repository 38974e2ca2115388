package run

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRunIDContext(t *testing.T) {
	_, ok := RunIDFrom(context.Background())
	assert.False(t, ok)

	_, ok = RunIDFrom(WithRunID(context.Background(), uuid.Nil))
	assert.False(t, ok)

	id := uuid.New()
	got, ok := RunIDFrom(WithRunID(context.Background(), id))
	assert.True(t, ok)
	assert.Equal(t, id, got)
}
