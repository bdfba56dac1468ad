package pipeline

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tessen-ai/kanshi/internal/model"
)

func TestEnqueueReturnsFalseWhenCancelled(t *testing.T) {
	p := New(nil, nil, nil, nil, nil, 1, slog.Default())

	// Fill the queue without starting workers.
	for i := 0; i < queueDepth; i++ {
		ok := p.Enqueue(context.Background(), Event{})
		assert.True(t, ok)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, p.Enqueue(ctx, Event{}))
}

func TestStartStopDrainsQueue(t *testing.T) {
	p := New(nil, nil, nil, nil, nil, 2, slog.Default())
	p.Start(context.Background())

	// Error events without a message touch no stage services, so this
	// exercises the worker loop end to end.
	for i := 0; i < 10; i++ {
		ok := p.Enqueue(context.Background(), Event{
			Query: model.Query{QueryID: "Q", AgentType: "sales", Status: model.QueryError},
		})
		assert.True(t, ok)
	}
	p.Stop()
	assert.Empty(t, p.events)
}
