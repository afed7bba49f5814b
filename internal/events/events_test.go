package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderKeepsOrder(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, Stream, Event{Type: EventEscrowCreated}))
	require.NoError(t, r.Publish(ctx, Stream, Event{Type: EventMilestoneReleased, Payload: map[string]any{"milestoneId": "m1"}}))

	assert.Equal(t, []string{EventEscrowCreated, EventMilestoneReleased}, r.Types())
	assert.Equal(t, "m1", r.Events()[1].Payload["milestoneId"])
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.Publish(context.Background(), Stream, Event{Type: EventEscrowCreated}))
}
