package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"election-service/pkg/logger"
)

func TestHubRoutesByElection(t *testing.T) {
	hub := NewHub(4, logger.NewNop())

	a, cancelA := hub.Subscribe("e1")
	b, cancelB := hub.Subscribe("e2")
	defer cancelB()
	assert.Equal(t, 2, hub.ConnectionCount())

	hub.Publish("e1", "results_updated", map[string]int{"version": 3})

	select {
	case msg := <-a:
		assert.Equal(t, "results_updated", msg.Type)
		assert.Equal(t, "e1", msg.ElectionID)
	default:
		t.Fatal("subscriber of e1 got nothing")
	}
	assert.Empty(t, b)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, hub.ConnectionCount())

	// publishing to an election without subscribers is a no-op
	hub.Publish("e1", "results_invalidated", nil)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub(1, logger.NewNop())
	ch, cancel := hub.Subscribe("e1")
	defer cancel()

	hub.Publish("e1", "results_invalidated", nil)
	hub.Publish("e1", "results_updated", nil)

	msg := <-ch
	require.Equal(t, "results_invalidated", msg.Type)
	assert.Empty(t, ch)
}
