package statusapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDropsWhenBufferFull(t *testing.T) {
	h := NewHub(testLogger(t))
	for i := 0; i < cap(h.broadcast); i++ {
		h.Publish("queue_changed", nil)
	}
	require.NotPanics(t, func() { h.Publish("queue_changed", nil) })
}

func TestHubRunStopsOnDone(t *testing.T) {
	h := NewHub(testLogger(t))
	done := make(chan struct{})

	finished := make(chan struct{})
	go func() {
		h.Run(done)
		close(finished)
	}()

	close(done)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after done was closed")
	}
}
