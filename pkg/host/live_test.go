package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLiveHub_BroadcastDoesNotWaitOnClients(t *testing.T) {
	hub := newLiveHub(zaptest.NewLogger(t))

	// No writer drains this client, as if its connection had stalled.
	stalled := &liveClient{send: make(chan int, 1), done: make(chan struct{})}
	hub.clients[stalled] = struct{}{}

	finished := make(chan struct{})
	go func() {
		for i := 1; i <= 100; i++ {
			hub.broadcast(i)
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a stalled client")
	}

	require.Len(t, stalled.send, 1)
	assert.Equal(t, 100, <-stalled.send, "only the latest value is kept")
}
