package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-liveness/pkg/protocol"
)

// attach registers a connectionless client; tests read its send queue.
func attach(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan []byte, h.bufferSize)}
	h.register <- c
	return c
}

func runHub(t *testing.T, h *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return cancel
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return data
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestHub_FanOut(t *testing.T) {
	h := New("test")
	runHub(t, h)

	a, b := attach(t, h), attach(t, h)
	assert.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish(protocol.TypeProgress, protocol.ProgressData{SessionID: "s1", Kind: "smile"}))

	for _, c := range []*Client{a, b} {
		msg, err := protocol.ParseMessage(recv(t, c))
		require.NoError(t, err)
		assert.Equal(t, protocol.TypeProgress, msg.Type)

		p, err := msg.GetProgressData()
		require.NoError(t, err)
		assert.Equal(t, "s1", p.SessionID)
	}
}

func TestHub_Unregister(t *testing.T) {
	h := New("test")
	runHub(t, h)

	c := attach(t, h)
	c.unregister()

	_, ok := <-c.send
	assert.False(t, ok, "unregister closes the send queue")
	assert.Equal(t, 0, h.ClientCount())
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := New("test", WithBufferSize(2))
	runHub(t, h)

	slow := attach(t, h)
	for i := 0; i < 3; i++ {
		h.Broadcast([]byte(`{"type":"ping"}`))
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	n := 0
	for range slow.send {
		n++
	}
	assert.Equal(t, 2, n, "buffered messages are still drained after the drop")
}

func TestHub_StopClosesClients(t *testing.T) {
	h := New("test")
	cancel := runHub(t, h)
	c := attach(t, h)

	cancel()
	<-h.Done()

	_, ok := <-c.send
	assert.False(t, ok)

	_, registered := NewClient(h, nil)
	assert.False(t, registered, "a stopped hub refuses new clients")
}
